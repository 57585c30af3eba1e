// Package media reads technical metadata from uploaded videos.
//
// The only fact vidshare needs today is the duration, which the catalog
// shows next to each title. Probing is optional: when it is disabled (or
// fails) a video is still accepted and its duration is recorded as 0.
package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Prober reports the duration of a stored video, in seconds.
//
// key is the asset key the video was saved under (see package storage).
type Prober interface {
	Duration(ctx context.Context, key string) (float64, error)
}

// NopProber is used when probing is switched off. Every video is "unknown length".
type NopProber struct{}

func (NopProber) Duration(context.Context, string) (float64, error) {
	return 0, nil
}

// ParseDuration reads ffprobe's
//
//	-show_entries format=duration -of default=noprint_wrappers=1:nokey=1
//
// output: a single decimal number of seconds, or "N/A" for streams without
// a container-level duration.
func ParseDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" {
		return 0, fmt.Errorf("media: empty ffprobe output")
	}
	if s == "N/A" {
		return 0, nil
	}
	// Some builds print one line per format entry; the first one wins.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("media: parsing ffprobe duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("media: negative duration %v", d)
	}
	return d, nil
}
