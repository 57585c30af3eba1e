// Package storage persists the binary assets of an upload.
//
// Assets are addressed by KEY, a slash-separated relative path whose first
// segment is the video ID:
//
//	<videoID>/video.mp4
//	<videoID>/logo.png
//	<videoID>/info.json
//
// Grouping by video ID means one RemoveAll(videoID) undoes a whole upload.
// Keys come from generated IDs and fixed file names, never from titles or
// client-supplied file names.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// InfoFile is the per-upload metadata file. It describes the upload for
// operators and is never served to clients.
const InfoFile = "info.json"

// AssetStore is where uploaded files live. Implementations: Local (disk)
// and s3.Store (S3-compatible object storage).
type AssetStore interface {
	// Save writes r under key and returns the location clients use to fetch
	// it (a URL path for Local, a URL for S3).
	Save(ctx context.Context, key string, r io.Reader) (string, error)

	// RemoveAll deletes every asset under prefix. Removing a prefix that has
	// no assets is not an error.
	RemoveAll(ctx context.Context, prefix string) error
}

// Key joins a video ID and a file name into an asset key.
func Key(videoID, name string) string {
	return videoID + "/" + name
}

// CleanKey validates a key and returns it in canonical form. It rejects
// empty keys, absolute paths and anything that climbs out with "..".
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return cleaned, nil
}
