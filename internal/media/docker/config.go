package docker

import (
	"time"
)

// Config holds the configuration for the ffprobe containers.
type Config struct {
	// Image must ship an ffprobe binary on its PATH.
	Image string
	// MediaDir is the host directory holding uploaded assets. It is
	// bind-mounted read-only at /media inside every container.
	MediaDir string
	// MemoryLimit is the maximum amount of memory a container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs a container can use.
	CPULimit float64
	// Timeout bounds a single probe.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
}

// DefaultConfig provides sensible defaults for probing.
func DefaultConfig() Config {
	return Config{
		Image: "linuxserver/ffmpeg:latest",
		// ffprobe only reads headers; 256 MB is plenty even for odd containers
		MemoryLimit: 256 * 1024 * 1024,
		CPULimit:    0.5,
		Timeout:     10 * time.Second,
		PoolSize:    2,
	}
}
