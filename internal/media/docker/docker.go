// Package docker implements media.Prober by running ffprobe inside
// pre-warmed Docker containers.
//
// WHY CONTAINERS?
// Uploaded files are untrusted input and media demuxers have a long history
// of parser bugs. ffprobe runs with no network, a read-only root filesystem,
// a read-only view of the upload directory and tight memory/CPU limits.
// Keeping a small pool of idle containers hides the container start-up cost
// from the upload request.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/vidshare/internal/media"
	"github.com/sakif/vidshare/internal/storage"
)

var _ media.Prober = (*Prober)(nil)

// ErrProbeTimeout is returned when ffprobe does not finish within Config.Timeout.
var ErrProbeTimeout = errors.New("docker: probe timed out")

// Prober implements the media.Prober interface using Docker.
type Prober struct {
	cli    client.ContainerAPIClient
	closer io.Closer
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New creates a Docker-backed Prober, pulls the image and starts the pool.
func New(cfg Config, logger *slog.Logger) (*Prober, error) {
	if cfg.MediaDir == "" {
		return nil, fmt.Errorf("docker: media directory is required")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger.Info("ensuring probe image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to pull image: %w", err)
	}
	logger.Info("probe image is ready")

	p := newProber(cli, cfg, logger)
	p.closer = cli
	p.pool.Start()
	return p, nil
}

// newProber wires a Prober around an existing client without starting the
// pool manager.
func newProber(cli client.ContainerAPIClient, cfg Config, logger *slog.Logger) *Prober {
	return &Prober{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   NewPool(cli, cfg, logger),
	}
}

// Close shuts down the pool and the docker client.
func (p *Prober) Close() error {
	p.pool.Stop()
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// Duration runs ffprobe against the asset stored under key.
func (p *Prober) Duration(ctx context.Context, key string) (float64, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return 0, err
	}

	containerID, err := p.pool.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get container from pool: %w", err)
	}

	stdout, stderr, exitCode, err := p.exec(ctx, containerID, []string{
		"ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path.Join(mediaMount, key),
	})
	if err != nil {
		// A container whose exec got cut off may still be busy; never reuse it.
		p.pool.Discard(containerID)
		return 0, err
	}
	p.pool.Put(containerID)

	if exitCode != 0 {
		return 0, fmt.Errorf("ffprobe exited with %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	return media.ParseDuration(stdout)
}

func (p *Prober) exec(ctx context.Context, containerID string, cmd []string) (string, string, int, error) {
	// The timeout covers the exec itself, not the wait for a pooled container.
	execCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	execResp, err := p.cli.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := p.cli.ContainerExecAttach(execCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", "", 0, fmt.Errorf("reading probe output: %w", err)
		}
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", "", 0, ErrProbeTimeout
		}
		return "", "", 0, execCtx.Err()
	}

	inspect, err := p.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}
