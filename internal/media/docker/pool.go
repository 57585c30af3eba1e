package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// mediaMount is where MediaDir appears inside the containers.
const mediaMount = "/media"

// Pool manages a pool of pre-warmed probe containers.
//
// Unlike a code sandbox, a probe container is never dirtied by the work it
// does (ffprobe only reads from a read-only mount), so a container that
// finished cleanly goes back into the pool with Put. Only containers that
// timed out or errored are thrown away with Discard and replaced.
type Pool struct {
	cli        client.ContainerAPIClient
	config     Config
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startDone  sync.Once
	stopDone   sync.Once
}

// NewPool initializes a new container pool wrapper.
func NewPool(cli client.ContainerAPIClient, cfg Config, logger *slog.Logger) *Pool {
	return &Pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, cfg.PoolSize),
		done:       make(chan struct{}),
	}
}

// Start begins filling the pool with fresh containers in the background.
func (p *Pool) Start() {
	p.startDone.Do(func() {
		p.logger.Info("starting probe container pool", slog.Int("poolSize", p.config.PoolSize))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop shuts down the manager and removes every idle container.
func (p *Pool) Stop() {
	p.stopDone.Do(func() {
		p.logger.Info("shutting down probe container pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.containers:
				p.removeContainer(id)
			default:
				return
			}
		}
	})
}

// Get returns a ready-to-use container ID from the pool.
// It blocks until one is available or the context is canceled.
func (p *Pool) Get(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Put hands a healthy container back. If the pool is full or shutting
// down, the container is removed instead.
func (p *Pool) Put(id string) {
	select {
	case <-p.done:
		p.removeContainer(id)
		return
	default:
	}

	select {
	case p.containers <- id:
	default:
		p.removeContainer(id)
	}
}

// Discard removes a container that must not be reused. The manager
// notices the free slot and starts a replacement.
func (p *Pool) Discard(id string) {
	p.removeContainer(id)
}

// manager continuously ensures the pool is at capacity.
func (p *Pool) manager() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		default:
			if len(p.containers) < cap(p.containers) {
				id, err := p.createContainer()
				if err != nil {
					p.logger.Error("failed to create probe container", slog.String("error", err.Error()))
					time.Sleep(1 * time.Second) // backoff on failure
					continue
				}

				select {
				case p.containers <- id:
				case <-p.done:
					p.removeContainer(id)
					return
				}
			} else {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

// createContainer starts a container that idles on `sleep infinity` with
// the media directory mounted read-only.
func (p *Pool) createContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
		ReadonlyRootfs: true,
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   p.config.MediaDir,
			Target:   mediaMount,
			ReadOnly: true,
		}},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image: p.config.Image,
		// ffmpeg images set ffmpeg itself as the entrypoint
		Entrypoint: []string{"sleep"},
		Cmd:        []string{"infinity"},
		User:       "nobody",
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.removeContainer(resp.ID)
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}

	return resp.ID, nil
}

// removeContainer force removes a container by ID.
func (p *Pool) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil {
		p.logger.Warn("failed to remove probe container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
