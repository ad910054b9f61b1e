package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/codevat/runbox/internal/metrics"
)

type DockerDriver struct {
	cli    *client.Client
	logger *zerolog.Logger
}

func NewDockerDriver(logger *zerolog.Logger) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerDriver{cli: cli, logger: logger}, nil
}

func (d *DockerDriver) Create(ctx context.Context, spec Spec) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		WorkingDir:      spec.WorkingDir,
		Labels:          spec.Labels,
		Tty:             false,
		NetworkDisabled: true,
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes, // No swap allowed
			CPUShares:  spec.CPUShares,
		},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		// AutoRemove stays false: the supervisor removes the container
		// itself so removal is observable even after failures.
		AutoRemove: false,
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

func (d *DockerDriver) Upload(ctx context.Context, id string, archive io.Reader, path string) error {
	err := d.cli.CopyToContainer(ctx, id, path, archive, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("failed to copy archive into container: %w", err)
	}
	return nil
}

// attachStream keeps the hijacked connection alive for as long as the
// demultiplexer reads from it.
type attachStream struct {
	io.Reader
	close func()
}

func (a *attachStream) Close() error {
	a.close()
	return nil
}

func (d *DockerDriver) Attach(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := d.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to container: %w", err)
	}
	return &attachStream{Reader: resp.Reader, close: resp.Close}, nil
}

func (d *DockerDriver) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

func (d *DockerDriver) Stats(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := d.cli.ContainerStats(ctx, id, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats stream: %w", err)
	}
	return resp.Body, nil
}

func (d *DockerDriver) Wait(ctx context.Context, id string) (int64, error) {
	waitCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return 0, fmt.Errorf("container wait reported: %s", resp.Error.Message)
		}
		return resp.StatusCode, nil
	case err := <-errCh:
		return 0, fmt.Errorf("failed to wait for container: %w", err)
	}
}

func (d *DockerDriver) Kill(ctx context.Context, id string) error {
	if err := d.cli.ContainerKill(ctx, id, "KILL"); err != nil {
		// The container may have exited on its own between the deadline
		// firing and the signal landing.
		d.logger.Warn().Err(err).Str("sandbox_id", id).Msg("failed to kill container")
		return err
	}
	return nil
}

func (d *DockerDriver) Remove(ctx context.Context, id string, force bool) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (d *DockerDriver) List(ctx context.Context, labelKey, labelValue string) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelKey+"="+labelValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// EnsureImage pulls the sandbox image unless it is already present.
// Called once at startup, before the sweeper runs.
func (d *DockerDriver) EnsureImage(ctx context.Context, img string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, img); err == nil {
		return nil
	}

	d.logger.Info().Str("image", img).Msg("sandbox image missing, pulling")
	pullStart := time.Now()
	reader, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	// The pull only completes once its progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("image pull for %s interrupted: %w", img, err)
	}

	elapsed := time.Since(pullStart)
	metrics.ImagePullTime.Observe(elapsed.Seconds())
	d.logger.Info().Str("image", img).Dur("elapsed", elapsed).Msg("sandbox image pulled")
	return nil
}
