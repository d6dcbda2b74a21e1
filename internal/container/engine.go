package container

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Engine is the slice of the Docker Engine API a step needs.
type Engine interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	ImagePull(ctx context.Context, ref string) error
	Create(ctx context.Context, cfg *container.Config, host *container.HostConfig, name string) (string, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (int64, error)
	Logs(ctx context.Context, id string, stdout, stderr io.Writer) error
	Remove(ctx context.Context, id string) error
}

// DockerEngine implements Engine with the Docker client.
type DockerEngine struct {
	CLI *client.Client
}

// NewDockerEngine connects using the DOCKER_* environment and checks the daemon answers.
func NewDockerEngine(ctx context.Context) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return &DockerEngine{CLI: cli}, nil
}

func (d *DockerEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := d.CLI.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect image %s: %w", ref, err)
	}
	return true, nil
}

func (d *DockerEngine) ImagePull(ctx context.Context, ref string) error {
	rc, err := d.CLI.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	// the pull only completes once the progress stream is drained
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (d *DockerEngine) Create(ctx context.Context, cfg *container.Config, host *container.HostConfig, name string) (string, error) {
	resp, err := d.CLI.ContainerCreate(ctx, cfg, host, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *DockerEngine) Start(ctx context.Context, id string) error {
	return d.CLI.ContainerStart(ctx, id, types.ContainerStartOptions{})
}

func (d *DockerEngine) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.CLI.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, fmt.Errorf("wait container: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

func (d *DockerEngine) Logs(ctx context.Context, id string, stdout, stderr io.Writer) error {
	rc, err := d.CLI.ContainerLogs(ctx, id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "all",
	})
	if err != nil {
		return err
	}
	defer rc.Close()
	// non-tty containers multiplex both streams on one connection
	_, err = stdcopy.StdCopy(stdout, stderr, rc)
	return err
}

func (d *DockerEngine) Remove(ctx context.Context, id string) error {
	return d.CLI.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
}
