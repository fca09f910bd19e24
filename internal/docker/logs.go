package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	log "github.com/sirupsen/logrus"
)

// GetContainerLogs returns the stdout and stderr of a container interleaved,
// together with a copy of stderr alone.
func (c *Client) GetContainerLogs(ctx context.Context, containerID string) ([]byte, []byte, error) {
	out, err := c.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve container logs: %w", err)
	}
	defer out.Close()
	log.Debugf("successfully connected to container %s to retrieve its logs", containerID)

	combined, stderr, err := demux(out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to copy logs from container: %w", err)
	}
	log.Debugf("successfully read logs from container %s", containerID)

	return combined, stderr, nil
}

// RunToCompletion creates and starts a container from spec, waits for it to
// exit and collects its logs. The container is always removed afterwards.
func (c *Client) RunToCompletion(ctx context.Context, spec ContainerSpec) (result ExecResult, err error) {
	containerID, err := c.create(ctx, &spec)
	if err != nil {
		return ExecResult{}, err
	}
	defer func() {
		if removeErr := c.Remove(context.Background(), containerID); removeErr != nil {
			log.Errorf("failed to delete finished Docker container: %v", removeErr)
		}
	}()

	statusCh, errCh := c.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	if err := c.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return ExecResult{}, fmt.Errorf("failed to start Docker container: %w", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return ExecResult{}, fmt.Errorf("failed to wait for container %s: %w", containerID, err)
		}
	case status := <-statusCh:
		if status.Error != nil {
			return ExecResult{}, fmt.Errorf("failed to wait for container %s: %s", containerID, status.Error.Message)
		}
		result.ExitCode = int(status.StatusCode)
	}

	result.Output, result.Stderr, err = c.GetContainerLogs(ctx, containerID)
	if err != nil {
		return ExecResult{}, err
	}

	return result, nil
}
