package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/errdefs"
)

// Kill sends SIGKILL to a container. Killing a container that is not
// running is not an error; killing one that does not exist returns an error
// wrapping ErrNotFound.
func (c *Client) Kill(ctx context.Context, containerID string) error {
	if err := c.client.ContainerKill(ctx, containerID, "SIGKILL"); err != nil {
		switch {
		case errdefs.IsNotFound(err):
			return fmt.Errorf("%w: container %s", ErrNotFound, containerID)
		case errdefs.IsConflict(err):
			return nil
		}

		return fmt.Errorf("failed to kill container %s: %w", containerID, err)
	}

	return nil
}

// Remove force-removes a container together with its anonymous volumes.
// Removing a container that does not exist returns an error wrapping
// ErrNotFound.
func (c *Client) Remove(ctx context.Context, containerID string) error {
	options := container.RemoveOptions{Force: true, RemoveVolumes: true}

	if err := c.client.ContainerRemove(ctx, containerID, options); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: container %s", ErrNotFound, containerID)
		}

		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}

	return nil
}
