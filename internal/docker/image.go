package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	log "github.com/sirupsen/logrus"
)

// ImageSpec describes where the image able to run jobs comes from.
type ImageSpec struct {
	// The name used to tag the image.
	Name string
	// The directory sent to the daemon as build context. If empty, the
	// image is pulled from a registry instead of being built.
	Context string
	// The path of the Dockerfile relative to the build context.
	Dockerfile string
	// Build-time variables passed to the Dockerfile.
	BuildArgs map[string]*string
	// Always attempt to pull a newer version of the base image on build.
	PullParent bool
	// Build or pull even if an image with the same name exists locally.
	Rebuild bool
}

// ImageExists reports whether an image with the given name is present on
// the host.
func (c *Client) ImageExists(ctx context.Context, name string) (bool, error) {
	if _, _, err := c.client.ImageInspectWithRaw(ctx, name); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to inspect Docker image %s: %w", name, err)
	}

	return true, nil
}

func (c *Client) PullImage(ctx context.Context, name string) error {
	reader, err := c.client.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull Docker image: %w", err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read Docker image pull logs: %w", err)
	}
	log.Debugf("successfully pulled image %s", name)

	return nil
}

// EnsureImage makes the image described by spec available on the host. A
// local image is reused unless a rebuild is requested; otherwise the image
// is built when a build context is provided and pulled when it is not.
func (c *Client) EnsureImage(ctx context.Context, spec ImageSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("failed to resolve Docker image: no image name")
	}

	if !spec.Rebuild {
		exists, err := c.ImageExists(ctx, spec.Name)
		if err != nil {
			return err
		}

		if exists {
			log.Debugf("reusing local image %s", spec.Name)
			return nil
		}
	}

	if spec.Context != "" {
		return c.buildImage(ctx, spec)
	}

	return c.PullImage(ctx, spec.Name)
}
