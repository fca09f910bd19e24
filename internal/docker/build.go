package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
	log "github.com/sirupsen/logrus"
)

func (c *Client) buildImage(ctx context.Context, spec ImageSpec) error {
	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	tar, err := archive.TarWithOptions(spec.Context, &archive.TarOptions{
		Compression: archive.Gzip,
	})
	if err != nil {
		return fmt.Errorf("failed to archive Docker build context %s: %w", spec.Context, err)
	}
	defer tar.Close()

	res, err := c.client.ImageBuild(ctx, tar, types.ImageBuildOptions{
		BuildArgs:      spec.BuildArgs,
		Dockerfile:     filepath.ToSlash(dockerfile),
		ForceRemove:    true,
		NoCache:        false,
		PullParent:     spec.PullParent,
		Remove:         true,
		SuppressOutput: true,
		Tags:           []string{spec.Name},
	})
	if err != nil {
		return fmt.Errorf("failed to build Docker image: %w", err)
	}
	defer res.Body.Close()

	scanner := bufio.NewScanner(res.Body)
	var logLine struct {
		Error string `json:"error"`
	}

	for scanner.Scan() {
		if err := json.Unmarshal([]byte(scanner.Text()), &logLine); err != nil {
			return fmt.Errorf("failed to get Docker image build logs: %w", err)
		}

		if logLine.Error != "" {
			return fmt.Errorf("failed to build Docker image: %s", logLine.Error)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to get Docker image build logs: %w", err)
	}
	log.Debugf("successfully built image %s from %s", spec.Name, spec.Context)

	return nil
}

// BuildImage builds and tags the image described by spec. The build
// context must be set.
func (c *Client) BuildImage(ctx context.Context, spec ImageSpec) error {
	if spec.Context == "" {
		return fmt.Errorf("failed to build Docker image %s: no build context", spec.Name)
	}

	return c.buildImage(ctx, spec)
}
