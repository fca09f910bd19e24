package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/strslice"
	log "github.com/sirupsen/logrus"
)

// The interval between two consecutive checks of the state of a container
// that is starting up.
const pollInterval = 250 * time.Millisecond

// The number of consecutive healthcheck failures the Docker daemon tolerates
// when a healthcheck does not set its retries.
const defaultHealthRetries = 3

// A Mount binds a path of the host into a container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec holds the configuration used to create a container.
type ContainerSpec struct {
	// The name of the container. If empty, Docker picks one.
	Name        string
	Image       string
	Entrypoint  []string
	Cmd         []string
	Env         []string
	WorkingDir  string
	Labels      map[string]string
	Mounts      []Mount
	Healthcheck *container.HealthConfig
}

func (s *ContainerSpec) mounts() []mount.Mount {
	mounts := make([]mount.Mount, len(s.Mounts))

	for i, m := range s.Mounts {
		mounts[i] = mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
	}

	return mounts
}

func (c *Client) create(ctx context.Context, spec *ContainerSpec) (string, error) {
	var (
		containerConfig = &container.Config{
			Cmd:         strslice.StrSlice(spec.Cmd),
			Entrypoint:  strslice.StrSlice(spec.Entrypoint),
			Env:         spec.Env,
			Image:       spec.Image,
			Healthcheck: spec.Healthcheck,
			Labels:      spec.Labels,
			WorkingDir:  spec.WorkingDir,
		}
		hostConfig = &container.HostConfig{
			Mounts: spec.mounts(),
		}
	)

	res, err := c.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create Docker container: %w", err)
	}
	log.Debugf("created container %s with config: %v", res.ID, containerConfig)

	return res.ID, nil
}

func (c *Client) isRunning(ctx context.Context, containerID string) (bool, error) {
	stats, err := c.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, fmt.Errorf("failed to inspect Docker container: %w", err)
	}

	if stats.Config.Healthcheck == nil || stats.State.Health == nil {
		switch stats.State.Status {
		case "exited":
			return false, fmt.Errorf("the container exited with status code %d", stats.State.ExitCode)
		case "paused", "restarting", "removing", "dead":
			return false, fmt.Errorf("the container is into state: %s", stats.State.Status)
		default:
			return stats.State.Status == "running", nil
		}
	}

	health := stats.State.Health
	if health.Status == "healthy" {
		return true, nil
	}

	retries := stats.Config.Healthcheck.Retries
	if retries <= 0 {
		retries = defaultHealthRetries
	}

	if health.Status == "unhealthy" || health.FailingStreak >= retries {
		logs := make([]string, len(health.Log))

		for i, log := range health.Log {
			logs[i] = log.Output
		}

		return false, fmt.Errorf("container healthcheck failing: %s", strings.Join(logs, " "))
	}

	return false, nil
}

func (c *Client) waitRunning(ctx context.Context, containerID string, healthcheck *container.HealthConfig) error {
	interval := pollInterval

	if healthcheck != nil {
		if healthcheck.Interval > 0 {
			interval = healthcheck.Interval
		}

		select {
		case <-time.After(healthcheck.StartPeriod):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		if running, err := c.isRunning(ctx, containerID); err != nil {
			return err
		} else if running {
			return nil
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StartContainer creates a detached container from spec, starts it and
// waits until it is running, or healthy if it defines a healthcheck. On any
// failure the container is removed and the error is returned.
func (c *Client) StartContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	containerID, err := c.create(ctx, &spec)
	if err != nil {
		return "", err
	}

	cleanup := func() {
		if err := c.Remove(context.Background(), containerID); err != nil {
			log.Errorf("failed to delete failed Docker container: %v", err)
		}
	}

	if err := c.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to start Docker container: %w", err)
	}

	if err := c.waitRunning(ctx, containerID, spec.Healthcheck); err != nil {
		cleanup()
		return "", err
	}
	log.Debugf("container %s is running", containerID)

	return containerID, nil
}
