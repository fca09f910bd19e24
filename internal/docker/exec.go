package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	log "github.com/sirupsen/logrus"
)

// ExecResult holds what a command run inside a container produced.
type ExecResult struct {
	ExitCode int
	// Stdout and stderr interleaved in the order they were received.
	Output []byte
	Stderr []byte
}

// demux splits a multiplexed Docker stream into a combined output and a
// separate copy of stderr.
func demux(src io.Reader) (combined, stderr []byte, err error) {
	var all, errOut bytes.Buffer

	_, err = stdcopy.StdCopy(&all, io.MultiWriter(&all, &errOut), src)

	return all.Bytes(), errOut.Bytes(), err
}

// Exec runs cmd inside a running container and waits for it to finish.
// A non-zero exit code is reported in the result, not as an error.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string) (ExecResult, error) {
	created, err := c.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec in container %s: %w", containerID, err)
	}

	res, err := c.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach to exec %s: %w", created.ID, err)
	}
	defer res.Close()
	log.Debugf("attached to exec %s running %v", created.ID, cmd)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			res.Close()
		case <-done:
		}
	}()

	output, stderr, err := demux(res.Reader)
	if err != nil {
		if ctx.Err() != nil {
			return ExecResult{}, ctx.Err()
		}

		return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	for {
		inspect, err := c.client.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return ExecResult{}, fmt.Errorf("failed to inspect exec %s: %w", created.ID, err)
		}

		if !inspect.Running {
			return ExecResult{
				ExitCode: inspect.ExitCode,
				Output:   output,
				Stderr:   stderr,
			}, nil
		}

		select {
		case <-time.After(pollInterval / 5):
		case <-ctx.Done():
			return ExecResult{}, ctx.Err()
		}
	}
}
