// Copyright 2023 The GTDD Authors. All rights reserved.
// Use of this source code is governed by a GPL-style
// license that can be found in the LICENSE file.

// Provisions a Jenkins pipeline runner container and executes job files
// inside it.

package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pako-23/jobrunner/internal/docker"
	"github.com/pako-23/jobrunner/internal/jobs"
	log "github.com/sirupsen/logrus"
)

const (
	managedLabel = "io.jobrunner.managed"
	jobLabel     = "io.jobrunner.job"
)

// ContainerAPI is the subset of the container engine a Runner needs.
type ContainerAPI interface {
	EnsureImage(ctx context.Context, spec docker.ImageSpec) error
	StartContainer(ctx context.Context, spec docker.ContainerSpec) (string, error)
	Exec(ctx context.Context, containerID string, cmd []string) (docker.ExecResult, error)
	RunToCompletion(ctx context.Context, spec docker.ContainerSpec) (docker.ExecResult, error)
	Kill(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	Close() error
}

// An Invocation is the record of one job execution.
type Invocation struct {
	Job      string
	ExitCode int
	Output   string
	Duration time.Duration
}

// A Runner owns the container jobs are executed in. The container is
// created on first use and lives until Teardown.
type Runner struct {
	config     Config
	catalog    *jobs.Catalog
	client     ContainerAPI
	ownsClient bool

	setupOnce    sync.Once
	setupErr     error
	teardownOnce sync.Once
	teardownErr  error
	// Serializes job executions.
	runMu sync.Mutex

	mu          sync.Mutex
	containerID string
	closed      bool
}

type Option func(runner *Runner) error

// WithClient makes the runner use client instead of connecting to the
// Docker daemon. The runner does not close it.
func WithClient(client ContainerAPI) Option {
	return func(runner *Runner) error {
		if client == nil {
			return errors.New("nil container client")
		}
		runner.client = client

		return nil
	}
}

// New validates config and returns a Runner. Nothing is provisioned until
// Setup or the first job invocation.
func New(config Config, options ...Option) (*Runner, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	catalog, err := jobs.NewCatalog(config.JobsDir)
	if err != nil {
		return nil, err
	}

	runner := &Runner{config: config, catalog: catalog}

	for _, option := range options {
		if err := option(runner); err != nil {
			return nil, err
		}
	}

	if runner.client == nil {
		client, err := docker.NewDefaultClient()
		if err != nil {
			return nil, err
		}
		runner.client = client
		runner.ownsClient = true
	}

	return runner, nil
}

func (r *Runner) Config() Config {
	return r.config
}

func (r *Runner) Catalog() *jobs.Catalog {
	return r.catalog
}

// ContainerID returns the ID of the running container, or an empty string
// if there is none.
func (r *Runner) ContainerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.containerID
}

// Setup provisions the runner image and container. Only the first call
// does any work; later calls return its result.
func (r *Runner) Setup(ctx context.Context) error {
	r.setupOnce.Do(func() {
		r.setupErr = r.setup(ctx)
		if r.setupErr != nil {
			log.Errorf("failed to set up job runner: %v", r.setupErr)
		}
	})

	return r.setupErr
}

func (r *Runner) setup(ctx context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	spec := r.config.ImageSpec()
	if err := r.client.EnsureImage(ctx, spec); err != nil {
		return &ProvisioningError{Stage: StageImage, Err: err}
	}
	log.Infof("runner image %s is available", spec.Name)

	if r.config.Mode == ModeEphemeral {
		return nil
	}

	containerID, err := r.client.StartContainer(ctx, r.config.containerSpec())
	if err != nil {
		return &ProvisioningError{Stage: StageContainer, Err: err}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if err := r.destroy(context.Background(), containerID); err != nil {
			log.Error(err)
		}

		return ErrClosed
	}
	r.containerID = containerID
	r.mu.Unlock()
	log.Debugf("started runner container %s", containerID)

	if err := r.waitReady(ctx, containerID); err != nil {
		r.mu.Lock()
		r.containerID = ""
		r.mu.Unlock()

		if err := r.destroy(context.Background(), containerID); err != nil {
			log.Error(err)
		}

		return &ProvisioningError{Stage: StageReadiness, Err: err}
	}
	log.Infof("runner container %s is ready", containerID)

	return nil
}

// waitReady waits for the fixed delay and then for the readiness probe to
// succeed, if they are configured.
func (r *Runner) waitReady(ctx context.Context, containerID string) error {
	if r.config.ReadyDelay > 0 {
		log.Debugf("waiting %v for runner container to be ready", r.config.ReadyDelay)

		select {
		case <-time.After(r.config.ReadyDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if len(r.config.ReadyProbe) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.ReadyTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		res, err := r.client.Exec(ctx, containerID, r.config.ReadyProbe)
		if err == nil && res.ExitCode == 0 {
			log.Debugf("readiness probe succeeded after %d attempts", attempt)
			return nil
		}

		if err == nil {
			err = fmt.Errorf("probe exited with code %d: %s",
				res.ExitCode, strings.TrimSpace(decode(res.Output)))
		}
		log.Debugf("readiness probe attempt %d: %v", attempt, err)

		select {
		case <-time.After(r.config.ReadyInterval):
		case <-ctx.Done():
			return fmt.Errorf("readiness probe %v did not succeed within %v: %w",
				r.config.ReadyProbe, r.config.ReadyTimeout, err)
		}
	}
}

// Invoke executes a job and returns the record of its execution. A job
// exiting with a non-zero code yields a *JobFailure next to the record.
func (r *Runner) Invoke(ctx context.Context, job string) (Invocation, error) {
	name, err := r.catalog.Resolve(job)
	if err != nil {
		return Invocation{Job: job, ExitCode: -1}, &JobFailure{Job: job, ExitCode: -1, Err: err}
	}

	if err := r.Setup(ctx); err != nil {
		return Invocation{Job: name, ExitCode: -1}, err
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	closed, containerID := r.closed, r.containerID
	r.mu.Unlock()
	if closed {
		return Invocation{Job: name, ExitCode: -1}, ErrClosed
	}

	var (
		res   docker.ExecResult
		start = time.Now()
	)

	log.Debugf("running job %s", name)
	if r.config.Mode == ModeEphemeral {
		res, err = r.client.RunToCompletion(ctx, r.config.jobContainerSpec(name))
	} else {
		res, err = r.client.Exec(ctx, containerID, r.config.jobCommand(name))
	}

	invocation := Invocation{Job: name, ExitCode: -1, Duration: time.Since(start)}
	if err != nil {
		return invocation, fmt.Errorf("failed to run job %s: %w", name, err)
	}

	invocation.ExitCode = res.ExitCode
	invocation.Output = decode(res.Output)

	if invocation.ExitCode != 0 {
		log.Debugf("job %s exited with code %d", name, invocation.ExitCode)

		return invocation, &JobFailure{
			Job:      name,
			ExitCode: invocation.ExitCode,
			Output:   invocation.Output,
		}
	}
	log.Infof("job %s succeeded in %v", name, invocation.Duration)

	return invocation, nil
}

// Run executes a job and returns its output. If the job fails, the output
// is returned together with the error.
func (r *Runner) Run(ctx context.Context, job string) (string, error) {
	invocation, err := r.Invoke(ctx, job)

	return invocation.Output, err
}

// destroy kills and removes a container. A container that is already gone
// is not an error.
func (r *Runner) destroy(ctx context.Context, containerID string) error {
	var errs []error

	if err := r.client.Kill(ctx, containerID); err != nil && !errors.Is(err, docker.ErrNotFound) {
		errs = append(errs, err)
	}

	if err := r.client.Remove(ctx, containerID); err != nil && !errors.Is(err, docker.ErrNotFound) {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Teardown kills and removes the runner container. It is safe to call
// whether or not Setup ran or succeeded; only the first call does any work.
func (r *Runner) Teardown(ctx context.Context) error {
	r.teardownOnce.Do(func() {
		var errs []error

		r.mu.Lock()
		r.closed = true
		containerID := r.containerID
		r.containerID = ""
		r.mu.Unlock()

		if containerID != "" {
			if err := r.destroy(ctx, containerID); err != nil {
				log.Errorf("failed to remove runner container %s: %v", containerID, err)
				errs = append(errs, err)
			} else {
				log.Infof("removed runner container %s", containerID)
			}
		}

		if r.ownsClient {
			if err := r.client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close Docker client: %w", err))
			}
		}

		r.teardownErr = errors.Join(errs...)
	})

	return r.teardownErr
}

// decode turns the raw output of a job into text.
func decode(output []byte) string {
	return strings.ToValidUTF8(string(output), "\uFFFD")
}
