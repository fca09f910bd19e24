package jobrunner

import (
	"errors"
	"fmt"
)

var (
	// ErrProvisioning matches every ProvisioningError.
	ErrProvisioning = errors.New("job runner provisioning failed")
	// ErrJobFailed matches every JobFailure.
	ErrJobFailed = errors.New("job failed")
	ErrClosed    = errors.New("job runner is torn down")
)

// A Stage names the step of the provisioning of a runner.
type Stage string

const (
	StageImage     Stage = "image"
	StageContainer Stage = "container"
	StageReadiness Stage = "readiness"
)

// A ProvisioningError reports that the runner image or container could not
// be made available. No job can run after it.
type ProvisioningError struct {
	Stage Stage
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%v at %s stage: %v", ErrProvisioning, e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() []error {
	return []error{ErrProvisioning, e.Err}
}

// A JobFailure reports a job that exited with a non-zero code. Output holds
// everything the job printed. A job rejected before being executed has exit
// code -1 and the reason in Err.
type JobFailure struct {
	Job      string
	ExitCode int
	Output   string
	Err      error
}

func (e *JobFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job %s failed: %v", e.Job, e.Err)
	}

	return fmt.Sprintf("job %s failed with exit code %d", e.Job, e.ExitCode)
}

func (e *JobFailure) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrJobFailed}
	}

	return []error{ErrJobFailed, e.Err}
}
