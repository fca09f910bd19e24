package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pako-23/jobrunner/internal/docker"
	"github.com/pako-23/jobrunner/internal/jobrunner"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

type stubEngine struct {
	results  map[string]docker.ExecResult
	startErr error
}

func (s *stubEngine) EnsureImage(ctx context.Context, spec docker.ImageSpec) error {
	return nil
}

func (s *stubEngine) StartContainer(ctx context.Context, spec docker.ContainerSpec) (string, error) {
	return "runner", s.startErr
}

func (s *stubEngine) Exec(ctx context.Context, containerID string, cmd []string) (docker.ExecResult, error) {
	return s.results[cmd[len(cmd)-1]], nil
}

func (s *stubEngine) RunToCompletion(ctx context.Context, spec docker.ContainerSpec) (docker.ExecResult, error) {
	return s.results[spec.Cmd[len(spec.Cmd)-1]], nil
}

func (s *stubEngine) Kill(ctx context.Context, containerID string) error { return nil }
func (s *stubEngine) Remove(ctx context.Context, containerID string) error { return nil }
func (s *stubEngine) Close() error { return nil }

func newStubRunner(t *testing.T, engine *stubEngine) *jobrunner.Runner {
	t.Helper()

	lib := t.TempDir()
	for _, job := range []string{"hello", "broken"} {
		dir := filepath.Join(lib, "jobs", job)
		assert.NilError(t, os.MkdirAll(dir, 0o755))
		assert.NilError(t, os.WriteFile(filepath.Join(dir, "Jenkinsfile"), []byte("pipeline {}\n"), 0o644))
	}

	runner, err := jobrunner.New(jobrunner.Config{
		JobsDir:    filepath.Join(lib, "jobs"),
		LibraryDir: lib,
	}, jobrunner.WithClient(engine))
	assert.NilError(t, err)
	t.Cleanup(func() { runner.Teardown(context.Background()) })

	return runner
}

func newStubEngine() *stubEngine {
	return &stubEngine{results: map[string]docker.ExecResult{
		"/workspace/hello":  {Output: []byte("Hello\nFinished: SUCCESS\n")},
		"/workspace/broken": {ExitCode: 1, Output: []byte("Finished: FAILURE")},
	}}
}

func TestToLogLevel(t *testing.T) {
	tests := map[string]log.Level{
		"info":    log.InfoLevel,
		"DEBUG":   log.DebugLevel,
		"trace":   log.TraceLevel,
		"warn":    log.WarnLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
	}

	for level, expected := range tests {
		assert.Equal(t, toLogLevel(level), expected)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitCode(nil), exitSuccess)
	assert.Equal(t, exitCode(&jobrunner.JobFailure{Job: "hello", ExitCode: 1}), exitJobFailure)
	assert.Equal(t, exitCode(&jobrunner.ProvisioningError{Stage: jobrunner.StageImage, Err: errors.New("no image")}), exitRuntimeErr)
	assert.Equal(t, exitCode(errors.New("unknown flag")), exitRuntimeErr)
}

func TestRunJobs(t *testing.T) {
	runner := newStubRunner(t, newStubEngine())
	var out bytes.Buffer

	report, err := runJobs(context.Background(), runner, []string{"hello", "broken", "missing"}, &out)
	assert.Assert(t, errors.Is(err, jobrunner.ErrJobFailed))
	assert.Equal(t, exitCode(err), exitJobFailure)
	assert.Check(t, is.Contains(err.Error(), "job broken failed with exit code 1"))
	assert.Check(t, is.Contains(err.Error(), "job missing failed"))

	assert.Equal(t, out.String(), "==> hello <==\nHello\nFinished: SUCCESS\n==> broken <==\nFinished: FAILURE\n")

	assert.Equal(t, report.Image, jobrunner.DefaultImage)
	assert.Equal(t, report.Mode, string(jobrunner.ModeExec))
	assert.Equal(t, report.Passed, 1)
	assert.Equal(t, report.Failed, 2)
	assert.Assert(t, is.Len(report.Jobs, 3))
	assert.Equal(t, report.Jobs[0].Status, statusPassed)
	assert.Equal(t, report.Jobs[1].Status, statusFailed)
	assert.Equal(t, report.Jobs[1].ExitCode, 1)
	assert.Equal(t, report.Jobs[2].Status, statusFailed)
	assert.Equal(t, report.Jobs[2].ExitCode, -1)
}

func TestRunJobsQuiet(t *testing.T) {
	viper.Set("quiet", true)
	t.Cleanup(func() { viper.Set("quiet", false) })

	runner := newStubRunner(t, newStubEngine())
	var out bytes.Buffer

	_, err := runJobs(context.Background(), runner, []string{"hello", "broken"}, &out)
	assert.Assert(t, errors.Is(err, jobrunner.ErrJobFailed))
	assert.Equal(t, out.String(), "==> broken <==\nFinished: FAILURE\n")
}

func TestRunJobsProvisioningError(t *testing.T) {
	engine := newStubEngine()
	engine.startErr = errors.New("no space left on device")
	runner := newStubRunner(t, engine)

	report, err := runJobs(context.Background(), runner, []string{"hello", "broken"}, &bytes.Buffer{})
	assert.Assert(t, errors.Is(err, jobrunner.ErrProvisioning))
	assert.Equal(t, exitCode(err), exitRuntimeErr)

	assert.Equal(t, report.Passed, 0)
	assert.DeepEqual(t, report.Jobs, []jobReport{
		{Job: "hello", Status: statusError, ExitCode: -1, Error: err.Error()},
		{Job: "broken", Status: statusSkipped, ExitCode: -1},
	})
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	report := &runReport{
		Image:  "iorunner",
		Mode:   "exec",
		Passed: 1,
		Jobs:   []jobReport{{Job: "hello", Status: statusPassed}},
	}

	assert.NilError(t, writeReport(path, report))

	content, err := os.ReadFile(path)
	assert.NilError(t, err)

	var read runReport
	assert.NilError(t, yaml.Unmarshal(content, &read))
	assert.DeepEqual(t, &read, report)

	err = writeReport(filepath.Join(t.TempDir(), "missing", "report.yaml"), report)
	assert.ErrorContains(t, err, "failed to create report file")
}
