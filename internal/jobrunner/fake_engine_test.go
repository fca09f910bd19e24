package jobrunner_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pako-23/jobrunner/internal/docker"
	"github.com/pako-23/jobrunner/internal/jobrunner"
	"gotest.tools/v3/assert"
)

var errInjectedFailure = errors.New("injected failure")

// levelsOutput is what the logging/levels job prints: every log level
// configuration logs one message per level, and only the messages at or
// above the configured level are printed.
func levelsOutput() string {
	var (
		out    strings.Builder
		levels = []string{"Debug", "Info", "Warning", "Error"}
		config = []struct {
			name     string
			minLevel int
		}{
			{"default", 1},
			{"DEBUG", 0},
			{"INFO", 1},
			{"WARN", 2},
			{"ERROR", 3},
			{"NONE", 4},
		}
	)

	out.WriteString("Started\n")
	for _, c := range config {
		for i, level := range levels {
			if i >= c.minLevel {
				fmt.Fprintf(&out, "[%s] %s\n", level, c.name)
			}
		}
	}
	out.WriteString("Finished: SUCCESS\n")

	return out.String()
}

var jobResults = map[string]docker.ExecResult{
	"/workspace/logging/levels": {Output: []byte(levelsOutput())},
	"/workspace/failing": {
		ExitCode: 1,
		Output:   []byte("Started\nERROR: script returned exit code 2\nFinished: FAILURE\n"),
		Stderr:   []byte("ERROR: script returned exit code 2\n"),
	},
	"/workspace/binary": {Output: []byte("caf\xe9\n")},
}

type fakeEngine struct {
	mu       sync.Mutex
	failures map[string]error

	ensured   []docker.ImageSpec
	started   []docker.ContainerSpec
	ephemeral []docker.ContainerSpec
	execs     [][]string
	probes    int
	killed    []string
	removed   []string
	closed    int

	// The number of readiness probes failing before one succeeds. A
	// negative value makes every probe fail.
	probeFailures int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{failures: map[string]error{}}
}

func (f *fakeEngine) fail(method string, err error) *fakeEngine {
	f.failures[method] = err
	return f
}

func (f *fakeEngine) EnsureImage(ctx context.Context, spec docker.ImageSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ensured = append(f.ensured, spec)
	return f.failures["EnsureImage"]
}

func (f *fakeEngine) StartContainer(ctx context.Context, spec docker.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failures["StartContainer"]; err != nil {
		return "", err
	}
	f.started = append(f.started, spec)

	return fmt.Sprintf("container-%d", len(f.started)), nil
}

func (f *fakeEngine) Exec(ctx context.Context, containerID string, cmd []string) (docker.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cmd[0] == "docker" {
		f.probes++
		if f.probeFailures < 0 || f.probes <= f.probeFailures {
			return docker.ExecResult{ExitCode: 1, Output: []byte("Cannot connect to the Docker daemon\n")}, nil
		}

		return docker.ExecResult{}, nil
	}

	if err := f.failures["Exec"]; err != nil {
		return docker.ExecResult{}, err
	}
	f.execs = append(f.execs, cmd)

	return jobResults[cmd[len(cmd)-1]], nil
}

func (f *fakeEngine) RunToCompletion(ctx context.Context, spec docker.ContainerSpec) (docker.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failures["RunToCompletion"]; err != nil {
		return docker.ExecResult{}, err
	}
	f.ephemeral = append(f.ephemeral, spec)

	return jobResults[spec.Cmd[len(spec.Cmd)-1]], nil
}

func (f *fakeEngine) Kill(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.killed = append(f.killed, containerID)
	return f.failures["Kill"]
}

func (f *fakeEngine) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, containerID)
	return f.failures["Remove"]
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed++
	return nil
}

// newTestConfig lays out a pipeline library with a few jobs and returns a
// configuration pointing to it.
func newTestConfig(t *testing.T) jobrunner.Config {
	t.Helper()

	lib := t.TempDir()
	for _, job := range []string{"logging/levels", "failing", "binary"} {
		dir := filepath.Join(lib, "jobs", filepath.FromSlash(job))
		assert.NilError(t, os.MkdirAll(dir, 0o755))
		assert.NilError(t, os.WriteFile(filepath.Join(dir, "Jenkinsfile"), []byte("pipeline {}\n"), 0o644))
	}

	return jobrunner.Config{
		JobsDir:    filepath.Join(lib, "jobs"),
		LibraryDir: lib,
	}
}

func newTestRunner(t *testing.T, config jobrunner.Config, engine *fakeEngine) *jobrunner.Runner {
	t.Helper()

	runner, err := jobrunner.New(config, jobrunner.WithClient(engine))
	assert.NilError(t, err)

	return runner
}
