//go:build integration
// +build integration

package jobrunner_test

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/pako-23/jobrunner/internal/jobrunner"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// integrationRunner is shared by every test of the integration suite. It
// talks to the Docker daemon configured in the environment.
var integrationRunner *jobrunner.Runner

// TestMain needs JOBRUNNER_JOBS and JOBRUNNER_LIBRARY to point to a pipeline
// library checkout. RUNNER_IMAGE selects the runner image.
func TestMain(m *testing.M) {
	if os.Getenv("JOBRUNNER_JOBS") == "" {
		fmt.Fprintln(os.Stderr, "JOBRUNNER_JOBS is not set, skipping integration tests")
		os.Exit(0)
	}

	config, err := jobrunner.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	integrationRunner, err = jobrunner.New(config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	os.Exit(jobrunner.Session(m, integrationRunner))
}

func TestLoggingLevels(t *testing.T) {
	output := integrationRunner.MustRun(t, "logging/levels")

	assert.Check(t, is.Contains(output, "[Warning] default"))
	assert.Check(t, !strings.Contains(output, "[Debug] default"), "debug messages printed with the default level")

	assert.Check(t, is.Contains(output, "[Error] WARN"))
	assert.Check(t, !strings.Contains(output, "[Debug] WARN"), "debug messages printed with the WARN level")
}
