package jobrunner

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"

	log "github.com/sirupsen/logrus"
)

const (
	// The exit code of a test session interrupted by a signal.
	interruptedExitCode = 130
	// The exit code of a test session whose runner could not be provisioned.
	provisioningExitCode = 2
)

// exit is replaced in tests.
var exit = os.Exit

// TestingM is implemented by *testing.M.
type TestingM interface {
	Run() int
}

// Session runs a test binary around a shared runner: the tests run, then
// the runner is torn down exactly once, also when the session is
// interrupted. It returns the exit code to pass to os.Exit.
//
// The runner is provisioned by the first test running a job. If that fails,
// every test running a job fails with the same ProvisioningError.
//
//	func TestMain(m *testing.M) {
//		runner, err := jobrunner.New(config)
//		...
//		os.Exit(jobrunner.Session(m, runner))
//	}
func Session(m TestingM, runner *Runner) int {
	return session(m, runner, false)
}

// SetupSession is like Session, but provisions the runner before any test
// runs. If provisioning fails, no test runs and the session exits with
// code 2.
func SetupSession(m TestingM, runner *Runner) int {
	return session(m, runner, true)
}

func session(m TestingM, runner *Runner, eager bool) int {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case sig := <-signals:
			log.Warnf("received %v, tearing down job runner", sig)
			if err := runner.Teardown(context.Background()); err != nil {
				log.Error(err)
			}
			exit(interruptedExitCode)
		case <-done:
		}
	}()

	code := provisioningExitCode
	if !eager {
		code = m.Run()
	} else if err := runner.Setup(context.Background()); err == nil {
		code = m.Run()
	}

	if err := runner.Teardown(context.Background()); err != nil {
		log.Errorf("failed to tear down job runner: %v", err)
	}

	return code
}

// MustRun runs a job and returns its output. If the job cannot run or
// fails, the output is logged and the test is failed immediately.
func (r *Runner) MustRun(t testing.TB, job string) string {
	t.Helper()

	output, err := r.Run(context.Background(), job)
	if err != nil {
		if output != "" {
			t.Logf("output of job %s:\n%s", job, output)
		}
		t.Fatalf("%v", err)
	}

	return output
}
