package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pako-23/jobrunner/internal/jobrunner"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Status of a job in a run report.
const (
	statusPassed  = "passed"
	statusFailed  = "failed"
	statusSkipped = "skipped"
	statusError   = "error"
)

type jobReport struct {
	Job      string        `yaml:"job"`
	Status   string        `yaml:"status"`
	ExitCode int           `yaml:"exit_code"`
	Duration time.Duration `yaml:"duration"`
	Error    string        `yaml:"error,omitempty"`
}

type runReport struct {
	Image  string      `yaml:"image"`
	Mode   string      `yaml:"mode"`
	Passed int         `yaml:"passed"`
	Failed int         `yaml:"failed"`
	Jobs   []jobReport `yaml:"jobs"`
}

func newRunCmd() *cobra.Command {
	runCommand := &cobra.Command{
		Use:   "run [flags] [jobs...]",
		Short: "Runs jobs in a runner container",
		Long: `Provisions a runner container and runs the given jobs in it one
after the other. If no job is given, all the jobs in the jobs directory
are run. The runner container is removed once the jobs are over.`,
		PreRun: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			runner, err := jobrunner.New(config)
			if err != nil {
				return err
			}
			defer func() {
				if err := runner.Teardown(context.Background()); err != nil {
					log.Error(err)
				}
			}()

			list := args
			if len(list) == 0 {
				if list, err = runner.Catalog().List(); err != nil {
					return err
				}
			}

			report, err := runJobs(cmd.Context(), runner, list, cmd.OutOrStdout())
			if file := viper.GetString("report"); file != "" {
				if err := writeReport(file, report); err != nil {
					log.Error(err)
				}
			}

			return err
		},
	}

	addRunnerFlags(runCommand)
	runCommand.Flags().StringP("report", "r", "", "the file to write a YAML report of the run to")
	runCommand.Flags().BoolP("quiet", "q", false, "do not print the output of successful jobs")

	return runCommand
}

// runJobs runs the jobs sequentially and prints their output. It stops at the
// first error which is not a job failure.
func runJobs(ctx context.Context, runner *jobrunner.Runner, list []string, out io.Writer) (*runReport, error) {
	var (
		config        = runner.Config()
		errorMessages = []string{}
		report        = &runReport{Image: config.Image, Mode: string(config.Mode)}
	)

	for i, job := range list {
		invocation, err := runner.Invoke(ctx, job)
		entry := jobReport{
			Job:      invocation.Job,
			ExitCode: invocation.ExitCode,
			Duration: invocation.Duration,
			Status:   statusPassed,
		}

		if err != nil || !viper.GetBool("quiet") {
			printOutput(out, invocation)
		}

		switch {
		case err == nil:
			report.Passed++
			log.Infof("job %s passed in %v", invocation.Job, invocation.Duration)
		case errors.Is(err, jobrunner.ErrJobFailed):
			report.Failed++
			entry.Status, entry.Error = statusFailed, err.Error()
			errorMessages = append(errorMessages, err.Error())
			log.Warn(err)
		default:
			entry.Status, entry.Error = statusError, err.Error()
			report.Jobs = append(report.Jobs, entry)
			for _, skipped := range list[i+1:] {
				report.Jobs = append(report.Jobs, jobReport{Job: skipped, Status: statusSkipped, ExitCode: -1})
			}

			return report, err
		}

		report.Jobs = append(report.Jobs, entry)
	}

	log.Infof("%d jobs passed, %d jobs failed", report.Passed, report.Failed)
	if len(errorMessages) > 0 {
		return report, errors.Wrap(jobrunner.ErrJobFailed, strings.Join(errorMessages, "\n"))
	}

	return report, nil
}

func printOutput(out io.Writer, invocation jobrunner.Invocation) {
	if invocation.Output == "" {
		return
	}

	fmt.Fprintf(out, "==> %s <==\n%s", invocation.Job, invocation.Output)
	if !strings.HasSuffix(invocation.Output, "\n") {
		fmt.Fprintln(out)
	}
}

func writeReport(path string, report *runReport) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(2)
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return encoder.Close()
}
