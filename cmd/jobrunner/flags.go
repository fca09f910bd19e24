package main

import (
	"github.com/pako-23/jobrunner/internal/jobrunner"
	"github.com/pako-23/jobrunner/internal/runnerdef"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// addImageFlags registers the flags selecting the runner image.
func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("image", "i", "", "the runner image (default "+jobrunner.DefaultImage+", or $"+jobrunner.ImageEnv+")")
	cmd.Flags().StringP("build-context", "b", "", "the directory to build the runner image from")
	cmd.Flags().String("dockerfile", "", "the Dockerfile within the build context")
	cmd.Flags().StringP("definition", "d", "", "the path to a Docker Compose file defining the runner")
	cmd.Flags().String("service", runnerdef.DefaultService, "the service of the Docker Compose file defining the runner")
}

// addLayoutFlags registers the flags locating the pipeline library.
func addLayoutFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("jobs", "j", jobrunner.DefaultJobsDir, "the directory containing the jobs")
	cmd.Flags().StringP("library", "l", jobrunner.DefaultLibraryDir, "the directory containing the pipeline library")
}

// addRunnerFlags registers the flags configuring the runner container.
func addRunnerFlags(cmd *cobra.Command) {
	addImageFlags(cmd)
	addLayoutFlags(cmd)

	cmd.Flags().Bool("rebuild", false, "rebuild or pull the runner image even if it exists locally")
	cmd.Flags().Bool("library-writable", false, "mount the pipeline library writable")
	cmd.Flags().String("docker-socket", jobrunner.DefaultDockerSocket, "the Docker socket to bind into the runner, empty to disable")
	cmd.Flags().String("runner-binary", jobrunner.DefaultRunnerBinary, "the path of the job runner binary in the image")
	cmd.Flags().StringArray("runner-args", []string{}, "an argument to pass to the job runner binary")
	cmd.Flags().StringArrayP("runner-env", "e", []string{}, "an environment variable to pass to the runner container")
	cmd.Flags().StringP("mode", "m", string(jobrunner.ModeExec), "how jobs are executed: exec or ephemeral")
	cmd.Flags().String("name", "", "the name of the runner container")
	cmd.Flags().Duration("ready-delay", 0, "the time to wait after the runner container started")
	cmd.Flags().StringArray("ready-probe", []string{}, "the command telling when the runner container is ready")
	cmd.Flags().Duration("ready-timeout", jobrunner.DefaultReadyTimeout, "the time the runner container has to become ready")
	cmd.Flags().Duration("ready-interval", jobrunner.DefaultReadyInterval, "the interval between readiness probes")
}

func bindFlags(cmd *cobra.Command, args []string) {
	viper.BindPFlags(cmd.Flags())
}

func loadConfig() (jobrunner.Config, error) {
	return jobrunner.LoadConfig(viper.GetViper())
}
