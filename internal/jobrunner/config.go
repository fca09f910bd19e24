package jobrunner

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/pako-23/jobrunner/internal/docker"
	"github.com/pako-23/jobrunner/internal/runnerdef"
	"github.com/spf13/viper"
	"golang.org/x/exp/slices"
)

const (
	DefaultImage         = "iorunner"
	DefaultJobsDir       = "jobs"
	DefaultLibraryDir    = "."
	DefaultJobsMount     = "/workspace"
	DefaultLibraryMount  = "/var/jenkins_home/pipeline-library"
	DefaultDockerSocket  = "/var/run/docker.sock"
	DefaultRunnerBinary  = "/app/bin/jenkinsfile-runner"
	DefaultReadyTimeout  = 2 * time.Minute
	DefaultReadyInterval = time.Second
)

// ImageEnv is the environment variable overriding the runner image.
const ImageEnv = "RUNNER_IMAGE"

// DefaultKeepAlive is the entrypoint keeping an idle runner container alive
// between jobs.
var DefaultKeepAlive = []string{"tail", "-f", "/dev/null"}

// A Mode selects how jobs are executed.
type Mode string

const (
	// ModeExec runs every job inside one long-lived container.
	ModeExec Mode = "exec"
	// ModeEphemeral runs every job in a fresh container removed once the
	// job is over.
	ModeEphemeral Mode = "ephemeral"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeExec:
		return ModeExec, nil
	case ModeEphemeral:
		return ModeEphemeral, nil
	default:
		return "", fmt.Errorf("%s is not a supported job runner mode", s)
	}
}

// Config holds everything needed to provision a runner container and to
// invoke jobs inside it.
type Config struct {
	// The runner image. It is built from BuildContext when set and
	// missing locally, otherwise pulled.
	Image        string
	BuildContext string
	Dockerfile   string
	BuildArgs    map[string]*string
	Rebuild      bool

	// The host directory with the job definitions, mounted read-only.
	JobsDir   string
	JobsMount string
	// The host directory with the pipeline library.
	LibraryDir      string
	LibraryMount    string
	LibraryWritable bool
	// The Docker socket bound into the container for jobs running nested
	// containers. Empty disables the binding.
	DockerSocket string
	ExtraMounts  []docker.Mount

	RunnerBinary string
	// Arguments passed to the runner binary before the job file.
	RunnerArgs []string
	KeepAlive  []string
	Env        []string
	WorkingDir string
	// A Docker healthcheck the container must pass before it is used.
	Healthcheck *container.HealthConfig

	Mode          Mode
	ContainerName string

	// A fixed delay to wait after the container started, for instance to
	// let a nested Docker daemon come up.
	ReadyDelay time.Duration
	// A command executed in the container until it exits with 0.
	ReadyProbe    []string
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
}

// ConfigureViper registers the environment bindings used by LoadConfig.
// Every key can be set through a JOBRUNNER_ prefixed variable, and the
// image also through RUNNER_IMAGE.
func ConfigureViper(v *viper.Viper) {
	v.SetEnvPrefix("jobrunner")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("image", ImageEnv, "JOBRUNNER_IMAGE")
}

// LoadConfig builds a Config out of the values known to v. When a runner
// definition file is configured, it fills in what v leaves unset.
func LoadConfig(v *viper.Viper) (Config, error) {
	mode, err := ParseMode(v.GetString("mode"))
	if err != nil {
		return Config{}, err
	}

	config := Config{
		Image:           v.GetString("image"),
		BuildContext:    v.GetString("build-context"),
		Dockerfile:      v.GetString("dockerfile"),
		Rebuild:         v.GetBool("rebuild"),
		JobsDir:         v.GetString("jobs"),
		LibraryDir:      v.GetString("library"),
		LibraryWritable: v.GetBool("library-writable"),
		DockerSocket:    DefaultDockerSocket,
		RunnerBinary:    v.GetString("runner-binary"),
		RunnerArgs:      v.GetStringSlice("runner-args"),
		Env:             v.GetStringSlice("runner-env"),
		Mode:            mode,
		ContainerName:   v.GetString("name"),
		ReadyDelay:      v.GetDuration("ready-delay"),
		ReadyProbe:      v.GetStringSlice("ready-probe"),
		ReadyTimeout:    v.GetDuration("ready-timeout"),
		ReadyInterval:   v.GetDuration("ready-interval"),
	}

	if v.IsSet("docker-socket") {
		config.DockerSocket = v.GetString("docker-socket")
	}

	if file := v.GetString("definition"); file != "" {
		def, err := runnerdef.Load(file, v.GetString("service"))
		if err != nil {
			return Config{}, err
		}
		config.ApplyDefinition(def)
	}

	return config, nil
}

// ConfigFromEnv loads a Config from the environment only. It is meant for
// test binaries, which have no flags or configuration files of their own.
func ConfigFromEnv() (Config, error) {
	v := viper.New()
	ConfigureViper(v)

	return LoadConfig(v)
}

// ApplyDefinition fills the fields left empty with the values of a runner
// definition.
func (c *Config) ApplyDefinition(def *runnerdef.Definition) {
	if c.Image == "" {
		c.Image = def.Image
	}

	if c.BuildContext == "" {
		c.BuildContext = def.BuildContext
		if c.Dockerfile == "" {
			c.Dockerfile = def.Dockerfile
		}
	}

	if c.BuildArgs == nil {
		c.BuildArgs = def.BuildArgs
	}

	if len(c.KeepAlive) == 0 {
		c.KeepAlive = def.Entrypoint
	}

	if c.Healthcheck == nil {
		c.Healthcheck = def.Healthcheck
	}

	if c.WorkingDir == "" {
		c.WorkingDir = def.WorkingDir
	}

	c.Env = append(slices.Clone(def.Environment), c.Env...)
	c.ExtraMounts = append(c.ExtraMounts, def.Mounts...)
}

// validate fills in defaults and checks the host directories.
func (c *Config) validate() error {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.JobsDir == "" {
		c.JobsDir = DefaultJobsDir
	}
	if c.LibraryDir == "" {
		c.LibraryDir = DefaultLibraryDir
	}
	if c.JobsMount == "" {
		c.JobsMount = DefaultJobsMount
	}
	if c.LibraryMount == "" {
		c.LibraryMount = DefaultLibraryMount
	}
	if c.RunnerBinary == "" {
		c.RunnerBinary = DefaultRunnerBinary
	}
	if len(c.KeepAlive) == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.Mode == "" {
		c.Mode = ModeExec
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.ReadyInterval <= 0 {
		c.ReadyInterval = DefaultReadyInterval
	}

	for _, dir := range []*string{&c.JobsDir, &c.LibraryDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("failed to resolve directory %s: %w", *dir, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to open directory to mount: %w", err)
		} else if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", abs)
		}
		*dir = abs
	}

	if c.BuildContext != "" {
		abs, err := filepath.Abs(c.BuildContext)
		if err != nil {
			return fmt.Errorf("failed to resolve build context %s: %w", c.BuildContext, err)
		}
		c.BuildContext = abs
	}

	return nil
}

// ImageSpec describes the runner image.
func (c Config) ImageSpec() docker.ImageSpec {
	return docker.ImageSpec{
		Name:       c.Image,
		Context:    c.BuildContext,
		Dockerfile: c.Dockerfile,
		BuildArgs:  c.BuildArgs,
		Rebuild:    c.Rebuild,
	}
}

func (c *Config) mounts() []docker.Mount {
	mounts := []docker.Mount{
		{Source: c.JobsDir, Target: c.JobsMount, ReadOnly: true},
		{Source: c.LibraryDir, Target: c.LibraryMount, ReadOnly: !c.LibraryWritable},
	}

	if c.DockerSocket != "" {
		mounts = append(mounts, docker.Mount{Source: c.DockerSocket, Target: c.DockerSocket})
	}

	return append(mounts, c.ExtraMounts...)
}

// containerSpec describes the long-lived container jobs are executed in.
func (c *Config) containerSpec() docker.ContainerSpec {
	return docker.ContainerSpec{
		Name:        c.ContainerName,
		Image:       c.Image,
		Entrypoint:  c.KeepAlive,
		Env:         c.Env,
		WorkingDir:  c.WorkingDir,
		Labels:      map[string]string{managedLabel: "true"},
		Mounts:      c.mounts(),
		Healthcheck: c.Healthcheck,
	}
}

func (c *Config) jobArgs(job string) []string {
	args := make([]string, 0, len(c.RunnerArgs)+2)
	args = append(args, c.RunnerArgs...)

	return append(args, "-f", path.Join(c.JobsMount, job))
}

// jobCommand is the command executing a job in the long-lived container.
func (c *Config) jobCommand(job string) []string {
	return append([]string{c.RunnerBinary}, c.jobArgs(job)...)
}

// jobContainerSpec describes the container running a single job. The image
// entrypoint is expected to be the runner binary.
func (c *Config) jobContainerSpec(job string) docker.ContainerSpec {
	return docker.ContainerSpec{
		Image:      c.Image,
		Cmd:        c.jobArgs(job),
		Env:        c.Env,
		WorkingDir: c.WorkingDir,
		Labels:     map[string]string{managedLabel: "true", jobLabel: job},
		Mounts:     c.mounts(),
	}
}
