// Load the definition of a job runner container from a Docker Compose file.

package runnerdef

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	cgo "github.com/compose-spec/compose-go/cli"
	cgotypes "github.com/compose-spec/compose-go/types"
	"github.com/docker/docker/api/types/container"
	"github.com/pako-23/jobrunner/internal/docker"
	log "github.com/sirupsen/logrus"
)

// DefaultService is the name of the Compose service describing the runner
// when none is given.
const DefaultService = "runner"

// A Definition is the part of a Compose service that is relevant to start a
// job runner container.
type Definition struct {
	// The image to run. If the service only defines a build section, the
	// name is derived from the build context and the service name.
	Image string
	// The build context. Empty if the image should be pulled.
	BuildContext string
	Dockerfile   string
	BuildArgs    map[string]*string
	Entrypoint   []string
	Environment  []string
	Mounts       []docker.Mount
	Healthcheck  *container.HealthConfig
	WorkingDir   string
}

// resolve makes a path from the Compose file absolute with respect to the
// directory holding the Compose file.
func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(dir, path)
}

func newDefinition(dir, name string, config *cgotypes.ServiceConfig) *Definition {
	result := Definition{
		Entrypoint:  []string(config.Entrypoint),
		Environment: make([]string, 0, len(config.Environment)),
		Image:       config.Image,
		WorkingDir:  config.WorkingDir,
	}

	if config.Build != nil {
		result.BuildContext = resolve(dir, config.Build.Context)
		result.Dockerfile = config.Build.Dockerfile
		result.BuildArgs = map[string]*string(config.Build.Args)

		if len(result.Image) == 0 {
			result.Image = strings.Join([]string{filepath.Base(result.BuildContext), name}, "-")
		}
	}

	for k, v := range config.Environment {
		if v == nil {
			result.Environment = append(result.Environment, k)
		} else {
			result.Environment = append(result.Environment, strings.Join([]string{k, *v}, "="))
		}
	}

	for _, volume := range config.Volumes {
		if volume.Type != cgotypes.VolumeTypeBind {
			log.Warnf("ignoring %s volume %s of service %s", volume.Type, volume.Target, name)
			continue
		}

		result.Mounts = append(result.Mounts, docker.Mount{
			Source:   resolve(dir, volume.Source),
			Target:   volume.Target,
			ReadOnly: volume.ReadOnly,
		})
	}

	if config.HealthCheck == nil {
		return &result
	}

	result.Healthcheck = &container.HealthConfig{
		Test: config.HealthCheck.Test,
	}

	if config.HealthCheck.Interval != nil {
		result.Healthcheck.Interval = time.Duration(*config.HealthCheck.Interval)
	}

	if config.HealthCheck.Timeout != nil {
		result.Healthcheck.Timeout = time.Duration(*config.HealthCheck.Timeout)
	}

	if config.HealthCheck.StartPeriod != nil {
		result.Healthcheck.StartPeriod = time.Duration(*config.HealthCheck.StartPeriod)
	}

	if config.HealthCheck.Retries != nil {
		result.Healthcheck.Retries = int(*config.HealthCheck.Retries)
	}

	if config.HealthCheck.Disable {
		result.Healthcheck = nil
	}

	return &result
}

// Load reads the Compose file at path and returns the definition of the
// given service. If service is empty, DefaultService is used.
func Load(path, service string) (*Definition, error) {
	if service == "" {
		service = DefaultService
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load runner definition file: %w", err)
	}

	project, err := cgo.ProjectFromOptions(&cgo.ProjectOptions{
		ConfigPaths: []string{absPath},
		WorkingDir:  filepath.Dir(absPath),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load runner definition file: %w", err)
	}

	config, err := project.GetService(service)
	if err != nil {
		return nil, fmt.Errorf("failed to find service %s in %s: %w", service, path, err)
	}

	if config.Image == "" && config.Build == nil {
		return nil, fmt.Errorf("service %s in %s defines neither an image nor a build", service, path)
	}
	log.Infof("successfully read runner definition from %s", path)

	return newDefinition(filepath.Dir(absPath), service, &config), nil
}
