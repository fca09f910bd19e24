package main

import (
	"fmt"

	"github.com/pako-23/jobrunner/internal/docker"
	"github.com/pako-23/jobrunner/internal/jobrunner"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBuildCmd() *cobra.Command {
	buildCommand := &cobra.Command{
		Use:   "build [flags]",
		Short: "Builds the runner image",
		Args:  cobra.NoArgs,
		Long: `Builds the runner image from its build context, or pulls it if no
build context is configured. The job catalog is checked at the same time.`,
		PreRun: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			client, err := docker.NewDefaultClient()
			if err != nil {
				return err
			}
			defer client.Close()

			runner, err := jobrunner.New(config, jobrunner.WithClient(client))
			if err != nil {
				return err
			}

			var (
				spec      = runner.Config().ImageSpec()
				waitgroup errgroup.Group
			)

			waitgroup.Go(func() error {
				if spec.Context == "" {
					return client.PullImage(cmd.Context(), spec.Name)
				}

				return client.BuildImage(cmd.Context(), spec)
			})

			waitgroup.Go(func() error {
				list, err := runner.Catalog().List()
				if err != nil {
					return err
				} else if len(list) == 0 {
					return fmt.Errorf("no jobs found in %s", runner.Catalog().Dir())
				}
				log.Infof("found %d jobs in %s", len(list), runner.Catalog().Dir())

				return nil
			})

			if err := waitgroup.Wait(); err != nil {
				return err
			}
			log.Infof("runner image %s is ready", spec.Name)

			return nil
		},
	}

	addImageFlags(buildCommand)
	addLayoutFlags(buildCommand)

	return buildCommand
}
