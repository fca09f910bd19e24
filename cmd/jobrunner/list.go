package main

import (
	"fmt"

	"github.com/pako-23/jobrunner/internal/jobs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListCmd() *cobra.Command {
	listCommand := &cobra.Command{
		Use:    "list [flags]",
		Short:  "Lists the jobs that can be run",
		Args:   cobra.NoArgs,
		PreRun: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := jobs.NewCatalog(viper.GetString("jobs"))
			if err != nil {
				return err
			}

			list, err := catalog.List()
			if err != nil {
				return err
			}

			for _, job := range list {
				fmt.Fprintln(cmd.OutOrStdout(), job)
			}

			return nil
		},
	}

	addLayoutFlags(listCommand)

	return listCommand
}
