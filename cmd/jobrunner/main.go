// Copyright 2023 The GTDD Authors. All rights reserved.
// Use of this source code is governed by a GPL-style
// license that can be found in the LICENSE file.

// Run Jenkins pipeline jobs against a pipeline library inside a runner
// container.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pako-23/jobrunner/internal/jobrunner"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes of the jobrunner command.
const (
	exitSuccess    = 0
	exitJobFailure = 1
	exitRuntimeErr = 2
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	rootCommand := &cobra.Command{
		Use:           "jobrunner",
		Short:         "A tool to run Jenkins pipeline jobs in a container",
		Long:          `A tool to run Jenkins pipeline jobs against a pipeline library in a runner container`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			viper.BindPFlag("log", cmd.Flags().Lookup("log"))
			viper.BindPFlag("log-format", cmd.Flags().Lookup("log-format"))
			viper.BindPFlag("log-file", cmd.Flags().Lookup("log-file"))

			parseConfiguration(cfgFile)

			log.SetLevel(toLogLevel(viper.GetString("log")))
			switch viper.GetString("log-format") {
			case "json":
				log.SetFormatter(&log.JSONFormatter{})
			}

			if viper.GetString("log-file") == "" {
				return
			}

			file, err := os.OpenFile(viper.GetString("log-file"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
			if err == nil {
				log.SetOutput(file)
			}
		},
	}

	rootCommand.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file (default .jobrunner.yaml)")
	rootCommand.PersistentFlags().String("log", "info", "Log level")
	rootCommand.PersistentFlags().String("log-format", "plain", "The log format")
	rootCommand.PersistentFlags().String("log-file", "", "The log file")

	rootCommand.AddCommand(
		newBuildCmd(),
		newListCmd(),
		newRunCmd(),
	)

	return rootCommand
}

func parseConfiguration(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		cobra.CheckErr(err)

		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".jobrunner")
	}

	jobrunner.ConfigureViper(viper.GetViper())
	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("using configuration file %s", viper.ConfigFileUsed())
	}
}

// toLogLevel translates a string to the corresponding log level. If the
// provided string representing the log level is not supported, the program
// will exit with an error.
func toLogLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case log.InfoLevel.String():
		return log.InfoLevel
	case log.DebugLevel.String():
		return log.DebugLevel
	case log.TraceLevel.String():
		return log.TraceLevel
	case log.WarnLevel.String(), "warn":
		return log.WarnLevel
	case log.ErrorLevel.String():
		return log.ErrorLevel
	default:
		log.Fatalf("%s is not a supported logging level", level)
	}
	return log.InfoLevel
}

// exitCode maps the error returned by a command to the exit code of the
// process.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, jobrunner.ErrJobFailed):
		return exitJobFailure
	default:
		return exitRuntimeErr
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error(err)
	}

	os.Exit(exitCode(err))
}
