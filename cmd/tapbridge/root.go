package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
	envFiles  []string

	env config.Env
)

var rootCmd = &cobra.Command{
	Use:   "tapbridge",
	Short: "Bridge host tap devices into a simulated IP network.",
	Long: `tapbridge runs a simulated IP network against the wall clock. ` +
		`Host tap devices are bound to simulated interfaces, so that real ` +
		`programs exchange Ethernet frames through the simulated links.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		env, err = config.LoadEnv(envFiles...)
		if err != nil {
			return err
		}

		level := logLevel
		if !cmd.Flags().Changed("log-level") && env.LogLevel != "" {
			level = env.LogLevel
		}

		return setupLogging(level, logFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level: trace, debug, info, warn or error.")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format: text or json.")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"Files to load environment variables from. Defaults to .env.")
}

func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)

	switch strings.ToLower(format) {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", format)
	}

	return nil
}

// Execute runs the command line and returns the exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}

	return 0
}
