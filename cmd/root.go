// Package cmd contains the CLI commands for the harvester
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Global vars needed for cobra CLI
var (
	cfgFile  string
	logLevel string
	logger   *logrus.Logger
)

// rootCmd represents the base command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Harvest transient-source detections from the ALeRCE broker",
	Long: `harvester pages through the ALeRCE ZTF catalog for candidate transients,
fetches each new source's detection history and stores it idempotently until
a target record count is reached or the catalog stops yielding new sources.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file; defaults apply when it does not exist")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func initLogger() {
	if logLevel == "" {
		return
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
}

// applyLogLevel sets the configured level unless --log-level was given
func applyLogLevel(configured string) error {
	if logLevel != "" {
		return nil
	}

	level, err := logrus.ParseLevel(configured)
	if err != nil {
		return err
	}

	logger.SetLevel(level)

	return nil
}
