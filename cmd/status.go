package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/ethpandaops/harvester/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	statusJSON bool
	statusDSN  string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print detection and source counts from the store",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print counts as JSON")
	statusCmd.Flags().StringVar(&statusDSN, "dsn", "", "override store.dsn")
}

type storeStatus struct {
	Detections int64 `json:"detections"`
	Sources    int64 `json:"sources"`
	Processed  int64 `json:"processed"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	config, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("dsn") {
		config.Store.DSN = statusDSN
	}

	config.Store.ReadOnly = true

	if err := config.Store.Validate(); err != nil {
		return err
	}

	if logLevel == "" {
		logger.SetLevel(logrus.WarnLevel)
	}

	ctx := cmd.Context()

	st, err := store.Open(ctx, logger, &config.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	var status storeStatus

	if status.Detections, err = st.CountDetections(ctx); err != nil {
		return err
	}

	if status.Sources, err = st.CountSources(ctx); err != nil {
		return err
	}

	if status.Processed, err = st.CountProcessed(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(status)
	}

	fmt.Fprintf(out, "Total detections:  %d\n", status.Detections)
	fmt.Fprintf(out, "Unique sources:    %d\n", status.Sources)
	fmt.Fprintf(out, "Processed sources: %d\n", status.Processed)

	return nil
}
