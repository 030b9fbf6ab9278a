package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethpandaops/harvester/pkg/engine"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	harvestTarget   int64
	harvestMaxEmpty int
	harvestDelay    time.Duration
	harvestDSN      string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest detections until the target is reached or the catalog is exhausted",
	Long: `Runs the harvest loop once and exits. With a scheduler.schedule configured
it keeps running and re-harvests on that schedule until interrupted.`,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	harvestCmd.Flags().Int64Var(&harvestTarget, "target", 0, "override harvest.targetRecords")
	harvestCmd.Flags().IntVar(&harvestMaxEmpty, "max-empty-pages", 0, "override harvest.maxEmptyPages")
	harvestCmd.Flags().DurationVar(&harvestDelay, "page-delay", 0, "override harvest.pageDelay")
	harvestCmd.Flags().StringVar(&harvestDSN, "dsn", "", "override store.dsn")
}

func applyHarvestFlags(cmd *cobra.Command, config *engine.Config) {
	flags := cmd.Flags()

	if flags.Changed("target") {
		config.Harvest.TargetRecords = harvestTarget
	}

	if flags.Changed("max-empty-pages") {
		config.Harvest.MaxEmptyPages = harvestMaxEmpty
	}

	if flags.Changed("page-delay") {
		config.Harvest.PageDelay = harvestDelay
	}

	if flags.Changed("dsn") {
		config.Store.DSN = harvestDSN
	}
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	config, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	applyHarvestFlags(cmd, config)

	if err := applyLogLevel(config.Logging); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := engine.NewService(ctx, logger, config)
	if err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		_ = app.Stop()
		return err
	}

	if app.Scheduled() {
		<-ctx.Done()

		return app.Stop()
	}

	_, runErr := app.Run(ctx)

	if err := app.Stop(); err != nil && runErr == nil {
		return err
	}

	return runErr
}
