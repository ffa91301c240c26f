package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"piobridge/config"
	"piobridge/redis"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	backfillFrom   *uint64
	backfillTo     *uint64
	backfillRounds *int
)

// BackfillCmd rescans a source block range for every configured validator, used to
// cover window gaps after downtime. Events still waiting on other validators are
// retried every poll interval until they settle or the rounds run out.
var BackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rescan a source block range for missed Locked events and exit",
	Run:   runBackfill,
}

func init() {
	backfillFrom = BackfillCmd.Flags().Uint64("from", 0, "First source block to scan")
	backfillTo = BackfillCmd.Flags().Uint64("to", 0, "Last source block to scan, inclusive")
	backfillRounds = BackfillCmd.Flags().Int("rounds", 12, "Retry rounds for events still pending after the scan")
	_ = BackfillCmd.MarkFlagRequired("to")
}

func checkBackfillConfig(cfg *config.Configuration) error {
	if *backfillTo < *backfillFrom {
		return errors.New("--to must not be below --from")
	}
	if *backfillRounds < 0 {
		return errors.New("--rounds must not be negative")
	}
	return checkRelayerConfig(cfg)
}

func runBackfill(cmd *cobra.Command, args []string) {
	cfg := loadConfig(checkBackfillConfig)
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := connectRedis(cfg, logger)
	defer pool.Close()

	alerts, closeAlerts := alertSinks(cfg, redis.NewAlertStore(pool, alertsKept), logger)
	defer closeAlerts()

	r, err := buildRelayer(cfg, pool, alerts, logger)
	if err != nil {
		logger.Fatal("cannot build relayer", zap.Error(err))
	}

	failed := false
	if err := r.fleet.Backfill(ctx, *backfillFrom, *backfillTo, *backfillRounds, cfg.Bridge.PollInterval); err != nil {
		logger.Error("backfill failed", zap.Error(err))
		failed = true
	}

	for _, status := range r.fleet.Statuses() {
		logger.Info("backfill done",
			zap.String("validator", status.Validator),
			zap.Uint64("from", *backfillFrom),
			zap.Uint64("to", *backfillTo),
			zap.Uint64("processed", status.Processed),
			zap.Int("retrying", status.Retrying))
		// a retry left in memory is lost when the process exits
		if status.Retrying > 0 {
			failed = true
		}
	}
	if failed {
		logger.Sync()
		os.Exit(1)
	}
}
