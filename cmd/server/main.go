package main

import (
	"fmt"
	"os"

	"piobridge/config"
	"piobridge/workers"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var configPath *string

var rootCmd = &cobra.Command{
	Use:   "piobridge",
	Short: "PIO lock/mint bridge validator relayers",
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "", "Path to the yaml config file, environment overrides it")

	rootCmd.AddCommand(RelayerCmd)
	rootCmd.AddCommand(DevnetCmd)
	rootCmd.AddCommand(BackfillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig exits with status 2 on a bad configuration, check fills in and validates
// what the subcommand needs.
func loadConfig(check func(cfg *config.Configuration) error) *config.Configuration {
	cfg, err := config.Load(*configPath)
	if err == nil && check != nil {
		err = check(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	return cfg
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", level)
		os.Exit(2)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func agentConfig(cfg *config.Configuration, validator common.Address) workers.AgentConfig {
	return workers.AgentConfig{
		Validator:             validator,
		Threshold:             cfg.Bridge.Threshold,
		PollInterval:          cfg.Bridge.PollInterval,
		WindowSize:            cfg.Bridge.WindowSize,
		RequireSourceFinality: cfg.Bridge.RequireSourceFinality,
		Security: workers.SecurityPolicy{
			LargeValue: cfg.LargeValueWei(),
			GasRatio:   cfg.Bridge.GasRatio,
		},
		MinGasBalance: cfg.MinGasBalanceWei(),
	}
}

func httpConfig(cfg *config.Configuration) workers.HTTPConfig {
	return workers.HTTPConfig{
		Listen:   cfg.Server.Listen,
		UseSSL:   cfg.Server.UseSSL,
		CertFile: cfg.Server.CertFile,
		KeyFile:  cfg.Server.KeyFile,
	}
}

// alertSinks writes every alert to the alert log and to store, the log is skipped
// when no path is configured.
func alertSinks(cfg *config.Configuration, store workers.AlertSink, logger *zap.Logger) (workers.AlertSink, func()) {
	if cfg.Server.AlertLog == "" {
		return store, func() {}
	}

	alertLog, err := workers.OpenAlertLog(cfg.Server.AlertLog)
	if err != nil {
		logger.Fatal("cannot open alert log", zap.String("path", cfg.Server.AlertLog), zap.Error(err))
	}
	return workers.MultiAlerts{alertLog, store}, func() {
		if err := alertLog.Close(); err != nil {
			logger.Error("closing alert log", zap.Error(err))
		}
	}
}
