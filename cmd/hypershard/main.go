// Command hypershard is the CLI surface over the orchestrator: it
// submits declarative plan documents, queries status and reports,
// generates and verifies inclusion proofs, and compacts the checkpoint
// store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hypershard/internal/checkpoint"
	"hypershard/internal/config"
	"hypershard/internal/core"
)

var (
	flagConfig string
	flagDB     string
	flagDebug  bool
)

func main() {
	root := &cobra.Command{
		Use:   "hypershard",
		Short: "Content-addressable sharded job orchestrator",
		Long: "hypershard splits declared stages into content-addressed shards,\n" +
			"executes them with checkpointed resumption, and aggregates results\n" +
			"into a verifiable Merkle root.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "checkpoint database path (overrides config)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newReportCmd(),
		newProveCmd(),
		newCompactCmd(),
		newWatchCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration from flags.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagDB != "" {
		cfg.DatabasePath = flagDB
	}
	if flagDebug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// buildLogger constructs the zap logger per config.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// openStore opens the checkpoint store for commands that do not need
// the orchestrator.
func openStore(cfg *config.Config, logger *zap.Logger) (*checkpoint.Store, error) {
	return checkpoint.Open(cfg.DatabasePath, logger)
}

// openCore wires the checkpoint store and orchestrator. The caller owns
// the returned cleanup.
func openCore() (*core.Core, *zap.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := checkpoint.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	c := core.New(store, core.Options{
		Logger:              logger,
		Sink:                core.NewLogSink(logger),
		MaxConcurrentShards: cfg.MaxConcurrentShards,
		ProofSampleSize:     cfg.ProofSampleSize,
	})
	cleanup := func() {
		store.Close()
		_ = logger.Sync()
	}
	return c, logger, cleanup, nil
}
