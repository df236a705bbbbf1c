package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loadlab/benchsuite/pkg/collector"
	"github.com/loadlab/benchsuite/pkg/config"
	"github.com/loadlab/benchsuite/pkg/loadgen"
	"github.com/loadlab/benchsuite/pkg/runner"
	"github.com/loadlab/benchsuite/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark suite",
	Long: `Execute one benchmark run per configured concurrency level, with a
cooldown between runs. Each run launches the load generator, collects health
samples published over NATS while it executes, and persists the results.`,
	RunE: runSuite,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runSuite(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	col := collector.NewCollector(log, cfg.Collector.NATSURL, cfg.Collector.Topic)
	launcher := loadgen.NewLauncher(log, cfg.LoadGen.Binary)

	r := runner.NewRunner(log, &runner.Config{
		AppName:    cfg.Benchmark.AppName,
		Stage:      cfg.Benchmark.Stage,
		TargetHost: cfg.Benchmark.TargetHost,
		Script:     cfg.LoadGen.Script,
		OutputDir:  cfg.Benchmark.OutputDir,
		Notes:      cfg.Benchmark.Notes,
		SpawnRate:  cfg.Benchmark.SpawnRate,
		Duration:   time.Duration(cfg.Benchmark.DurationSeconds) * time.Second,
		Cooldown:   time.Duration(cfg.Benchmark.CooldownSeconds) * time.Second,
	}, st, col, launcher)

	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("starting runner: %w", err)
	}

	defer func() {
		if err := r.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop runner")
		}
	}()

	suite := r.RunSuite(ctx, cfg.Benchmark.UserCounts)

	if suite.Succeeded == 0 {
		return fmt.Errorf("all %d benchmark runs failed", suite.Total)
	}

	if suite.Succeeded < suite.Total {
		log.WithFields(logrus.Fields{
			"succeeded": suite.Succeeded,
			"total":     suite.Total,
		}).Warn("Suite completed with failures")
	}

	return nil
}
