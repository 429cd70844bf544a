package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/pebble"
	"github.com/defistate/defistate-clamm-go/cmd/clammsim/config"
	"github.com/defistate/defistate-clamm-go/cmd/clammsim/scenario"
	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/defistate/defistate-clamm-go/protocols/clamm/quoter"
	"github.com/defistate/defistate-clamm-go/storage/journal"
	"github.com/defistate/defistate-clamm-go/storage/postgres"
	"github.com/defistate/defistate-clamm-go/storage/snapshot"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	root := &cobra.Command{
		Use:          "clammsim",
		Short:        "Concentrated-liquidity pool simulator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Build pools from a scenario file and replay its actions",
		RunE:  runScenario,
	}
	runCmd.Flags().String("scenario", "", "scenario YAML file")
	runCmd.Flags().String("journal", "", "append pool events to this JSONL file")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for events and pool snapshots")
	runCmd.Flags().String("snapshot-dir", "", "pebble directory for pool snapshots")
	runCmd.Flags().Int("snapshot-every", 64, "diffs between full snapshots")
	runCmd.Flags().Int("cache-size", 1024, "quoter cache entries")
	root.AddCommand(runCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote an exact-input swap against the latest stored snapshot",
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("snapshot-dir", "", "pebble directory written by run")
	quoteCmd.Flags().String("pool", "", "pool address")
	quoteCmd.Flags().String("token-in", "", "input token address")
	quoteCmd.Flags().String("amount", "", "input amount (decimal)")
	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runScenario(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Scenario == "" {
		return fmt.Errorf("scenario file is required")
	}
	s, err := scenario.Load(cfg.Scenario)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks clamm.Sinks
	if cfg.JournalPath != "" {
		sinks = append(sinks, journal.New(cfg.JournalPath))
	}

	var (
		store    *postgres.Store
		buffered *postgres.BufferedSink
	)
	if cfg.PgDSN != "" {
		if store, err = postgres.NewStore(ctx, cfg.PgDSN); err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		buffered = postgres.NewBufferedSink(store)
		sinks = append(sinks, buffered)
	}

	var snapshots *snapshot.Store
	if cfg.SnapshotDir != "" {
		if snapshots, err = snapshot.Open(cfg.SnapshotDir, nil, cfg.SnapshotEvery); err != nil {
			return err
		}
		defer snapshots.Close()
	}

	sugar := logger.Sugar()
	env, err := scenario.Build(s, scenario.Deps{
		Logger:     zapLogger{s: sugar},
		Registerer: prometheus.NewRegistry(),
		Events:     sinks,
		CacheSize:  cfg.CacheSize,
	})
	if err != nil {
		return err
	}

	logger.Info("scenario start",
		zap.String("scenario", cfg.Scenario),
		zap.Int("tokens", len(s.Tokens)),
		zap.Int("pools", len(s.Pools)),
		zap.Int("actions", len(s.Actions)),
	)

	record := func() error {
		if snapshots == nil {
			return nil
		}
		_, err := snapshots.Record(env.Registry.Views())
		return err
	}
	if err := record(); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}

	var recordErr error
	_, runErr := env.Run(ctx, s.Actions, func(r scenario.Result) {
		fields := []zap.Field{zap.Int("step", r.Step), zap.String("op", r.Op)}
		if r.Amount0 != nil {
			fields = append(fields, zap.String("amount0", r.Amount0.Dec()))
		}
		if r.Amount1 != nil {
			fields = append(fields, zap.String("amount1", r.Amount1.Dec()))
		}
		if r.Liquidity != nil {
			fields = append(fields, zap.String("liquidity", r.Liquidity.Dec()))
		}
		if r.Err != nil {
			logger.Warn("step failed", append(fields, zap.Error(r.Err))...)
		} else {
			logger.Info("step done", fields...)
		}
		if err := record(); err != nil && recordErr == nil {
			recordErr = err
		}
	})

	// persist whatever ran, even if a step failed
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if recordErr != nil {
		errs = append(errs, fmt.Errorf("record snapshot: %w", recordErr))
	}
	if store != nil {
		if err := buffered.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := store.UpsertPoolSnapshots(ctx, env.Registry.Views()); err != nil {
			errs = append(errs, fmt.Errorf("upsert snapshots: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("scenario failed", zap.Error(err))
		return err
	}

	logger.Info("scenario done", zap.Int("pools", len(env.Registry.All())))
	return nil
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.SnapshotDir == "" {
		return fmt.Errorf("snapshot dir is required")
	}
	if !common.IsHexAddress(cfg.Pool) || !common.IsHexAddress(cfg.TokenIn) {
		return fmt.Errorf("pool and token-in must be hex addresses")
	}
	amount, err := uint256.FromDecimal(cfg.Amount)
	if err != nil {
		return fmt.Errorf("amount %q: %w", cfg.Amount, clamm.ErrInvalidAmount)
	}

	snapshots, err := snapshot.Open(cfg.SnapshotDir, &pebble.Options{ReadOnly: true}, 0)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	seq, views, err := snapshots.Load()
	if err != nil {
		return err
	}

	poolAddr := common.HexToAddress(cfg.Pool)
	for _, view := range views {
		if view.Address != poolAddr {
			continue
		}
		out, after, err := quoter.QuoteView(view, common.HexToAddress(cfg.TokenIn), amount)
		if err != nil {
			return err
		}
		logger.Info("quote",
			zap.Uint64("snapshot", seq),
			zap.String("pool", poolAddr.Hex()),
			zap.String("amountIn", amount.Dec()),
			zap.String("amountOut", out.Dec()),
			zap.Int32("tickAfter", after.Tick),
		)
		fmt.Fprintln(cmd.OutOrStdout(), out.Dec())
		return nil
	}
	return fmt.Errorf("%w: %s not in snapshot %d", clamm.ErrPoolNotFound, poolAddr.Hex(), seq)
}
