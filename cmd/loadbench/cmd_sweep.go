// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/loadbench/pkg/logging"
	"github.com/AleutianAI/loadbench/services/bench/config"
	"github.com/AleutianAI/loadbench/services/bench/runner"
	"github.com/AleutianAI/loadbench/services/bench/suite"
	"github.com/AleutianAI/loadbench/services/bench/sweep"
)

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "loadbench",
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	sink, closeSinks, err := buildSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
		go func() {
			logger.Info("serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	r := runner.New(
		runner.WithLogger(logger.Slog()),
		runner.WithDrainTimeout(cfg.DrainTimeout.Std()),
	)

	opts := []sweep.Option{
		sweep.WithThresholds(cfg.Thresholds),
		sweep.WithLogger(logger.Slog()),
	}
	if sink != nil {
		opts = append(opts, sweep.WithSink(cfg.Suite, sink))
	}
	ctrl, err := sweep.New(r, cfg.Run, opts...)
	if err != nil {
		return err
	}

	op := newSyntheticOperation(targetLatencyMs, targetJitterMs, targetFailureRate)

	logger.Info("starting sweep",
		"suite", cfg.Suite,
		"mode", string(cfg.Run.Mode),
		"levels", cfg.Levels,
	)

	res, err := ctrl.Sweep(ctx, op, cfg.Levels)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	if sink != nil {
		if err := sink.Flush(context.Background()); err != nil {
			logger.Warn("flush telemetry", "error", err)
		}
	}

	report, err := suite.FromSweep(cfg.Suite, cfg.Category, res)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	data, err := report.Encode()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := report.ArtifactName()
	if err := store.Put(context.Background(), key, data); err != nil {
		return fmt.Errorf("persist report: %w", err)
	}

	logger.Info("sweep complete",
		"artifact", key,
		"levels_run", len(res.Levels),
		"levels_untested", len(res.Untested),
		"saturation_load", res.Analysis.SaturationLoad,
		"degradation_load", res.Analysis.DegradationLoad,
		"breakpoints", len(res.Analysis.Breakpoints),
	)
	return nil
}

// newSyntheticOperation builds the built-in target: it sleeps for the base
// latency plus uniform jitter and fails with the given probability. Useful
// for exercising the pipeline without an external system.
func newSyntheticOperation(baseMs, jitterMs, failureRate float64) runner.Operation {
	return func(ctx context.Context, _ int) (runner.Result, error) {
		d := time.Duration(baseMs * float64(time.Millisecond))
		if jitterMs > 0 {
			d += time.Duration(rand.Float64() * jitterMs * float64(time.Millisecond))
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return runner.Result{}, ctx.Err()
		case <-timer.C:
		}
		if failureRate > 0 && rand.Float64() < failureRate {
			return runner.Result{}, fmt.Errorf("synthetic failure")
		}
		return runner.Result{}, nil
	}
}
