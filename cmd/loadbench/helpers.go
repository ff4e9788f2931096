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

	"github.com/AleutianAI/loadbench/pkg/logging"
	"github.com/AleutianAI/loadbench/services/bench/artifact"
	"github.com/AleutianAI/loadbench/services/bench/config"
	"github.com/AleutianAI/loadbench/services/bench/telemetry"
)

// openStore builds the artifact store the configuration selects.
func openStore(cfg config.Config, logger *logging.Logger) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "fs":
		store, err := artifact.NewFSStore(cfg.Artifacts.Path)
		if err != nil {
			return nil, fmt.Errorf("open fs store %s: %w", cfg.Artifacts.Path, err)
		}
		return store, nil
	case "badger":
		bcfg := artifact.DefaultBadgerConfig(cfg.Artifacts.Path)
		bcfg.Logger = logger.Slog()
		store, err := artifact.OpenBadgerStore(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger store %s: %w", cfg.Artifacts.Path, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Artifacts.Backend)
	}
}

// initTelemetry maps the run configuration onto the OpenTelemetry bootstrap.
func initTelemetry(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	ocfg := telemetry.DefaultOtelConfig()
	ocfg.ServiceVersion = Version
	if cfg.Telemetry.TraceExporter != "" {
		ocfg.TraceExporter = cfg.Telemetry.TraceExporter
	} else {
		ocfg.TraceExporter = "none"
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		ocfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if !cfg.Telemetry.Prometheus.Enabled {
		ocfg.MetricExporter = "none"
	}

	shutdown, err := telemetry.Init(ctx, ocfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return shutdown, nil
}

// buildSink assembles the configured level sinks into one composite. The
// returned cleanup closes every sink; it is safe to call when no sink is
// configured. A nil Sink means telemetry is disabled.
func buildSink(cfg config.Config, logger *logging.Logger) (telemetry.Sink, func(), error) {
	var sinks []telemetry.Sink

	if cfg.Telemetry.Prometheus.Enabled {
		pcfg := telemetry.DefaultPrometheusConfig()
		if cfg.Telemetry.Prometheus.Namespace != "" {
			pcfg.Namespace = cfg.Telemetry.Prometheus.Namespace
		}
		sink, err := telemetry.NewPrometheusSink(pcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("prometheus sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.Telemetry.Influx.Enabled {
		sink, err := telemetry.NewInfluxSink(&telemetry.InfluxConfig{
			URL:    cfg.Telemetry.Influx.URL,
			Token:  cfg.Telemetry.Influx.Token,
			Org:    cfg.Telemetry.Influx.Org,
			Bucket: cfg.Telemetry.Influx.Bucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("influx sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if len(sinks) == 0 {
		return nil, func() {}, nil
	}

	composite, err := telemetry.NewCompositeSink(sinks...)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := composite.Close(); err != nil {
			logger.Warn("close telemetry sinks", "error", err)
		}
	}
	return composite, cleanup, nil
}
