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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/loadbench/pkg/logging"
	"github.com/AleutianAI/loadbench/services/bench/aggregate"
	"github.com/AleutianAI/loadbench/services/bench/config"
)

func runAggregate(cmd *cobra.Command, _ []string) error {
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

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	agg, err := aggregate.New(store, aggregate.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	rep, err := agg.Aggregate(cmd.Context())
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	for _, w := range rep.Warnings {
		logger.Warn("skipped artifact", "reason", w)
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output %s: %w", outputPath, err)
		}
		defer f.Close()
		out = f
	}

	switch outputFormat {
	case "csv":
		if err := rep.WriteCSV(out); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format %q (want csv or json)", outputFormat)
	}

	logger.Info("aggregation complete",
		"suites", len(rep.Suites),
		"artifacts", len(rep.Artifacts),
		"warnings", len(rep.Warnings),
	)
	return nil
}
