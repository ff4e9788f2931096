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
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	configPath string

	// sweep flags
	metricsAddr       string
	targetLatencyMs   float64
	targetJitterMs    float64
	targetFailureRate float64

	// aggregate flags
	outputFormat string
	outputPath   string

	rootCmd = &cobra.Command{
		Use:   "loadbench",
		Short: "A cli to run rate-controlled load sweeps and analyze the results",
		Long: `Loadbench drives a target operation through an increasing sequence
of load levels, records per-level latency and throughput statistics,
and locates the saturation and degradation points of the system under test.`,
		SilenceUsage: true,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run a load sweep and persist the suite report",
		RunE:  runSweep, // Defined in cmd_sweep.go
	}

	aggregateCmd = &cobra.Command{
		Use:   "aggregate",
		Short: "Merge the latest report of every suite into a combined summary",
		RunE:  runAggregate, // Defined in cmd_aggregate.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the loadbench version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "bench.yaml", "Path to the YAML run configuration")

	sweepCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the sweep (e.g. :9090)")
	sweepCmd.Flags().Float64Var(&targetLatencyMs, "target-latency", 5, "Base latency of the built-in synthetic target, in milliseconds")
	sweepCmd.Flags().Float64Var(&targetJitterMs, "target-jitter", 2, "Uniform latency jitter of the synthetic target, in milliseconds")
	sweepCmd.Flags().Float64Var(&targetFailureRate, "target-failure-rate", 0, "Failure probability of the synthetic target, in [0, 1)")
	rootCmd.AddCommand(sweepCmd)

	aggregateCmd.Flags().StringVarP(&outputFormat, "format", "f", "csv", "Output format: csv or json")
	aggregateCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the summary to this file instead of stdout")
	rootCmd.AddCommand(aggregateCmd)

	rootCmd.AddCommand(versionCmd)
}
