// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate merges independently persisted suite reports into one
// cross-suite summary.
//
// For each suite, only the latest artifact by embedded timestamp is used;
// older duplicates are discarded. Unreadable or malformed artifacts are
// skipped with a warning, never fatal — aggregation fails only when no
// valid suite remains. Metrics are folded as sums and counts (raw sample
// latencies, attempt counters, cost totals), so merged rates and
// percentiles are computed once over the combined population rather than
// by averaging per-suite averages. Re-running over an unchanged artifact
// set yields an identical report.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/loadbench/services/bench/artifact"
	"github.com/AleutianAI/loadbench/services/bench/runner"
	"github.com/AleutianAI/loadbench/services/bench/stats"
	"github.com/AleutianAI/loadbench/services/bench/suite"
)

const tracerName = "loadbench/aggregate"

var (
	// ErrNoValidSuites indicates that no artifact survived parsing.
	ErrNoValidSuites = errors.New("no valid suite artifacts found")

	// ErrNilStore indicates a missing artifact store.
	ErrNilStore = errors.New("artifact store must not be nil")
)

// -----------------------------------------------------------------------------
// Extractors
// -----------------------------------------------------------------------------

// Contribution is the accumulable portion of one category of one suite:
// raw counts, raw latency values, and cost totals. Extractors emit
// contributions; the aggregator folds them.
type Contribution struct {
	// Category labels the contribution in the merged report.
	Category string

	// Attempted, Succeeded, Failed are raw attempt counters.
	Attempted int
	Succeeded int
	Failed    int

	// LatenciesMs are raw successful-attempt latencies in milliseconds.
	LatenciesMs []float64

	// CostTotal is the summed cost metric.
	CostTotal float64
}

// Extractor pulls contributions out of one suite report.
//
// Extractors are registered per suite name; suites without a registration
// use DefaultExtractor.
type Extractor func(r *suite.Report) []Contribution

// DefaultExtractor emits one contribution per category of the standard
// report shape, preferring raw samples over the precomputed summary so the
// merged distribution covers the true combined population.
func DefaultExtractor(r *suite.Report) []Contribution {
	contribs := make([]Contribution, 0, len(r.Categories))
	for name, cat := range r.Categories {
		c := Contribution{
			Category:  name,
			Attempted: cat.Metrics.TotalAttempts,
			Succeeded: cat.Metrics.Succeeded,
			Failed:    cat.Metrics.Failed,
			CostTotal: cat.Metrics.CostTotal,
		}
		for _, s := range cat.Samples {
			if s.Outcome == runner.OutcomeSuccess {
				c.LatenciesMs = append(c.LatenciesMs, float64(s.Latency)/float64(time.Millisecond))
			}
		}
		contribs = append(contribs, c)
	}
	sort.Slice(contribs, func(i, j int) bool { return contribs[i].Category < contribs[j].Category })
	return contribs
}

// -----------------------------------------------------------------------------
// Report
// -----------------------------------------------------------------------------

// Merged is the folded summary of one category (or the overall total).
type Merged struct {
	Attempted   int                `json:"attempted"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	SuccessRate float64            `json:"successRate"`
	Latency     stats.Distribution `json:"latency"`
	CostTotal   float64            `json:"costTotal,omitempty"`
}

// Row is one condensed metric for flat tabular export.
type Row struct {
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Category string  `json:"category"`
}

// Report is the cross-suite aggregate. Built fresh on every run and never
// mutated afterwards; it carries no wall-clock stamp so identical inputs
// produce identical output.
type Report struct {
	// Suites lists the suite names that contributed, sorted.
	Suites []string `json:"suites"`

	// Artifacts lists the artifact keys actually used, sorted.
	Artifacts []string `json:"artifacts"`

	// Warnings lists skipped artifacts and the reason each was skipped.
	Warnings []string `json:"warnings,omitempty"`

	// Categories maps category name to its merged summary.
	Categories map[string]Merged `json:"categories"`

	// Overall is the merge across every category.
	Overall Merged `json:"overall"`

	// Rows is the condensed (metric, value, unit, category) list, ordered
	// by category then metric.
	Rows []Row `json:"rows"`
}

// -----------------------------------------------------------------------------
// Aggregator
// -----------------------------------------------------------------------------

// Aggregator merges suite artifacts from a store.
//
// Thread Safety: not safe for concurrent Register calls; Aggregate is safe
// to call concurrently once registration is complete.
type Aggregator struct {
	store      artifact.Store
	extractors map[string]Extractor
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTracer sets the tracer used for aggregation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Aggregator) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

// New constructs an Aggregator over the given store.
func New(store artifact.Store, opts ...Option) (*Aggregator, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	a := &Aggregator{
		store:      store,
		extractors: make(map[string]Extractor),
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Register binds an extractor to a suite name, replacing any previous
// binding. Suites without a binding use DefaultExtractor.
func (a *Aggregator) Register(suiteName string, ex Extractor) {
	a.extractors[suiteName] = ex
}

// Aggregate lists, selects, parses, and merges the store's artifacts.
//
// Outputs:
//   - *Report on success (possibly with warnings for skipped artifacts).
//   - ErrNoValidSuites when nothing parseable remains.
func (a *Aggregator) Aggregate(ctx context.Context) (*Report, error) {
	ctx, span := a.tracer.Start(ctx, "bench.aggregate")
	defer span.End()

	keys, err := a.store.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	report := &Report{Categories: make(map[string]Merged)}

	// Decode every artifact, keeping the latest per suite. Failures are
	// warnings, not errors.
	type candidate struct {
		key    string
		report *suite.Report
	}
	latest := make(map[string]candidate)
	for _, key := range keys {
		data, err := a.store.Get(ctx, key)
		if err != nil {
			a.warn(report, key, err)
			continue
		}
		r, err := suite.Decode(data)
		if err != nil {
			a.warn(report, key, err)
			continue
		}
		prev, ok := latest[r.Name]
		if !ok || r.Timestamp.After(prev.report.Timestamp) ||
			(r.Timestamp.Equal(prev.report.Timestamp) && key > prev.key) {
			latest[r.Name] = candidate{key: key, report: r}
		}
	}

	if len(latest) == 0 {
		span.SetStatus(codes.Error, ErrNoValidSuites.Error())
		return nil, ErrNoValidSuites
	}

	// Fold contributions in deterministic suite order.
	suites := make([]string, 0, len(latest))
	for name := range latest {
		suites = append(suites, name)
	}
	sort.Strings(suites)

	byCategory := make(map[string]*accumulator)
	overall := &accumulator{}
	for _, name := range suites {
		c := latest[name]
		report.Suites = append(report.Suites, name)
		report.Artifacts = append(report.Artifacts, c.key)

		ex, ok := a.extractors[name]
		if !ok {
			ex = DefaultExtractor
		}
		for _, contrib := range ex(c.report) {
			acc, ok := byCategory[contrib.Category]
			if !ok {
				acc = &accumulator{}
				byCategory[contrib.Category] = acc
			}
			acc.add(contrib)
			overall.add(contrib)
		}
	}
	sort.Strings(report.Artifacts)

	categories := make([]string, 0, len(byCategory))
	for name := range byCategory {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	for _, name := range categories {
		merged := byCategory[name].merged()
		report.Categories[name] = merged
		report.Rows = append(report.Rows, rowsFor(name, merged)...)
	}
	report.Overall = overall.merged()
	report.Rows = append(report.Rows, rowsFor("overall", report.Overall)...)

	span.SetAttributes(
		attribute.Int("bench.suites", len(report.Suites)),
		attribute.Int("bench.warnings", len(report.Warnings)),
	)
	span.SetStatus(codes.Ok, "")
	a.logger.Info("aggregation complete",
		"suites", len(report.Suites),
		"categories", len(categories),
		"warnings", len(report.Warnings))
	return report, nil
}

func (a *Aggregator) warn(report *Report, key string, err error) {
	a.logger.Warn("skipping artifact", "key", key, "error", err)
	report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", key, err))
}

// -----------------------------------------------------------------------------
// Accumulation
// -----------------------------------------------------------------------------

// accumulator folds contributions as sums and raw values, so the final
// rates and percentiles are computed over the combined population.
type accumulator struct {
	attempted   int
	succeeded   int
	failed      int
	latenciesMs []float64
	costTotal   float64
}

func (acc *accumulator) add(c Contribution) {
	acc.attempted += c.Attempted
	acc.succeeded += c.Succeeded
	acc.failed += c.Failed
	acc.latenciesMs = append(acc.latenciesMs, c.LatenciesMs...)
	acc.costTotal += c.CostTotal
}

func (acc *accumulator) merged() Merged {
	m := Merged{
		Attempted: acc.attempted,
		Succeeded: acc.succeeded,
		Failed:    acc.failed,
		CostTotal: acc.costTotal,
		Latency:   stats.Summarize(acc.latenciesMs, stats.DefaultPercentiles, stats.DefaultLatencyBucketsMs),
	}
	if m.Attempted > 0 {
		m.SuccessRate = float64(m.Succeeded) / float64(m.Attempted)
	}
	return m
}

// rowsFor renders one category's merged summary as condensed rows.
func rowsFor(category string, m Merged) []Row {
	rows := []Row{
		{Metric: "attempted", Value: float64(m.Attempted), Unit: "count", Category: category},
		{Metric: "succeeded", Value: float64(m.Succeeded), Unit: "count", Category: category},
		{Metric: "failed", Value: float64(m.Failed), Unit: "count", Category: category},
		{Metric: "success_rate", Value: m.SuccessRate, Unit: "ratio", Category: category},
		{Metric: "mean_latency", Value: m.Latency.Mean, Unit: "ms", Category: category},
	}
	if p99, ok := m.Latency.Percentile(99); ok {
		rows = append(rows, Row{Metric: "p99_latency", Value: p99, Unit: "ms", Category: category})
	}
	if m.CostTotal != 0 {
		rows = append(rows, Row{Metric: "cost_total", Value: m.CostTotal, Unit: "units", Category: category})
	}
	return rows
}
