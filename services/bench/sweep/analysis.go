// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sweep

import (
	"github.com/AleutianAI/loadbench/services/bench/runner"
)

// -----------------------------------------------------------------------------
// Thresholds
// -----------------------------------------------------------------------------

// Thresholds are the detection parameters for sweep analysis. Each is
// independently overridable via the controller options.
type Thresholds struct {
	// SaturationDropFraction is the relative efficiency drop that marks the
	// saturation point.
	SaturationDropFraction float64 `json:"saturationDropFraction" yaml:"saturation_drop_fraction"`

	// SpikeFraction is the relative mean-latency increase that emits a
	// latency_spike breakpoint.
	SpikeFraction float64 `json:"spikeFraction" yaml:"spike_fraction"`

	// DropFraction is the relative efficiency drop that emits a
	// throughput_drop breakpoint.
	DropFraction float64 `json:"dropFraction" yaml:"drop_fraction"`

	// SuccessFloor is the success-rate floor below which a level counts as
	// degraded.
	SuccessFloor float64 `json:"successFloor" yaml:"success_floor"`
}

// DefaultThresholds returns the standard detection parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SaturationDropFraction: 0.1,
		SpikeFraction:          0.5,
		DropFraction:           0.2,
		SuccessFloor:           0.95,
	}
}

// -----------------------------------------------------------------------------
// Analysis
// -----------------------------------------------------------------------------

// BreakpointKind classifies an abrupt level-to-level change.
type BreakpointKind string

const (
	// KindLatencySpike marks a level whose mean latency jumped relative to
	// the prior level.
	KindLatencySpike BreakpointKind = "latency_spike"

	// KindThroughputDrop marks a level whose efficiency fell relative to
	// the prior level.
	KindThroughputDrop BreakpointKind = "throughput_drop"
)

// Breakpoint is one detected abrupt change.
type Breakpoint struct {
	// Load is the level at which the change was observed.
	Load float64 `json:"load"`

	// Kind is the change classification.
	Kind BreakpointKind `json:"kind"`

	// Magnitude is the relative change: latency ratio minus one for spikes,
	// one minus efficiency ratio for drops.
	Magnitude float64 `json:"magnitude"`
}

// Analysis holds the derived series metrics of a completed sweep.
type Analysis struct {
	// LatencyGrowthRate is the least-squares slope of mean latency
	// (milliseconds) against load across all measured levels.
	LatencyGrowthRate float64 `json:"latencyGrowthRate"`

	// SaturationLoad is the first load whose efficiency dropped by more
	// than the saturation fraction relative to the prior level; the last
	// measured load when no drop was found.
	SaturationLoad float64 `json:"saturationLoad"`

	// DegradationLoad is the first load whose success rate fell below the
	// success floor; the last measured load when none did.
	DegradationLoad float64 `json:"degradationLoad"`

	// Breakpoints lists detected abrupt changes in level order.
	Breakpoints []Breakpoint `json:"breakpoints,omitempty"`
}

// Analyze derives series metrics from measured levels.
//
// Description:
//
//	Levels must be ordered by load, matching the sweep's input sequence.
//	An empty slice yields a zero Analysis. Levels with zero load or no
//	successful samples contribute degenerate efficiency/latency values and
//	are skipped by the relative comparisons rather than treated as drops.
func Analyze(levels []*runner.LevelResult, t Thresholds) Analysis {
	if len(levels) == 0 {
		return Analysis{}
	}

	a := Analysis{
		LatencyGrowthRate: latencyGrowthRate(levels),
		SaturationLoad:    levels[len(levels)-1].Load,
		DegradationLoad:   levels[len(levels)-1].Load,
	}

	saturationFound := false
	for i := 1; i < len(levels); i++ {
		prev, cur := levels[i-1], levels[i]

		prevEff, curEff := prev.Efficiency(), cur.Efficiency()
		if prevEff > 0 {
			if !saturationFound && curEff < prevEff*(1-t.SaturationDropFraction) {
				a.SaturationLoad = cur.Load
				saturationFound = true
			}
			if curEff < prevEff*(1-t.DropFraction) {
				a.Breakpoints = append(a.Breakpoints, Breakpoint{
					Load:      cur.Load,
					Kind:      KindThroughputDrop,
					Magnitude: 1 - curEff/prevEff,
				})
			}
		}

		prevLat, curLat := prev.MeanLatencyMs(), cur.MeanLatencyMs()
		if prevLat > 0 && curLat > prevLat*(1+t.SpikeFraction) {
			a.Breakpoints = append(a.Breakpoints, Breakpoint{
				Load:      cur.Load,
				Kind:      KindLatencySpike,
				Magnitude: curLat/prevLat - 1,
			})
		}
	}

	for _, lvl := range levels {
		if lvl.SuccessRate() < t.SuccessFloor {
			a.DegradationLoad = lvl.Load
			break
		}
	}

	return a
}

// latencyGrowthRate computes the ordinary least-squares slope of
// (load, mean latency) pairs. Returns 0 with fewer than two levels or zero
// load variance.
func latencyGrowthRate(levels []*runner.LevelResult) float64 {
	if len(levels) < 2 {
		return 0
	}

	var sumX, sumY float64
	for _, lvl := range levels {
		sumX += lvl.Load
		sumY += lvl.MeanLatencyMs()
	}
	meanX := sumX / float64(len(levels))
	meanY := sumY / float64(len(levels))

	var num, den float64
	for _, lvl := range levels {
		dx := lvl.Load - meanX
		num += dx * (lvl.MeanLatencyMs() - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}
