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
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/loadbench/pkg/logging"
	"github.com/AleutianAI/loadbench/services/bench/config"
)

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != Version {
		t.Errorf("output = %q, want %q", got, Version)
	}
}

func TestSyntheticOperationLatencyFloor(t *testing.T) {
	op := newSyntheticOperation(10, 0, 0)
	start := time.Now()
	if _, err := op(context.Background(), 0); err != nil {
		t.Fatalf("op: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("elapsed = %s, want >= 10ms", elapsed)
	}
}

func TestSyntheticOperationHonorsCancellation(t *testing.T) {
	op := newSyntheticOperation(60_000, 0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := op(ctx, 0); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSyntheticOperationAlwaysFails(t *testing.T) {
	op := newSyntheticOperation(0, 0, 1)
	for i := 0; i < 5; i++ {
		if _, err := op(context.Background(), i); err == nil {
			t.Fatal("expected synthetic failure")
		}
	}
}

func TestOpenStoreFS(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Artifacts.Path = t.TempDir()

	logger, err := logging.New(logging.Config{Service: "test"})
	if err != nil {
		t.Fatalf("logging: %v", err)
	}
	defer logger.Close()

	store, err := openStore(cfg, logger)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()

	if err := store.Put(context.Background(), "probe.json", []byte("{}")); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Artifacts.Backend = "s3"

	logger, err := logging.New(logging.Config{Service: "test"})
	if err != nil {
		t.Fatalf("logging: %v", err)
	}
	defer logger.Close()

	if _, err := openStore(cfg, logger); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
