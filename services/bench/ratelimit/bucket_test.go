// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock whose sleep hook advances time
// instead of blocking.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.Advance(d)
	}
	return nil
}

func newTestBucket(t *testing.T, rate, capacity float64) (*Bucket, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	b, err := NewBucket(rate, capacity, WithClock(clock.Now), WithSleep(clock.Sleep))
	if err != nil {
		t.Fatalf("NewBucket(%v, %v) failed: %v", rate, capacity, err)
	}
	return b, clock
}

func TestNewBucket_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		capacity float64
		wantErr  error
	}{
		{"zero rate", 0, 1, ErrInvalidRate},
		{"negative rate", -5, 1, ErrInvalidRate},
		{"zero capacity", 10, 0, ErrInvalidCapacity},
		{"fractional capacity below one", 10, 0.5, ErrInvalidCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBucket(tt.rate, tt.capacity)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewBucket(%v, %v) error = %v, want %v", tt.rate, tt.capacity, err, tt.wantErr)
			}
		})
	}
}

func TestBucket_StartsFull(t *testing.T) {
	b, _ := newTestBucket(t, 1, 5)

	for i := 0; i < 5; i++ {
		if !b.TryAcquire() {
			t.Fatalf("burst acquisition %d failed; bucket should start full", i)
		}
	}
	if b.TryAcquire() {
		t.Error("sixth acquisition should fail with capacity 5")
	}
}

func TestBucket_TokensBounded(t *testing.T) {
	b, clock := newTestBucket(t, 100, 3)

	checkBound := func() {
		tokens := b.Tokens()
		if tokens < 0 || tokens > b.Capacity() {
			t.Fatalf("tokens = %v outside [0, %v]", tokens, b.Capacity())
		}
	}

	checkBound()
	for i := 0; i < 50; i++ {
		b.TryAcquire()
		checkBound()
		clock.Advance(7 * time.Millisecond)
		checkBound()
	}

	// A long idle period must cap at capacity, not accumulate beyond it.
	clock.Advance(time.Hour)
	if tokens := b.Tokens(); tokens != b.Capacity() {
		t.Errorf("tokens after idle = %v, want capacity %v", tokens, b.Capacity())
	}
}

func TestBucket_RefillRate(t *testing.T) {
	b, clock := newTestBucket(t, 10, 1)

	if !b.TryAcquire() {
		t.Fatal("initial token missing")
	}
	if b.TryAcquire() {
		t.Fatal("bucket should be empty")
	}

	// One token accrues every 100ms at rate 10.
	clock.Advance(90 * time.Millisecond)
	if b.TryAcquire() {
		t.Error("token available before a full refill interval")
	}
	clock.Advance(20 * time.Millisecond)
	if !b.TryAcquire() {
		t.Error("token should be available after a full refill interval")
	}
}

func TestBucket_AcquireBlocksForDeficit(t *testing.T) {
	b, clock := newTestBucket(t, 10, 1)
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	start := clock.Now()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("blocking acquire failed: %v", err)
	}
	waited := clock.Now().Sub(start)
	if waited != 100*time.Millisecond {
		t.Errorf("waited %v, want 100ms for a full token deficit at rate 10", waited)
	}

	if tokens := b.Tokens(); tokens != 0 {
		t.Errorf("tokens after reserved acquire = %v, want 0", tokens)
	}
}

func TestBucket_AcquireHonorsCancellation(t *testing.T) {
	b, _ := newTestBucket(t, 1, 1)

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("acquire on cancelled context = %v, want context.Canceled", err)
	}
}

func TestBucket_LongRunApproachesRate(t *testing.T) {
	const (
		rate     = 50.0
		capacity = 5.0
	)
	b, clock := newTestBucket(t, rate, capacity)

	// Poll aggressively for 10 simulated seconds.
	acquired := 0
	const step = time.Millisecond
	const total = 10 * time.Second
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		if b.TryAcquire() {
			acquired++
		}
		clock.Advance(step)
	}

	expected := rate * total.Seconds()
	if float64(acquired) < expected-capacity || float64(acquired) > expected+capacity {
		t.Errorf("acquired %d tokens over %v, want %v within burst tolerance %v",
			acquired, total, expected, capacity)
	}
}

func TestBucket_ConcurrentTryAcquireNeverOverdraws(t *testing.T) {
	b, _ := newTestBucket(t, 1, 10)

	var wg sync.WaitGroup
	results := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- b.TryAcquire()
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for ok := range results {
		if ok {
			granted++
		}
	}
	if granted != 10 {
		t.Errorf("granted %d tokens, want exactly the burst capacity 10", granted)
	}
}
