// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit implements the token bucket used for admission control
// of benchmark attempts.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInvalidRate indicates a non-positive refill rate.
	ErrInvalidRate = errors.New("rate must be positive")

	// ErrInvalidCapacity indicates a burst capacity below one token.
	ErrInvalidCapacity = errors.New("capacity must be at least 1")
)

// Bucket is a token bucket admitting one attempt per token.
//
// Description:
//
//	Tokens accrue continuously at the configured rate up to the burst
//	capacity. TryAcquire consumes a token without blocking; Acquire blocks
//	until the next token accrues or the context is cancelled.
//
//	The token count satisfies 0 <= tokens <= capacity at every observation
//	point. Blocked acquirers pre-consume the token that accrues during
//	their wait, so concurrent Acquire calls queue one refill interval each
//	instead of racing for the same token.
//
// Thread Safety: Safe for concurrent use.
type Bucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time

	// now and sleep are injectable for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Bucket.
type Option func(*Bucket)

// WithClock replaces the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bucket) {
		if now != nil {
			b.now = now
		}
	}
}

// WithSleep replaces the blocking wait used by Acquire. Intended for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Bucket) {
		if sleep != nil {
			b.sleep = sleep
		}
	}
}

// NewBucket creates a token bucket.
//
// Description:
//
//	The bucket starts full (tokens == capacity) so an initial burst of up
//	to capacity attempts is admitted immediately.
//
// Inputs:
//   - rate: Tokens accrued per second. Must be positive.
//   - capacity: Burst size in tokens. Must be at least 1.
//   - opts: Optional overrides, mainly for tests.
//
// Outputs:
//   - *Bucket: The bucket. Never nil on success.
//   - error: ErrInvalidRate or ErrInvalidCapacity on bad parameters.
//     Invalid parameters are a configuration error and are never clamped.
func NewBucket(rate, capacity float64, opts ...Option) (*Bucket, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRate, rate)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidCapacity, capacity)
	}

	b := &Bucket{
		rate:     rate,
		capacity: capacity,
		tokens:   capacity,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.last = b.now()
	return b, nil
}

// Rate returns the configured refill rate in tokens per second.
func (b *Bucket) Rate() float64 { return b.rate }

// Capacity returns the configured burst capacity.
func (b *Bucket) Capacity() float64 { return b.capacity }

// Tokens returns the current token count after refill accounting.
//
// Thread Safety: Safe for concurrent use.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// TryAcquire consumes one token if available.
//
// Outputs:
//   - bool: true if a token was consumed, false if the bucket is empty.
//
// Thread Safety: Safe for concurrent use. Never blocks.
func (b *Bucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Acquire consumes one token, blocking until one accrues.
//
// Description:
//
//	If a token is available it is consumed immediately. Otherwise the
//	deficit wait (1 - tokens) / rate is reserved: the token that accrues
//	during the wait is pre-consumed under the lock, then the caller sleeps
//	outside the lock. Cancellation during the wait returns ctx.Err(); the
//	reservation is not refunded, matching the accounting of a consumed
//	admission slot.
//
// Inputs:
//   - ctx: Context bounding the wait. Must not be nil.
//
// Outputs:
//   - error: nil once a token is consumed; ctx.Err() on cancellation.
//
// Thread Safety: Safe for concurrent use.
func (b *Bucket) Acquire(ctx context.Context) error {
	b.mu.Lock()
	b.refillLocked()

	if b.tokens >= 1 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}

	// Reserve the next token: zero the balance and move the refill origin
	// past the deficit so later refills do not double-count it. b.last may
	// land in the future when several acquirers queue up; each sleeps until
	// its own reserved instant.
	deficit := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
	b.tokens = 0
	b.last = b.last.Add(deficit)
	target := b.last
	b.mu.Unlock()

	return b.sleep(ctx, target.Sub(b.now()))
}

// refillLocked advances the token balance to the current instant.
// Callers must hold b.mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// sleepContext waits d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
