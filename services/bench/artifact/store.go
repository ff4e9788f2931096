// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact provides durable storage of named JSON documents: suite
// reports are written at run completion and read back by the aggregator.
//
// Two implementations are provided: FSStore keeps one file per artifact in
// a directory (interoperable with externally produced result files), and
// BadgerStore keeps artifacts in an embedded key-value database.
package artifact

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates the requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKey indicates an empty or unsafe artifact key.
	ErrInvalidKey = errors.New("invalid artifact key")

	// ErrStoreClosed indicates use after Close.
	ErrStoreClosed = errors.New("store has been closed")
)

// Store is durable storage for named artifacts.
//
// Description:
//
//	Keys are opaque non-empty strings without path separators; the
//	conventional form is "<suite>-<timestamp>.json". Put overwrites an
//	existing artifact of the same key.
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	// Put stores the document under the key, replacing any existing value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the document stored under the key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all stored keys in lexicographic order.
	List(ctx context.Context) ([]string, error)

	// Close releases underlying resources. Idempotent.
	Close() error
}

// validateKey rejects keys that would escape a directory-backed store.
func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "/\\") || key == "." || key == ".." {
		return ErrInvalidKey
	}
	return nil
}
