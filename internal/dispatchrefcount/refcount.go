// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package dispatchrefcount provides a concrete, testable implementation of
// group.Retainer, the abstract retain/release contract spec.md §6 leaves
// external to the core. group.Group's own memory is managed by the Go
// garbage collector, so the default Retainer it uses is a no-op; this
// package exists for callers (and this repo's own tests) that want to
// verify the core's retain/release balance invariants, or that are
// embedding Group inside their own reference-counted object.
package dispatchrefcount

import "sync/atomic"

// Counter is an atomic reference count with an optional zero-crossing
// finalizer, cache-line padded the way the teacher's FastState pads its hot
// atomic field to avoid false sharing under Group.Enter/Leave contention.
type Counter struct { // betteralign:ignore
	_        [64]byte //nolint:unused
	n        atomic.Int64
	_        [56]byte //nolint:unused
	OnZero   func()
}

// New creates a Counter starting at zero references.
func New(onZero func()) *Counter {
	return &Counter{OnZero: onZero}
}

// Retain increments the reference count.
func (c *Counter) Retain() {
	c.n.Add(1)
}

// Release decrements the reference count and invokes OnZero if it reaches
// zero. Dropping below zero indicates a retain/release imbalance and is
// intentionally left observable (Load returns negative) rather than
// clamped, so test code can catch the bug instead of hiding it.
func (c *Counter) Release() {
	if c.n.Add(-1) == 0 && c.OnZero != nil {
		c.OnZero()
	}
}

// Load returns the current count, for tests asserting balance.
func (c *Counter) Load() int64 {
	return c.n.Load()
}
