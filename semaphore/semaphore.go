// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package semaphore implements the counting semaphore from spec.md §4.3: a
// signed atomic value with a fast userspace path and a lazily-created
// kernel-style wait primitive (internal/kwait) on the slow path.
package semaphore

import (
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-dispatchcore/internal/dispatchlog"
	"github.com/joeycumines/go-dispatchcore/internal/dispatchpanic"
	"github.com/joeycumines/go-dispatchcore/internal/kwait"
)

// ErrTimeout is returned by Wait when the timeout elapses before a signal
// arrives.
var ErrTimeout = errors.New("semaphore: wait timed out")

// ErrNegativeInitial is returned by New when the initial count is negative.
var ErrNegativeInitial = errors.New("semaphore: initial count must be >= 0")

// Semaphore is a classic counting semaphore. The zero value is not usable;
// construct one with New.
type Semaphore struct {
	value  atomic.Int64
	orig   int64
	ksem   atomic.Pointer[kwait.Sem]
	logger dispatchlog.Logger
}

// New creates a Semaphore with the given initial permit count. Creation of
// the underlying kernel-style wait primitive is deferred until the first
// slow-path Wait or Signal (spec.md §3: "ksem: ... lazily created on first
// slow path").
func New(initial int64, opts ...Option) (*Semaphore, error) {
	if initial < 0 {
		return nil, ErrNegativeInitial
	}
	cfg := resolveOptions(opts)
	s := &Semaphore{orig: initial, logger: cfg.logger}
	s.value.Store(initial)
	return s, nil
}

func (s *Semaphore) log(level dispatchlog.Level, msg string) {
	l := s.logger
	if l == nil {
		l = dispatchlog.Global()
	}
	if l.IsEnabled(level) {
		l.Log(dispatchlog.Entry{Level: level, Component: "semaphore", Message: msg})
	}
}

// Signal releases one permit. It returns true if a waiter was woken, false
// if the permit was simply credited with nobody blocked. Signal is a
// release operation: writes preceding it are visible to whatever Wait call
// consumes the permit.
func (s *Semaphore) Signal() bool {
	newVal := s.value.Add(1)
	if newVal > 0 {
		return false
	}
	if newVal == math.MinInt64 {
		dispatchpanic.Fatal("semaphore", dispatchpanic.CodeOverSignal, "signal overflowed the permit counter")
	}
	s.ksemLazy().Signal(1)
	s.log(dispatchlog.LevelDebug, "signaled a waiter")
	return true
}

// Wait blocks until a permit is available or timeout elapses. timeout may
// be kwait.Now (return immediately), kwait.Forever (block indefinitely), or
// any non-negative duration. A successful return is an acquire operation:
// it observes everything that happened-before the matching Signal.
func (s *Semaphore) Wait(timeout time.Duration) error {
	newVal := s.value.Add(-1)
	if newVal >= 0 {
		return nil
	}

	ksem := s.ksemLazy()

	if timeout == kwait.Now {
		return s.undoOrDrain(ksem, newVal)
	}

	res := ksem.Wait(timeout)
	if res == kwait.Woke {
		return nil
	}
	// Kernel-level timeout: try to undo our own decrement; if a racing
	// Signal beat us to it, drain its already-posted wake instead.
	return s.undoOrDrain(ksem, newVal)
}

// undoOrDrain implements spec.md §4.3's timeout race: try to CAS our own
// decrement back out; if that fails because a Signal already observed us as
// a waiter (and therefore already posted to ksem), consume that post
// instead of leaking it.
func (s *Semaphore) undoOrDrain(ksem *kwait.Sem, observed int64) error {
	for {
		cur := s.value.Load()
		if cur >= 0 {
			// A Signal already restored non-negative value (raced ahead of
			// us); its matching ksem post is ours to consume, and may not
			// have landed yet, so wait for it.
			ksem.Wait(kwait.Forever)
			return nil
		}
		if s.value.CompareAndSwap(cur, cur+1) {
			s.log(dispatchlog.LevelDebug, "wait timed out, decrement undone")
			return ErrTimeout
		}
	}
}

func (s *Semaphore) ksemLazy() *kwait.Sem {
	if p := s.ksem.Load(); p != nil {
		return p
	}
	created := kwait.Create(kwait.FIFO)
	if s.ksem.CompareAndSwap(nil, created) {
		return created
	}
	created.Destroy()
	return s.ksem.Load()
}

// Close destroys the semaphore. It is a fatal-contract violation to close
// a semaphore with outstanding waiters or an unbalanced wait (spec.md §3:
// "value ≥ orig" at destruction time).
func (s *Semaphore) Close() error {
	if s.value.Load() < s.orig {
		dispatchpanic.Fatal("semaphore", dispatchpanic.CodeInUseDestroy, "destroyed while in use")
	}
	if ksem := s.ksem.Load(); ksem != nil {
		ksem.Destroy()
	}
	return nil
}
