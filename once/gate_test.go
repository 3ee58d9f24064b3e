// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package once

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-dispatchcore/internal/dispatchpanic"
)

// Scenario 1 from spec.md §8: 8 racing goroutines, one winner, every caller
// returns, the counter is incremented exactly once.
func TestDoRunsExactlyOnce(t *testing.T) {
	var g Gate
	var counter atomic.Int64

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			g.Do(func() {
				counter.Add(1)
			})
		}()
	}
	wg.Wait()

	if got := counter.Load(); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
	if !g.Done() {
		t.Fatal("Done should report true after Do returns")
	}
}

func TestDoIsIdempotentAfterFirstCall(t *testing.T) {
	var g Gate
	var calls atomic.Int64
	g.Do(func() { calls.Add(1) })
	g.Do(func() { calls.Add(1) })
	g.Do(func() { calls.Add(1) })
	if got := calls.Load(); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
}

// A panicking winner leaves the gate stuck at its running state word: no
// rollback to unstarted (spec.md §4.2, matching GCD's _dispatch_once_callout,
// which only ever broadcasts after a successful callout).
func TestDoPanicLeavesGateRunningNoRollback(t *testing.T) {
	var g Gate
	var calls atomic.Int64

	func() {
		defer func() { recover() }()
		g.Do(func() {
			calls.Add(1)
			panic("boom")
		})
	}()

	if g.Done() {
		t.Fatal("a panicking winner must not resolve the gate: spec.md §4.2 documents no rollback")
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a retry on the same goroutine to panic as a recursive entry")
		}
		var e *dispatchpanic.Error
		if !errors.As(r.(error), &e) {
			t.Fatalf("panic value %v is not *dispatchpanic.Error", r)
		}
		if e.Code != dispatchpanic.CodeRecursiveOnce {
			t.Fatalf("got code %v, want CodeRecursiveOnce", e.Code)
		}
		if got := calls.Load(); got != 1 {
			t.Fatalf("fn ran %d times, want 1 (the retry must never call fn)", got)
		}
	}()
	g.Do(func() { calls.Add(1) })
}

// Other goroutines must block forever once the winner has panicked: there
// is no second winner to resolve the gate for them.
func TestDoPanicBlocksOtherGoroutinesForever(t *testing.T) {
	var g Gate
	func() {
		defer func() { recover() }()
		g.Do(func() { panic("boom") })
	}()

	done := make(chan struct{})
	go func() {
		g.Do(func() { t.Error("fn must never run for a gate stuck after a panicking winner") })
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Do returned even though the gate can never resolve after a panicking winner")
	case <-time.After(50 * time.Millisecond):
		// Expected: still blocked, matching the documented hazard.
	}
}

func TestDoBlocksLosersUntilWinnerFinishes(t *testing.T) {
	var g Gate
	release := make(chan struct{})
	winnerStarted := make(chan struct{})
	var order []int
	var mu sync.Mutex

	go func() {
		g.Do(func() {
			close(winnerStarted)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
		})
	}()

	<-winnerStarted
	var wg sync.WaitGroup
	const losers = 4
	wg.Add(losers)
	for i := 1; i <= losers; i++ {
		i := i
		go func() {
			defer wg.Done()
			g.Do(func() {
				t.Error("a loser must never run fn")
			})
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
	}

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) == 0 || order[0] != 0 {
		t.Fatalf("winner's completion must be ordered before any loser's return, got %v", order)
	}
}

func TestDoRecursiveEntryIsFatal(t *testing.T) {
	var g Gate
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic on recursive Do")
		}
		var e *dispatchpanic.Error
		if !errors.As(r.(error), &e) {
			t.Fatalf("panic value %v is not *dispatchpanic.Error", r)
		}
		if e.Code != dispatchpanic.CodeRecursiveOnce {
			t.Fatalf("got code %v, want CodeRecursiveOnce", e.Code)
		}
	}()
	g.Do(func() {
		g.Do(func() {
			t.Error("nested fn must never run")
		})
	})
}
