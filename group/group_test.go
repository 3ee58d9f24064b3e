// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package group

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-dispatchcore/internal/dispatchpanic"
	"github.com/joeycumines/go-dispatchcore/internal/dispatchqueue"
	"github.com/joeycumines/go-dispatchcore/internal/kwait"
)

func TestWaitOnEmptyGroupReturnsImmediately(t *testing.T) {
	g := New()
	require.NoError(t, g.Wait(kwait.Now))
	require.NoError(t, g.Wait(kwait.Forever))
}

// spec.md §8 boundary: group_wait(g, 0) on a non-empty group returns
// TIMEOUT without setting waiters_bit persistently.
func TestWaitNowOnNonEmptyGroupTimesOut(t *testing.T) {
	g := New()
	g.Enter()
	defer g.Leave()

	err := g.Wait(kwait.Now)
	require.ErrorIs(t, err, ErrTimeout)
	if g.state.Load()&waitersBit != 0 {
		t.Fatal("NOW timeout must not leave waitersBit set")
	}
}

func TestWaitFiniteTimeout(t *testing.T) {
	g := New()
	g.Enter()
	defer g.Leave()

	start := time.Now()
	err := g.Wait(30 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
}

// Scenario 4 from spec.md §8: enter 3x, 3 goroutines each leave after a
// small delay, main waits forever and should observe drain once the last
// leave fires.
func TestGroupDrain(t *testing.T) {
	g := New()
	const n = 3
	for i := 0; i < n; i++ {
		g.Enter()
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond)
			g.Leave()
		}()
	}

	require.NoError(t, g.Wait(kwait.Forever))
	wg.Wait()
	if g.Value() != 0 {
		t.Fatalf("Value() = %d, want 0", g.Value())
	}
}

// Scenario 5 from spec.md §8: two notifies registered before the matching
// leave must both fire, strictly after that leave, in whatever order their
// own queues schedule them.
func TestNotifyFiresAfterLeave(t *testing.T) {
	g := New()
	g.Enter()

	q := dispatchqueue.New(2)
	defer q.Close()

	var mu sync.Mutex
	var log []string
	var left atomic.Bool

	done := make(chan struct{}, 2)
	g.Notify(q, func() {
		mu.Lock()
		log = append(log, "A")
		mu.Unlock()
		if !left.Load() {
			t.Error("notify A fired before the matching Leave")
		}
		done <- struct{}{}
	})
	g.Notify(q, func() {
		mu.Lock()
		log = append(log, "B")
		mu.Unlock()
		if !left.Load() {
			t.Error("notify B fired before the matching Leave")
		}
		done <- struct{}{}
	})

	left.Store(true)
	g.Leave()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("a notify never fired")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, log, 2)
	require.ElementsMatch(t, []string{"A", "B"}, log)
}

// Notify registered against an already-idle group runs inline/immediately
// (spec.md §4.4: "If observed value == 0 at that CAS, the list is drained
// inline by the notifying thread").
func TestNotifyOnIdleGroupRunsImmediately(t *testing.T) {
	g := New()
	q := dispatchqueue.New(1)
	defer q.Close()

	done := make(chan struct{})
	g.Notify(q, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify on an idle group never fired")
	}
}

// Scenario 6 from spec.md §8: 10 Async work items, a Wait(Forever),
// counter must read 10 by the time Wait returns.
func TestGroupAsync(t *testing.T) {
	g := New()
	q := dispatchqueue.New(4)
	defer q.Close()

	var counter atomic.Int64
	const n = 10
	for i := 0; i < n; i++ {
		g.Async(q, func() {
			counter.Add(1)
		})
	}

	require.NoError(t, g.Wait(kwait.Forever))
	if got := counter.Load(); got != n {
		t.Fatalf("counter = %d, want %d", got, n)
	}
}

func TestEnterOverflowIsFatal(t *testing.T) {
	g := New()
	// Force the value field to the brink of overflow directly, rather than
	// looping 2^30-1 real Enter calls.
	g.state.Store(uint64(valueInterval) & valueMask)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected Enter to panic")
		}
		var e *dispatchpanic.Error
		require.ErrorAs(t, r.(error), &e)
		if e.Code != dispatchpanic.CodeEnterOverflow {
			t.Fatalf("got code %v, want CodeEnterOverflow", e.Code)
		}
	}()
	g.Enter()
}

func TestLeaveWithoutEnterIsFatal(t *testing.T) {
	g := New()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected Leave to panic")
		}
		var e *dispatchpanic.Error
		require.ErrorAs(t, r.(error), &e)
		if e.Code != dispatchpanic.CodeUnbalancedLeave {
			t.Fatalf("got code %v, want CodeUnbalancedLeave", e.Code)
		}
	}()
	g.Leave()
}

// Group balance property from spec.md §8: after equal Enter/Leave counts,
// value reads 0 and a pending Wait returns.
func TestGroupBalanceAcrossManyGoroutines(t *testing.T) {
	g := New()
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			g.Enter()
			time.Sleep(time.Millisecond)
			g.Leave()
		}()
	}
	wg.Wait()
	require.NoError(t, g.Wait(kwait.Now))
	if g.Value() != 0 {
		t.Fatalf("Value() = %d, want 0", g.Value())
	}
}

// Generation monotonicity property from spec.md §8: gen only increases,
// strictly so at every value 1->0 transition.
func TestGenerationMonotonicAcrossCycles(t *testing.T) {
	g := New()
	var lastGen uint32
	for i := 0; i < 5; i++ {
		g.Enter()
		g.Leave()
		gen := g.Generation()
		if gen <= lastGen {
			t.Fatalf("generation did not strictly increase: %d -> %d", lastGen, gen)
		}
		lastGen = gen
	}
}

func TestMaxPendingOverflowIsFatal(t *testing.T) {
	g := New(WithMaxPending(1))
	// The queue is closed last: the deferred Leave drains both notify nodes
	// into it.
	q := dispatchqueue.New(1)
	defer q.Close()

	g.Enter()
	defer g.Leave()

	g.Notify(q, func() {})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected the second Notify to panic")
		}
		var e *dispatchpanic.Error
		require.ErrorAs(t, r.(error), &e)
		if e.Code != dispatchpanic.CodeNotifyOverflow {
			t.Fatalf("got code %v, want CodeNotifyOverflow", e.Code)
		}
	}()
	g.Notify(q, func() {})
}

func TestRetainerBalance(t *testing.T) {
	var retains, releases atomic.Int64
	g := New(WithRetainer(retainerFunc{
		retain:  func() { retains.Add(1) },
		release: func() { releases.Add(1) },
	}))

	g.Enter()
	g.Leave()
	require.NoError(t, g.Wait(kwait.Now))

	if retains.Load() != 1 || releases.Load() != 1 {
		t.Fatalf("retain/release imbalance: retains=%d releases=%d", retains.Load(), releases.Load())
	}
}

// TestNotifyConcurrentOnIdleGroupBalancesRetainRelease stresses the race
// comment 4 of the maintainer review described: many goroutines calling
// Notify concurrently on a group that is idle the whole time, each racing
// to claim the inline drain. Every empty->non-empty transition must be
// matched by exactly one drain's release, with no double-release from a
// stale claim spuriously winning against a recycled bit pattern.
func TestNotifyConcurrentOnIdleGroupBalancesRetainRelease(t *testing.T) {
	const rounds = 200
	var retains, releases atomic.Int64
	g := New(WithRetainer(retainerFunc{
		retain:  func() { retains.Add(1) },
		release: func() { releases.Add(1) },
	}))

	q := dispatchqueue.New(8)
	defer q.Close()

	var ran atomic.Int64
	var wg sync.WaitGroup
	wg.Add(rounds)
	for i := 0; i < rounds; i++ {
		go func() {
			defer wg.Done()
			g.Notify(q, func() { ran.Add(1) })
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for ran.Load() != rounds && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := ran.Load(); got != rounds {
		t.Fatalf("ran %d notify callbacks, want %d", got, rounds)
	}
	if r, rel := retains.Load(), releases.Load(); r != rel {
		t.Fatalf("retain/release imbalance: retains=%d releases=%d", r, rel)
	}
}

type retainerFunc struct {
	retain  func()
	release func()
}

func (r retainerFunc) Retain()  { r.retain() }
func (r retainerFunc) Release() { r.release() }
