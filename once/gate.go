// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package once implements the once-gate from spec.md §4.2: a predicate
// guaranteeing a function runs exactly once across any number of racing
// callers, with losers blocking on internal/kwait rather than spinning.
package once

import (
	"sync/atomic"

	"github.com/joeycumines/go-dispatchcore/internal/atomicword"
	"github.com/joeycumines/go-dispatchcore/internal/dispatchpanic"
	"github.com/joeycumines/go-dispatchcore/internal/goid"
	"github.com/joeycumines/go-dispatchcore/internal/kwait"
)

// doneWord is the all-ones sentinel marking a gate as resolved. It is
// reserved: no real (ownerID<<1)|waitersBit value can collide with it,
// since that would require an ownerID of 1<<63-1, not a value runtime
// goroutine ids reach.
const doneWord = ^uint64(0)

// Gate runs a function exactly once across any number of callers. The zero
// value is ready to use.
type Gate struct {
	state atomic.Uint64 // 0 (unstarted) | (ownerID<<1)|waitersBit (running) | doneWord
	sig   uint32        // atomic; bumped, and kwait-woken, on every resolution
}

// Do calls fn if this is the first call to Do on g, and blocks every other
// caller until that call returns. fn is never called more than once, even
// under unbounded contention (spec.md §8 scenario 1).
//
// Panics inside fn leave g in the running state: there is no rollback to
// unstarted. Every other, and every subsequent, caller blocks forever, and
// a retry on the same goroutine is treated as a recursive entry and panics
// fatally. This matches GCD's _dispatch_once_callout, which only ever
// broadcasts after a successful callout and has no unwind path -- not the
// standard library's sync.Once, which does retry. It is a documented,
// recognised hazard of this package, not a bug: initializers that must be
// retriable belong in a loop around their own Gate, not inside this one.
// Calling Do recursively from within fn, on the same goroutine that is
// currently running fn, is a fatal-contract violation.
func (g *Gate) Do(fn func()) {
	for {
		// Snapshot sig before reading state, so a resolution that lands
		// after the read below bumps sig past the snapshot.
		snapshot := atomic.LoadUint32(&g.sig)
		cur := g.state.Load()
		if cur == doneWord {
			return
		}
		if cur == 0 {
			owner := goid.Get()
			if !g.state.CompareAndSwap(0, owner<<1) {
				continue
			}
			g.runWinner(fn)
			return
		}

		ownerID := cur >> 1
		if ownerID == goid.Get() {
			dispatchpanic.Fatal("once", dispatchpanic.CodeRecursiveOnce, "once.Gate.Do called recursively by its own winner goroutine")
		}

		if cur&1 == 0 {
			if _, swapped := atomicword.CAS64Loop(&g.state, func(old uint64) (uint64, bool) {
				if old != cur {
					return old, false
				}
				return old | 1, true
			}); !swapped {
				continue
			}
		}

		kwait.Wait(&g.sig, snapshot, kwait.Forever)
		// Loop back regardless of wake reason; state is the ground truth.
	}
}

// runWinner runs fn with no rollback path: a panic propagates straight out
// to the caller of Do, and g is left stuck at its running state word
// forever (see Do's doc comment).
func (g *Gate) runWinner(fn func()) {
	fn()
	g.state.Store(doneWord)
	atomic.AddUint32(&g.sig, 1)
	kwait.WakeAll(&g.sig)
}

// Done reports whether fn has already run to completion. It never blocks.
func (g *Gate) Done() bool {
	return g.state.Load() == doneWord
}
