// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package group implements the task group from spec.md §4.4: a join
// barrier tracking N in-flight work items via Enter/Leave, a bounded-time
// Wait, and a chained Notify list dispatched through an abstract
// QueueSubmitter once the group drains.
//
// The state word packs four logical fields into one atomic uint64 exactly
// as spec.md §3/§9 describes: generation:32 | value:30 | hasNotifs:1 |
// waiters:1. Enter operates on only the low 32 bits so its borrowing can
// never perturb generation; Leave operates on the full 64 bits so the
// carry out of the 30-bit value field on the last leave rolls directly
// into generation as a side effect of a single atomic add.
package group

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-dispatchcore/internal/atomicword"
	"github.com/joeycumines/go-dispatchcore/internal/dispatchlog"
	"github.com/joeycumines/go-dispatchcore/internal/dispatchpanic"
	"github.com/joeycumines/go-dispatchcore/internal/kwait"
)

// ErrTimeout is returned by Wait when the timeout elapses before the group
// drains.
var ErrTimeout = errors.New("group: wait timed out")

const (
	waitersBit    = uint64(1) << 0
	hasNotifsBit  = uint64(1) << 1
	valueInterval = uint64(1) << 2     // spec.md §4.4 VALUE_INTERVAL
	valueMask     = uint64(0xFFFFFFFC) // low 32 bits, bits [2,31]: the value field in place (unshifted)
	low32Mask     = uint64(0xFFFFFFFF)
)

// genField describes state's high 32 bits for diagnostic extraction via
// Generation; Enter/Leave manipulate generation only as a side effect of
// arithmetic on the full word, never through this field directly.
var genField = atomicword.NewField64(32, 32)

// notifyClaimBit/notifyEpochField pack the notify-drain arbitration word: bit
// 0 is held by whichever goroutine is currently responsible for draining the
// notify list; bits [1,63] are a monotonically increasing epoch bumped every
// time the claim is released. state's hasNotifsBit alone cycles 0->1->0 every
// round and cannot tell one round's claim attempt from the next's -- a bare
// value-equality CAS against it is vulnerable to ABA (see releaseNotifyClaim).
// notifyEpochField's monotonic counter closes that window: a stale old word
// captured before an intervening claim/release cycle never matches the
// current word again, so the retry in tryClaimNotifyDrain is forced to
// reload and fail cleanly instead of spuriously succeeding.
const notifyClaimBit = uint64(1) << 0

var notifyEpochField = atomicword.NewField64(1, 63)

// notifyNode is a single queued notify registration, pushed onto a
// Treiber-stack-style MPSC list (multiple producers CAS the head; the sole
// consumer -- whichever goroutine executes the final Leave, or a Notify
// call that finds the group already idle -- swaps the whole stack out and
// reverses it back into FIFO submission order before dispatching).
type notifyNode struct {
	next     *notifyNode
	queue    QueueSubmitter
	fn       func()
	priority int
}

// Group is a join barrier: Enter increments an outstanding-work count,
// Leave decrements it, Wait blocks until it returns to zero, and Notify/
// Async chain callbacks to run once it does. The zero value is not usable;
// construct one with New.
type Group struct {
	state atomic.Uint64

	// genSig is a companion futex address bumped in lockstep with every
	// generation rollover recorded in state's high 32 bits. A memory-safe
	// Go port cannot portably reinterpret the high half of an atomic.Uint64
	// as a *uint32 the way the C original points kwait directly at the
	// generation subfield, so Wait parks on this dedicated word instead --
	// the same pattern once.Gate's sig field already uses alongside its own
	// packed state word.
	genSig uint32

	notifyHead   atomic.Pointer[notifyNode]
	pendingCount atomic.Int32

	// notifyClaim arbitrates which single goroutine gets to call
	// drainNotifyList for a given round; see notifyClaimBit/notifyEpochField.
	notifyClaim atomic.Uint64

	retainer   Retainer
	logger     dispatchlog.Logger
	maxPending int32
}

// New creates a Group with value == 0 (spec.md §3 lifecycle).
func New(opts ...Option) *Group {
	cfg := resolveOptions(opts)
	g := &Group{
		retainer:   cfg.retainer,
		logger:     cfg.logger,
		maxPending: int32(cfg.maxPending),
	}
	if g.retainer == nil {
		g.retainer = noopRetainer{}
	}
	return g
}

func (g *Group) log(level dispatchlog.Level, msg string) {
	l := g.logger
	if l == nil {
		l = dispatchlog.Global()
	}
	if l.IsEnabled(level) {
		l.Log(dispatchlog.Entry{Level: level, Component: "group", Message: msg})
	}
}

// Enter records one outstanding work item. It is lock-free: a CAS loop that
// subtracts from the low 32 bits of state only, isolated from the
// generation subfield (spec.md §4.4, §9).
func (g *Group) Enter() {
	var oldLow uint32
	atomicword.CAS64Loop(&g.state, func(old uint64) (uint64, bool) {
		oldLow = uint32(old)
		newLow := oldLow - uint32(valueInterval)
		return (old &^ low32Mask) | uint64(newLow), true
	})
	switch oldLow & uint32(valueMask) {
	case 0:
		// First outstanding item: take the group's self-reference.
		g.retainer.Retain()
	case uint32(valueInterval):
		dispatchpanic.Fatal("group", dispatchpanic.CodeEnterOverflow, "too many nested calls to Enter")
	}
}

// Leave records the completion of one outstanding work item. If it is the
// last outstanding item (value rolls 0), it drains the notify list and
// wakes any Wait-blocked goroutines (spec.md §4.4).
func (g *Group) Leave() {
	var oldState uint64
	atomicword.CAS64Loop(&g.state, func(old uint64) (uint64, bool) {
		oldState = old
		return old + valueInterval, true // full 64-bit add: lets the carry ripple into generation.
	})
	oldValue := uint32(oldState) & uint32(valueMask)

	if oldValue == 0 {
		dispatchpanic.Fatal("group", dispatchpanic.CodeUnbalancedLeave, "unbalanced call to Leave")
		return
	}
	if oldValue != uint32(valueMask) {
		// Not the last leave (value didn't just roll back to 0): nothing
		// further to do.
		return
	}

	g.log(dispatchlog.LevelDebug, "last leave, draining")

	var hadWaiters, hadNotifsHint bool
	atomicword.CAS64Loop(&g.state, func(cur uint64) (uint64, bool) {
		value := uint32(cur) & uint32(valueMask)
		hadWaiters = cur&waitersBit != 0
		hadNotifsHint = cur&hasNotifsBit != 0
		next := cur
		if value == 0 {
			// Only clear waitersBit/hasNotifsBit when value is still zero:
			// a concurrent re-entry (a new Enter, or a Notify pushing a new
			// node and setting hasNotifsBit for the new generation) means
			// the bits we'd be clearing now belong to that new generation,
			// not the one we just drained (spec.md §4.4).
			next &^= waitersBit
			next &^= hasNotifsBit
		} else {
			hadWaiters = false
			hadNotifsHint = false
		}
		if next == cur {
			return cur, false
		}
		return next, true
	})

	g.wake(hadNotifsHint, hadWaiters, true)
}

// wake performs the actual notify-drain and waiter wakeup spec.md §4.4
// describes as the wake(g, state, release) operation: if hadNotifsHint, a
// claim on the notify list is attempted (see tryClaimNotifyDrain) and, if
// won, the MPSC list is captured and dispatched FIFO; if hadWaiters, every
// Wait-blocked goroutine is woken; if release, the self-reference taken by
// the matching first Enter is dropped.
func (g *Group) wake(hadNotifsHint, hadWaiters, release bool) {
	if hadNotifsHint && g.tryClaimNotifyDrain() {
		g.finishNotifyDrain()
	}
	if hadWaiters {
		atomic.AddUint32(&g.genSig, 1)
		kwait.WakeAll(&g.genSig)
	}
	if release {
		g.retainer.Release()
	}
}

// tryClaimNotifyDrain attempts to become the sole goroutine responsible for
// draining the notify list this round. The claim word's epoch (see
// notifyEpochField) makes this ABA-safe: a concurrent releaseNotifyClaim
// always bumps the epoch as part of clearing the bit, so no two successful
// claims can ever observe the same old word, however the load/CAS pair in
// CAS64Loop happens to interleave with other goroutines.
func (g *Group) tryClaimNotifyDrain() bool {
	_, won := atomicword.CAS64Loop(&g.notifyClaim, func(old uint64) (uint64, bool) {
		if old&notifyClaimBit != 0 {
			return old, false
		}
		return old | notifyClaimBit, true
	})
	return won
}

// releaseNotifyClaim hands the claim back, bumping the epoch so that no
// future claim attempt can ever observe the exact word this round started
// with.
func (g *Group) releaseNotifyClaim() {
	atomicword.CAS64Loop(&g.notifyClaim, func(old uint64) (uint64, bool) {
		epoch := notifyEpochField.Get(old)
		return notifyEpochField.Set(0, epoch+1), true
	})
}

// drainNotifyList captures the whole Treiber-stack notify list in one
// atomic swap, reverses it back into FIFO submission order, dispatches
// every node to its own queue, then drops the self-reference taken when
// the list first transitioned from empty to non-empty (spec.md §4.4,
// §9 "Ownership of the notify list"). It reports whether there was
// anything to drain at all, so finishNotifyDrain can tell a genuine drain
// apart from a no-op re-check.
func (g *Group) drainNotifyList() (drained bool) {
	head := g.notifyHead.Swap(nil)
	if head == nil {
		return false
	}
	var fifo *notifyNode
	for head != nil {
		next := head.next
		head.next = fifo
		fifo = head
		head = next
	}
	g.pendingCount.Store(0)
	for n := fifo; n != nil; n = n.next {
		n.queue.Submit(n.fn, n.priority)
	}
	g.retainer.Release()
	return true
}

// pushNotify CAS-pushes n onto the MPSC notify stack and reports whether
// the list was empty immediately beforehand (the empty->non-empty
// transition that takes the group's self-reference).
func (g *Group) pushNotify(n *notifyNode) (wasEmpty bool) {
	for {
		old := g.notifyHead.Load()
		n.next = old
		if g.notifyHead.CompareAndSwap(old, n) {
			return old == nil
		}
	}
}

// Notify registers fn to run on q once the group's outstanding count
// reaches zero. If the group is already idle at registration time, fn is
// submitted immediately by the calling goroutine, inline, without ever
// touching the notify list's waiters bit (spec.md §4.4: "If observed
// value == 0 at that CAS, the list is drained inline by the notifying
// thread").
func (g *Group) Notify(q QueueSubmitter, fn func(), opts ...NotifyOption) {
	cfg := resolveNotifyOptions(opts)
	n := &notifyNode{queue: q, fn: fn, priority: cfg.priority}

	wasEmpty := g.pushNotify(n)
	if wasEmpty {
		g.retainer.Retain()
	}
	if pending := g.pendingCount.Add(1); g.maxPending > 0 && pending > g.maxPending {
		dispatchpanic.Fatal("group", dispatchpanic.CodeNotifyOverflow, "notify list exceeded configured WithMaxPending cap")
	}

	// Set the informational hasNotifsBit (best effort: it only needs to end
	// up set, whether or not this goroutine is the one whose CAS flips it).
	atomicword.CAS64Loop(&g.state, func(cur uint64) (uint64, bool) {
		if cur&hasNotifsBit != 0 {
			return cur, false
		}
		return cur | hasNotifsBit, true
	})

	if uint32(g.state.Load())&uint32(valueMask) == 0 {
		// The group looks idle: try to become the exclusive drainer for
		// this round. Losing the race is fine -- either the current
		// claim-holder's drain loop will pick up our node (finishNotifyDrain
		// redrains until the list is actually empty), or a concurrent
		// Leave's last-leave wake will.
		if g.tryClaimNotifyDrain() {
			g.finishNotifyDrain()
		}
	}
}

// finishNotifyDrain is entered by whichever goroutine won
// tryClaimNotifyDrain. It drains the notify list, and keeps redraining for
// as long as new nodes keep landing while the claim is held, before
// clearing hasNotifsBit and releasing the claim. A push that lands after
// the last drain found the list empty fails its own claim attempt, so once
// the claim is released the list is checked again: a leftover node gets
// hasNotifsBit set back and, if the group is still idle, is drained here.
func (g *Group) finishNotifyDrain() {
	for {
		for g.drainNotifyList() {
		}
		atomicword.CAS64Loop(&g.state, func(cur uint64) (uint64, bool) {
			if cur&hasNotifsBit == 0 {
				return cur, false
			}
			if uint32(cur)&uint32(valueMask) != 0 {
				// A concurrent Enter means the bit now belongs to the next
				// generation; leave it for that generation's own Leave/Notify.
				return cur, false
			}
			return cur &^ hasNotifsBit, true
		})
		g.releaseNotifyClaim()
		if g.notifyHead.Load() == nil {
			return
		}
		atomicword.CAS64Loop(&g.state, func(cur uint64) (uint64, bool) {
			return cur | hasNotifsBit, cur&hasNotifsBit == 0
		})
		if uint32(g.state.Load())&uint32(valueMask) != 0 || !g.tryClaimNotifyDrain() {
			return
		}
	}
}

// Async is equivalent to Enter followed by submitting a wrapper to q that
// calls fn then Leave -- the only Group operation that touches the queue
// collaborator directly on its own behalf (spec.md §4.4).
func (g *Group) Async(q QueueSubmitter, fn func()) {
	g.Enter()
	q.Submit(func() {
		defer g.Leave()
		fn()
	}, 0)
}

// Wait blocks until the group's outstanding count reaches zero, or the
// timeout elapses. timeout may be kwait.Now, kwait.Forever, or any
// non-negative duration. A zero return is an acquire operation: it
// observes every write made by every goroutine that entered/left the
// group (spec.md §5, §8).
func (g *Group) Wait(timeout time.Duration) error {
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		// Snapshot genSig before reading state, so a last Leave that lands
		// after the read below bumps genSig past the snapshot.
		snapshot := atomic.LoadUint32(&g.genSig)
		cur := g.state.Load()
		if uint32(cur)&uint32(valueMask) == 0 {
			return nil
		}
		if timeout == kwait.Now {
			return ErrTimeout
		}
		if cur&waitersBit == 0 {
			if _, swapped := atomicword.CAS64Loop(&g.state, func(old uint64) (uint64, bool) {
				if old != cur {
					return old, false
				}
				return old | waitersBit, true
			}); !swapped {
				continue
			}
		}

		remaining := timeout
		if hasDeadline {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				if uint32(g.state.Load())&uint32(valueMask) == 0 {
					return nil
				}
				return ErrTimeout
			}
		}

		res := kwait.Wait(&g.genSig, snapshot, remaining)
		if res == kwait.TimedOut {
			if uint32(g.state.Load())&uint32(valueMask) == 0 {
				return nil
			}
			return ErrTimeout
		}
		// Woke (or spurious): loop back and re-check value, per kwait's
		// contract that callers must always re-verify their own condition.
	}
}

// Value reports the current outstanding count. It never blocks; intended
// for diagnostics and tests, not for synchronization (use Wait for that).
func (g *Group) Value() int32 {
	raw := uint32(g.state.Load()) & uint32(valueMask)
	return -int32(raw) / int32(valueInterval)
}

// Generation reports the state word's high 32 bits: a counter bumped every
// time value rolls back to zero. It never blocks; intended for diagnostics
// and tests, not for synchronization.
func (g *Group) Generation() uint32 {
	return uint32(genField.Get(g.state.Load()))
}
