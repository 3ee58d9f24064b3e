// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kwait

import (
	"sync"
	"sync/atomic"
	"time"
)

// Policy selects the wake ordering a Sem's pool favors when reused. Per
// spec.md's Non-goals ("fairness guarantees beyond FIFO/LIFO policies of
// the underlying kwait primitive"), this is advisory: the address-wait
// primitive above (futex on Linux, the bucketed parking lot elsewhere) only
// promises FIFO delivery, so LIFO currently behaves identically to FIFO. It
// is kept as a distinct value so a future platform-specific Wait/Wake pair
// that does support LIFO ordering can honor it without an API change.
type Policy int

const (
	FIFO Policy = iota
	LIFO
)

// Sem is the "semaphore-based" kwait shape from spec.md §4.1: a
// kernel-style counting semaphore built atop the address-based Wait/Wake
// primitives above. It is the resource semaphore.Semaphore lazily creates
// on its slow path; semaphore.Semaphore itself owns the signed, possibly
// negative "value" and "orig" bookkeeping from spec.md §3.
type Sem struct {
	count  uint32 // atomic; number of unclaimed posted signals
	policy Policy
}

var semPool sync.Pool // pools destroyed FIFO Sems, per spec.md §4.1

// Create returns a Sem, preferring a pooled FIFO instance per spec.md's
// "implementations may pool destroyed FIFO semaphores for reuse".
func Create(policy Policy) *Sem {
	if policy == FIFO {
		if v := semPool.Get(); v != nil {
			s := v.(*Sem)
			atomic.StoreUint32(&s.count, 0)
			return s
		}
	}
	return &Sem{policy: policy}
}

// Wait blocks until a signal is available or timeout elapses, consuming
// exactly one signal on success.
func (s *Sem) Wait(timeout time.Duration) Result {
	deadline := time.Now().Add(timeout)
	for {
		old := atomic.LoadUint32(&s.count)
		if old > 0 {
			if atomic.CompareAndSwapUint32(&s.count, old, old-1) {
				return Woke
			}
			continue
		}
		if timeout == Now {
			return TimedOut
		}
		res := Wait(&s.count, 0, timeout)
		if res == TimedOut {
			return TimedOut
		}
		// Woke (or spurious): loop back and re-check the count.
		if timeout != Forever {
			// A finite timeout carries only its remaining time into the
			// next attempt; once it has run out, timeout becomes Now.
			if timeout = time.Until(deadline); timeout <= 0 {
				timeout = Now
			}
		}
	}
}

// Signal posts n signals and wakes up to n waiters.
func (s *Sem) Signal(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint32(&s.count, uint32(n))
	for i := 0; i < n; i++ {
		WakeOne(&s.count)
	}
}

// Destroy releases the Sem, returning it to the pool if it is a FIFO
// instance with no outstanding count (mirrors spec.md's "may pool destroyed
// FIFO semaphores for reuse").
func (s *Sem) Destroy() {
	if s.policy == FIFO && atomic.LoadUint32(&s.count) == 0 {
		semPool.Put(s)
	}
}
