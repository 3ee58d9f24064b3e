// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package dispatchcore is the root of a small collection of lock-minimal
// synchronization primitives modeled on the core of Grand Central Dispatch:
// a single-execution gate ([github.com/joeycumines/go-dispatchcore/once]),
// a counting semaphore
// ([github.com/joeycumines/go-dispatchcore/semaphore]), and a join barrier
// ([github.com/joeycumines/go-dispatchcore/group]).
//
// All three share a common shape: state manipulated by compare-and-swap on
// the fast path, falling back to a kernel-style wait/wake primitive
// (internal/kwait) only under contention. once.Gate and group.Group also
// share a packed atomic state word, both built on internal/atomicword's
// bitfield and CAS-retry helpers; semaphore.Semaphore has no packed word
// (its state is a plain signed counter, spec.md §4.3) so it has no use for
// atomicword. None of the three packages depend on each other.
//
// Dispatch queues, work-item scheduling, and object allocation/refcounting
// are out of scope here and are consumed as abstract collaborator
// interfaces (group.QueueSubmitter, group.Retainer) rather than implemented.
package dispatchcore
