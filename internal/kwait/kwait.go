// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package kwait is the abstract kernel-wait primitive spec.md §4.1
// describes: an address-based wait/wake (Wait/WakeAll/WakeOne) used
// directly by once and group, and a pooled counting Sem built on top of it,
// used by semaphore. Both shapes tolerate spurious wakeups; callers must
// always re-check their own condition after Wait returns.
//
// A successful wake happens-before the matching Wait returning Woke:
// callers establish their protected invariant by writing the state word
// with a release store, then calling a Wake* function.
package kwait

import "time"

// Now and Forever are the two named timeout sentinels from spec.md §6; any
// other non-negative duration is a finite timeout.
const (
	Now     time.Duration = 0
	Forever time.Duration = -1
)

// Result is the outcome of a Wait call.
type Result int

const (
	// Woke means Wait returned because of a wake, a spurious wakeup, or
	// because *addr != expected on entry. The caller must re-check its own
	// condition; Woke is not itself proof that the expected transition
	// happened.
	Woke Result = iota
	// TimedOut means the timeout elapsed with no wake observed.
	TimedOut
)
