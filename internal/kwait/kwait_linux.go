// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package kwait

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux backs Wait/WakeAll/WakeOne with the futex(2) syscall directly,
// the same idiom the teacher's poller_linux.go uses for epoll: golang.org/x/sys/unix
// has no typed futex wrapper, so the raw trap is issued via unix.Syscall6
// against the unix.SYS_FUTEX constant that package already exports per
// linux/arch.

// Wait suspends the calling goroutine's OS thread if *addr == expected,
// until a matching Wake* call or timeout. It tolerates spurious wakeups:
// callers must re-check *addr themselves.
func Wait(addr *uint32, expected uint32, timeout time.Duration) Result {
	var ts *unix.Timespec
	if timeout != Forever {
		if timeout < 0 {
			timeout = 0
		}
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAIT),
		uintptr(expected),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	if errno == unix.ETIMEDOUT {
		return TimedOut
	}
	// EAGAIN (value already changed), EINTR (spurious), and success all
	// resolve the same way: the caller re-checks its own condition.
	return Woke
}

// WakeAll wakes every thread parked on addr.
func WakeAll(addr *uint32) {
	futexWake(addr, int(^uint32(0)>>1)) // INT_MAX waiters
}

// WakeOne wakes at most one thread parked on addr.
func WakeOne(addr *uint32) {
	futexWake(addr, 1)
}

func futexWake(addr *uint32, n int) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAKE),
		uintptr(n),
		0, 0, 0,
	)
}
