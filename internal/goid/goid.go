// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package goid gives once.Gate a cheap, stable-for-the-lifetime-of-the-call
// identity for the calling goroutine, used only to detect a winner
// re-entering its own Do call (spec.md §4.2's "recursive lock on once-gate"
// fatal case). It is not a general-purpose goroutine-id facility and must
// never be used for scheduling or affinity decisions.
package goid

import (
	"runtime"
	"strconv"
)

// Get returns an identifier for the calling goroutine, stable for at least
// as long as the goroutine is alive. It parses the "goroutine N [...]"
// header off a minimal runtime.Stack capture -- a well-known but slow
// technique, used here only when once.Gate stamps the winner's owner id on
// its first claim and on its losers' recursive-entry check, never on the
// already-done fast path.
func Get() uint64 {
	return slow()
}

func slow() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	// Expected prefix: "goroutine 123 [running]:\n"
	const prefix = "goroutine "
	if len(b) <= len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	b = b[len(prefix):]
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
