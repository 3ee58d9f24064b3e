// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package atomicword provides bitfield accessors and compare-and-swap
// helpers over 32- and 64-bit atomic words, shared by once and group's
// packed state-word manipulation (semaphore has no packed word -- its state
// is a plain signed counter, so it has no use for this package). It does
// not itself block; every operation here is wait-free or bounded lock-free
// (a CAS loop that retries only on contention).
package atomicword

import "sync/atomic"

// Field32 describes a contiguous run of bits within a 32-bit word.
type Field32 struct {
	Shift uint32
	Mask  uint32 // already shifted into position
}

// NewField32 builds a Field32 occupying width bits starting at shift.
func NewField32(shift, width uint32) Field32 {
	return Field32{Shift: shift, Mask: ((uint32(1) << width) - 1) << shift}
}

// Get extracts the field's value from a packed word.
func (f Field32) Get(word uint32) uint32 {
	return (word & f.Mask) >> f.Shift
}

// Set returns word with the field replaced by v (v is assumed pre-masked to
// its own width by the caller; callers in this module always pass values
// derived from arithmetic on the field itself, never raw user input).
func (f Field32) Set(word, v uint32) uint32 {
	return (word &^ f.Mask) | ((v << f.Shift) & f.Mask)
}

// Field64 is the 64-bit analogue of Field32.
type Field64 struct {
	Shift uint64
	Mask  uint64
}

// NewField64 builds a Field64 occupying width bits starting at shift.
func NewField64(shift, width uint64) Field64 {
	return Field64{Shift: shift, Mask: ((uint64(1) << width) - 1) << shift}
}

// Get extracts the field's value from a packed word.
func (f Field64) Get(word uint64) uint64 {
	return (word & f.Mask) >> f.Shift
}

// Set returns word with the field replaced by v.
func (f Field64) Set(word, v uint64) uint64 {
	return (word &^ f.Mask) | ((v << f.Shift) & f.Mask)
}

// CAS32Loop retries update(old) until the returned new value is installed
// via CompareAndSwap, or update signals it is done by returning ok=false.
// It returns the last observed old value and whether the swap committed.
func CAS32Loop(addr *atomic.Uint32, update func(old uint32) (next uint32, ok bool)) (observed uint32, swapped bool) {
	for {
		old := addr.Load()
		next, ok := update(old)
		if !ok {
			return old, false
		}
		if addr.CompareAndSwap(old, next) {
			return old, true
		}
	}
}

// CAS64Loop is the 64-bit analogue of CAS32Loop.
func CAS64Loop(addr *atomic.Uint64, update func(old uint64) (next uint64, ok bool)) (observed uint64, swapped bool) {
	for {
		old := addr.Load()
		next, ok := update(old)
		if !ok {
			return old, false
		}
		if addr.CompareAndSwap(old, next) {
			return old, true
		}
	}
}
