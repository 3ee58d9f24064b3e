// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !linux

package kwait

import (
	"sync"
	"time"
	"unsafe"
)

// Non-Linux platforms have no single portable syscall equivalent to
// futex(2) (Darwin's ulock is private API, Windows' WaitOnAddress would
// need its own cgo-free syscall plumbing). Rather than reach for either,
// this is a parking-lot emulation: a fixed bucket table of
// mutex-guarded wait-node lists keyed by a hash of the address, each
// waiter blocking on its own sync.Cond. The design (bucket hash of the
// address, lock-bucket/recheck-expected/enqueue/unlock/Cond.Wait ordering
// to avoid the missed-wakeup race) is the same one used to transliterate
// folly's emulated futex.

const numBuckets = 4096

type waitNode struct {
	next, prev *waitNode
	addr       uintptr
	signalled  bool
	mu         sync.Mutex
	cond       *sync.Cond
}

type bucket struct {
	mu    sync.Mutex
	nodes *waitNode // sentinel; nodes.next/.prev form a circular list
}

var buckets [numBuckets]bucket

func init() {
	for i := range buckets {
		sentinel := &waitNode{}
		sentinel.next = sentinel
		sentinel.prev = sentinel
		buckets[i].nodes = sentinel
	}
}

func hashAddr(addr uintptr) uint32 {
	// fnv-1a over the pointer's bytes
	h := uint32(2166136261)
	for i := 0; i < 8; i++ {
		h ^= uint32(addr>>(8*uint(i))) & 0xff
		h *= 16777619
	}
	return h
}

func bucketFor(addr unsafe.Pointer) *bucket {
	return &buckets[hashAddr(uintptr(addr))%numBuckets]
}

func load(addr *uint32) uint32 {
	return *(*uint32)(addrPointer(addr))
}

func addrPointer(addr *uint32) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

// Wait suspends the calling goroutine if *addr == expected, until a
// matching Wake* call or timeout.
func Wait(addr *uint32, expected uint32, timeout time.Duration) Result {
	b := bucketFor(unsafe.Pointer(addr))

	node := &waitNode{addr: uintptr(unsafe.Pointer(addr))}
	node.cond = sync.NewCond(&node.mu)

	b.mu.Lock()
	if load(addr) != expected {
		b.mu.Unlock()
		return Woke
	}
	node.prev = b.nodes.prev
	b.nodes.prev.next = node
	b.nodes.prev = node
	node.next = b.nodes
	b.mu.Unlock()

	done := make(chan struct{})
	var timedOut bool
	var timer *time.Timer
	if timeout != Forever {
		if timeout < 0 {
			timeout = 0
		}
		timer = time.AfterFunc(timeout, func() {
			b.mu.Lock()
			if !node.signalled {
				node.mu.Lock()
				node.signalled = true
				timedOut = true
				node.next.prev = node.prev
				node.prev.next = node.next
				node.cond.Signal()
				node.mu.Unlock()
			}
			b.mu.Unlock()
			close(done)
		})
	}

	node.mu.Lock()
	for !node.signalled {
		node.cond.Wait()
	}
	node.mu.Unlock()
	if timer != nil {
		if timer.Stop() {
			// we stopped it before it fired; nothing queued on done
		} else {
			<-done
		}
	}

	if timedOut {
		return TimedOut
	}
	return Woke
}

// WakeAll wakes every goroutine parked on addr.
func WakeAll(addr *uint32) {
	wake(addr, -1)
}

// WakeOne wakes at most one goroutine parked on addr.
func WakeOne(addr *uint32) {
	wake(addr, 1)
}

func wake(addr *uint32, count int) {
	b := bucketFor(unsafe.Pointer(addr))
	target := uintptr(unsafe.Pointer(addr))

	b.mu.Lock()
	defer b.mu.Unlock()

	woken := 0
	sentinel := b.nodes
	for n := sentinel.next; n != sentinel; {
		next := n.next
		if n.addr == target && (count < 0 || woken < count) {
			n.prev.next = n.next
			n.next.prev = n.prev
			n.mu.Lock()
			n.signalled = true
			n.cond.Signal()
			n.mu.Unlock()
			woken++
		}
		n = next
	}
}
