// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package dispatchqueue is a minimal reference QueueSubmitter: a
// mutex-guarded chunked FIFO feeding a fixed pool of worker goroutines. It
// exists so group.Group's Notify and Async can be exercised end-to-end in
// this repo's own tests without pulling in a real application's scheduler;
// group itself depends only on the QueueSubmitter interface, never on this
// package.
package dispatchqueue

import "sync"

const chunkSize = 128

type chunk struct {
	tasks [chunkSize]func()
	next  *chunk
	read  int
	pos   int
}

// chunkedFIFO is a chunked linked-list task queue. Not safe for concurrent
// use on its own; Queue guards it with a mutex.
type chunkedFIFO struct {
	head, tail *chunk
	length     int
}

func (q *chunkedFIFO) push(task func()) {
	if q.tail == nil {
		q.tail = &chunk{}
		q.head = q.tail
	}
	if q.tail.pos == chunkSize {
		n := &chunk{}
		q.tail.next = n
		q.tail = n
	}
	q.tail.tasks[q.tail.pos] = task
	q.tail.pos++
	q.length++
}

func (q *chunkedFIFO) pop() (func(), bool) {
	if q.head == nil || q.head.read >= q.head.pos {
		if q.head != nil && q.head != q.tail {
			q.head = q.head.next
			return q.pop()
		}
		return nil, false
	}
	task := q.head.tasks[q.head.read]
	q.head.tasks[q.head.read] = nil
	q.head.read++
	q.length--
	return task, true
}

// Queue is a fixed-size worker pool over a chunked FIFO. The priority
// hint accepted by Submit is not honored by this reference implementation
// (spec.md's Non-goals exclude real scheduler priority semantics); it is
// accepted only so Queue satisfies group.QueueSubmitter's signature.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	fifo   chunkedFIFO
	closed bool
	done   sync.WaitGroup
}

// New starts a Queue backed by workers goroutines. A workers value below 1
// is treated as 1.
func New(workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	q.done.Add(workers)
	for i := 0; i < workers; i++ {
		go q.runWorker()
	}
	return q
}

// Submit enqueues fn for execution by one of the worker goroutines.
func (q *Queue) Submit(fn func(), priorityHint int) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		panic("dispatchqueue: Submit on a closed Queue")
	}
	q.fifo.push(fn)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *Queue) runWorker() {
	defer q.done.Done()
	for {
		q.mu.Lock()
		for {
			if task, ok := q.fifo.pop(); ok {
				q.mu.Unlock()
				task()
				break
			}
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
		}
	}
}

// Close stops accepting new work and waits for already-queued tasks to
// finish running, then returns once every worker goroutine has exited.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.done.Wait()
}
