// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package group

import "github.com/joeycumines/go-dispatchcore/internal/dispatchlog"

// QueueSubmitter is the abstract "queue submitter" collaborator from
// spec.md §6: dispatch queues and work-item scheduling are out of scope for
// this core, so Notify and Async consume only this interface. Submit must
// arrange for fn to run asynchronously; priorityHint is passed through
// unchanged (spec.md's Non-goal: "priority inheritance beyond a best-effort
// hint" -- this core never inspects or enforces it itself).
type QueueSubmitter interface {
	Submit(fn func(), priorityHint int)
}

// Retainer is the abstract external retain/release contract from spec.md
// §6, held by a Group once per generation it is non-empty (first Enter) and
// once per non-empty notify list (first Notify), mirroring the object
// runtime's own reference on the group. Group's own Go memory is managed by
// the garbage collector; this hook exists purely so embedders that model
// their own reference-counted wrapper around a Group can observe and
// enforce the same "retain while outstanding" invariant spec.md describes.
type Retainer interface {
	Retain()
	Release()
}

type noopRetainer struct{}

func (noopRetainer) Retain()  {}
func (noopRetainer) Release() {}

type options struct {
	logger     dispatchlog.Logger
	retainer   Retainer
	maxPending int
}

// Option configures a Group at construction time.
type Option interface {
	applyGroup(*options)
}

type optionFunc func(*options)

func (f optionFunc) applyGroup(o *options) { f(o) }

// WithLogger overrides the package-level default logger for this Group's
// slow-path diagnostics.
func WithLogger(logger dispatchlog.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// WithRetainer supplies the external retain/release collaborator described
// in spec.md §6. The default is a no-op: a bare Group manages its own
// memory via the garbage collector and needs no external refcount to stay
// alive while entries or notify nodes are outstanding.
func WithRetainer(retainer Retainer) Option {
	return optionFunc(func(o *options) {
		o.retainer = retainer
	})
}

// WithMaxPending caps the notify list length defensively: Notify fatally
// panics (dispatchpanic.CodeNotifyOverflow) once more than n nodes are
// queued awaiting drain. 0 (the default) is unbounded, matching spec.md's
// "hard cap ... crash on overflow" posture applied here to the notify list
// rather than only to Enter's 30-bit counter.
func WithMaxPending(n int) Option {
	return optionFunc(func(o *options) {
		o.maxPending = n
	})
}

func resolveOptions(opts []Option) *options {
	cfg := &options{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyGroup(cfg)
	}
	return cfg
}

type notifyOptions struct {
	priority int
}

// NotifyOption configures a single Notify call.
type NotifyOption interface {
	applyNotify(*notifyOptions)
}

type notifyOptionFunc func(*notifyOptions)

func (f notifyOptionFunc) applyNotify(o *notifyOptions) { f(o) }

// WithPriority attaches a best-effort priority hint to a notify node,
// passed through to QueueSubmitter.Submit's priorityHint parameter. Per
// spec.md's Non-goals ("priority inheritance beyond a best-effort hint"),
// this core never interprets the value itself.
func WithPriority(p int) NotifyOption {
	return notifyOptionFunc(func(o *notifyOptions) {
		o.priority = p
	})
}

func resolveNotifyOptions(opts []NotifyOption) *notifyOptions {
	cfg := &notifyOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyNotify(cfg)
	}
	return cfg
}
