// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package semaphore

import "github.com/joeycumines/go-dispatchcore/internal/dispatchlog"

type options struct {
	logger dispatchlog.Logger
}

// Option configures a Semaphore at construction time.
type Option interface {
	applySemaphore(*options)
}

type optionFunc func(*options)

func (f optionFunc) applySemaphore(o *options) { f(o) }

// WithLogger overrides the package-level default logger for this
// Semaphore's slow-path diagnostics.
func WithLogger(logger dispatchlog.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

func resolveOptions(opts []Option) *options {
	cfg := &options{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applySemaphore(cfg)
	}
	return cfg
}
