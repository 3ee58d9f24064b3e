// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package dispatchpanic reports fatal-contract violations: the class of
// error spec.md §7 calls "undefined behavior in the source" — semaphore
// over-signal, destroying a semaphore or group still in use, an unbalanced
// group leave, a group enter overflow, recursive once_run. These indicate
// corrupted caller state, not a condition a caller can recover from, so
// they are reported by panicking with a typed error rather than by
// returning one.
package dispatchpanic

import (
	"fmt"

	"github.com/joeycumines/go-dispatchcore/internal/dispatchlog"
)

// Code identifies the kind of fatal-contract violation.
type Code int

const (
	// CodeOverSignal: a semaphore signal wrapped its counter past its max.
	CodeOverSignal Code = iota
	// CodeInUseDestroy: a semaphore or group was destroyed while still in use.
	CodeInUseDestroy
	// CodeUnbalancedLeave: group.Leave called without a matching Enter.
	CodeUnbalancedLeave
	// CodeEnterOverflow: group.Enter exceeded the 2^30-1 hard cap.
	CodeEnterOverflow
	// CodeDestroyNonEmpty: a group was destroyed with value != 0.
	CodeDestroyNonEmpty
	// CodeRecursiveOnce: a once-gate's own winner re-entered Do.
	CodeRecursiveOnce
	// CodeNotifyOverflow: a group's notify list exceeded its configured
	// WithMaxPending cap.
	CodeNotifyOverflow
)

// String names the code.
func (c Code) String() string {
	switch c {
	case CodeOverSignal:
		return "over-signal"
	case CodeInUseDestroy:
		return "in-use-destroy"
	case CodeUnbalancedLeave:
		return "unbalanced-leave"
	case CodeEnterOverflow:
		return "enter-overflow"
	case CodeDestroyNonEmpty:
		return "destroy-non-empty"
	case CodeRecursiveOnce:
		return "recursive-once"
	case CodeNotifyOverflow:
		return "notify-overflow"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the panic value raised for a fatal-contract violation.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap supports errors.Is/errors.As against an optional wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal logs an LevelError entry through dispatchlog.Global() and then
// panics with an *Error. It never returns.
func Fatal(component string, code Code, message string) {
	dispatchlog.Global().Log(dispatchlog.Entry{
		Level:     dispatchlog.LevelError,
		Component: component,
		Message:   message,
	})
	panic(&Error{Code: code, Message: message})
}
