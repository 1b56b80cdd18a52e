// Package errs defines the structured error kinds shared across the bus,
// connection, subscription and endpoint layers.
package errs

import (
	"context"
	"errors"
)

// Kind identifies the category of a bus error. Unlike string-typed errors,
// a Kind can be compared cheaply and mapped to metrics/log fields without
// string parsing.
type Kind string

const (
	// Disconnected is returned by any Connection operation (other than
	// Disconnect itself) once the connection has disconnected.
	Disconnected Kind = "disconnected"
	// Unsubscribed is the close reason observed by a receiver after
	// Unsubscribe.
	Unsubscribed Kind = "unsubscribed"
	// Unbound is the close reason observed by a receiver after Unbind.
	Unbound Kind = "unbound"
	// Closed is returned when a send targets a mailbox that has been
	// closed.
	Closed Kind = "closed"
	// Full is returned when a reject_newest mailbox refuses an enqueue.
	Full Kind = "full"
	// NoRoute is returned by PublishOne when no endpoint is bound to the
	// target concrete topic.
	NoRoute Kind = "no_route"
	// Timeout is returned when an external deadline elapses before an
	// operation completes.
	Timeout Kind = "timeout"
	// Cancelled is returned when a scope cancellation interrupts an
	// in-flight receive.
	Cancelled Kind = "cancelled"
	// InvalidTopic marks a topic that is not a dense token array, that
	// contains a token of unsupported type, or whose multi-level
	// wildcard is not in the last position.
	InvalidTopic Kind = "invalid_topic"
	// InvalidPolicy marks a full-policy the bus does not support (e.g.
	// "block").
	InvalidPolicy Kind = "invalid_policy"
	// AlreadyBound marks a duplicate endpoint binding for a concrete
	// topic key.
	AlreadyBound Kind = "already_bound"
)

// Error wraps a Kind with an optional underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error of the given kind with no wrapped cause.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Is reports whether err (or anything it wraps) is a *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ("", false) if err is not
// (or does not wrap) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// FromContext maps a context error to the Kind a receiver should surface:
// a deadline that elapsed is Timeout, an explicit cancellation is
// Cancelled. Any other value (including nil) falls back to Cancelled,
// since every caller is a ctx.Done() branch.
func FromContext(ctxErr error) *Error {
	if ctxErr == context.DeadlineExceeded {
		return New(Timeout)
	}
	return New(Cancelled)
}
