// Package core defines the error taxonomy and status codes shared by all
// rag-modulo services. Every user-visible failure maps to exactly one Code;
// transports translate codes, never raw errors.
package core

import (
	"context"
	"errors"
	"fmt"
)

// Code is a stable, transport-independent status code.
type Code string

const (
	CodeOK                    Code = "ok"
	CodeInvalidInput          Code = "invalid_input"
	CodeNotFound              Code = "not_found"
	CodeForbidden             Code = "forbidden"
	CodeConflict              Code = "conflict"
	CodeRateLimited           Code = "rate_limited"
	CodeCancelled             Code = "cancelled"
	CodeDeadlineExceeded      Code = "deadline_exceeded"
	CodeDependencyUnavailable Code = "dependency_unavailable"
	CodeInternal              Code = "internal_error"
)

// Error carries a status code, a human-readable reason, and the wrapped cause.
// Reasons are safe to surface to callers; causes are for logs only.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code so callers can use errors.Is with sentinel
// *Error values.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an Error with the given code and reason.
func NewError(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// WrapError creates an Error wrapping a cause.
func WrapError(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf extracts the status code from an error chain.
// Plain errors map to CodeInternal; context cancellation and deadline
// expiry map to their dedicated codes. A nil error is CodeOK.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeDeadlineExceeded
	}
	return CodeInternal
}

// Retryable reports whether an error represents a transient dependency
// failure that may succeed on retry. Validation, not-found, and permanent
// failures are never retryable.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeDependencyUnavailable, CodeRateLimited:
		return true
	default:
		return false
	}
}
