// Package apperr defines the error kinds returned by the coordination core.
// Callers match on kinds with errors.Is against the sentinel values below.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindUnauthorized      Kind = "unauthorized"
	KindInvalidTransition Kind = "invalid_transition"
	KindRateLimited       Kind = "rate_limited"
	KindTimeout           Kind = "timeout"
	KindNotFound          Kind = "not_found"
)

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

// Error is a classified failure surfaced to the immediate caller.
type Error struct {
	Kind    Kind
	Message string

	// CurrentState is set for invalid transitions so the caller can resync.
	CurrentState string
	// RetryAfter is set for rate limited calls.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	if e.CurrentState != "" {
		msg = fmt.Sprintf("%s (current state %s)", msg, e.CurrentState)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, apperr.ErrNotFound) works on any
// *Error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(current string, format string, args ...any) error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...), CurrentState: current}
}

func RateLimited(retryAfter time.Duration) error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("retry in %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

func NotFound(what string) error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Timeout(err error) error {
	return &Error{Kind: KindTimeout, Message: "store deadline exceeded", Err: err}
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FromStore classifies a store error. Deadline and cancellation errors become
// Timeout; classified errors pass through; anything else is wrapped with op.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
