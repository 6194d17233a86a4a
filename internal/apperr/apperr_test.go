package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorIsMatchesKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"validation", Validation("bad %s", "input"), ErrValidation, true},
		{"wrapped not found", fmt.Errorf("load: %w", NotFound("appointment")), ErrNotFound, true},
		{"kind mismatch", Unauthorized("nope"), ErrValidation, false},
		{"rate limited", RateLimited(time.Minute), ErrRateLimited, true},
		{"plain error", errors.New("boom"), ErrTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Fatalf("errors.Is = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInvalidTransitionCarriesState(t *testing.T) {
	err := InvalidTransition("CANCELLED", "cannot confirm")

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("expected *Error")
	}
	if e.CurrentState != "CANCELLED" {
		t.Fatalf("expected current state CANCELLED, got %q", e.CurrentState)
	}
}

func TestFromStore(t *testing.T) {
	if FromStore("op", nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	err := FromStore("update appointment", fmt.Errorf("query: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected the deadline to stay in the chain")
	}

	nf := NotFound("alert")
	if FromStore("load", nf) != nf {
		t.Fatal("classified errors must pass through unchanged")
	}

	other := FromStore("load", errors.New("connection reset"))
	if KindOf(other) != "" {
		t.Fatalf("expected unclassified error, got kind %q", KindOf(other))
	}
}
