package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors(t *testing.T) {
	errorTests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrDuplicateOrder", ErrDuplicateOrder, "duplicate order"},
		{"ErrInvalidOrder", ErrInvalidOrder, "invalid order"},
		{"ErrUnknownOrder", ErrUnknownOrder, "unknown order"},
		{"ErrTerminalOrder", ErrTerminalOrder, "order is in a terminal state"},
		{"ErrFeedDisconnected", ErrFeedDisconnected, "feed disconnected"},
		{"ErrNoSelection", ErrNoSelection, "no candidate selected"},
		{"ErrAdjustmentRequired", ErrAdjustmentRequired, "adjustment required for non-perfect match"},
		{"ErrNotCandidate", ErrNotCandidate, "order is not a match candidate"},
	}

	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatalf("Error %s is nil", tt.name)
			}
			if tt.err.Error() != tt.msg {
				t.Errorf("Error message for %s = %q, want %q", tt.name, tt.err.Error(), tt.msg)
			}
		})
	}
}

func TestWrappedValidationErrors(t *testing.T) {
	err := fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	if !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("expected wrapped error to match ErrInvalidOrder")
	}
	if errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("wrapped validation error must not match ErrDuplicateOrder")
	}
}
