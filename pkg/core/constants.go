package core

import (
	"errors"
	"time"
)

// Errors
var (
	ErrDuplicateOrder     = errors.New("duplicate order")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrUnknownOrder       = errors.New("unknown order")
	ErrTerminalOrder      = errors.New("order is in a terminal state")
	ErrFeedDisconnected   = errors.New("feed disconnected")
	ErrNoSelection        = errors.New("no candidate selected")
	ErrAdjustmentRequired = errors.New("adjustment required for non-perfect match")
	ErrNotCandidate       = errors.New("order is not a match candidate")
)

// DefaultOrderTTL is applied to orders admitted without an expiry.
const DefaultOrderTTL = 24 * time.Hour
