package matching

import (
	"context"
	"fmt"

	"github.com/erain9/orderdesk/pkg/core"
)

// Session walks an operator through select, adjust and confirm for one
// reference order. A Session is not safe for concurrent use.
type Session struct {
	engine     *Engine
	reference  *core.Order
	candidates []Candidate
	selected   *Candidate
	adjustment Adjustment
	result     *Result
}

// Begin captures the reference order and its ranked candidates.
func (e *Engine) Begin(ctx context.Context, referenceID string) (*Session, error) {
	reference, candidates, err := e.Candidates(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	return &Session{engine: e, reference: reference, candidates: candidates}, nil
}

// Reference returns the reference order as captured by Begin.
func (s *Session) Reference() *core.Order { return s.reference }

// Candidates returns the ranked candidates captured by Begin.
func (s *Session) Candidates() []Candidate { return s.candidates }

// Selected returns the selected candidate, if any.
func (s *Session) Selected() (Candidate, bool) {
	if s.selected == nil {
		return Candidate{}, false
	}
	return *s.selected, true
}

// Select picks a candidate by orderId and reports whether it is a perfect
// match that can be confirmed without adjustment. Selecting again replaces
// the previous choice and clears any adjustment.
func (s *Session) Select(orderID string) (bool, error) {
	for i := range s.candidates {
		if s.candidates[i].Order.OrderID() == orderID {
			s.selected = &s.candidates[i]
			s.adjustment = NoAdjustment
			return s.selected.IsPerfect(), nil
		}
	}
	return false, fmt.Errorf("%w: %s", core.ErrNotCandidate, orderID)
}

// Adjust chooses which side's values the reference order adopts and returns
// the resulting terms for display.
func (s *Session) Adjust(adj Adjustment) (*core.Terms, error) {
	if s.selected == nil {
		return nil, core.ErrNoSelection
	}
	buy, sell := s.reference, s.selected.Order
	if s.reference.Side() == core.Sell {
		buy, sell = sell, buy
	}
	terms, err := adj.Terms(buy, sell)
	if err != nil {
		return nil, err
	}
	s.adjustment = adj
	return terms, nil
}

// Back returns to candidate selection, dropping the selection and adjustment.
func (s *Session) Back() {
	s.selected = nil
	s.adjustment = NoAdjustment
}

// Confirm settles the selected candidate. Without a selection it returns
// ErrNoSelection and changes nothing. A non-perfect match without an
// adjustment returns ErrAdjustmentRequired.
func (s *Session) Confirm(ctx context.Context) (*Result, error) {
	if s.selected == nil {
		return nil, core.ErrNoSelection
	}
	if s.result != nil {
		return nil, fmt.Errorf("%w: session already confirmed", core.ErrTerminalOrder)
	}
	if !s.selected.IsPerfect() && s.adjustment == NoAdjustment {
		return nil, core.ErrAdjustmentRequired
	}

	result, err := s.engine.Confirm(ctx, s.reference.OrderID(), s.selected.Order.OrderID(), s.adjustment)
	if err != nil {
		return nil, err
	}
	s.result = result
	return result, nil
}
