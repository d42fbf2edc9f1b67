package api

import (
	"encoding/json"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/matching"
)

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CandidatesResponse lists the match proposals for a reference order
type CandidatesResponse struct {
	Reference  *core.Order          `json:"reference"`
	Candidates []matching.Candidate `json:"candidates"`
}

// ConfirmMatchRequest settles a selected candidate. Adjustment is required
// unless the candidate is a perfect match.
type ConfirmMatchRequest struct {
	ReferenceOrderID string `json:"referenceOrderId"`
	CounterOrderID   string `json:"counterOrderId"`
	Adjustment       string `json:"adjustment,omitempty"`
}

// PriceResponse is the last known price of a symbol
type PriceResponse struct {
	Symbol    string `json:"symbol"`
	Price     json.Number `json:"price"`
	UpdatedAt string      `json:"updatedAt"`
}

// FeedResponse reports a symbol's stream connection
type FeedResponse struct {
	Symbol      string `json:"symbol"`
	State       string `json:"state"`
	Subscribers int    `json:"subscribers"`
	Error       string `json:"error,omitempty"`
}
