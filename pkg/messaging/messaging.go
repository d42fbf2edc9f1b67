package messaging

import (
	"context"
	"time"
)

// MessageSender defines an interface for publishing settled matches.
// This keeps the matching engine decoupled from specific transports
// like the Kafka producers in the queue and kafka packages.
type MessageSender interface {
	SendMatchMessage(ctx context.Context, msg *MatchMessage) error
	Close() error
}

// MatchMessage describes a confirmed match. Price and Qty are the terms the
// reference order settled at; the counter order keeps its own.
type MatchMessage struct {
	Symbol           string    `json:"symbol"`
	ReferenceOrderID string    `json:"referenceOrderId"`
	CounterOrderID   string    `json:"counterOrderId"`
	ReferenceSide    string    `json:"referenceSide"`
	Price            string    `json:"price"`
	Qty              string    `json:"qty"`
	Total            string    `json:"total"`
	CounterPrice     string    `json:"counterPrice"`
	CounterQty       string    `json:"counterQty"`
	MatchPercentage  string    `json:"matchPercentage"`
	Adjustment       string    `json:"adjustment"`
	ConfirmedAt      time.Time `json:"confirmedAt"`
}

// Key returns the partitioning key for the message
func (m *MatchMessage) Key() string {
	return m.Symbol
}
