package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderPatch holds the fields of a partial order update. Nil fields are
// left untouched. Identifiers are never patched.
type OrderPatch struct {
	Symbol    *string          `json:"symbol,omitempty"`
	Side      *Side            `json:"orderSide,omitempty"`
	Type      *OrderType       `json:"orderType,omitempty"`
	Status    *Status          `json:"orderStatus,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Qty       *decimal.Decimal `json:"qty,omitempty"`
	Expiry    *time.Time       `json:"orderExpiry,omitempty"`
	APIKey    *string          `json:"apiKey,omitempty"`
	Signature *string          `json:"signature,omitempty"`
	Timestamp *string          `json:"timestamp,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p OrderPatch) IsEmpty() bool {
	return p.Symbol == nil && p.Side == nil && p.Type == nil && p.Status == nil &&
		p.Price == nil && p.Qty == nil && p.Expiry == nil &&
		p.APIKey == nil && p.Signature == nil && p.Timestamp == nil
}

// apply merges the patch into o. Status may only be restated, never changed.
func (p OrderPatch) apply(o *Order) error {
	if p.Status != nil && *p.Status != o.status {
		return fmt.Errorf("%w: status cannot be changed by update", ErrInvalidOrder)
	}
	if p.Symbol != nil {
		o.symbol = *p.Symbol
	}
	if p.Side != nil {
		o.side = *p.Side
	}
	if p.Type != nil {
		o.orderType = *p.Type
	}
	if p.Price != nil {
		o.price = *p.Price
	}
	if p.Qty != nil {
		o.qty = *p.Qty
	}
	if p.Expiry != nil {
		o.expiry = *p.Expiry
	}
	if p.APIKey != nil {
		o.apiKey = *p.APIKey
	}
	if p.Signature != nil {
		o.signature = *p.Signature
	}
	if p.Timestamp != nil {
		o.timestamp = *p.Timestamp
	}
	return nil
}
