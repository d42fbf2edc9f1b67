package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/shopspring/decimal"
)

// Quote is the last known price for a symbol
type Quote struct {
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// MarshalJSON encodes the price as a number
func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Price     json.Number `json:"price"`
		UpdatedAt time.Time   `json:"updatedAt"`
	}{json.Number(q.Price.String()), q.UpdatedAt})
}

// PriceCache maps symbols to their latest price. Writes for one symbol are
// applied in call order; the last write wins.
type PriceCache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	now    func() time.Time
}

// NewPriceCache creates an empty cache
func NewPriceCache() *PriceCache {
	return &PriceCache{quotes: make(map[string]Quote), now: time.Now}
}

// UpdatePrice stores price for symbol. Non-positive prices are rejected.
func (c *PriceCache) UpdatePrice(symbol string, price decimal.Decimal) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol is required", core.ErrInvalidOrder)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", core.ErrInvalidOrder)
	}

	c.mu.Lock()
	c.quotes[symbol] = Quote{Price: price, UpdatedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Quote returns the last quote for symbol
func (c *PriceCache) Quote(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Price returns the last price for symbol
func (c *PriceCache) Price(symbol string) (decimal.Decimal, bool) {
	q, ok := c.Quote(symbol)
	return q.Price, ok
}

// Prices returns a copy of every known price
func (c *PriceCache) Prices() map[string]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(c.quotes))
	for symbol, q := range c.quotes {
		out[symbol] = q.Price
	}
	return out
}

// Reset forgets every price
func (c *PriceCache) Reset() {
	c.mu.Lock()
	c.quotes = make(map[string]Quote)
	c.mu.Unlock()
}

var (
	_ core.PriceReader   = (*PriceCache)(nil)
	_ core.PriceResetter = (*PriceCache)(nil)
)
