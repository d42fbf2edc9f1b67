package simulator

import (
	"math/rand"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Strategy decides what the simulated market does next. Implementations
// are driven from a single goroutine.
type Strategy interface {
	// NextPrice returns the price following current
	NextPrice(current decimal.Decimal) decimal.Decimal
	// PickSymbol chooses the market for the next order event
	PickSymbol(symbols []string) string
	// NewOrder creates a PENDING order priced around mid
	NewOrder(symbol string, mid decimal.Decimal, now time.Time) (*core.Order, error)
	// Churn cancels or amends one of the known orders
	Churn(known []KnownOrder, prices map[string]decimal.Decimal, now time.Time) gateway.Event
}

// KnownOrder is an order the simulator announced earlier
type KnownOrder struct {
	OrderID string
	Symbol  string
}

var qtyStep = decimal.New(1, -4)

// RandomFlow is a uniform random walk with orders scattered around the
// market price.
type RandomFlow struct {
	cfg   *Config
	rnd   *rand.Rand
	newID func() string
}

// NewRandomFlow creates a RandomFlow seeded with seed
func NewRandomFlow(cfg *Config, seed int64) *RandomFlow {
	return &RandomFlow{
		cfg:   cfg,
		rnd:   rand.New(rand.NewSource(seed)),
		newID: uuid.NewString,
	}
}

// offset returns a uniform value in [-limit, limit)
func (s *RandomFlow) offset(limit decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(s.rnd.Float64()*2 - 1).Mul(limit)
}

// NextPrice implements Strategy. The price moves by at most PriceDrift,
// rounded to cents, and never drops to zero.
func (s *RandomFlow) NextPrice(current decimal.Decimal) decimal.Decimal {
	next := current.Add(s.offset(s.cfg.PriceDrift)).Round(2)
	if !next.IsPositive() {
		return current
	}
	return next
}

// PickSymbol implements Strategy
func (s *RandomFlow) PickSymbol(symbols []string) string {
	if len(symbols) == 0 {
		return ""
	}
	return symbols[s.rnd.Intn(len(symbols))]
}

func (s *RandomFlow) price(mid decimal.Decimal) decimal.Decimal {
	p := mid.Add(s.offset(s.cfg.PriceSpread)).Round(2)
	if !p.IsPositive() {
		return mid
	}
	return p
}

func (s *RandomFlow) qty() decimal.Decimal {
	q := decimal.NewFromFloat(s.rnd.Float64()).Mul(s.cfg.MaxQty).Round(4)
	if !q.IsPositive() {
		return qtyStep
	}
	return q
}

// NewOrder implements Strategy. Both identifiers are the same fresh UUID and
// the signature carries its first eight characters.
func (s *RandomFlow) NewOrder(symbol string, mid decimal.Decimal, now time.Time) (*core.Order, error) {
	id := s.newID()
	side := core.Buy
	if s.rnd.Float64() > 0.5 {
		side = core.Sell
	}
	return core.NewOrder(core.OrderParams{
		ID:        id,
		OrderID:   id,
		Symbol:    symbol,
		Side:      side,
		Type:      core.TypeLimit,
		Price:     s.price(mid),
		Qty:       s.qty(),
		APIKey:    s.cfg.APIKey,
		Signature: "SIM_" + id[:8],
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
}

// Churn implements Strategy. With CancelProbability it cancels a known
// order, otherwise it reprices one around its market. With nothing known it
// cancels a fresh id, which the gateway ignores.
func (s *RandomFlow) Churn(known []KnownOrder, prices map[string]decimal.Decimal, now time.Time) gateway.Event {
	if len(known) == 0 {
		return gateway.CancelOrder(s.newID())
	}
	target := known[s.rnd.Intn(len(known))]
	if s.rnd.Float64() < s.cfg.CancelProbability {
		return gateway.CancelOrder(target.OrderID)
	}
	mid, ok := prices[target.Symbol]
	if !ok {
		return gateway.CancelOrder(target.OrderID)
	}

	price, qty := s.price(mid), s.qty()
	timestamp := now.UTC().Format(time.RFC3339Nano)
	return gateway.UpdateOrder(target.OrderID, core.OrderPatch{
		Price:     &price,
		Qty:       &qty,
		Timestamp: &timestamp,
	})
}
