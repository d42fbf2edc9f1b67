package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/orderdesk/pkg/logging"
	"github.com/erain9/orderdesk/pkg/otel"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Filter selects which orders a query returns.
type Filter int

// Query filters
const (
	FilterAll Filter = iota
	FilterPending
	FilterClosed
)

// ParseFilter maps "all", "pending" and "closed" to a Filter.
func ParseFilter(s string) (Filter, error) {
	switch s {
	case "", "all":
		return FilterAll, nil
	case "pending":
		return FilterPending, nil
	case "closed", "non-pending":
		return FilterClosed, nil
	default:
		return FilterAll, fmt.Errorf("unknown filter %q", s)
	}
}

func (f Filter) match(o *Order) bool {
	switch f {
	case FilterPending:
		return o.IsPending()
	case FilterClosed:
		return o.IsTerminal()
	default:
		return true
	}
}

// View is a point-in-time read of one symbol's book.
type View struct {
	Symbol     string   `json:"symbol"`
	BuyOrders  []*Order `json:"buyOrders"`
	SellOrders []*Order `json:"sellOrders"`
}

// Side returns the orders of one side of the view.
func (v View) Side(side Side) []*Order {
	if side == Buy {
		return v.BuyOrders
	}
	return v.SellOrders
}

// Snapshot is a point-in-time read of the whole store.
type Snapshot struct {
	BuyOrders  []*Order                   `json:"buyOrders"`
	SellOrders []*Order                   `json:"sellOrders"`
	Prices     map[string]decimal.Decimal `json:"prices"`
}

// MarshalJSON encodes prices as numbers, like order prices.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	prices := make(map[string]json.Number, len(s.Prices))
	for symbol, price := range s.Prices {
		prices[symbol] = json.Number(price.String())
	}
	return json.Marshal(struct {
		BuyOrders  []*Order               `json:"buyOrders"`
		SellOrders []*Order               `json:"sellOrders"`
		Prices     map[string]json.Number `json:"prices"`
	}{s.BuyOrders, s.SellOrders, prices})
}

// PriceReader exposes the latest known market prices.
type PriceReader interface {
	Prices() map[string]decimal.Decimal
}

// PriceResetter is implemented by price caches that can be cleared on Reset.
type PriceResetter interface {
	Reset()
}

// SettleFunc decides the terms a reference order is recorded at when a match
// is confirmed. It runs under the store lock with both orders checked PENDING.
// Returning nil terms leaves the reference order's price and qty unchanged.
type SettleFunc func(reference, counter *Order) (*Terms, error)

// Option configures an OrderBook.
type Option func(*OrderBook)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(ob *OrderBook) { ob.now = now }
}

// WithDefaultTTL sets the expiry given to orders that arrive without one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(ob *OrderBook) { ob.defaultTTL = ttl }
}

// WithPriceReader attaches the price cache included in snapshots.
func WithPriceReader(prices PriceReader) Option {
	return func(ob *OrderBook) { ob.prices = prices }
}

// OrderBook is the authoritative order store. Every mutation is serialized
// by a single writer lock; reads share a read lock and see a consistent view.
type OrderBook struct {
	mu         sync.RWMutex
	backend    OrderBookBackend
	prices     PriceReader
	now        func() time.Time
	defaultTTL time.Duration
	metrics    *otel.OrderDeskMetrics

	subsMu  sync.Mutex
	subs    map[uint64]chan Change
	nextSub uint64
}

// NewOrderBook creates Orderbook object with a backend
func NewOrderBook(backend OrderBookBackend, opts ...Option) *OrderBook {
	ob := &OrderBook{
		backend:    backend,
		now:        time.Now,
		defaultTTL: DefaultOrderTTL,
		metrics:    otel.GetOrderDeskMetrics(),
		subs:       make(map[uint64]chan Change),
	}
	for _, opt := range opts {
		opt(ob)
	}
	return ob
}

func orderAttributes(order *Order) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(otel.AttributeOrderID, order.OrderID()),
		attribute.String(otel.AttributeOrderSymbol, order.Symbol()),
		attribute.String(otel.AttributeOrderSide, order.Side().String()),
		attribute.String(otel.AttributeOrderType, order.Type().String()),
		attribute.String(otel.AttributeOrderQuantity, order.Qty().String()),
		attribute.String(otel.AttributeOrderPrice, order.Price().String()),
	}
}

// CreateOrder admits a new PENDING order. It fails with ErrDuplicateOrder if
// either identifier is taken and with ErrInvalidOrder if a field invariant
// does not hold. The store is unchanged on failure.
func (ob *OrderBook) CreateOrder(ctx context.Context, order *Order) (*Order, error) {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanCreateOrder, orderAttributes(order)...)
	defer span.End()

	logger := logging.FromContext(ctx).With().
		Str("order_id", order.OrderID()).
		Str("symbol", order.Symbol()).
		Logger()

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.backend.GetOrder(order.OrderID()) != nil || ob.backend.HasSubmission(order.ID()) {
		logger.Warn().Str("id", order.ID()).Msg("Rejected duplicate order")
		span.SetStatus(codes.Error, "duplicate order")
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, order.OrderID())
	}

	now := ob.now()
	stored := order.Clone()
	if stored.expiry.IsZero() && ob.defaultTTL > 0 {
		stored.expiry = now.Add(ob.defaultTTL)
	}
	if err := stored.Validate(now); err != nil {
		logger.Warn().Err(err).Msg("Rejected invalid order")
		span.SetStatus(codes.Error, "invalid order")
		return nil, err
	}
	if stored.status != StatusPending {
		span.SetStatus(codes.Error, "invalid order")
		return nil, fmt.Errorf("%w: new orders must be PENDING, got %s", ErrInvalidOrder, stored.status)
	}

	if err := ob.backend.StoreOrder(stored); err != nil {
		logger.Error().Err(err).Msg("Failed to store order")
		span.SetStatus(codes.Error, "failed to store order")
		return nil, err
	}

	ob.metrics.RecordOrderCreated(ctx, stored.Side().String())
	ob.publish(Change{Kind: ChangeCreated, Order: stored.Clone()})
	logger.Debug().Str("side", stored.Side().String()).Str("price", stored.Price().String()).Msg("Order created")
	span.SetStatus(codes.Ok, "order created")

	return stored.Clone(), nil
}

// CancelOrder moves a PENDING order to CANCELLED. Cancelling a terminal order
// is a no-op that returns the order unchanged. An unknown id reports
// ErrUnknownOrder and changes nothing.
func (ob *OrderBook) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanCancelOrder, attribute.String(otel.AttributeOrderID, orderID))
	defer span.End()

	logger := logging.FromContext(ctx).With().Str("order_id", orderID).Logger()

	ob.mu.Lock()
	defer ob.mu.Unlock()

	current := ob.backend.GetOrder(orderID)
	if current == nil {
		logger.Debug().Msg("Cancel for unknown order ignored")
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if current.IsTerminal() {
		logger.Debug().Str("status", current.Status().String()).Msg("Cancel for terminal order ignored")
		return current.Clone(), nil
	}

	next := current.Clone()
	next.status = StatusCancelled
	if err := ob.backend.UpdateOrder(next); err != nil {
		span.SetStatus(codes.Error, "failed to cancel order")
		return nil, err
	}

	ob.metrics.RecordOrderCancelled(ctx, next.Side().String())
	ob.publish(Change{Kind: ChangeCancelled, Order: next.Clone()})
	logger.Debug().Msg("Order cancelled")
	span.SetStatus(codes.Ok, "order cancelled")

	return next.Clone(), nil
}

// UpdateOrder merges patch into a PENDING order. Terminal orders are rejected
// with ErrTerminalOrder and the merged result must still satisfy every order
// invariant.
func (ob *OrderBook) UpdateOrder(ctx context.Context, orderID string, patch OrderPatch) (*Order, error) {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanUpdateOrder, attribute.String(otel.AttributeOrderID, orderID))
	defer span.End()

	logger := logging.FromContext(ctx).With().Str("order_id", orderID).Logger()

	ob.mu.Lock()
	defer ob.mu.Unlock()

	current := ob.backend.GetOrder(orderID)
	if current == nil {
		logger.Debug().Msg("Update for unknown order ignored")
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if current.IsTerminal() {
		logger.Warn().Str("status", current.Status().String()).Msg("Rejected update of terminal order")
		span.SetStatus(codes.Error, "terminal order")
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminalOrder, orderID, current.Status())
	}

	next := current.Clone()
	if err := patch.apply(next); err != nil {
		span.SetStatus(codes.Error, "invalid update")
		return nil, err
	}
	if err := next.validateFields(); err != nil {
		span.SetStatus(codes.Error, "invalid update")
		return nil, err
	}
	if patch.Expiry != nil && !next.expiry.After(ob.now()) {
		span.SetStatus(codes.Error, "invalid update")
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidOrder)
	}

	if err := ob.backend.UpdateOrder(next); err != nil {
		span.SetStatus(codes.Error, "failed to update order")
		return nil, err
	}

	ob.publish(Change{Kind: ChangeUpdated, Order: next.Clone()})
	logger.Debug().Msg("Order updated")
	span.SetStatus(codes.Ok, "order updated")

	return next.Clone(), nil
}

// FulfillPair settles a confirmed match. Both orders must exist and be
// PENDING; otherwise nothing changes. settle picks the terms recorded on the
// reference order; the counter order keeps its price and qty and only
// changes status.
func (ob *OrderBook) FulfillPair(ctx context.Context, referenceID, counterID string, settle SettleFunc) (*Order, *Order, error) {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanConfirmMatch,
		attribute.String(otel.AttributeOrderID, referenceID),
		attribute.String(otel.AttributeCounterOrderID, counterID),
	)
	defer span.End()

	logger := logging.FromContext(ctx).With().
		Str("reference_id", referenceID).
		Str("counter_id", counterID).
		Logger()

	if referenceID == counterID {
		return nil, nil, fmt.Errorf("%w: an order cannot match itself", ErrNotCandidate)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	reference := ob.backend.GetOrder(referenceID)
	if reference == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownOrder, referenceID)
	}
	counter := ob.backend.GetOrder(counterID)
	if counter == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownOrder, counterID)
	}
	for _, o := range []*Order{reference, counter} {
		if o.IsTerminal() {
			logger.Warn().Str("order_id", o.OrderID()).Str("status", o.Status().String()).Msg("Rejected settlement of terminal order")
			span.SetStatus(codes.Error, "terminal order")
			return nil, nil, fmt.Errorf("%w: %s is %s", ErrTerminalOrder, o.OrderID(), o.Status())
		}
	}

	nextRef := reference.Clone()
	nextCounter := counter.Clone()

	if settle != nil {
		terms, err := settle(reference.Clone(), counter.Clone())
		if err != nil {
			span.SetStatus(codes.Error, "settlement rejected")
			return nil, nil, err
		}
		if terms != nil {
			if !terms.Price.IsPositive() || !terms.Qty.IsPositive() {
				return nil, nil, fmt.Errorf("%w: settlement terms must be positive", ErrInvalidOrder)
			}
			nextRef.price = terms.Price
			nextRef.qty = terms.Qty
		}
	}
	nextRef.status = StatusFulfilled
	nextCounter.status = StatusFulfilled

	if err := ob.backend.UpdateOrder(nextRef); err != nil {
		span.SetStatus(codes.Error, "failed to settle")
		return nil, nil, err
	}
	if err := ob.backend.UpdateOrder(nextCounter); err != nil {
		// restore the reference so the pair stays consistent
		if rbErr := ob.backend.UpdateOrder(reference); rbErr != nil {
			logger.Error().Err(rbErr).Msg("Failed to roll back reference order")
		}
		span.SetStatus(codes.Error, "failed to settle")
		return nil, nil, err
	}

	ob.publish(Change{Kind: ChangeFulfilled, Order: nextRef.Clone()})
	ob.publish(Change{Kind: ChangeFulfilled, Order: nextCounter.Clone()})
	logger.Info().
		Str("price", nextRef.Price().String()).
		Str("qty", nextRef.Qty().String()).
		Msg("Match settled")
	span.SetStatus(codes.Ok, "match settled")

	return nextRef.Clone(), nextCounter.Clone(), nil
}

// GetOrder returns a copy of the order with the given orderId.
func (ob *OrderBook) GetOrder(orderID string) (*Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	o := ob.backend.GetOrder(orderID)
	if o == nil {
		return nil, false
	}
	return o.Clone(), true
}

// Query returns both sides of one symbol's book. An empty symbol matches all.
func (ob *OrderBook) Query(symbol string, filter Filter) View {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	return ob.view(symbol, filter)
}

// QueryWithOrder returns an order together with a view captured under the
// same read lock, so both reflect one point in time.
func (ob *OrderBook) QueryWithOrder(orderID string, filter Filter) (*Order, View, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	o := ob.backend.GetOrder(orderID)
	if o == nil {
		return nil, View{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return o.Clone(), ob.view(o.Symbol(), filter), nil
}

func (ob *OrderBook) view(symbol string, filter Filter) View {
	v := View{Symbol: symbol, BuyOrders: []*Order{}, SellOrders: []*Order{}}
	for _, side := range []Side{Buy, Sell} {
		for _, o := range ob.backend.Orders(side) {
			if symbol != "" && o.Symbol() != symbol {
				continue
			}
			if !filter.match(o) {
				continue
			}
			if side == Buy {
				v.BuyOrders = append(v.BuyOrders, o.Clone())
			} else {
				v.SellOrders = append(v.SellOrders, o.Clone())
			}
		}
	}
	return v
}

// Snapshot returns every order and the latest prices.
func (ob *OrderBook) Snapshot() Snapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	v := ob.view("", FilterAll)
	s := Snapshot{BuyOrders: v.BuyOrders, SellOrders: v.SellOrders, Prices: map[string]decimal.Decimal{}}
	if ob.prices != nil {
		s.Prices = ob.prices.Prices()
	}
	return s
}

// Reset removes every order, and clears the price cache when it supports it.
func (ob *OrderBook) Reset(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if err := ob.backend.Clear(); err != nil {
		logger.Error().Err(err).Msg("Failed to reset order book")
		return err
	}
	if r, ok := ob.prices.(PriceResetter); ok {
		r.Reset()
	}

	ob.publish(Change{Kind: ChangeReset})
	logger.Info().Msg("Order book reset")
	return nil
}
