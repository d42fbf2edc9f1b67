package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/logging"
	"github.com/erain9/orderdesk/pkg/messaging"
	"github.com/erain9/orderdesk/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Adjustment selects which side's price and qty a non-perfect match settles at.
type Adjustment int

// Adjustments
const (
	NoAdjustment Adjustment = iota
	AdoptBuyValues
	AdoptSellValues
)

// String returns the adjustment name
func (a Adjustment) String() string {
	switch a {
	case AdoptBuyValues:
		return "adopt_buy_values"
	case AdoptSellValues:
		return "adopt_sell_values"
	default:
		return "none"
	}
}

// ParseAdjustment maps "adopt_buy_values", "adopt_sell_values" and "" / "none".
// The short forms name the order being adjusted: "buy" adjusts the buy order
// to the sell values and "sell" adjusts the sell order to the buy values.
func ParseAdjustment(s string) (Adjustment, error) {
	switch s {
	case "", "none":
		return NoAdjustment, nil
	case "adopt_buy_values", "sell":
		return AdoptBuyValues, nil
	case "adopt_sell_values", "buy":
		return AdoptSellValues, nil
	default:
		return NoAdjustment, fmt.Errorf("unknown adjustment %q", s)
	}
}

// Terms returns the values the adjustment adopts from the buy and sell orders.
func (a Adjustment) Terms(buy, sell *core.Order) (*core.Terms, error) {
	switch a {
	case AdoptBuyValues:
		return &core.Terms{Price: buy.Price(), Qty: buy.Qty()}, nil
	case AdoptSellValues:
		return &core.Terms{Price: sell.Price(), Qty: sell.Qty()}, nil
	default:
		return nil, core.ErrAdjustmentRequired
	}
}

// Store is the part of the order book the engine reads and settles through.
type Store interface {
	QueryWithOrder(orderID string, filter core.Filter) (*core.Order, core.View, error)
	FulfillPair(ctx context.Context, referenceID, counterID string, settle core.SettleFunc) (*core.Order, *core.Order, error)
}

// Result is the outcome of a confirmed match.
type Result struct {
	Reference  *core.Order `json:"reference"`
	Counter    *core.Order `json:"counter"`
	Adjustment string      `json:"adjustment"`
	Terms      *core.Terms `json:"terms,omitempty"`
}

// Engine proposes and settles matches over an order store.
type Engine struct {
	store   Store
	sender  messaging.MessageSender
	metrics *otel.OrderDeskMetrics
	now     func() time.Time
}

// NewEngine creates an engine. A nil sender disables settlement publishing.
func NewEngine(store Store, sender messaging.MessageSender) *Engine {
	return &Engine{
		store:   store,
		sender:  sender,
		metrics: otel.GetOrderDeskMetrics(),
		now:     time.Now,
	}
}

// Candidates ranks the pending same-symbol counter orders of referenceID.
// The reference order and counter orders come from one point-in-time view.
func (e *Engine) Candidates(ctx context.Context, referenceID string) (*core.Order, []Candidate, error) {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanFindCandidates, attribute.String(otel.AttributeOrderID, referenceID))
	defer span.End()

	reference, view, err := e.store.QueryWithOrder(referenceID, core.FilterPending)
	if err != nil {
		span.SetStatus(codes.Error, "unknown order")
		return nil, nil, err
	}
	if reference.IsTerminal() {
		span.SetStatus(codes.Error, "terminal order")
		return nil, nil, fmt.Errorf("%w: %s is %s", core.ErrTerminalOrder, referenceID, reference.Status())
	}

	candidates := FindCandidates(reference, view.Side(reference.Side().Opposite()))

	otel.AddAttributes(span, attribute.Int(otel.AttributeCandidateCount, len(candidates)))
	logger := logging.FromContext(ctx)
	logger.Debug().
		Str("order_id", referenceID).
		Int("candidates", len(candidates)).
		Msg("Computed match candidates")

	return reference, candidates, nil
}

// Confirm settles referenceID against counterID. Perfect matches need no
// adjustment; otherwise adj picks the values written onto the reference
// order. The counter order only changes status. Equality and terms are
// evaluated against the orders as stored at settlement time.
func (e *Engine) Confirm(ctx context.Context, referenceID, counterID string, adj Adjustment) (*Result, error) {
	logger := logging.FromContext(ctx).With().
		Str("reference_id", referenceID).
		Str("counter_id", counterID).
		Str("adjustment", adj.String()).
		Logger()

	var terms *core.Terms
	var percentage string
	settle := func(reference, counter *core.Order) (*core.Terms, error) {
		if reference.Side() == counter.Side() {
			return nil, fmt.Errorf("%w: %s and %s are on the same side", core.ErrNotCandidate, referenceID, counterID)
		}
		if reference.Symbol() != counter.Symbol() {
			return nil, fmt.Errorf("%w: symbols differ", core.ErrNotCandidate)
		}
		_, pct := Score(reference, counter)
		percentage = pct.StringFixed(1)

		perfect := reference.Price().Equal(counter.Price()) && reference.Qty().Equal(counter.Qty())
		if perfect && adj == NoAdjustment {
			return nil, nil
		}

		buy, sell := reference, counter
		if reference.Side() == core.Sell {
			buy, sell = counter, reference
		}
		t, err := adj.Terms(buy, sell)
		if err != nil {
			return nil, err
		}
		terms = t
		return t, nil
	}

	reference, counter, err := e.store.FulfillPair(ctx, referenceID, counterID, settle)
	if err != nil {
		logger.Warn().Err(err).Msg("Match confirmation rejected")
		return nil, err
	}

	e.metrics.RecordMatchConfirmed(ctx, reference.Symbol(), terms != nil)
	result := &Result{Reference: reference, Counter: counter, Adjustment: adj.String(), Terms: terms}
	if terms == nil {
		result.Adjustment = NoAdjustment.String()
	}
	e.publish(ctx, result, percentage)

	logger.Info().Str("price", reference.Price().String()).Str("qty", reference.Qty().String()).Msg("Match confirmed")
	return result, nil
}

func (e *Engine) publish(ctx context.Context, result *Result, percentage string) {
	if e.sender == nil {
		return
	}
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanSendToKafka, attribute.String(otel.AttributeOrderID, result.Reference.OrderID()))
	defer span.End()

	msg := &messaging.MatchMessage{
		Symbol:           result.Reference.Symbol(),
		ReferenceOrderID: result.Reference.OrderID(),
		CounterOrderID:   result.Counter.OrderID(),
		ReferenceSide:    result.Reference.Side().String(),
		Price:            result.Reference.Price().String(),
		Qty:              result.Reference.Qty().String(),
		Total:            result.Reference.Total().String(),
		CounterPrice:     result.Counter.Price().String(),
		CounterQty:       result.Counter.Qty().String(),
		MatchPercentage:  percentage,
		Adjustment:       result.Adjustment,
		ConfirmedAt:      e.now().UTC(),
	}
	// settlement already happened; a failed publish is logged, not returned
	if err := e.sender.SendMatchMessage(ctx, msg); err != nil {
		span.SetStatus(codes.Error, "failed to publish match")
		logger := logging.FromContext(ctx)
		logger.Error().Err(err).Str("reference_id", msg.ReferenceOrderID).Msg("Failed to publish match")
	}
}
