package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/logging"
	"github.com/erain9/orderdesk/pkg/otel"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// ErrUnknownEvent is returned for envelopes with an unsupported type
var ErrUnknownEvent = errors.New("unknown event type")

// OrderStore is the mutation surface shared with interactive callers
type OrderStore interface {
	CreateOrder(ctx context.Context, order *core.Order) (*core.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*core.Order, error)
	UpdateOrder(ctx context.Context, orderID string, patch core.OrderPatch) (*core.Order, error)
}

// PriceSink receives PRICE_UPDATE events
type PriceSink interface {
	UpdatePrice(symbol string, price decimal.Decimal) error
}

// Source yields raw inbound envelopes. Next blocks until one arrives.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Gateway applies inbound events to the order store and price cache
type Gateway struct {
	store   OrderStore
	prices  PriceSink
	limiter *rate.Limiter
	metrics *otel.OrderDeskMetrics
}

// Option configures a Gateway
type Option func(*Gateway)

// WithRateLimit caps the number of events applied per second. Zero or
// negative means unlimited.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(g *Gateway) {
		if perSecond <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New creates a Gateway
func New(store OrderStore, prices PriceSink, opts ...Option) *Gateway {
	g := &Gateway{
		store:   store,
		prices:  prices,
		metrics: otel.GetOrderDeskMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Apply dispatches ev to the store or price cache. Errors are returned to the
// caller; none of them are fatal.
func (g *Gateway) Apply(ctx context.Context, ev Event) error {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanApplyEvent, attribute.String(otel.AttributeEventType, string(ev.Type)))
	defer span.End()

	var err error
	switch ev.Type {
	case EventPriceUpdate:
		if ev.Price == nil {
			err = fmt.Errorf("%w: price update without price", core.ErrInvalidOrder)
			break
		}
		err = g.prices.UpdatePrice(ev.Symbol, *ev.Price)
	case EventNewOrder:
		if ev.Order == nil {
			err = fmt.Errorf("%w: new order event without order", core.ErrInvalidOrder)
			break
		}
		_, err = g.store.CreateOrder(ctx, ev.Order)
	case EventCancelOrder:
		_, err = g.store.CancelOrder(ctx, ev.OrderID)
	case EventUpdateOrder:
		if ev.UpdatedProps == nil {
			err = fmt.Errorf("%w: update event without updatedProps", core.ErrInvalidOrder)
			break
		}
		_, err = g.store.UpdateOrder(ctx, ev.OrderID, *ev.UpdatedProps)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.report(ctx, ev, err)
	}
	return err
}

// report logs a rejected event at a level matching how expected it is
func (g *Gateway) report(ctx context.Context, ev Event, err error) {
	logger := logging.FromContext(ctx)
	reason := "invalid"
	switch {
	case errors.Is(err, ErrUnknownEvent):
		reason = "unknown_type"
		logger.Warn().Str("type", string(ev.Type)).Msg("Unknown event type")
	case errors.Is(err, core.ErrUnknownOrder), errors.Is(err, core.ErrTerminalOrder):
		reason = "no_op"
		logger.Debug().Err(err).Str("type", string(ev.Type)).Str("order_id", ev.OrderID).Msg("Event had no effect")
	case errors.Is(err, core.ErrDuplicateOrder):
		reason = "duplicate"
		logger.Debug().Err(err).Str("type", string(ev.Type)).Msg("Duplicate order event")
	default:
		logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Rejected event")
	}
	g.metrics.RecordEventDropped(ctx, string(ev.Type), reason)
}

// HandleMessage decodes and applies one raw envelope
func (g *Gateway) HandleMessage(ctx context.Context, data []byte) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed event")
		g.metrics.RecordEventDropped(ctx, "", "malformed")
		return err
	}
	return g.Apply(ctx, ev)
}

// Consume applies events from src until ctx is done or src fails. A
// cancelled context is a clean shutdown and returns nil.
func (g *Gateway) Consume(ctx context.Context, src Source) error {
	logger := logging.FromContext(ctx)
	for {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		data, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			logger.Error().Err(err).Msg("Event source failed")
			return err
		}
		// per-event failures are reported by HandleMessage
		_ = g.HandleMessage(ctx, data)
	}
}
