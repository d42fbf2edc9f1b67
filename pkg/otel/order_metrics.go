package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// orderDeskMetrics holds the singleton instance
	orderDeskMetrics     *OrderDeskMetrics
	orderDeskMetricsOnce sync.Once
)

// OrderDeskMetrics holds counters for order book, matching and feed activity.
// A zero value records nothing.
type OrderDeskMetrics struct {
	ordersCreated   metric.Int64Counter
	ordersCancelled metric.Int64Counter
	matchesTotal    metric.Int64Counter
	feedReconnects  metric.Int64Counter
	eventsDropped   metric.Int64Counter
}

// GetOrderDeskMetrics returns the OrderDeskMetrics singleton
func GetOrderDeskMetrics() *OrderDeskMetrics {
	orderDeskMetricsOnce.Do(func() {
		m, err := NewOrderDeskMetrics(GetMeterProvider().Meter(instrumentationName))
		if err != nil {
			orderDeskMetrics = &OrderDeskMetrics{}
			return
		}
		orderDeskMetrics = m
	})
	return orderDeskMetrics
}

// NewOrderDeskMetrics creates the instruments on meter
func NewOrderDeskMetrics(meter metric.Meter) (*OrderDeskMetrics, error) {
	ordersCreated, err := meter.Int64Counter(
		"orderdesk.orders.created",
		metric.WithDescription("Total number of orders admitted to the book"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	ordersCancelled, err := meter.Int64Counter(
		"orderdesk.orders.cancelled",
		metric.WithDescription("Total number of orders cancelled"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	matchesTotal, err := meter.Int64Counter(
		"orderdesk.matches.confirmed",
		metric.WithDescription("Total number of confirmed matches"),
		metric.WithUnit("{match}"),
	)
	if err != nil {
		return nil, err
	}

	feedReconnects, err := meter.Int64Counter(
		"orderdesk.feed.reconnects",
		metric.WithDescription("Total number of price feed reconnect attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	eventsDropped, err := meter.Int64Counter(
		"orderdesk.gateway.events_dropped",
		metric.WithDescription("Inbound events dropped by the gateway"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &OrderDeskMetrics{
		ordersCreated:   ordersCreated,
		ordersCancelled: ordersCancelled,
		matchesTotal:    matchesTotal,
		feedReconnects:  feedReconnects,
		eventsDropped:   eventsDropped,
	}, nil
}

// RecordOrderCreated increments the created orders counter
func (m *OrderDeskMetrics) RecordOrderCreated(ctx context.Context, side string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String(AttributeOrderSide, side)))
}

// RecordOrderCancelled increments the cancelled orders counter
func (m *OrderDeskMetrics) RecordOrderCancelled(ctx context.Context, side string) {
	if m == nil || m.ordersCancelled == nil {
		return
	}
	m.ordersCancelled.Add(ctx, 1, metric.WithAttributes(attribute.String(AttributeOrderSide, side)))
}

// RecordMatchConfirmed increments the confirmed matches counter
func (m *OrderDeskMetrics) RecordMatchConfirmed(ctx context.Context, symbol string, adjusted bool) {
	if m == nil || m.matchesTotal == nil {
		return
	}
	m.matchesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttributeOrderSymbol, symbol),
		attribute.Bool("match.adjusted", adjusted),
	))
}

// RecordFeedReconnect increments the feed reconnect counter
func (m *OrderDeskMetrics) RecordFeedReconnect(ctx context.Context, symbol string) {
	if m == nil || m.feedReconnects == nil {
		return
	}
	m.feedReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String(AttributeOrderSymbol, symbol)))
}

// RecordEventDropped increments the dropped events counter
func (m *OrderDeskMetrics) RecordEventDropped(ctx context.Context, eventType, reason string) {
	if m == nil || m.eventsDropped == nil {
		return
	}
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttributeEventType, eventType),
		attribute.String("reason", reason),
	))
}
