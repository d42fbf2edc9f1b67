package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Span names
	SpanCreateOrder    = "create_order"
	SpanCancelOrder    = "cancel_order"
	SpanUpdateOrder    = "update_order"
	SpanFindCandidates = "find_candidates"
	SpanConfirmMatch   = "confirm_match"
	SpanApplyEvent     = "apply_event"
	SpanSendToKafka    = "send_to_kafka"

	// Attribute keys
	AttributeOrderID        = "order.id"
	AttributeOrderSymbol    = "order.symbol"
	AttributeOrderSide      = "order.side"
	AttributeOrderType      = "order.type"
	AttributeOrderQuantity  = "order.quantity"
	AttributeOrderPrice     = "order.price"
	AttributeOrderStatus    = "order.status"
	AttributeCounterOrderID = "match.counter_order_id"
	AttributeCandidateCount = "match.candidate_count"
	AttributeEventType      = "event.type"
)

// StartOrderSpan starts a new span for order processing. Before Init it
// returns a no-op span.
func StartOrderSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetTracer()
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}
