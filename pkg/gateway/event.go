package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/shopspring/decimal"
)

// EventType names an inbound event kind
type EventType string

// Inbound event kinds
const (
	EventPriceUpdate EventType = "PRICE_UPDATE"
	EventNewOrder    EventType = "NEW_ORDER"
	EventCancelOrder EventType = "CANCEL_ORDER"
	EventUpdateOrder EventType = "UPDATE_ORDER"
)

// Event is the inbound envelope. Which fields are set depends on Type.
type Event struct {
	Type         EventType        `json:"type"`
	Symbol       string           `json:"symbol,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Order        *core.Order      `json:"order,omitempty"`
	OrderID      string           `json:"orderId,omitempty"`
	UpdatedProps *core.OrderPatch `json:"updatedProps,omitempty"`
}

// MarshalJSON emits price as a JSON number
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	out := struct {
		alias
		Price *json.Number `json:"price,omitempty"`
	}{alias: alias(e)}
	if e.Price != nil {
		n := json.Number(e.Price.String())
		out.Price = &n
	}
	return json.Marshal(out)
}

// DecodeEvent parses one envelope. Unknown types decode without error and
// are rejected by the gateway.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("malformed event: %w", err)
	}
	return ev, nil
}

// PriceUpdate builds a PRICE_UPDATE event
func PriceUpdate(symbol string, price decimal.Decimal) Event {
	return Event{Type: EventPriceUpdate, Symbol: symbol, Price: &price}
}

// NewOrder builds a NEW_ORDER event
func NewOrder(order *core.Order) Event {
	return Event{Type: EventNewOrder, Order: order}
}

// CancelOrder builds a CANCEL_ORDER event
func CancelOrder(orderID string) Event {
	return Event{Type: EventCancelOrder, OrderID: orderID}
}

// UpdateOrder builds an UPDATE_ORDER event
func UpdateOrder(orderID string, patch core.OrderPatch) Event {
	return Event{Type: EventUpdateOrder, OrderID: orderID, UpdatedProps: &patch}
}
