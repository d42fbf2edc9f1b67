package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents buy or sell side of the order
type Side int

// Order sides, numbered as on the wire
const (
	Buy Side = iota
	Sell
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) valid() bool { return s == Buy || s == Sell }

// UnmarshalJSON accepts either the numeric code or the side name.
func (s *Side) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, map[string]int{"BUY": int(Buy), "SELL": int(Sell)})
	if err != nil {
		return fmt.Errorf("orderSide: %w", err)
	}
	*s = Side(v)
	return nil
}

// OrderType represents type of the order
type OrderType int

// Order types
const (
	TypeLimit OrderType = iota
	TypeMarket
)

// String returns order type as string
func (t OrderType) String() string {
	switch t {
	case TypeLimit:
		return "LIMIT"
	case TypeMarket:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

func (t OrderType) valid() bool { return t == TypeLimit || t == TypeMarket }

// UnmarshalJSON accepts either the numeric code or the type name.
func (t *OrderType) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, map[string]int{"LIMIT": int(TypeLimit), "MARKET": int(TypeMarket)})
	if err != nil {
		return fmt.Errorf("orderType: %w", err)
	}
	*t = OrderType(v)
	return nil
}

// Status is the lifecycle state of an order.
// PENDING is the only non-terminal state.
type Status int

// Order statuses
const (
	StatusCancelled Status = iota
	StatusFulfilled
	StatusPending
)

// String returns status as string
func (s Status) String() string {
	switch s {
	case StatusCancelled:
		return "CANCELLED"
	case StatusFulfilled:
		return "FULFILLED"
	case StatusPending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusFulfilled
}

func (s Status) valid() bool { return s >= StatusCancelled && s <= StatusPending }

// UnmarshalJSON accepts either the numeric code or the status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	v, err := parseEnum(data, map[string]int{
		"CANCELLED": int(StatusCancelled),
		"CANCELED":  int(StatusCancelled),
		"FULFILLED": int(StatusFulfilled),
		"PENDING":   int(StatusPending),
	})
	if err != nil {
		return fmt.Errorf("orderStatus: %w", err)
	}
	*s = Status(v)
	return nil
}

func parseEnum(data []byte, names map[string]int) (int, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return 0, err
		}
		if v, ok := names[strings.ToUpper(strings.TrimSpace(name))]; ok {
			return v, nil
		}
		// numeric codes sent as strings
		if v, err := strconv.Atoi(name); err == nil {
			return v, nil
		}
		return 0, fmt.Errorf("unknown value %q", name)
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// OrderParams carries the fields used to build a new order.
type OrderParams struct {
	ID        string
	OrderID   string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Expiry    time.Time
	APIKey    string
	Signature string
	Timestamp string
}

// Order stores information about order
type Order struct {
	id        string
	orderID   string
	symbol    string
	side      Side
	orderType OrderType
	status    Status
	price     decimal.Decimal
	qty       decimal.Decimal
	expiry    time.Time
	apiKey    string
	signature string
	timestamp string
	sequence  uint64
}

// NewOrder creates a new PENDING order after checking its static fields.
// Expiry is checked by the order book against its own clock.
func NewOrder(p OrderParams) (*Order, error) {
	o := &Order{
		id:        p.ID,
		orderID:   p.OrderID,
		symbol:    p.Symbol,
		side:      p.Side,
		orderType: p.Type,
		status:    StatusPending,
		price:     p.Price,
		qty:       p.Qty,
		expiry:    p.Expiry,
		apiKey:    p.APIKey,
		signature: p.Signature,
		timestamp: p.Timestamp,
	}
	if err := o.validateFields(); err != nil {
		return nil, err
	}
	return o, nil
}

// ID returns the submission identifier
func (o *Order) ID() string { return o.id }

// OrderID returns the exchange order identifier
func (o *Order) OrderID() string { return o.orderID }

// Symbol returns the asset symbol
func (o *Order) Symbol() string { return o.symbol }

// Side returns side of the order
func (o *Order) Side() Side { return o.side }

// Type returns the order type
func (o *Order) Type() OrderType { return o.orderType }

// Status returns the lifecycle status
func (o *Order) Status() Status { return o.status }

// Price returns the limit price
func (o *Order) Price() decimal.Decimal { return o.price }

// Qty returns the order quantity
func (o *Order) Qty() decimal.Decimal { return o.qty }

// Total returns price * qty
func (o *Order) Total() decimal.Decimal { return o.price.Mul(o.qty) }

// Expiry returns the expiry time, zero if unset
func (o *Order) Expiry() time.Time { return o.expiry }

// APIKey returns the opaque api key
func (o *Order) APIKey() string { return o.apiKey }

// Signature returns the opaque signature
func (o *Order) Signature() string { return o.signature }

// Timestamp returns the opaque client timestamp
func (o *Order) Timestamp() string { return o.timestamp }

// IsPending reports whether the order is still live
func (o *Order) IsPending() bool { return o.status == StatusPending }

// IsTerminal reports whether the order is CANCELLED or FULFILLED
func (o *Order) IsTerminal() bool { return o.status.IsTerminal() }

// Sequence returns the insertion sequence assigned by the backend.
func (o *Order) Sequence() uint64 { return o.sequence }

// SetSequence is used by backends to record insertion order.
func (o *Order) SetSequence(seq uint64) { o.sequence = seq }

// Clone returns an independent copy.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

func (o *Order) validateFields() error {
	switch {
	case o.id == "":
		return fmt.Errorf("%w: id is required", ErrInvalidOrder)
	case o.orderID == "":
		return fmt.Errorf("%w: orderId is required", ErrInvalidOrder)
	case o.symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case !o.side.valid():
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, o.side)
	case !o.orderType.valid():
		return fmt.Errorf("%w: unknown type %d", ErrInvalidOrder, o.orderType)
	case !o.status.valid():
		return fmt.Errorf("%w: unknown status %d", ErrInvalidOrder, o.status)
	case !o.price.IsPositive():
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	case !o.qty.IsPositive():
		return fmt.Errorf("%w: qty must be positive", ErrInvalidOrder)
	}
	return nil
}

// Validate checks every invariant an order must hold to enter the book at now.
func (o *Order) Validate(now time.Time) error {
	if err := o.validateFields(); err != nil {
		return err
	}
	if !o.expiry.IsZero() && !o.expiry.After(now) {
		return fmt.Errorf("%w: expiry must be in the future", ErrInvalidOrder)
	}
	return nil
}

type orderWire struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId"`
	Symbol      string          `json:"symbol"`
	OrderSide   Side            `json:"orderSide"`
	OrderType   OrderType       `json:"orderType"`
	OrderStatus *Status         `json:"orderStatus,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	OrderExpiry *time.Time      `json:"orderExpiry,omitempty"`
	APIKey      string          `json:"apiKey,omitempty"`
	Signature   string          `json:"signature,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for Order.
// Prices and quantities are emitted as JSON numbers.
func (o *Order) MarshalJSON() ([]byte, error) {
	type OrderJSON struct {
		ID          string      `json:"id"`
		OrderID     string      `json:"orderId"`
		Symbol      string      `json:"symbol"`
		OrderSide   Side        `json:"orderSide"`
		OrderType   OrderType   `json:"orderType"`
		OrderStatus Status      `json:"orderStatus"`
		Price       json.Number `json:"price"`
		Qty         json.Number `json:"qty"`
		OrderExpiry *time.Time  `json:"orderExpiry,omitempty"`
		APIKey      string      `json:"apiKey"`
		Signature   string      `json:"signature"`
		Timestamp   string      `json:"timestamp"`
	}

	out := OrderJSON{
		ID:          o.id,
		OrderID:     o.orderID,
		Symbol:      o.symbol,
		OrderSide:   o.side,
		OrderType:   o.orderType,
		OrderStatus: o.status,
		Price:       json.Number(o.price.String()),
		Qty:         json.Number(o.qty.String()),
		APIKey:      o.apiKey,
		Signature:   o.signature,
		Timestamp:   o.timestamp,
	}
	if !o.expiry.IsZero() {
		expiry := o.expiry.UTC()
		out.OrderExpiry = &expiry
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements custom JSON unmarshaling for Order.
// A missing orderStatus decodes as PENDING.
func (o *Order) UnmarshalJSON(data []byte) error {
	var in orderWire
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	o.id = in.ID
	o.orderID = in.OrderID
	o.symbol = in.Symbol
	o.side = in.OrderSide
	o.orderType = in.OrderType
	o.status = StatusPending
	if in.OrderStatus != nil {
		o.status = *in.OrderStatus
	}
	o.price = in.Price
	o.qty = in.Qty
	o.expiry = time.Time{}
	if in.OrderExpiry != nil {
		o.expiry = *in.OrderExpiry
	}
	o.apiKey = in.APIKey
	o.signature = in.Signature
	o.timestamp = in.Timestamp
	return nil
}

// Terms are the price and quantity a settled order is recorded at.
type Terms struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// Total returns price * qty
func (t Terms) Total() decimal.Decimal { return t.Price.Mul(t.Qty) }

// MarshalJSON emits price, qty and total as JSON numbers.
func (t Terms) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Price json.Number `json:"price"`
		Qty   json.Number `json:"qty"`
		Total json.Number `json:"total"`
	}{
		Price: json.Number(t.Price.String()),
		Qty:   json.Number(t.Qty.String()),
		Total: json.Number(t.Total().String()),
	})
}
