package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/shopspring/decimal"
)

// OrderQueue represents a price level in the order book. Orders are kept in
// sequence order within the level.
type OrderQueue struct {
	orders    []*core.Order
	priceStr  string
	priceDecm decimal.Decimal
	next      *OrderQueue
	prev      *OrderQueue
}

// NewOrderQueue creates a new OrderQueue with the given price
func NewOrderQueue(price decimal.Decimal) *OrderQueue {
	return &OrderQueue{
		priceStr:  price.String(),
		priceDecm: price,
	}
}

func (q *OrderQueue) remove(orderID string) bool {
	for i, o := range q.orders {
		if o.OrderID() == orderID {
			q.orders = append(q.orders[:i], q.orders[i+1:]...)
			return true
		}
	}
	return false
}

// insert places order by its sequence, so an order that leaves a level and
// comes back regains its original position.
func (q *OrderQueue) insert(order *core.Order) {
	i := sort.Search(len(q.orders), func(i int) bool {
		return q.orders[i].Sequence() > order.Sequence()
	})
	q.orders = append(q.orders, nil)
	copy(q.orders[i+1:], q.orders[i:])
	q.orders[i] = order
}

func (q *OrderQueue) replace(order *core.Order) bool {
	for i, o := range q.orders {
		if o.OrderID() == order.OrderID() {
			q.orders[i] = order
			return true
		}
	}
	return false
}

// OrderSide represents one side (bid/ask) of the order book as a linked list
// of price levels, best price at the head.
type OrderSide struct {
	side    core.Side
	head    *OrderQueue
	tail    *OrderQueue
	levels  map[string]*OrderQueue
	orderID map[string]*OrderQueue
}

func newOrderSide(side core.Side) *OrderSide {
	return &OrderSide{
		side:    side,
		levels:  make(map[string]*OrderQueue),
		orderID: make(map[string]*OrderQueue),
	}
}

// String implements fmt.Stringer interface
func (os *OrderSide) String() string {
	sb := strings.Builder{}
	for current := os.head; current != nil; current = current.next {
		sb.WriteString(fmt.Sprintf("\n%s -> orders: %d", current.priceStr, len(current.orders)))
	}
	return sb.String()
}

// Prices returns all prices in the order side, best first
func (os *OrderSide) Prices() []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, len(os.levels))
	for current := os.head; current != nil; current = current.next {
		prices = append(prices, current.priceDecm)
	}
	return prices
}

// Orders returns all orders, best price first
func (os *OrderSide) Orders() []*core.Order {
	orders := make([]*core.Order, 0, len(os.orderID))
	for current := os.head; current != nil; current = current.next {
		orders = append(orders, current.orders...)
	}
	return orders
}

// better reports whether price a ranks ahead of price b on this side
func (os *OrderSide) better(a, b decimal.Decimal) bool {
	if os.side == core.Buy {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (os *OrderSide) append(order *core.Order) {
	price := order.Price()
	priceStr := price.String()

	if q, ok := os.levels[priceStr]; ok {
		q.insert(order)
		os.orderID[order.OrderID()] = q
		return
	}

	newQueue := NewOrderQueue(price)
	newQueue.orders = append(newQueue.orders, order)
	os.levels[priceStr] = newQueue
	os.orderID[order.OrderID()] = newQueue

	if os.head == nil {
		os.head = newQueue
		os.tail = newQueue
		return
	}

	// walk to the first level this price beats
	current := os.head
	for current != nil && !os.better(price, current.priceDecm) {
		current = current.next
	}
	if current == nil {
		newQueue.prev = os.tail
		os.tail.next = newQueue
		os.tail = newQueue
		return
	}
	newQueue.next = current
	newQueue.prev = current.prev
	if current.prev != nil {
		current.prev.next = newQueue
	} else {
		os.head = newQueue
	}
	current.prev = newQueue
}

func (os *OrderSide) remove(orderID string) bool {
	q, ok := os.orderID[orderID]
	if !ok {
		return false
	}
	delete(os.orderID, orderID)
	q.remove(orderID)
	if len(q.orders) > 0 {
		return true
	}

	delete(os.levels, q.priceStr)
	if q.prev != nil {
		q.prev.next = q.next
	} else {
		os.head = q.next
	}
	if q.next != nil {
		q.next.prev = q.prev
	} else {
		os.tail = q.prev
	}
	return true
}

// MemoryBackend implements OrderBookBackend interface with in-memory storage
type MemoryBackend struct {
	sync.RWMutex
	orders      map[string]*core.Order
	submissions map[string]string
	bids        *OrderSide
	asks        *OrderSide
	sequence    uint64
}

// NewMemoryBackend creates new instance of MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		orders:      make(map[string]*core.Order),
		submissions: make(map[string]string),
		bids:        newOrderSide(core.Buy),
		asks:        newOrderSide(core.Sell),
	}
}

func (b *MemoryBackend) sideFor(side core.Side) *OrderSide {
	if side == core.Buy {
		return b.bids
	}
	return b.asks
}

// GetOrder retrieves an order by orderId
func (b *MemoryBackend) GetOrder(orderID string) *core.Order {
	b.RLock()
	defer b.RUnlock()
	return b.orders[orderID]
}

// HasSubmission reports whether the submission id is taken
func (b *MemoryBackend) HasSubmission(id string) bool {
	b.RLock()
	defer b.RUnlock()
	_, ok := b.submissions[id]
	return ok
}

// StoreOrder stores an order and places it on its side
func (b *MemoryBackend) StoreOrder(order *core.Order) error {
	b.Lock()
	defer b.Unlock()

	if _, exists := b.orders[order.OrderID()]; exists {
		return core.ErrDuplicateOrder
	}
	if _, exists := b.submissions[order.ID()]; exists {
		return core.ErrDuplicateOrder
	}

	b.sequence++
	order.SetSequence(b.sequence)
	b.orders[order.OrderID()] = order
	b.submissions[order.ID()] = order.OrderID()
	b.sideFor(order.Side()).append(order)
	return nil
}

// UpdateOrder replaces an existing order, moving it between price levels or
// sides when its price or side changed
func (b *MemoryBackend) UpdateOrder(order *core.Order) error {
	b.Lock()
	defer b.Unlock()

	existing, exists := b.orders[order.OrderID()]
	if !exists {
		return core.ErrUnknownOrder
	}

	order.SetSequence(existing.Sequence())
	b.orders[order.OrderID()] = order

	if existing.Side() == order.Side() && existing.Price().Equal(order.Price()) {
		b.sideFor(order.Side()).orderID[order.OrderID()].replace(order)
		return nil
	}

	b.sideFor(existing.Side()).remove(order.OrderID())
	b.sideFor(order.Side()).append(order)
	return nil
}

// Orders returns every order on a side, best price first
func (b *MemoryBackend) Orders(side core.Side) []*core.Order {
	b.RLock()
	defer b.RUnlock()
	return b.sideFor(side).Orders()
}

// Clear removes every order
func (b *MemoryBackend) Clear() error {
	b.Lock()
	defer b.Unlock()

	b.orders = make(map[string]*core.Order)
	b.submissions = make(map[string]string)
	b.bids = newOrderSide(core.Buy)
	b.asks = newOrderSide(core.Sell)
	return nil
}

// GetBids returns bid side
func (b *MemoryBackend) GetBids() *OrderSide {
	return b.bids
}

// GetAsks returns ask side
func (b *MemoryBackend) GetAsks() *OrderSide {
	return b.asks
}

// String implements fmt.Stringer interface
func (b *MemoryBackend) String() string {
	b.RLock()
	defer b.RUnlock()
	return "Asks:" + b.asks.String() + "\nBids:" + b.bids.String()
}
