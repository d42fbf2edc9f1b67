package core

import "sort"

// OrderBookBackend defines the interface for different backend implementations.
// Backends are not required to be safe for concurrent use; the OrderBook
// serializes every call.
type OrderBookBackend interface {
	// Order operations, keyed by orderId
	GetOrder(orderID string) *Order
	StoreOrder(order *Order) error
	UpdateOrder(order *Order) error

	// HasSubmission reports whether an order with the given submission id exists
	HasSubmission(id string) bool

	// Orders returns every order on a side, best price first
	Orders(side Side) []*Order

	// Clear removes every order
	Clear() error
}

// SortOrders sorts orders best price first: bids by descending price and
// asks by ascending price. Equal prices keep insertion order.
func SortOrders(side Side, orders []*Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if cmp := a.price.Cmp(b.price); cmp != 0 {
			if side == Buy {
				return cmp > 0
			}
			return cmp < 0
		}
		return a.sequence < b.sequence
	})
}
