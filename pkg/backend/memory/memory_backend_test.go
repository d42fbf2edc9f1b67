package memory

import (
	"fmt"
	"testing"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(t testing.TB, orderID string, side core.Side, price, qty string) *core.Order {
	t.Helper()
	order, err := core.NewOrder(core.OrderParams{
		ID:      "sub-" + orderID,
		OrderID: orderID,
		Symbol:  "BTCUSDT",
		Side:    side,
		Type:    core.TypeLimit,
		Price:   testutil.Dec(price),
		Qty:     testutil.Dec(qty),
	})
	require.NoError(t, err)
	return order
}

func orderIDs(orders []*core.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.OrderID())
	}
	return ids
}

func TestNewMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	assert.NotNil(t, backend)
	assert.NotNil(t, backend.orders)
	assert.NotNil(t, backend.submissions)
	assert.NotNil(t, backend.GetBids())
	assert.NotNil(t, backend.GetAsks())
}

func TestMemoryBackend_OrderOperations(t *testing.T) {
	backend := NewMemoryBackend()
	order := newOrder(t, "o-1", core.Buy, "100", "10")

	require.NoError(t, backend.StoreOrder(order))
	assert.Equal(t, uint64(1), order.Sequence())

	got := backend.GetOrder("o-1")
	require.NotNil(t, got)
	assert.Equal(t, "o-1", got.OrderID())
	assert.True(t, backend.HasSubmission("sub-o-1"))
	assert.False(t, backend.HasSubmission("sub-o-2"))

	t.Run("duplicate orderId", func(t *testing.T) {
		err := backend.StoreOrder(newOrder(t, "o-1", core.Sell, "101", "1"))
		assert.ErrorIs(t, err, core.ErrDuplicateOrder)
	})

	t.Run("update unknown", func(t *testing.T) {
		err := backend.UpdateOrder(newOrder(t, "missing", core.Buy, "1", "1"))
		assert.ErrorIs(t, err, core.ErrUnknownOrder)
	})

	assert.Nil(t, backend.GetOrder("missing"))
}

func TestMemoryBackend_SideOrdering(t *testing.T) {
	backend := NewMemoryBackend()

	for i, p := range []string{"100", "102", "99", "102", "101"} {
		require.NoError(t, backend.StoreOrder(newOrder(t, fmt.Sprintf("b-%d", i), core.Buy, p, "1")))
		require.NoError(t, backend.StoreOrder(newOrder(t, fmt.Sprintf("s-%d", i), core.Sell, p, "1")))
	}

	// bids: best (highest) first, ties in arrival order
	assert.Equal(t, []string{"b-1", "b-3", "b-4", "b-0", "b-2"}, orderIDs(backend.Orders(core.Buy)))
	// asks: best (lowest) first
	assert.Equal(t, []string{"s-2", "s-0", "s-4", "s-1", "s-3"}, orderIDs(backend.Orders(core.Sell)))

	prices := backend.GetBids().Prices()
	require.Len(t, prices, 4)
	assert.Equal(t, "102", prices[0].String())
	assert.Equal(t, "99", prices[3].String())
}

func TestMemoryBackend_UpdateMovesLevels(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.StoreOrder(newOrder(t, "a", core.Buy, "100", "1")))
	require.NoError(t, backend.StoreOrder(newOrder(t, "b", core.Buy, "101", "1")))

	moved := newOrder(t, "a", core.Buy, "105", "1")
	require.NoError(t, backend.UpdateOrder(moved))
	assert.Equal(t, []string{"a", "b"}, orderIDs(backend.Orders(core.Buy)))
	assert.Len(t, backend.GetBids().Prices(), 2)
	assert.Equal(t, uint64(1), backend.GetOrder("a").Sequence())

	flipped := newOrder(t, "b", core.Sell, "101", "1")
	require.NoError(t, backend.UpdateOrder(flipped))
	assert.Equal(t, []string{"a"}, orderIDs(backend.Orders(core.Buy)))
	assert.Equal(t, []string{"b"}, orderIDs(backend.Orders(core.Sell)))

	// same level update replaces in place
	sameLevel := newOrder(t, "a", core.Buy, "105", "3")
	require.NoError(t, backend.UpdateOrder(sameLevel))
	assert.Equal(t, "3", backend.Orders(core.Buy)[0].Qty().String())
}

func TestMemoryBackend_PriceRoundTripKeepsSequence(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.StoreOrder(newOrder(t, "s1", core.Sell, "101", "1")))
	require.NoError(t, backend.StoreOrder(newOrder(t, "s2", core.Sell, "101", "1")))
	require.NoError(t, backend.StoreOrder(newOrder(t, "s3", core.Sell, "101", "1")))

	require.NoError(t, backend.UpdateOrder(newOrder(t, "s1", core.Sell, "102", "1")))
	assert.Equal(t, []string{"s2", "s3", "s1"}, orderIDs(backend.Orders(core.Sell)))

	require.NoError(t, backend.UpdateOrder(newOrder(t, "s2", core.Sell, "102", "1")))
	require.NoError(t, backend.UpdateOrder(newOrder(t, "s1", core.Sell, "101", "1")))
	require.NoError(t, backend.UpdateOrder(newOrder(t, "s2", core.Sell, "101", "1")))
	assert.Equal(t, []string{"s1", "s2", "s3"}, orderIDs(backend.Orders(core.Sell)))
	assert.Len(t, backend.GetAsks().Prices(), 1)
}

func TestMemoryBackend_Clear(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.StoreOrder(newOrder(t, "a", core.Buy, "100", "1")))
	require.NoError(t, backend.StoreOrder(newOrder(t, "b", core.Sell, "100", "1")))

	require.NoError(t, backend.Clear())
	assert.Empty(t, backend.Orders(core.Buy))
	assert.Empty(t, backend.Orders(core.Sell))
	assert.Nil(t, backend.GetOrder("a"))
	assert.False(t, backend.HasSubmission("sub-a"))
}

func TestMemoryBackend_String(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.StoreOrder(newOrder(t, "a", core.Buy, "100", "1")))
	assert.Contains(t, backend.String(), "100 -> orders: 1")
}

func BenchmarkMemoryBackend_StoreOrder(b *testing.B) {
	backend := NewMemoryBackend()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		order := newOrder(b, fmt.Sprintf("order-%d", i), core.Side(i%2), fmt.Sprintf("%d", 100+i%50), "1")
		_ = backend.StoreOrder(order)
	}
}

func BenchmarkMemoryBackend_Orders(b *testing.B) {
	backend := NewMemoryBackend()
	for i := 0; i < 1000; i++ {
		_ = backend.StoreOrder(newOrder(b, fmt.Sprintf("order-%d", i), core.Buy, fmt.Sprintf("%d", 100+i%50), "1"))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = backend.Orders(core.Buy)
	}
}
