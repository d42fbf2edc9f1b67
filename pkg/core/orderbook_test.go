package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBackend implements the OrderBookBackend interface for testing
type mockBackend struct {
	orders      map[string]*Order
	submissions map[string]bool
	seq         uint64
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		orders:      make(map[string]*Order),
		submissions: make(map[string]bool),
	}
}

func (m *mockBackend) GetOrder(orderID string) *Order { return m.orders[orderID] }

func (m *mockBackend) HasSubmission(id string) bool { return m.submissions[id] }

func (m *mockBackend) StoreOrder(order *Order) error {
	m.seq++
	order.SetSequence(m.seq)
	m.orders[order.OrderID()] = order
	m.submissions[order.ID()] = true
	return nil
}

func (m *mockBackend) UpdateOrder(order *Order) error {
	if _, ok := m.orders[order.OrderID()]; !ok {
		return ErrUnknownOrder
	}
	m.orders[order.OrderID()] = order
	return nil
}

func (m *mockBackend) Orders(side Side) []*Order {
	var out []*Order
	for _, o := range m.orders {
		if o.Side() == side {
			out = append(out, o)
		}
	}
	SortOrders(side, out)
	return out
}

func (m *mockBackend) Clear() error {
	m.orders = make(map[string]*Order)
	m.submissions = make(map[string]bool)
	return nil
}

type staticPrices struct {
	prices map[string]decimal.Decimal
	resets int
}

func (s *staticPrices) Prices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

func (s *staticPrices) Reset() {
	s.resets++
	s.prices = map[string]decimal.Decimal{}
}

var testNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestBook(opts ...Option) (*OrderBook, *mockBackend) {
	backend := newMockBackend()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewOrderBook(backend, opts...), backend
}

func testOrder(t testing.TB, id string, side Side, price, qty string) *Order {
	t.Helper()
	o, err := NewOrder(OrderParams{
		ID:      "sub-" + id,
		OrderID: id,
		Symbol:  "BTCUSDT",
		Side:    side,
		Type:    TypeLimit,
		Price:   dec(price),
		Qty:     dec(qty),
	})
	require.NoError(t, err)
	return o
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	book, backend := newTestBook()

	created, err := book.CreateOrder(ctx, testOrder(t, "o-1", Buy, "100", "10"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status())
	assert.Equal(t, testNow.Add(DefaultOrderTTL), created.Expiry())
	assert.Len(t, backend.orders, 1)

	t.Run("duplicate is rejected and store unchanged", func(t *testing.T) {
		_, err := book.CreateOrder(ctx, testOrder(t, "o-1", Buy, "100", "10"))
		assert.ErrorIs(t, err, ErrDuplicateOrder)
		assert.Len(t, backend.orders, 1)
		assert.Len(t, book.Query("BTCUSDT", FilterAll).BuyOrders, 1)
	})

	t.Run("duplicate submission id", func(t *testing.T) {
		o := testOrder(t, "o-2", Sell, "100", "10")
		o.id = "sub-o-1"
		_, err := book.CreateOrder(ctx, o)
		assert.ErrorIs(t, err, ErrDuplicateOrder)
	})

	t.Run("returned order is a copy", func(t *testing.T) {
		created.price = dec("1")
		got, ok := book.GetOrder("o-1")
		require.True(t, ok)
		assert.Equal(t, "100", got.Price().String())
	})
}

func TestCreateOrderInvalid(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(o *Order)
	}{
		{"zero price", func(o *Order) { o.price = decimal.Zero }},
		{"negative qty", func(o *Order) { o.qty = dec("-3") }},
		{"past expiry", func(o *Order) { o.expiry = testNow.Add(-time.Minute) }},
		{"expiry equal to now", func(o *Order) { o.expiry = testNow }},
		{"terminal status", func(o *Order) { o.status = StatusFulfilled }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book, backend := newTestBook()
			o := testOrder(t, "o-1", Buy, "100", "10")
			tt.mutate(o)

			_, err := book.CreateOrder(ctx, o)
			assert.ErrorIs(t, err, ErrInvalidOrder)
			assert.Empty(t, backend.orders)
		})
	}
}

func TestCreateOrderKeepsExplicitExpiry(t *testing.T) {
	book, _ := newTestBook(WithDefaultTTL(time.Hour))
	o := testOrder(t, "o-1", Buy, "100", "10")
	o.expiry = testNow.Add(5 * time.Minute)

	created, err := book.CreateOrder(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(5*time.Minute), created.Expiry())
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	book, _ := newTestBook()
	_, err := book.CreateOrder(ctx, testOrder(t, "o-1", Sell, "100", "10"))
	require.NoError(t, err)

	first, err := book.CancelOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, first.Status())

	second, err := book.CancelOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, first.Status(), second.Status())

	_, err = book.CancelOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestUpdateOrder(t *testing.T) {
	ctx := context.Background()
	book, _ := newTestBook()
	_, err := book.CreateOrder(ctx, testOrder(t, "o-1", Buy, "100", "10"))
	require.NoError(t, err)

	price := dec("101")
	updated, err := book.UpdateOrder(ctx, "o-1", OrderPatch{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "101", updated.Price().String())
	assert.Equal(t, "10", updated.Qty().String())

	t.Run("invalid result is rejected", func(t *testing.T) {
		zero := decimal.Zero
		_, err := book.UpdateOrder(ctx, "o-1", OrderPatch{Qty: &zero})
		assert.ErrorIs(t, err, ErrInvalidOrder)
		got, _ := book.GetOrder("o-1")
		assert.Equal(t, "10", got.Qty().String())
	})

	t.Run("past expiry is rejected", func(t *testing.T) {
		past := testNow.Add(-time.Hour)
		_, err := book.UpdateOrder(ctx, "o-1", OrderPatch{Expiry: &past})
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})

	t.Run("status change is rejected", func(t *testing.T) {
		fulfilled := StatusFulfilled
		_, err := book.UpdateOrder(ctx, "o-1", OrderPatch{Status: &fulfilled})
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := book.UpdateOrder(ctx, "missing", OrderPatch{Price: &price})
		assert.ErrorIs(t, err, ErrUnknownOrder)
	})

	t.Run("terminal order is rejected", func(t *testing.T) {
		_, err := book.CancelOrder(ctx, "o-1")
		require.NoError(t, err)
		_, err = book.UpdateOrder(ctx, "o-1", OrderPatch{Price: &price})
		assert.ErrorIs(t, err, ErrTerminalOrder)
	})
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	book, _ := newTestBook()

	for _, o := range []*Order{
		testOrder(t, "b-1", Buy, "100", "1"),
		testOrder(t, "b-2", Buy, "105", "1"),
		testOrder(t, "s-1", Sell, "110", "1"),
		testOrder(t, "s-2", Sell, "108", "1"),
	} {
		_, err := book.CreateOrder(ctx, o)
		require.NoError(t, err)
	}
	eth := testOrder(t, "e-1", Buy, "2500", "1")
	eth.symbol = "ETHUSDT"
	_, err := book.CreateOrder(ctx, eth)
	require.NoError(t, err)

	_, err = book.CancelOrder(ctx, "b-1")
	require.NoError(t, err)

	all := book.Query("BTCUSDT", FilterAll)
	require.Len(t, all.BuyOrders, 2)
	assert.Equal(t, "b-2", all.BuyOrders[0].OrderID())
	require.Len(t, all.SellOrders, 2)
	assert.Equal(t, "s-2", all.SellOrders[0].OrderID())

	pending := book.Query("BTCUSDT", FilterPending)
	assert.Len(t, pending.BuyOrders, 1)
	assert.Len(t, pending.SellOrders, 2)

	closed := book.Query("BTCUSDT", FilterClosed)
	require.Len(t, closed.BuyOrders, 1)
	assert.Equal(t, "b-1", closed.BuyOrders[0].OrderID())
	assert.Empty(t, closed.SellOrders)

	assert.Len(t, book.Query("", FilterAll).BuyOrders, 3)
	assert.Len(t, book.Query("ETHUSDT", FilterAll).Side(Buy), 1)
}

func TestParseFilter(t *testing.T) {
	for in, want := range map[string]Filter{"": FilterAll, "all": FilterAll, "pending": FilterPending, "closed": FilterClosed} {
		got, err := ParseFilter(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFilter("open")
	assert.Error(t, err)
}

func TestFulfillPair(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *OrderBook {
		book, _ := newTestBook()
		_, err := book.CreateOrder(ctx, testOrder(t, "buy", Buy, "100", "10"))
		require.NoError(t, err)
		_, err = book.CreateOrder(ctx, testOrder(t, "sell", Sell, "110", "9"))
		require.NoError(t, err)
		return book
	}

	t.Run("adjusted terms only touch the reference", func(t *testing.T) {
		book := setup(t)
		ref, counter, err := book.FulfillPair(ctx, "buy", "sell", func(reference, counter *Order) (*Terms, error) {
			return &Terms{Price: counter.Price(), Qty: counter.Qty()}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, StatusFulfilled, ref.Status())
		assert.Equal(t, StatusFulfilled, counter.Status())
		assert.Equal(t, "110", ref.Price().String())
		assert.Equal(t, "9", ref.Qty().String())
		assert.Equal(t, "110", counter.Price().String())
		assert.Equal(t, "9", counter.Qty().String())
	})

	t.Run("no terms keeps prices", func(t *testing.T) {
		book := setup(t)
		ref, _, err := book.FulfillPair(ctx, "buy", "sell", nil)
		require.NoError(t, err)
		assert.Equal(t, "100", ref.Price().String())
	})

	t.Run("second confirm is rejected and nothing changes", func(t *testing.T) {
		book := setup(t)
		_, _, err := book.FulfillPair(ctx, "buy", "sell", nil)
		require.NoError(t, err)

		_, _, err = book.FulfillPair(ctx, "buy", "sell", func(_, _ *Order) (*Terms, error) {
			return &Terms{Price: dec("1"), Qty: dec("1")}, nil
		})
		assert.ErrorIs(t, err, ErrTerminalOrder)
		got, _ := book.GetOrder("buy")
		assert.Equal(t, "100", got.Price().String())
	})

	t.Run("terminal counter leaves reference pending", func(t *testing.T) {
		book := setup(t)
		_, err := book.CancelOrder(ctx, "sell")
		require.NoError(t, err)

		_, _, err = book.FulfillPair(ctx, "buy", "sell", nil)
		assert.ErrorIs(t, err, ErrTerminalOrder)
		got, _ := book.GetOrder("buy")
		assert.Equal(t, StatusPending, got.Status())
	})

	t.Run("unknown and self matches", func(t *testing.T) {
		book := setup(t)
		_, _, err := book.FulfillPair(ctx, "buy", "ghost", nil)
		assert.ErrorIs(t, err, ErrUnknownOrder)
		_, _, err = book.FulfillPair(ctx, "buy", "buy", nil)
		assert.ErrorIs(t, err, ErrNotCandidate)
	})

	t.Run("settle error aborts", func(t *testing.T) {
		book := setup(t)
		_, _, err := book.FulfillPair(ctx, "buy", "sell", func(_, _ *Order) (*Terms, error) {
			return nil, ErrAdjustmentRequired
		})
		assert.ErrorIs(t, err, ErrAdjustmentRequired)
		got, _ := book.GetOrder("sell")
		assert.Equal(t, StatusPending, got.Status())
	})
}

func TestSnapshotAndReset(t *testing.T) {
	ctx := context.Background()
	prices := &staticPrices{prices: map[string]decimal.Decimal{"BTCUSDT": dec("45000")}}
	book, _ := newTestBook(WithPriceReader(prices))

	_, err := book.CreateOrder(ctx, testOrder(t, "b", Buy, "100", "1"))
	require.NoError(t, err)
	_, err = book.CreateOrder(ctx, testOrder(t, "s", Sell, "100", "1"))
	require.NoError(t, err)

	snap := book.Snapshot()
	assert.Len(t, snap.BuyOrders, 1)
	assert.Len(t, snap.SellOrders, 1)
	assert.Equal(t, "45000", snap.Prices["BTCUSDT"].String())

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"prices":{"BTCUSDT":45000}`)

	require.NoError(t, book.Reset(ctx))
	snap = book.Snapshot()
	assert.Empty(t, snap.BuyOrders)
	assert.Empty(t, snap.Prices)
	assert.Equal(t, 1, prices.resets)

	// ids are free again after a reset
	_, err = book.CreateOrder(ctx, testOrder(t, "b", Buy, "100", "1"))
	assert.NoError(t, err)
}

func TestSubscribeReceivesChangesInOrder(t *testing.T) {
	ctx := context.Background()
	book, _ := newTestBook()

	changes, release := book.Subscribe(16)
	defer release()

	_, err := book.CreateOrder(ctx, testOrder(t, "b", Buy, "100", "1"))
	require.NoError(t, err)
	_, err = book.CreateOrder(ctx, testOrder(t, "s", Sell, "100", "1"))
	require.NoError(t, err)
	qty := dec("2")
	_, err = book.UpdateOrder(ctx, "b", OrderPatch{Qty: &qty})
	require.NoError(t, err)
	_, _, err = book.FulfillPair(ctx, "b", "s", nil)
	require.NoError(t, err)
	require.NoError(t, book.Reset(ctx))

	var kinds []ChangeKind
	for i := 0; i < 6; i++ {
		select {
		case c := <-changes:
			kinds = append(kinds, c.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %v", kinds)
		}
	}
	assert.Equal(t, []ChangeKind{ChangeCreated, ChangeCreated, ChangeUpdated, ChangeFulfilled, ChangeFulfilled, ChangeReset}, kinds)
}

func TestSubscribeSlowSubscriberDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	book, _ := newTestBook()

	changes, release := book.Subscribe(1)
	for i := 0; i < 5; i++ {
		_, err := book.CreateOrder(ctx, testOrder(t, fmt.Sprintf("o-%d", i), Buy, "100", "1"))
		require.NoError(t, err)
	}
	assert.Len(t, changes, 1)

	release()
	release()
	_, open := <-changes
	assert.True(t, open) // buffered change still readable
	_, open = <-changes
	assert.False(t, open)
}

func TestConcurrentCreates(t *testing.T) {
	ctx := context.Background()

	t.Run("distinct ids all succeed", func(t *testing.T) {
		book, _ := newTestBook()
		var wg sync.WaitGroup
		for producer := 0; producer < 2; producer++ {
			wg.Add(1)
			go func(producer int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					_, err := book.CreateOrder(ctx, testOrder(t, fmt.Sprintf("p%d-%d", producer, i), Side(i%2), "100", "1"))
					assert.NoError(t, err)
				}
			}(producer)
		}
		wg.Wait()

		view := book.Query("BTCUSDT", FilterAll)
		assert.Equal(t, 100, len(view.BuyOrders)+len(view.SellOrders))
	})

	t.Run("same id succeeds exactly once", func(t *testing.T) {
		book, _ := newTestBook()
		var successes, duplicates int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := book.CreateOrder(ctx, testOrder(t, "same", Buy, "100", "1"))
				if err == nil {
					atomic.AddInt32(&successes, 1)
				} else if assert.ErrorIs(t, err, ErrDuplicateOrder) {
					atomic.AddInt32(&duplicates, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes)
		assert.Equal(t, int32(15), duplicates)
	})
}
