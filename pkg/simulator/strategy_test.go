package simulator

import (
	"testing"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/gateway"
	"github.com/erain9/orderdesk/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		ListenAddr: ":0",
		Markets: []SymbolPrice{
			{Symbol: "BTCUSDT", Price: testutil.Dec("45000")},
			{Symbol: "ETHUSDT", Price: testutil.Dec("2500")},
		},
		PriceInterval:     time.Hour,
		OrderInterval:     time.Hour,
		ChurnInterval:     time.Hour,
		PriceDrift:        testutil.Dec("100"),
		PriceSpread:       testutil.Dec("500"),
		MaxQty:            testutil.Dec("2"),
		CancelProbability: 0.3,
		APIKey:            "simulator_key",
	}
}

func within(t *testing.T, got, mid, limit decimal.Decimal) {
	t.Helper()
	assert.True(t, got.GreaterThanOrEqual(mid.Sub(limit)) && got.LessThanOrEqual(mid.Add(limit)),
		"%s not within %s of %s", got, limit, mid)
}

func TestRandomFlowNextPrice(t *testing.T) {
	s := NewRandomFlow(testConfig(), 1)

	current := testutil.Dec("45000")
	for i := 0; i < 200; i++ {
		next := s.NextPrice(current)
		within(t, next, current, testutil.Dec("100"))
		assert.True(t, next.Equal(next.Round(2)), "%s has more than two decimals", next)
		current = next
	}

	t.Run("never reaches zero", func(t *testing.T) {
		tiny := testutil.Dec("0.01")
		for i := 0; i < 50; i++ {
			assert.True(t, s.NextPrice(tiny).IsPositive())
		}
	})
}

func TestRandomFlowNewOrder(t *testing.T) {
	s := NewRandomFlow(testConfig(), 7)
	s.newID = func() string { return "0123456789abcdef-0000" }
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mid := testutil.Dec("45000")
	sides := map[core.Side]int{}
	for i := 0; i < 100; i++ {
		order, err := s.NewOrder("BTCUSDT", mid, now)
		require.NoError(t, err)

		assert.Equal(t, "0123456789abcdef-0000", order.ID())
		assert.Equal(t, order.ID(), order.OrderID())
		assert.Equal(t, "SIM_01234567", order.Signature())
		assert.Equal(t, "simulator_key", order.APIKey())
		assert.Equal(t, "2024-03-01T12:00:00Z", order.Timestamp())
		assert.Equal(t, core.StatusPending, order.Status())
		assert.Equal(t, core.TypeLimit, order.Type())
		within(t, order.Price(), mid, testutil.Dec("500"))
		assert.True(t, order.Qty().IsPositive())
		assert.True(t, order.Qty().LessThanOrEqual(testutil.Dec("2")))
		assert.True(t, order.Qty().Equal(order.Qty().Round(4)))
		sides[order.Side()]++
	}
	assert.NotZero(t, sides[core.Buy])
	assert.NotZero(t, sides[core.Sell])
}

func TestRandomFlowChurn(t *testing.T) {
	now := time.Now()
	prices := map[string]decimal.Decimal{"BTCUSDT": testutil.Dec("45000")}
	known := []KnownOrder{{OrderID: "a", Symbol: "BTCUSDT"}, {OrderID: "b", Symbol: "BTCUSDT"}}

	t.Run("cancels a known order", func(t *testing.T) {
		cfg := testConfig()
		cfg.CancelProbability = 1
		ev := NewRandomFlow(cfg, 3).Churn(known, prices, now)
		assert.Equal(t, gateway.EventCancelOrder, ev.Type)
		assert.Contains(t, []string{"a", "b"}, ev.OrderID)
	})

	t.Run("reprices a known order", func(t *testing.T) {
		cfg := testConfig()
		cfg.CancelProbability = 0
		ev := NewRandomFlow(cfg, 3).Churn(known, prices, now)
		assert.Equal(t, gateway.EventUpdateOrder, ev.Type)
		assert.Contains(t, []string{"a", "b"}, ev.OrderID)
		require.NotNil(t, ev.UpdatedProps)
		require.NotNil(t, ev.UpdatedProps.Price)
		within(t, *ev.UpdatedProps.Price, prices["BTCUSDT"], testutil.Dec("500"))
		require.NotNil(t, ev.UpdatedProps.Qty)
		assert.True(t, ev.UpdatedProps.Qty.IsPositive())
		assert.Nil(t, ev.UpdatedProps.Status)
	})

	t.Run("nothing known", func(t *testing.T) {
		s := NewRandomFlow(testConfig(), 3)
		s.newID = func() string { return "fresh" }
		ev := s.Churn(nil, prices, now)
		assert.Equal(t, gateway.EventCancelOrder, ev.Type)
		assert.Equal(t, "fresh", ev.OrderID)
	})

	t.Run("unpriced market", func(t *testing.T) {
		cfg := testConfig()
		cfg.CancelProbability = 0
		ev := NewRandomFlow(cfg, 3).Churn([]KnownOrder{{OrderID: "x", Symbol: "DOGEUSDT"}}, prices, now)
		assert.Equal(t, gateway.EventCancelOrder, ev.Type)
		assert.Equal(t, "x", ev.OrderID)
	})
}

func TestRandomFlowPickSymbol(t *testing.T) {
	s := NewRandomFlow(testConfig(), 11)
	assert.Empty(t, s.PickSymbol(nil))

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[s.PickSymbol([]string{"BTCUSDT", "ETHUSDT"})] = true
	}
	assert.Equal(t, map[string]bool{"BTCUSDT": true, "ETHUSDT": true}, seen)
}
