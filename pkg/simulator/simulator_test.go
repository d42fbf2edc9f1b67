package simulator

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erain9/orderdesk/pkg/backend/memory"
	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/feed"
	"github.com/erain9/orderdesk/pkg/gateway"
	"github.com/erain9/orderdesk/pkg/testutil"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher map[string]string

func (f stubFetcher) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := f[symbol]
	if !ok {
		return decimal.Zero, assert.AnError
	}
	return decimal.RequireFromString(p), nil
}

func (f stubFetcher) Close() error { return nil }

func startSimulator(t *testing.T, cfg *Config) (*Simulator, string) {
	t.Helper()
	sim := New(cfg, NewRandomFlow(cfg, 42))
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sim.Stop(ctx)
		srv.Close()
	})
	return sim, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) gateway.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := gateway.DecodeEvent(data)
	require.NoError(t, err)
	return ev
}

func TestGreetingAndSubscribe(t *testing.T) {
	_, url := startSimulator(t, testConfig())
	conn := dial(t, url)

	first := readEvent(t, conn)
	assert.Equal(t, gateway.EventPriceUpdate, first.Type)
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, "45000", first.Price.String())

	second := readEvent(t, conn)
	assert.Equal(t, "ETHUSDT", second.Symbol)
	assert.Equal(t, "2500", second.Price.String())

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "SUBSCRIBE", "symbol": "DOGEUSDT"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "SUBSCRIBE", "symbol": "ETHUSDT"}))

	// the unknown symbol gets no reply
	reply := readEvent(t, conn)
	assert.Equal(t, gateway.EventPriceUpdate, reply.Type)
	assert.Equal(t, "ETHUSDT", reply.Symbol)
}

func TestBroadcasts(t *testing.T) {
	sim, url := startSimulator(t, testConfig())
	conn := dial(t, url)
	readEvent(t, conn)
	readEvent(t, conn)

	events := sim.tickPrices()
	require.Len(t, events, 2)
	for _, want := range events {
		got := readEvent(t, conn)
		assert.Equal(t, want.Symbol, got.Symbol)
		assert.True(t, want.Price.Equal(*got.Price))
	}
	assert.True(t, sim.Prices()["BTCUSDT"].Equal(*events[0].Price))

	ev, err := sim.emitOrder()
	require.NoError(t, err)
	got := readEvent(t, conn)
	assert.Equal(t, gateway.EventNewOrder, got.Type)
	require.NotNil(t, got.Order)
	assert.Equal(t, ev.Order.OrderID(), got.Order.OrderID())
	assert.Equal(t, core.StatusPending, got.Order.Status())

	churn := sim.emitChurn()
	got = readEvent(t, conn)
	assert.Equal(t, churn.Type, got.Type)
	assert.Equal(t, ev.Order.OrderID(), got.OrderID)
}

func TestChurnForgetsCancelledOrders(t *testing.T) {
	cfg := testConfig()
	cfg.CancelProbability = 1
	sim := New(cfg, NewRandomFlow(cfg, 5))

	ev, err := sim.emitOrder()
	require.NoError(t, err)

	churn := sim.emitChurn()
	assert.Equal(t, gateway.EventCancelOrder, churn.Type)
	assert.Equal(t, ev.Order.OrderID(), churn.OrderID)
	assert.Empty(t, sim.known)
}

func TestSeed(t *testing.T) {
	sim := New(testConfig(), NewRandomFlow(testConfig(), 1))
	sim.Seed(context.Background(), stubFetcher{"BTCUSDT": "61000.5"})

	prices := sim.Prices()
	assert.Equal(t, "61000.5", prices["BTCUSDT"].String())
	assert.Equal(t, "2500", prices["ETHUSDT"].String())
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.PriceInterval = 10 * time.Millisecond
	sim, url := startSimulator(t, cfg)
	conn := dial(t, url)
	readEvent(t, conn)
	readEvent(t, conn)

	sim.Start(context.Background())
	tick := readEvent(t, conn)
	assert.Equal(t, gateway.EventPriceUpdate, tick.Type)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sim.Stop(ctx))
	assert.Zero(t, sim.Clients())

	// a second stop is harmless
	require.NoError(t, sim.Stop(ctx))
}

func TestGatewayConsumesSimulator(t *testing.T) {
	sim, url := startSimulator(t, testConfig())

	prices := feed.NewPriceCache()
	book := core.NewOrderBook(memory.NewMemoryBackend(), core.WithPriceReader(prices))
	gw := gateway.New(book, prices)

	src := gateway.NewWebsocketSource(url, 50*time.Millisecond, 3)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Consume(ctx, src) }()

	require.Eventually(t, func() bool {
		p, ok := prices.Price("ETHUSDT")
		return ok && p.Equal(testutil.Dec("2500"))
	}, 2*time.Second, 10*time.Millisecond)

	ev, err := sim.emitOrder()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := book.GetOrder(ev.Order.OrderID())
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}
}

func TestEventJSONShape(t *testing.T) {
	sim := New(testConfig(), NewRandomFlow(testConfig(), 9))
	ev, err := sim.emitOrder()
	require.NoError(t, err)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "NEW_ORDER", raw["type"])

	order := raw["order"].(map[string]interface{})
	assert.Equal(t, order["id"], order["orderId"])
	assert.Equal(t, float64(2), order["orderStatus"])
	assert.Equal(t, float64(0), order["orderType"])
	assert.IsType(t, float64(0), order["price"])
	assert.True(t, strings.HasPrefix(order["signature"].(string), "SIM_"))
}
