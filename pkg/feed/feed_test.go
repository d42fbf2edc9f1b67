package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStreamClosed = errors.New("stream closed")

type fakeStream struct {
	prices    chan decimal.Decimal
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{prices: make(chan decimal.Decimal, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Next() (decimal.Decimal, error) {
	select {
	case p, ok := <-s.prices:
		if !ok {
			return decimal.Zero, errStreamClosed
		}
		return p, nil
	case <-s.closed:
		return decimal.Zero, errStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	streams  []*fakeStream
	failures int
	dials    int
}

func (d *fakeDialer) Dial(_ context.Context, symbol string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		return nil, errors.New("connection refused")
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) stream(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.streams) {
		return nil
	}
	return d.streams[i]
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

func testConfig() Config {
	return Config{BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, MaxAttempts: 3}
}

func waitForState(t *testing.T, f *Feed, symbol string, want State) {
	t.Helper()
	assert.Eventually(t, func() bool {
		st, _ := f.Status(symbol)
		return st.State == want
	}, 2*time.Second, 5*time.Millisecond, "symbol %s never reached %s", symbol, want)
}

func TestBackoff(t *testing.T) {
	cfg := Config{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}
	assert.Equal(t, time.Second, cfg.Backoff(0))
	assert.Equal(t, 2*time.Second, cfg.Backoff(1))
	assert.Equal(t, 8*time.Second, cfg.Backoff(3))
	assert.Equal(t, 10*time.Second, cfg.Backoff(4))
	assert.Equal(t, 10*time.Second, cfg.Backoff(60))
}

func TestSubscribeSharesConnection(t *testing.T) {
	dialer := &fakeDialer{}
	cache := NewPriceCache()
	f := New(dialer, cache, testConfig())
	defer f.Close()

	release1, err := f.Subscribe("BTCUSDT")
	require.NoError(t, err)
	release2, err := f.Subscribe("BTCUSDT")
	require.NoError(t, err)

	waitForState(t, f, "BTCUSDT", StateConnected)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, 2, f.Subscribers("BTCUSDT"))

	stream := dialer.stream(0)
	stream.prices <- decimal.RequireFromString("45000.10")
	assert.Eventually(t, func() bool {
		p, ok := cache.Price("BTCUSDT")
		return ok && p.Equal(decimal.RequireFromString("45000.10"))
	}, time.Second, 5*time.Millisecond)

	release1()
	release1()
	assert.Equal(t, 1, f.Subscribers("BTCUSDT"))
	assert.False(t, stream.isClosed())

	release2()
	assert.Eventually(t, stream.isClosed, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.ActiveConnections())
	_, ok := f.Status("BTCUSDT")
	assert.False(t, ok)

	// stale prices stay readable
	_, ok = cache.Price("BTCUSDT")
	assert.True(t, ok)

	// a fresh subscribe opens a new connection
	release3, err := f.Subscribe("BTCUSDT")
	require.NoError(t, err)
	defer release3()
	waitForState(t, f, "BTCUSDT", StateConnected)
	assert.Equal(t, 2, dialer.dialCount())
	assert.NotSame(t, stream, dialer.stream(1))
}

func TestReconnectAfterDrop(t *testing.T) {
	dialer := &fakeDialer{}
	f := New(dialer, NewPriceCache(), testConfig())
	defer f.Close()

	release, err := f.Subscribe("ETHUSDT")
	require.NoError(t, err)
	defer release()
	waitForState(t, f, "ETHUSDT", StateConnected)

	close(dialer.stream(0).prices)
	assert.Eventually(t, func() bool { return dialer.dialCount() == 2 }, time.Second, 5*time.Millisecond)
	waitForState(t, f, "ETHUSDT", StateConnected)
}

func TestRetryBudgetExhausted(t *testing.T) {
	dialer := &fakeDialer{failures: -1}
	cache := NewPriceCache()
	require.NoError(t, cache.UpdatePrice("BTCUSDT", decimal.NewFromInt(45000)))
	f := New(dialer, cache, testConfig())
	defer f.Close()

	release, err := f.Subscribe("BTCUSDT")
	require.NoError(t, err)
	defer release()

	waitForState(t, f, "BTCUSDT", StateDisconnected)
	st, ok := f.Status("BTCUSDT")
	require.True(t, ok)
	assert.ErrorIs(t, st.Err, core.ErrFeedDisconnected)
	assert.Equal(t, 3, dialer.dialCount())
	assert.Empty(t, f.ActiveConnections())

	p, ok := cache.Price("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, "45000", p.String())

	// a new subscriber restarts the connection
	dialer.setFailures(0)
	release2, err := f.Subscribe("BTCUSDT")
	require.NoError(t, err)
	defer release2()
	waitForState(t, f, "BTCUSDT", StateConnected)
	assert.Equal(t, 2, f.Subscribers("BTCUSDT"))
}

func TestConcurrentSubscribeRelease(t *testing.T) {
	dialer := &fakeDialer{}
	f := New(dialer, NewPriceCache(), testConfig())
	defer f.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := f.Subscribe("BTCUSDT")
			if err != nil {
				t.Error(err)
				return
			}
			time.Sleep(time.Millisecond)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, f.Subscribers("BTCUSDT"))
	assert.Empty(t, f.ActiveConnections())
	assert.Eventually(t, func() bool {
		for i := 0; ; i++ {
			s := dialer.stream(i)
			if s == nil {
				return true
			}
			if !s.isClosed() {
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeValidation(t *testing.T) {
	f := New(&fakeDialer{}, NewPriceCache(), testConfig())
	_, err := f.Subscribe("")
	assert.ErrorIs(t, err, core.ErrInvalidOrder)

	f.Close()
	_, err = f.Subscribe("BTCUSDT")
	assert.Error(t, err)
}

func TestPriceCache(t *testing.T) {
	cache := NewPriceCache()
	assert.ErrorIs(t, cache.UpdatePrice("BTCUSDT", decimal.Zero), core.ErrInvalidOrder)
	assert.ErrorIs(t, cache.UpdatePrice("", decimal.NewFromInt(1)), core.ErrInvalidOrder)

	require.NoError(t, cache.UpdatePrice("BTCUSDT", decimal.NewFromInt(45000)))
	require.NoError(t, cache.UpdatePrice("BTCUSDT", decimal.NewFromInt(45100)))
	require.NoError(t, cache.UpdatePrice("ETHUSDT", decimal.NewFromInt(2500)))

	prices := cache.Prices()
	assert.Len(t, prices, 2)
	assert.Equal(t, "45100", prices["BTCUSDT"].String())

	// the returned map is a copy
	delete(prices, "ETHUSDT")
	_, ok := cache.Price("ETHUSDT")
	assert.True(t, ok)

	quote, ok := cache.Quote("BTCUSDT")
	require.True(t, ok)
	data, err := json.Marshal(quote)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"price":45100,`)

	cache.Reset()
	assert.Empty(t, cache.Prices())
}

func TestWebsocketDialer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"24hrTicker","s":"BTCUSDT"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"-1"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"45000.12000000"}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/%s@ticker"
	dialer := NewWebsocketDialer(url, time.Second, time.Second)

	stream, err := dialer.Dial(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	defer stream.Close()

	price, err := stream.Next()
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("45000.12")))
	assert.Equal(t, "/ws/btcusdt@ticker", <-paths)

	_, err = stream.Next()
	assert.Error(t, err)
}

func TestWebsocketDialerDefaults(t *testing.T) {
	d := NewWebsocketDialer("", 0, 0)
	assert.Equal(t, DefaultStreamURL, d.URLTemplate)
}
