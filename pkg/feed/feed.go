package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/otel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a symbol connection
type State int

// Connection states
const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PriceSink receives prices read from the streams
type PriceSink interface {
	UpdatePrice(symbol string, price decimal.Decimal) error
}

// Config controls retry behavior
type Config struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxAttempts is the number of consecutive failed dials before a symbol
	// is marked disconnected
	MaxAttempts int
}

// DefaultConfig returns the retry settings used by the server
func DefaultConfig() Config {
	return Config{
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		MaxAttempts: 10,
	}
}

// Backoff returns the delay before retry number attempt (0-based)
func (c Config) Backoff(attempt int) time.Duration {
	delay := c.BaseBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if delay > c.MaxBackoff {
		return c.MaxBackoff
	}
	return delay
}

type connection struct {
	symbol string
	refs   int
	cancel context.CancelFunc
	state  State
	err    error
}

// Feed keeps one shared stream per subscribed symbol and writes every price
// into a PriceSink. Subscriptions are reference counted.
type Feed struct {
	dialer  Dialer
	sink    PriceSink
	cfg     Config
	logger  zerolog.Logger
	metrics *otel.OrderDeskMetrics

	mu     sync.Mutex
	conns  map[string]*connection
	closed bool
	wg     sync.WaitGroup
}

// New creates a Feed
func New(dialer Dialer, sink PriceSink, cfg Config) *Feed {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &Feed{
		dialer:  dialer,
		sink:    sink,
		cfg:     cfg,
		logger:  log.With().Str("component", "price_feed").Logger(),
		metrics: otel.GetOrderDeskMetrics(),
		conns:   make(map[string]*connection),
	}
}

// Subscribe registers interest in symbol and returns the release func. The
// first subscriber opens the connection; later ones share it. A subscriber
// arriving after the retry budget ran out restarts the connection. Release is
// idempotent and returns without waiting for the connection to wind down.
func (f *Feed) Subscribe(symbol string) (func(), error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", core.ErrInvalidOrder)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("feed closed")
	}

	conn, ok := f.conns[symbol]
	if !ok {
		conn = &connection{symbol: symbol}
		f.conns[symbol] = conn
	}
	conn.refs++
	if conn.cancel == nil {
		f.start(conn)
	}

	var once sync.Once
	return func() {
		once.Do(func() { f.release(conn) })
	}, nil
}

// start launches the connection loop. Must hold f.mu.
func (f *Feed) start(conn *connection) {
	ctx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel
	conn.state = StateConnecting
	conn.err = nil

	f.wg.Add(1)
	go f.connectionLoop(ctx, conn)
}

func (f *Feed) release(conn *connection) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conn.refs--
	if conn.refs > 0 {
		return
	}
	if conn.cancel != nil {
		conn.cancel()
	}
	if f.conns[conn.symbol] == conn {
		delete(f.conns, conn.symbol)
	}
	f.logger.Info().Str("symbol", conn.symbol).Msg("Released price stream")
}

func (f *Feed) setState(conn *connection, state State, err error) {
	f.mu.Lock()
	conn.state = state
	conn.err = err
	f.mu.Unlock()
}

func (f *Feed) connectionLoop(ctx context.Context, conn *connection) {
	defer f.wg.Done()
	logger := f.logger.With().Str("symbol", conn.symbol).Logger()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := f.dialer.Dial(ctx, conn.symbol)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			if attempt >= f.cfg.MaxAttempts {
				f.disconnect(conn, err)
				logger.Warn().Err(err).Int("attempts", attempt).Msg("Price stream retry budget exhausted")
				return
			}
			delay := f.cfg.Backoff(attempt - 1)
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Price stream connection failed")
			f.setState(conn, StateReconnecting, err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		attempt = 0
		f.setState(conn, StateConnected, nil)
		logger.Info().Msg("Price stream connected")

		err = f.readLoop(ctx, stream, conn.symbol)
		if ctx.Err() != nil {
			return
		}
		logger.Warn().Err(err).Msg("Price stream dropped")
		f.metrics.RecordFeedReconnect(ctx, conn.symbol)
		f.setState(conn, StateReconnecting, err)
	}
}

// disconnect marks conn as out of retries. The connection stays registered
// so later reads still see the last price and a new subscriber can restart it.
func (f *Feed) disconnect(conn *connection, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn.state = StateDisconnected
	conn.err = fmt.Errorf("%w: %v", core.ErrFeedDisconnected, cause)
	if conn.cancel != nil {
		conn.cancel()
		conn.cancel = nil
	}
}

func (f *Feed) readLoop(ctx context.Context, stream Stream, symbol string) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = stream.Close()
	}()

	for {
		price, err := stream.Next()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.sink.UpdatePrice(symbol, price); err != nil {
			f.logger.Debug().Err(err).Str("symbol", symbol).Msg("Rejected price")
		}
	}
}

// Status describes one symbol connection
type Status struct {
	Symbol      string `json:"symbol"`
	State       State  `json:"-"`
	StateName   string `json:"state"`
	Subscribers int    `json:"subscribers"`
	// Err is the last failure while reconnecting or once disconnected
	Err error `json:"-"`
}

// Status returns the connection status of symbol
func (f *Feed) Status(symbol string) (Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.conns[symbol]
	if !ok {
		return Status{Symbol: symbol, State: StateDisconnected, StateName: StateDisconnected.String()}, false
	}
	return Status{
		Symbol:      symbol,
		State:       conn.state,
		StateName:   conn.state.String(),
		Subscribers: conn.refs,
		Err:         conn.err,
	}, true
}

// Subscribers returns the number of active subscribers for symbol
func (f *Feed) Subscribers(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.conns[symbol]; ok {
		return conn.refs
	}
	return 0
}

// ActiveConnections returns the symbols with a running connection loop
func (f *Feed) ActiveConnections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.conns))
	for symbol, conn := range f.conns {
		if conn.cancel != nil {
			out = append(out, symbol)
		}
	}
	return out
}

// Close stops every connection and waits for the loops to exit
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	for symbol, conn := range f.conns {
		if conn.cancel != nil {
			conn.cancel()
		}
		delete(f.conns, symbol)
	}
	f.mu.Unlock()

	f.wg.Wait()
}
