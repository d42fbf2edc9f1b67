package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/erain9/orderdesk/pkg/gateway"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// maxKnownOrders bounds how many announced orders churn events can target
const maxKnownOrders = 64

// Simulator emits a synthetic stream of market events over websocket
type Simulator struct {
	cfg      *Config
	logger   zerolog.Logger
	strategy Strategy
	hub      *Hub
	now      func() time.Time

	mu      sync.Mutex
	symbols []string
	prices  map[string]decimal.Decimal
	known   []KnownOrder

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a simulator opening at the configured market prices
func New(cfg *Config, strategy Strategy) *Simulator {
	logger := log.With().Str("component", "simulator").Logger()
	s := &Simulator{
		cfg:      cfg,
		logger:   logger,
		strategy: strategy,
		hub:      NewHub(logger),
		now:      time.Now,
		prices:   make(map[string]decimal.Decimal, len(cfg.Markets)),
		stopCh:   make(chan struct{}),
	}
	for _, m := range cfg.Markets {
		s.symbols = append(s.symbols, m.Symbol)
		s.prices[m.Symbol] = m.Price
	}
	return s
}

// Seed replaces the opening prices with live market prices. Symbols the
// fetcher cannot price keep their configured price.
func (s *Simulator) Seed(ctx context.Context, fetcher PriceFetcher) {
	for _, symbol := range s.symbols {
		price, err := fetcher.FetchPrice(ctx, symbol)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Keeping configured opening price")
			continue
		}
		s.mu.Lock()
		s.prices[symbol] = price
		s.mu.Unlock()
		s.logger.Info().Str("symbol", symbol).Str("price", price.String()).Msg("Seeded opening price")
	}
}

// Prices returns a copy of the current market prices
func (s *Simulator) Prices() map[string]decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

// Clients returns the number of connected clients
func (s *Simulator) Clients() int {
	return s.hub.Clients()
}

// Handler serves the event stream. New clients first receive the current
// price of every market.
func (s *Simulator) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		greeting := make([][]byte, 0, len(s.symbols))
		for _, symbol := range s.symbols {
			if m, err := json.Marshal(gateway.PriceUpdate(symbol, s.prices[symbol])); err == nil {
				greeting = append(greeting, m)
			}
		}
		s.mu.Unlock()

		s.hub.serve(w, r, greeting, s.answerSubscribe)
	})
}

// answerSubscribe replies with the symbol's price; unknown symbols get no reply
func (s *Simulator) answerSubscribe(symbol string) ([]byte, bool) {
	s.mu.Lock()
	price, ok := s.prices[symbol]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	m, err := json.Marshal(gateway.PriceUpdate(symbol, price))
	if err != nil {
		return nil, false
	}
	return m, true
}

// Start begins emitting events
func (s *Simulator) Start(ctx context.Context) {
	s.logger.Info().
		Strs("symbols", s.symbols).
		Dur("price_interval", s.cfg.PriceInterval).
		Dur("order_interval", s.cfg.OrderInterval).
		Dur("churn_interval", s.cfg.ChurnInterval).
		Msg("Starting simulator")

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts event emission and disconnects all clients
func (s *Simulator) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping simulator")
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for simulator to stop: %w", ctx.Err())
	}

	s.hub.CloseAll()
	s.logger.Info().Msg("Simulator stopped")
	return nil
}

func (s *Simulator) run(ctx context.Context) {
	defer s.wg.Done()

	priceTicker := time.NewTicker(s.cfg.PriceInterval)
	orderTicker := time.NewTicker(s.cfg.OrderInterval)
	churnTicker := time.NewTicker(s.cfg.ChurnInterval)
	defer func() {
		priceTicker.Stop()
		orderTicker.Stop()
		churnTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Context cancelled, stopping simulator loop")
			return
		case <-s.stopCh:
			return
		case <-priceTicker.C:
			s.tickPrices()
		case <-orderTicker.C:
			if _, err := s.emitOrder(); err != nil {
				s.logger.Error().Err(err).Msg("Failed to generate order")
			}
		case <-churnTicker.C:
			s.emitChurn()
		}
	}
}

// tickPrices moves every market and broadcasts the new prices
func (s *Simulator) tickPrices() []gateway.Event {
	s.mu.Lock()
	events := make([]gateway.Event, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		next := s.strategy.NextPrice(s.prices[symbol])
		s.prices[symbol] = next
		events = append(events, gateway.PriceUpdate(symbol, next))
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.hub.Broadcast(ev)
	}
	return events
}

// emitOrder announces a new random order and remembers it for churn
func (s *Simulator) emitOrder() (gateway.Event, error) {
	s.mu.Lock()
	symbol := s.strategy.PickSymbol(s.symbols)
	order, err := s.strategy.NewOrder(symbol, s.prices[symbol], s.now())
	if err != nil {
		s.mu.Unlock()
		return gateway.Event{}, err
	}
	s.known = append(s.known, KnownOrder{OrderID: order.OrderID(), Symbol: symbol})
	if len(s.known) > maxKnownOrders {
		s.known = s.known[len(s.known)-maxKnownOrders:]
	}
	s.mu.Unlock()

	ev := gateway.NewOrder(order)
	s.hub.Broadcast(ev)
	s.logger.Debug().Str("order_id", order.OrderID()).Str("symbol", symbol).Msg("Announced order")
	return ev, nil
}

// emitChurn cancels or amends an announced order. Cancelled orders are
// forgotten.
func (s *Simulator) emitChurn() gateway.Event {
	s.mu.Lock()
	known := append([]KnownOrder(nil), s.known...)
	prices := make(map[string]decimal.Decimal, len(s.prices))
	for k, v := range s.prices {
		prices[k] = v
	}
	ev := s.strategy.Churn(known, prices, s.now())
	if ev.Type == gateway.EventCancelOrder {
		for i, k := range s.known {
			if k.OrderID == ev.OrderID {
				s.known = append(s.known[:i], s.known[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	s.hub.Broadcast(ev)
	return ev
}
