package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reconnect defaults for the simulator connection
const (
	DefaultReconnectInterval = 3 * time.Second
	DefaultReconnectAttempts = 10
)

// ErrSourceClosed is returned by Next after Close
var ErrSourceClosed = errors.New("source closed")

// WebsocketSource reads envelopes from the simulator websocket. Dropped
// connections are re-dialed every ReconnectInterval, giving up after
// ReconnectAttempts consecutive failures.
type WebsocketSource struct {
	url               string
	reconnectInterval time.Duration
	reconnectAttempts int
	dialer            websocket.Dialer
	logger            zerolog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	symbols []string
	closed  bool
}

// NewWebsocketSource creates a source for url. Zero values select the defaults.
func NewWebsocketSource(url string, reconnectInterval time.Duration, reconnectAttempts int) *WebsocketSource {
	if reconnectInterval <= 0 {
		reconnectInterval = DefaultReconnectInterval
	}
	if reconnectAttempts <= 0 {
		reconnectAttempts = DefaultReconnectAttempts
	}
	return &WebsocketSource{
		url:               url,
		reconnectInterval: reconnectInterval,
		reconnectAttempts: reconnectAttempts,
		dialer:            websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:            log.With().Str("component", "simulator_source").Str("url", url).Logger(),
	}
}

type subscribeRequest struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

// Subscribe asks the simulator for the current price of symbol. The request
// is repeated after every reconnect.
func (s *WebsocketSource) Subscribe(symbol string) error {
	s.mu.Lock()
	s.symbols = append(s.symbols, symbol)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.send(conn, symbol)
}

func (s *WebsocketSource) send(conn *websocket.Conn, symbol string) error {
	data, err := json.Marshal(subscribeRequest{Action: "SUBSCRIBE", Symbol: symbol})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// connect dials until it succeeds, the attempt budget runs out or ctx ends
func (s *WebsocketSource) connect(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= s.reconnectAttempts; attempt++ {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = conn.Close()
				return nil, ErrSourceClosed
			}
			s.conn = conn
			symbols := append([]string(nil), s.symbols...)
			s.mu.Unlock()

			s.logger.Info().Int("attempt", attempt).Msg("Connected to simulator")
			for _, symbol := range symbols {
				if err := s.send(conn, symbol); err != nil {
					s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to resend subscription")
				}
			}
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", s.reconnectAttempts).Msg("Simulator connection failed")
		if attempt == s.reconnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.reconnectInterval):
		}
	}
	return nil, fmt.Errorf("%w: %d attempts: %v", core.ErrFeedDisconnected, s.reconnectAttempts, lastErr)
}

func (s *WebsocketSource) current() (*websocket.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.closed
}

func (s *WebsocketSource) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// Next returns the next text frame, reconnecting as needed
func (s *WebsocketSource) Next(ctx context.Context) ([]byte, error) {
	for {
		conn, closed := s.current()
		if closed {
			return nil, ErrSourceClosed
		}
		if conn == nil {
			var err error
			if conn, err = s.connect(ctx); err != nil {
				return nil, err
			}
		}

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		_, data, err := conn.ReadMessage()
		stop()
		if err == nil {
			return data, nil
		}

		s.drop(conn)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("Simulator connection dropped")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.reconnectInterval):
		}
	}
}

// Close closes the current connection; Next fails afterwards
func (s *WebsocketSource) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return conn.Close()
}
