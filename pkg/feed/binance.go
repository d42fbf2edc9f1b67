package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultStreamURL is the Binance ticker stream; %s is the lower-case symbol
const DefaultStreamURL = "wss://stream.binance.com:9443/ws/%s@ticker"

// Stream yields successive prices from one connection
type Stream interface {
	// Next blocks until a price arrives or the connection fails
	Next() (decimal.Decimal, error)
	Close() error
}

// Dialer opens a price stream for a symbol
type Dialer interface {
	Dial(ctx context.Context, symbol string) (Stream, error)
}

// tickerMessage is the subset of a 24h ticker frame we read
type tickerMessage struct {
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
}

// WebsocketDialer dials ticker streams with gorilla/websocket
type WebsocketDialer struct {
	URLTemplate      string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
}

// NewWebsocketDialer creates a dialer for urlTemplate, falling back to the
// Binance stream when it is empty.
func NewWebsocketDialer(urlTemplate string, handshakeTimeout, readTimeout time.Duration) *WebsocketDialer {
	if urlTemplate == "" {
		urlTemplate = DefaultStreamURL
	}
	return &WebsocketDialer{
		URLTemplate:      urlTemplate,
		HandshakeTimeout: handshakeTimeout,
		ReadTimeout:      readTimeout,
	}
}

// Dial connects to the stream for symbol
func (d *WebsocketDialer) Dial(ctx context.Context, symbol string) (Stream, error) {
	url := fmt.Sprintf(d.URLTemplate, strings.ToLower(symbol))
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return &websocketStream{conn: conn, symbol: symbol, readTimeout: d.ReadTimeout}, nil
}

type websocketStream struct {
	conn        *websocket.Conn
	symbol      string
	readTimeout time.Duration
}

// Next skips frames that carry no usable price
func (s *websocketStream) Next() (decimal.Decimal, error) {
	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return decimal.Zero, err
		}

		var msg tickerMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.LastPrice == "" {
			log.Debug().Str("symbol", s.symbol).Msg("Skipping malformed ticker frame")
			continue
		}
		price, err := decimal.NewFromString(msg.LastPrice)
		if err != nil || !price.IsPositive() {
			log.Debug().Str("symbol", s.symbol).Str("price", msg.LastPrice).Msg("Skipping invalid ticker price")
			continue
		}
		return price, nil
	}
}

func (s *websocketStream) Close() error {
	return s.conn.Close()
}
