package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Binance REST API
const DefaultBaseURL = "https://api.binance.com"

// Client lists tradable symbols
type Client struct {
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
	} `json:"symbols"`
}

// NewClient creates a client for baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log.With().Str("component", "asset_client").Logger(),
	}
}

// Symbols returns the unique symbols listed by the exchange, in listing
// order. Any failure is logged and yields an empty list.
func (c *Client) Symbols(ctx context.Context) []string {
	symbols, err := c.fetch(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to fetch asset list")
		return []string{}
	}
	return symbols
}

func (c *Client) fetch(ctx context.Context) ([]string, error) {
	url := c.baseURL + "/api/v3/exchangeInfo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP request returned non-200 status: %d", resp.StatusCode)
	}

	var info exchangeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	seen := make(map[string]struct{}, len(info.Symbols))
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Symbol == "" {
			continue
		}
		if _, ok := seen[s.Symbol]; ok {
			continue
		}
		seen[s.Symbol] = struct{}{}
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}
