package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PriceFetcher returns the current market price of a symbol
type PriceFetcher interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// Close releases any resources held by the price fetcher
	Close() error
}

// binancePriceFetcher implements PriceFetcher using the Binance public API
type binancePriceFetcher struct {
	client     *http.Client
	baseURL    string
	maxRetries int
	logger     zerolog.Logger
}

// binanceTickerResponse represents the response from Binance's ticker price endpoint
type binanceTickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// NewPriceFetcher creates a new PriceFetcher that uses the Binance API
func NewPriceFetcher(cfg *Config) PriceFetcher {
	client := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    30 * time.Second,
			DisableCompression: true,
		},
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	return &binancePriceFetcher{
		client:     client,
		baseURL:    cfg.PriceSourceURL,
		maxRetries: retries,
		logger:     log.With().Str("component", "binance_price_fetcher").Logger(),
	}
}

// FetchPrice fetches the current price from Binance's API, retrying with a
// linear backoff.
func (f *binancePriceFetcher) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		price, err := f.fetchOnce(ctx, symbol)
		if err == nil {
			f.logger.Debug().
				Str("symbol", symbol).
				Str("price", price.String()).
				Int("attempt", attempt).
				Msg("Fetched price")
			return price, nil
		}
		lastErr = err
		f.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_retries", f.maxRetries).
			Msg("Price fetch failed")

		if attempt == f.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return decimal.Zero, fmt.Errorf("failed to fetch price after %d attempts: %w", f.maxRetries, lastErr)
}

func (f *binancePriceFetcher) fetchOnce(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", f.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("HTTP request returned non-200 status: %d", resp.StatusCode)
	}

	var ticker binanceTickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode response: %w", err)
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price %q: %w", ticker.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	return price, nil
}

// Close implements PriceFetcher
func (f *binancePriceFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
