package simulator

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// SymbolPrice is a simulated market and its opening price
type SymbolPrice struct {
	Symbol string
	Price  decimal.Decimal
}

// Config holds all configuration for the simulator service
type Config struct {
	ListenAddr string
	Markets    []SymbolPrice

	// Event cadence
	PriceInterval time.Duration
	OrderInterval time.Duration
	ChurnInterval time.Duration

	// Random walk parameters
	PriceDrift        decimal.Decimal // max absolute change per price tick
	PriceSpread       decimal.Decimal // max distance of an order price from the market price
	MaxQty            decimal.Decimal
	CancelProbability float64
	APIKey            string

	// Optional seeding of opening prices from the Binance REST API
	SeedFromMarket bool
	PriceSourceURL string
	HTTPTimeout    time.Duration
	MaxRetries     int
}

// LoadConfig loads configuration from SIMULATOR_* environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIMULATOR")

	// Set default values
	v.SetDefault("LISTEN_ADDR", ":8081")
	v.SetDefault("MARKETS", "BTCUSDT:45000,ETHUSDT:2500")
	v.SetDefault("PRICE_INTERVAL", "3s")
	v.SetDefault("ORDER_INTERVAL", "5s")
	v.SetDefault("CHURN_INTERVAL", "7s")
	v.SetDefault("PRICE_DRIFT", "100")
	v.SetDefault("PRICE_SPREAD", "500")
	v.SetDefault("MAX_QTY", "2")
	v.SetDefault("CANCEL_PROBABILITY", 0.3)
	v.SetDefault("API_KEY", "simulator_key")
	v.SetDefault("SEED_FROM_MARKET", false)
	v.SetDefault("PRICE_SOURCE_URL", "https://api.binance.com")
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 5)
	v.SetDefault("MAX_RETRIES", 3)

	// Allow environment variables
	v.AutomaticEnv()

	markets, err := ParseMarkets(v.GetString("MARKETS"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	drift, err := decimal.NewFromString(v.GetString("PRICE_DRIFT"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: PRICE_DRIFT: %w", err)
	}
	spread, err := decimal.NewFromString(v.GetString("PRICE_SPREAD"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: PRICE_SPREAD: %w", err)
	}
	maxQty, err := decimal.NewFromString(v.GetString("MAX_QTY"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: MAX_QTY: %w", err)
	}

	cfg := &Config{
		ListenAddr:        v.GetString("LISTEN_ADDR"),
		Markets:           markets,
		PriceInterval:     v.GetDuration("PRICE_INTERVAL"),
		OrderInterval:     v.GetDuration("ORDER_INTERVAL"),
		ChurnInterval:     v.GetDuration("CHURN_INTERVAL"),
		PriceDrift:        drift,
		PriceSpread:       spread,
		MaxQty:            maxQty,
		CancelProbability: v.GetFloat64("CANCEL_PROBABILITY"),
		APIKey:            v.GetString("API_KEY"),
		SeedFromMarket:    v.GetBool("SEED_FROM_MARKET"),
		PriceSourceURL:    v.GetString("PRICE_SOURCE_URL"),
		HTTPTimeout:       time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
		MaxRetries:        v.GetInt("MAX_RETRIES"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseMarkets reads "SYMBOL:PRICE" pairs separated by commas
func ParseMarkets(s string) ([]SymbolPrice, error) {
	var markets []SymbolPrice
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbol, price, ok := strings.Cut(part, ":")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if !ok || symbol == "" {
			return nil, fmt.Errorf("market %q must be SYMBOL:PRICE", part)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil || !p.IsPositive() {
			return nil, fmt.Errorf("market %q has an invalid price", part)
		}
		if seen[symbol] {
			return nil, fmt.Errorf("market %q listed twice", symbol)
		}
		seen[symbol] = true
		markets = append(markets, SymbolPrice{Symbol: symbol, Price: p})
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("MARKETS must not be empty")
	}
	return markets, nil
}

func validateConfig(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}
	if len(cfg.Markets) == 0 {
		return fmt.Errorf("MARKETS must not be empty")
	}
	if cfg.PriceInterval <= 0 || cfg.OrderInterval <= 0 || cfg.ChurnInterval <= 0 {
		return fmt.Errorf("event intervals must be positive")
	}
	if cfg.PriceDrift.IsNegative() || cfg.PriceSpread.IsNegative() {
		return fmt.Errorf("PRICE_DRIFT and PRICE_SPREAD must not be negative")
	}
	if !cfg.MaxQty.IsPositive() {
		return fmt.Errorf("MAX_QTY must be positive")
	}
	if cfg.CancelProbability < 0 || cfg.CancelProbability > 1 {
		return fmt.Errorf("CANCEL_PROBABILITY must be within [0, 1]")
	}
	if cfg.SeedFromMarket && cfg.PriceSourceURL == "" {
		return fmt.Errorf("PRICE_SOURCE_URL must not be empty")
	}
	return nil
}
