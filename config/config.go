package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/erain9/orderdesk/pkg/assets"
	"github.com/erain9/orderdesk/pkg/db/queue"
	"github.com/erain9/orderdesk/pkg/feed"
	"github.com/erain9/orderdesk/pkg/gateway"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ORDERDESK_KAFKA_ENABLED
const EnvPrefix = "ORDERDESK"

// Match publishers
const (
	ProducerSarama  = "sarama"
	ProducerKafkaGo = "kafka-go"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		HTTPAddr       string   `yaml:"http_addr"`
		LogLevel       string   `yaml:"log_level"`
		LogFormat      string   `yaml:"log_format"`
		LogFile        string   `yaml:"log_file"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Feed struct {
		Enabled          bool          `yaml:"enabled"`
		StreamURL        string        `yaml:"stream_url"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		BaseBackoff      time.Duration `yaml:"base_backoff"`
		MaxBackoff       time.Duration `yaml:"max_backoff"`
		MaxAttempts      int           `yaml:"max_attempts"`
		Symbols          []string      `yaml:"symbols"`
	} `yaml:"feed"`

	Simulator struct {
		Enabled           bool          `yaml:"enabled"`
		URL               string        `yaml:"url"`
		ReconnectInterval time.Duration `yaml:"reconnect_interval"`
		ReconnectAttempts int           `yaml:"reconnect_attempts"`
		Symbols           []string      `yaml:"symbols"`
	} `yaml:"simulator"`

	Kafka struct {
		Enabled        bool   `yaml:"enabled"`
		BrokerAddr     string `yaml:"broker_addr"`
		EventsTopic    string `yaml:"events_topic"`
		MatchesTopic   string `yaml:"matches_topic"`
		ChangesTopic   string `yaml:"changes_topic"`
		GroupID        string `yaml:"group_id"`
		SenderPoolSize int    `yaml:"sender_pool_size"`
		// Producer selects the match publisher: "sarama" (pooled) or "kafka-go"
		Producer string `yaml:"producer"`
	} `yaml:"kafka"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Otel struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"otel"`

	Assets struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"assets"`

	Store struct {
		DefaultTTL time.Duration `yaml:"default_ttl"`
	} `yaml:"store"`

	Gateway struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"gateway"`
}

// Command line flags
var (
	configFile = flag.String("config", "", "Path to config file (YAML)")
	httpPort   = flag.Int("http_port", 8080, "The HTTP server port")
	logLevel   = flag.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log_format", "pretty", "Log format: json, pretty")
)

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	cfg := &Config{}
	cfg.Server.HTTPAddr = ":8080"
	cfg.Server.LogLevel = "info"
	cfg.Server.LogFormat = "pretty"

	fc := feed.DefaultConfig()
	cfg.Feed.Enabled = true
	cfg.Feed.StreamURL = feed.DefaultStreamURL
	cfg.Feed.HandshakeTimeout = 10 * time.Second
	cfg.Feed.ReadTimeout = 60 * time.Second
	cfg.Feed.BaseBackoff = fc.BaseBackoff
	cfg.Feed.MaxBackoff = fc.MaxBackoff
	cfg.Feed.MaxAttempts = fc.MaxAttempts

	cfg.Simulator.URL = "ws://localhost:8081/ws"
	cfg.Simulator.ReconnectInterval = gateway.DefaultReconnectInterval
	cfg.Simulator.ReconnectAttempts = gateway.DefaultReconnectAttempts

	cfg.Kafka.BrokerAddr = "localhost:9092"
	cfg.Kafka.EventsTopic = "orderdesk-events"
	cfg.Kafka.MatchesTopic = queue.DefaultTopic
	cfg.Kafka.ChangesTopic = "orderdesk-changes"
	cfg.Kafka.GroupID = "orderdesk"
	cfg.Kafka.SenderPoolSize = queue.DefaultPoolSize
	cfg.Kafka.Producer = ProducerSarama

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Prefix = "orderdesk"

	cfg.Otel.Endpoint = "localhost:4317"

	cfg.Assets.BaseURL = assets.DefaultBaseURL
	cfg.Assets.Timeout = 10 * time.Second

	cfg.Store.DefaultTTL = 24 * time.Hour
	return cfg
}

// LoadConfig parses the command line flags and loads the configuration
func LoadConfig() (*Config, error) {
	flag.Parse()

	cfg, err := Load(*configFile)
	if err != nil {
		return nil, err
	}

	// explicit flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http_port":
			cfg.Server.HTTPAddr = fmt.Sprintf(":%d", *httpPort)
		case "log_level":
			cfg.Server.LogLevel = *logLevel
		case "log_format":
			cfg.Server.LogFormat = *logFormat
		}
	})
	return cfg, nil
}

// Load builds the configuration from defaults, an optional YAML file and
// ORDERDESK_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		yamlFile, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		log.Info().Str("path", path).Msg("Loaded configuration file")
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	list := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = splitList(v.GetString(key))
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	str("server.http_addr", &cfg.Server.HTTPAddr)
	str("server.log_level", &cfg.Server.LogLevel)
	str("server.log_format", &cfg.Server.LogFormat)
	str("server.log_file", &cfg.Server.LogFile)
	list("server.allowed_origins", &cfg.Server.AllowedOrigins)

	boolean("feed.enabled", &cfg.Feed.Enabled)
	str("feed.stream_url", &cfg.Feed.StreamURL)
	duration("feed.handshake_timeout", &cfg.Feed.HandshakeTimeout)
	duration("feed.read_timeout", &cfg.Feed.ReadTimeout)
	duration("feed.base_backoff", &cfg.Feed.BaseBackoff)
	duration("feed.max_backoff", &cfg.Feed.MaxBackoff)
	integer("feed.max_attempts", &cfg.Feed.MaxAttempts)
	list("feed.symbols", &cfg.Feed.Symbols)

	boolean("simulator.enabled", &cfg.Simulator.Enabled)
	str("simulator.url", &cfg.Simulator.URL)
	duration("simulator.reconnect_interval", &cfg.Simulator.ReconnectInterval)
	integer("simulator.reconnect_attempts", &cfg.Simulator.ReconnectAttempts)
	list("simulator.symbols", &cfg.Simulator.Symbols)

	boolean("kafka.enabled", &cfg.Kafka.Enabled)
	str("kafka.broker_addr", &cfg.Kafka.BrokerAddr)
	str("kafka.events_topic", &cfg.Kafka.EventsTopic)
	str("kafka.matches_topic", &cfg.Kafka.MatchesTopic)
	str("kafka.changes_topic", &cfg.Kafka.ChangesTopic)
	str("kafka.group_id", &cfg.Kafka.GroupID)
	integer("kafka.sender_pool_size", &cfg.Kafka.SenderPoolSize)
	str("kafka.producer", &cfg.Kafka.Producer)

	boolean("redis.enabled", &cfg.Redis.Enabled)
	str("redis.addr", &cfg.Redis.Addr)
	str("redis.password", &cfg.Redis.Password)
	integer("redis.db", &cfg.Redis.DB)
	str("redis.prefix", &cfg.Redis.Prefix)

	boolean("otel.enabled", &cfg.Otel.Enabled)
	str("otel.endpoint", &cfg.Otel.Endpoint)

	str("assets.base_url", &cfg.Assets.BaseURL)
	duration("assets.timeout", &cfg.Assets.Timeout)

	duration("store.default_ttl", &cfg.Store.DefaultTTL)

	if v.IsSet("gateway.rate_per_second") {
		cfg.Gateway.RatePerSecond = v.GetFloat64("gateway.rate_per_second")
	}
	integer("gateway.burst", &cfg.Gateway.Burst)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the values the server cannot start without
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr must not be empty")
	}
	if c.Store.DefaultTTL <= 0 {
		return fmt.Errorf("store.default_ttl must be positive")
	}
	if c.Feed.Enabled {
		if c.Feed.StreamURL == "" {
			return fmt.Errorf("feed.stream_url must not be empty")
		}
		if c.Feed.BaseBackoff <= 0 || c.Feed.MaxBackoff < c.Feed.BaseBackoff {
			return fmt.Errorf("feed backoff must satisfy 0 < base_backoff <= max_backoff")
		}
		if c.Feed.MaxAttempts <= 0 {
			return fmt.Errorf("feed.max_attempts must be positive")
		}
	}
	if c.Simulator.Enabled {
		if c.Simulator.URL == "" {
			return fmt.Errorf("simulator.url must not be empty")
		}
		if c.Simulator.ReconnectAttempts <= 0 {
			return fmt.Errorf("simulator.reconnect_attempts must be positive")
		}
	}
	if c.Kafka.Enabled {
		if c.Kafka.BrokerAddr == "" {
			return fmt.Errorf("kafka.broker_addr must not be empty")
		}
		if c.Kafka.MatchesTopic == "" {
			return fmt.Errorf("kafka.matches_topic must not be empty")
		}
		if c.Kafka.Producer != ProducerSarama && c.Kafka.Producer != ProducerKafkaGo {
			return fmt.Errorf("kafka.producer must be %q or %q, got %q", ProducerSarama, ProducerKafkaGo, c.Kafka.Producer)
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must not be empty")
	}
	if c.Gateway.RatePerSecond < 0 {
		return fmt.Errorf("gateway.rate_per_second must not be negative")
	}
	return nil
}

// FeedConfig returns the reconnect policy for the price feed
func (c *Config) FeedConfig() feed.Config {
	return feed.Config{
		BaseBackoff: c.Feed.BaseBackoff,
		MaxBackoff:  c.Feed.MaxBackoff,
		MaxAttempts: c.Feed.MaxAttempts,
	}
}

// Brokers returns the Kafka broker list; broker_addr may hold several
// comma-separated addresses.
func (c *Config) Brokers() []string {
	return splitList(c.Kafka.BrokerAddr)
}
