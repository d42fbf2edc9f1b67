package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/erain9/orderdesk/config"
	"github.com/erain9/orderdesk/pkg/api"
	"github.com/erain9/orderdesk/pkg/assets"
	"github.com/erain9/orderdesk/pkg/backend/memory"
	redisbackend "github.com/erain9/orderdesk/pkg/backend/redis"
	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/db/queue"
	"github.com/erain9/orderdesk/pkg/feed"
	"github.com/erain9/orderdesk/pkg/gateway"
	"github.com/erain9/orderdesk/pkg/matching"
	"github.com/erain9/orderdesk/pkg/messaging"
	"github.com/erain9/orderdesk/pkg/messaging/kafka"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

const (
	changeBuffer    = 1024
	shutdownTimeout = 5 * time.Second
)

// app owns every long-lived component of the server
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	book    *core.OrderBook
	prices  *feed.PriceCache
	feed    *feed.Feed
	engine  *matching.Engine
	sender  messaging.MessageSender
	gateway *gateway.Gateway
	api     *api.Server
	http    *http.Server

	sources   []gateway.Source
	releases  []func()
	publisher *kafka.ChangePublisher
	wg        sync.WaitGroup
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := *zerolog.Ctx(ctx)
	a := &app{cfg: cfg, logger: logger}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.prices = feed.NewPriceCache()
	a.book = core.NewOrderBook(backend,
		core.WithPriceReader(a.prices),
		core.WithDefaultTTL(cfg.Store.DefaultTTL),
	)

	a.sender, err = newSender(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = matching.NewEngine(a.book, a.sender)

	var opts []gateway.Option
	if cfg.Gateway.RatePerSecond > 0 {
		opts = append(opts, gateway.WithRateLimit(cfg.Gateway.RatePerSecond, cfg.Gateway.Burst))
	}
	a.gateway = gateway.New(a.book, a.prices, opts...)

	apiCfg := api.Config{
		Book:           a.book,
		Engine:         a.engine,
		Prices:         a.prices,
		Assets:         assets.NewClient(cfg.Assets.BaseURL, cfg.Assets.Timeout),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if cfg.Feed.Enabled {
		dialer := feed.NewWebsocketDialer(cfg.Feed.StreamURL, cfg.Feed.HandshakeTimeout, cfg.Feed.ReadTimeout)
		a.feed = feed.New(dialer, a.prices, cfg.FeedConfig())
		apiCfg.Feed = a.feed
	}
	a.api = api.NewServer(apiCfg)

	a.http = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// newBackend returns the Redis backend when enabled and the in-memory one
// otherwise.
func newBackend(ctx context.Context, cfg *config.Config) (core.OrderBookBackend, error) {
	if !cfg.Redis.Enabled {
		return memory.NewMemoryBackend(), nil
	}

	redisbackend.SetDefaultRedisOptions(&redisbackend.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	client := redisbackend.GetRedisClient()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return redisbackend.NewRedisBackend(client, cfg.Redis.Prefix, zl), nil
}

// newSender returns the configured match publisher when Kafka is enabled. A
// nil sender disables settlement publishing.
func newSender(cfg *config.Config) (messaging.MessageSender, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	brokers, topic := cfg.Brokers(), cfg.Kafka.MatchesTopic
	if cfg.Kafka.Producer == config.ProducerKafkaGo {
		sender, err := kafka.NewKafkaMessageSender(brokers[0], topic)
		if err != nil {
			return nil, err
		}
		return sender, nil
	}
	pool, err := queue.NewSenderPool(cfg.Kafka.SenderPoolSize, func() (messaging.MessageSender, error) {
		return queue.NewQueueMessageSender(brokers, topic)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create match sender pool: %w", err)
	}
	return pool, nil
}

// start launches feed subscriptions, event sources and the change publisher
func (a *app) start(ctx context.Context) error {
	if a.feed != nil {
		for _, symbol := range a.cfg.Feed.Symbols {
			release, err := a.feed.Subscribe(symbol)
			if err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", symbol, err)
			}
			a.releases = append(a.releases, release)
		}
	}

	if a.cfg.Simulator.Enabled {
		src := gateway.NewWebsocketSource(a.cfg.Simulator.URL, a.cfg.Simulator.ReconnectInterval, a.cfg.Simulator.ReconnectAttempts)
		for _, symbol := range a.cfg.Simulator.Symbols {
			if err := src.Subscribe(symbol); err != nil {
				a.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to queue simulator subscription")
			}
		}
		a.consume(ctx, "simulator", src)
	}

	if a.cfg.Kafka.Enabled && a.cfg.Kafka.EventsTopic != "" {
		reader, err := kafka.NewEventReader(a.cfg.Brokers()[0], a.cfg.Kafka.EventsTopic, a.cfg.Kafka.GroupID, a.logger)
		if err != nil {
			return err
		}
		a.consume(ctx, "kafka", reader)
	}

	if a.cfg.Kafka.Enabled && a.cfg.Kafka.ChangesTopic != "" {
		a.publisher = kafka.NewChangePublisher(a.cfg.Brokers()[0], a.cfg.Kafka.ChangesTopic)
		changes, release := a.book.Subscribe(changeBuffer)
		a.releases = append(a.releases, release)

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.publisher.Run(ctx, changes, func(change core.Change, err error) {
				a.logger.Error().Err(err).Str("kind", string(change.Kind)).Msg("Failed to publish change")
			})
		}()
	}
	return nil
}

func (a *app) consume(ctx context.Context, name string, src gateway.Source) {
	a.sources = append(a.sources, src)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger := a.logger.With().Str("source", name).Logger()
		logger.Info().Msg("Consuming events")
		if err := a.gateway.Consume(logger.WithContext(ctx), src); err != nil {
			logger.Error().Err(err).Msg("Event source stopped")
			return
		}
		logger.Info().Msg("Event source closed")
	}()
}

// run serves HTTP until ctx is done or the listener fails
func (a *app) run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", a.http.Addr).Msg("Starting HTTP server")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info().Msg("Received shutdown signal")
		return nil
	case err := <-errCh:
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
}

// shutdown stops accepting requests, then releases components in reverse
// dependency order.
func (a *app) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	a.api.Close()

	for _, src := range a.sources {
		if err := src.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close event source")
		}
	}
	for _, release := range a.releases {
		release()
	}
	if a.feed != nil {
		a.feed.Close()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn().Msg("Timed out waiting for background workers")
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close change publisher")
		}
	}
	if a.sender != nil {
		if err := a.sender.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close match sender")
		}
	}
}
