package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/erain9/orderdesk/config"
	"github.com/erain9/orderdesk/pkg/logging"
	"github.com/erain9/orderdesk/pkg/otel"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	logCloser := logging.Setup(logging.Config{
		Level:  cfg.Server.LogLevel,
		Pretty: cfg.Server.LogFormat == "pretty",
		Output: os.Stdout,
		File:   cfg.Server.LogFile,
	})
	defer logCloser.Close()

	logger := log.Logger
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	// Initialize OpenTelemetry
	cleanup, err := otel.Init(otel.Config{
		ServiceName:      otel.ServiceOrderDesk,
		ServiceVersion:   "1.0.0",
		Endpoint:         cfg.Otel.Endpoint,
		CollectorEnabled: cfg.Otel.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer cleanup()
	if cfg.Otel.Enabled {
		if err := otel.StartRuntimeMetrics(true); err != nil {
			logger.Warn().Err(err).Msg("Failed to start runtime metrics")
		}
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build server")
	}

	if err := app.run(ctx); err != nil {
		logger.Error().Err(err).Msg("Server stopped with error")
	}
	app.shutdown(context.Background())
	logger.Info().Msg("Shutdown complete")
}
