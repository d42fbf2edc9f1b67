package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erain9/orderdesk/pkg/logging"
	"github.com/erain9/orderdesk/pkg/simulator"
	"github.com/rs/zerolog/log"
)

func main() {
	closer := logging.Setup(logging.Config{
		Level:  os.Getenv("SIMULATOR_LOG_LEVEL"),
		Pretty: os.Getenv("SIMULATOR_LOG_PRETTY") == "true",
		Output: os.Stdout,
	})
	defer closer.Close()

	// Load configuration
	cfg, err := simulator.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sim := simulator.New(cfg, simulator.NewRandomFlow(cfg, time.Now().UnixNano()))
	if cfg.SeedFromMarket {
		fetcher := simulator.NewPriceFetcher(cfg)
		seedCtx, seedCancel := context.WithTimeout(ctx, 30*time.Second)
		sim.Seed(seedCtx, fetcher)
		seedCancel()
		_ = fetcher.Close()
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", sim.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Simulator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	sim.Start(ctx)

	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("Listener failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := sim.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping simulator")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down listener")
	}
	log.Info().Msg("Simulator stopped successfully")
}
