package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/erain9/orderdesk/pkg/simulator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type options struct {
	addr            string
	workers         int
	ordersPerWorker int
	ratePerSecond   int
	symbol          string
	mid             decimal.Decimal
}

type report struct {
	attempted int64
	failed    int64
	duration  time.Duration
	latency   *hdrhistogram.Histogram
	firstErr  error
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	addr := flag.String("addr", "http://localhost:8080", "orderdesk HTTP address")
	workers := flag.Int("workers", 100, "concurrent workers")
	perWorker := flag.Int("orders", 100, "orders per worker")
	rps := flag.Int("rate", 500, "maximum requests per second")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to create orders for")
	mid := flag.String("mid", "45000", "mid price orders are spread around")
	flag.Parse()

	midPrice, err := decimal.NewFromString(*mid)
	if err != nil || !midPrice.IsPositive() {
		log.Fatal().Str("mid", *mid).Msg("Invalid mid price")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	opts := options{
		addr:            *addr,
		workers:         *workers,
		ordersPerWorker: *perWorker,
		ratePerSecond:   *rps,
		symbol:          *symbol,
		mid:             midPrice,
	}
	log.Info().Int("workers", opts.workers).Int("orders_per_worker", opts.ordersPerWorker).Msg("Starting load test")

	r := run(ctx, opts, &http.Client{Timeout: 10 * time.Second})
	printReport(os.Stdout, r)
	if r.failed > 0 {
		log.Error().Err(r.firstErr).Int64("failed", r.failed).Msg("Load test had failures")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, httpClient *http.Client) *report {
	limiter := rate.NewLimiter(rate.Limit(opts.ratePerSecond), opts.ratePerSecond)
	latency := hdrhistogram.New(1, int64(30*time.Second/time.Microsecond), 3)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		attempted atomic.Int64
		failed    atomic.Int64
		firstErr  error
	)
	fail := func(err error) {
		failed.Add(1)
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	start := time.Now()
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			flow := simulator.NewRandomFlow(&simulator.Config{
				PriceSpread: opts.mid.Div(decimal.NewFromInt(100)),
				MaxQty:      decimal.NewFromInt(2),
				APIKey:      "loadtest",
			}, time.Now().UnixNano()+int64(workerID))

			for j := 0; j < opts.ordersPerWorker; j++ {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				order, err := flow.NewOrder(opts.symbol, opts.mid, time.Now())
				if err != nil {
					fail(err)
					continue
				}
				body, err := json.Marshal(order)
				if err != nil {
					fail(err)
					continue
				}

				attempted.Add(1)
				began := time.Now()
				err = post(ctx, httpClient, opts.addr+"/api/v1/orders", body)
				elapsed := time.Since(began)

				mu.Lock()
				_ = latency.RecordValue(elapsed.Microseconds())
				mu.Unlock()
				if err != nil {
					fail(err)
				}
			}
		}(i)
	}
	wg.Wait()

	return &report{
		attempted: attempted.Load(),
		failed:    failed.Load(),
		duration:  time.Since(start),
		latency:   latency,
		firstErr:  firstErr,
	}
}

func post(ctx context.Context, httpClient *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create order: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func printReport(w io.Writer, r *report) {
	fmt.Fprintf(w, "Load test completed in %v\n", r.duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Orders attempted: %d\n", r.attempted)
	fmt.Fprintf(w, "Errors encountered: %d\n", r.failed)
	if r.duration > 0 {
		fmt.Fprintf(w, "Throughput: %.1f orders/s\n", float64(r.attempted)/r.duration.Seconds())
	}
	for _, q := range []float64{50, 90, 99, 99.9} {
		fmt.Fprintf(w, "p%-5v %v\n", q, time.Duration(r.latency.ValueAtQuantile(q))*time.Microsecond)
	}
	fmt.Fprintf(w, "max    %v\n", time.Duration(r.latency.Max())*time.Microsecond)
}
