package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	var created atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var o core.Order
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "ETHUSDT", o.Symbol())
		assert.True(t, o.Price().IsPositive())
		created.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	r := run(context.Background(), options{
		addr:            srv.URL,
		workers:         4,
		ordersPerWorker: 5,
		ratePerSecond:   1000,
		symbol:          "ETHUSDT",
		mid:             decimal.NewFromInt(2500),
	}, srv.Client())

	assert.Equal(t, int64(20), r.attempted)
	assert.Zero(t, r.failed)
	assert.Equal(t, int64(20), created.Load())
	assert.Equal(t, int64(20), r.latency.TotalCount())

	var buf bytes.Buffer
	printReport(&buf, r)
	assert.Contains(t, buf.String(), "Orders attempted: 20")
	assert.Contains(t, buf.String(), "p99")
}

func TestRunCountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	r := run(context.Background(), options{
		addr:            srv.URL,
		workers:         2,
		ordersPerWorker: 2,
		ratePerSecond:   100,
		symbol:          "BTCUSDT",
		mid:             decimal.NewFromInt(100),
	}, srv.Client())

	assert.Equal(t, int64(4), r.failed)
	require.Error(t, r.firstErr)
	assert.Contains(t, r.firstErr.Error(), "409")
}
