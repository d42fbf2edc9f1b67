package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/feed"
	"github.com/erain9/orderdesk/pkg/logging"
	"github.com/erain9/orderdesk/pkg/matching"
	"github.com/erain9/orderdesk/pkg/otel"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// FeedManager opens and inspects price streams
type FeedManager interface {
	Subscribe(symbol string) (func(), error)
	Status(symbol string) (feed.Status, bool)
}

// AssetLister lists tradable symbols
type AssetLister interface {
	Symbols(ctx context.Context) []string
}

// Config holds the server dependencies. Feed and Assets are optional.
type Config struct {
	Book           *core.OrderBook
	Engine         *matching.Engine
	Prices         *feed.PriceCache
	Feed           FeedManager
	Assets         AssetLister
	AllowedOrigins []string
}

// Server is the operator HTTP API
type Server struct {
	book    *core.OrderBook
	engine  *matching.Engine
	prices  *feed.PriceCache
	feed    FeedManager
	assets  AssetLister
	router  *mux.Router
	handler http.Handler
	metrics *otel.HTTPServerMetrics

	feedMu   sync.Mutex
	feedSubs map[string]func()
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	s := &Server{
		book:     cfg.Book,
		engine:   cfg.Engine,
		prices:   cfg.Prices,
		feed:     cfg.Feed,
		assets:   cfg.Assets,
		router:   mux.NewRouter(),
		feedSubs: make(map[string]func()),
	}
	if m, err := otel.GetHTTPServerMetrics(); err == nil {
		s.metrics = m
	}
	s.setupRoutes()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", logging.RequestIDHeader},
	})
	s.handler = c.Handler(logging.Middleware(s.instrument(s.router)))
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleQueryOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderId}", s.handleUpdateOrder).Methods(http.MethodPatch)
	api.HandleFunc("/orders/{orderId}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/orders/{orderId}/candidates", s.handleCandidates).Methods(http.MethodGet)

	api.HandleFunc("/matches", s.handleConfirmMatch).Methods(http.MethodPost)

	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/prices/{symbol}", s.handleGetPrice).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{symbol}", s.handleSubscribeFeed).Methods(http.MethodPost)
	api.HandleFunc("/feeds/{symbol}", s.handleGetFeed).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{symbol}", s.handleReleaseFeed).Methods(http.MethodDelete)
	api.HandleFunc("/assets", s.handleAssets).Methods(http.MethodGet)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the root handler with CORS, request logging and metrics
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases every feed subscription held by the API
func (s *Server) Close() {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	for symbol, release := range s.feedSubs {
		release()
		delete(s.feedSubs, symbol)
	}
}

// instrument records request metrics keyed by route template
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		route := r.URL.Path
		var match mux.RouteMatch
		if s.router.Match(r, &match) && match.Route != nil {
			if tmpl, err := match.Route.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		s.metrics.AddInFlightRequests(r.Context(), 1)
		defer s.metrics.AddInFlightRequests(r.Context(), -1)

		rec := logging.NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.metrics.RecordRequest(r.Context(), route, rec.Status(), time.Since(start))
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrDuplicateOrder), errors.Is(err, core.ErrTerminalOrder):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoSelection), errors.Is(err, core.ErrAdjustmentRequired), errors.Is(err, core.ErrNotCandidate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrFeedDisconnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{Error: error, Message: message})
}

// respondDomainError writes err with the status its kind maps to
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("Request failed")
	}
	respondError(w, status, http.StatusText(status), err.Error())
}
