package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/logging"
	"github.com/erain9/orderdesk/pkg/matching"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var order core.Order
	if !decodeBody(w, r, &order) {
		return
	}

	created, err := s.book.CreateOrder(r.Context(), &order)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleQueryOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := core.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid filter", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.book.Query(r.URL.Query().Get("symbol"), filter))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	order, ok := s.book.GetOrder(orderID)
	if !ok {
		respondDomainError(w, r, fmt.Errorf("%w: %s", core.ErrUnknownOrder, orderID))
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var patch core.OrderPatch
	if !decodeBody(w, r, &patch) {
		return
	}

	updated, err := s.book.UpdateOrder(r.Context(), mux.Vars(r)["orderId"], patch)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// handleCancelOrder is idempotent: cancelling a terminal order returns it
// unchanged, and an unknown id is reported as 404 without side effects.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.book.CancelOrder(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		if errors.Is(err, core.ErrUnknownOrder) {
			logger := logging.FromContext(r.Context())
			logger.Debug().Err(err).Msg("Cancel of unknown order ignored")
		}
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	reference, candidates, err := s.engine.Candidates(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []matching.Candidate{}
	}
	respondJSON(w, http.StatusOK, CandidatesResponse{Reference: reference, Candidates: candidates})
}

func (s *Server) handleConfirmMatch(w http.ResponseWriter, r *http.Request) {
	var req ConfirmMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ReferenceOrderID == "" {
		respondError(w, http.StatusBadRequest, "missing referenceOrderId", "")
		return
	}
	if req.CounterOrderID == "" {
		respondDomainError(w, r, core.ErrNoSelection)
		return
	}
	adj, err := matching.ParseAdjustment(req.Adjustment)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid adjustment", err.Error())
		return
	}

	result, err := s.engine.Confirm(r.Context(), req.ReferenceOrderID, req.CounterOrderID, adj)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.book.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.book.Reset(r.Context()); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	quote, ok := s.prices.Quote(symbol)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown symbol", symbol)
		return
	}
	respondJSON(w, http.StatusOK, PriceResponse{
		Symbol:    symbol,
		Price:     json.Number(quote.Price.String()),
		UpdatedAt: quote.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) feedResponse(symbol string) FeedResponse {
	st, _ := s.feed.Status(symbol)
	resp := FeedResponse{Symbol: symbol, State: st.State.String(), Subscribers: st.Subscribers}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

// handleSubscribeFeed holds one subscription per symbol on behalf of API
// callers; repeating the call keeps the existing one.
func (s *Server) handleSubscribeFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		respondError(w, http.StatusServiceUnavailable, "price feed disabled", "")
		return
	}
	symbol := mux.Vars(r)["symbol"]

	s.feedMu.Lock()
	if _, ok := s.feedSubs[symbol]; !ok {
		release, err := s.feed.Subscribe(symbol)
		if err != nil {
			s.feedMu.Unlock()
			respondDomainError(w, r, err)
			return
		}
		s.feedSubs[symbol] = release
	}
	s.feedMu.Unlock()

	respondJSON(w, http.StatusOK, s.feedResponse(symbol))
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		respondError(w, http.StatusServiceUnavailable, "price feed disabled", "")
		return
	}
	respondJSON(w, http.StatusOK, s.feedResponse(mux.Vars(r)["symbol"]))
}

func (s *Server) handleReleaseFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		respondError(w, http.StatusServiceUnavailable, "price feed disabled", "")
		return
	}
	symbol := mux.Vars(r)["symbol"]

	s.feedMu.Lock()
	release, ok := s.feedSubs[symbol]
	delete(s.feedSubs, symbol)
	s.feedMu.Unlock()

	if ok {
		release()
	}
	respondJSON(w, http.StatusOK, s.feedResponse(symbol))
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	symbols := []string{}
	if s.assets != nil {
		symbols = s.assets.Symbols(r.Context())
	}
	respondJSON(w, http.StatusOK, symbols)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
