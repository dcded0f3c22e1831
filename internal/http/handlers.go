package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/domain"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/market"
)

type snapshotDTO struct {
	ID        string  `json:"id"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
	Direction string  `json:"direction"`
}

type cryptoResponse struct {
	Data      []snapshotDTO `json:"data"`
	Cached    bool          `json:"cached"`
	Stale     bool          `json:"stale,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// handleCrypto serves the batched snapshot of every tracked coin.
func (s *Server) handleCrypto(w http.ResponseWriter, r *http.Request) {
	snaps, out, err := s.fetcher.Snapshots(r.Context())
	if err != nil {
		status, retry := classifyStatus(err)
		writeJSON(w, status, errorResponse{Error: err.Error(), RetryAfter: retry})
		return
	}

	data := make([]snapshotDTO, 0, len(snaps))
	for _, snap := range snaps {
		price, _ := snap.Price.Float64()
		change, _ := snap.Change24h.Float64()
		data = append(data, snapshotDTO{
			ID:        snap.ID,
			Price:     price,
			Change24h: change,
			Direction: snap.ChangeDirection(),
		})
	}

	writeJSON(w, http.StatusOK, cryptoResponse{
		Data:      data,
		Cached:    out.Cached,
		Stale:     out.Stale,
		Message:   out.Message,
		Timestamp: time.Now().UTC(),
	})
}

// handleHistory serves the price series for one coin in the upstream's
// [[timestampMs, price], ...] form.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "coin id required"})
		return
	}
	if !s.coins[id] {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown coin: " + id})
		return
	}

	history, _, err := s.fetcher.History(r.Context(), id)
	if err != nil {
		status, retry := classifyStatus(err)
		writeJSON(w, status, errorResponse{Error: err.Error(), RetryAfter: retry})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Prices []domain.PricePoint `json:"prices"`
	}{Prices: history.Points})
}

type healthResponse struct {
	Status         string         `json:"status"`
	Coins          []string       `json:"coins"`
	Breaker        string         `json:"breaker,omitempty"`
	QuotaRemaining int            `json:"quotaRemaining"`
	Subscribers    map[string]int `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		QuotaRemaining: s.fetcher.Remaining(market.KeyPrices),
		Subscribers:    make(map[string]int, len(s.coins)),
	}
	for coin := range s.coins {
		resp.Coins = append(resp.Coins, coin)
		if n := s.mux.SubscriberCount(coin); n > 0 {
			resp.Subscribers[coin] = n
		}
	}
	if s.breaker != nil {
		resp.Breaker = s.breaker.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// classifyStatus maps the fetch-error taxonomy onto response codes. 429s get
// a retryAfter hint so clients back off instead of hammering.
func classifyStatus(err error) (status, retryAfter int) {
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		return http.StatusInternalServerError, 0
	}
	switch fe.Kind {
	case domain.FetchRateLimited:
		return http.StatusTooManyRequests, 60
	case domain.FetchExhaustedNoData:
		return http.StatusTooManyRequests, 30
	default:
		return http.StatusInternalServerError, 0
	}
}
