// Package http exposes the client-facing boundary: the snapshot and history
// REST endpoints, the SSE stream, its WebSocket mirror, and a health probe.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/infra"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/market"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/stream"
)

type Server struct {
	addr    string
	fetcher *market.Fetcher
	mux     *stream.Multiplexer
	breaker *infra.Breaker // may be nil
	coins   map[string]bool
	logger  *slog.Logger
	srv     *http.Server
}

func NewServer(addr string, fetcher *market.Fetcher, mux *stream.Multiplexer, breaker *infra.Breaker, coins []string, logger *slog.Logger) *Server {
	tracked := make(map[string]bool, len(coins))
	for _, c := range coins {
		tracked[c] = true
	}
	return &Server{
		addr:    addr,
		fetcher: fetcher,
		mux:     mux,
		breaker: breaker,
		coins:   tracked,
		logger:  logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server starting", "addr", s.addr)
	return s.srv.Serve(ln)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/crypto", s.handleCrypto)
	mux.HandleFunc("/api/history/", s.handleHistory)
	mux.HandleFunc("/api/stream/", s.handleStream)
	mux.HandleFunc("/ws/", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", slog.Any("error", err))
	}
}
