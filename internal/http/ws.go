package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/stream"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// The dashboard is served from arbitrary origins in dev; the stream is
	// read-only, so origin checking buys nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS mirrors the SSE stream over a WebSocket. Data frames are the same
// JSON objects; heartbeats become ping control messages.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ws/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "coin id required", http.StatusBadRequest)
		return
	}
	if !s.coins[id] {
		http.Error(w, "unknown coin: "+id, http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WS upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	sub := s.mux.Subscribe(id)
	defer sub.Close()

	// Drain the read side so close frames and pongs are processed; the
	// stream is server-to-client only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	for frame := range sub.Frames() {
		if frame.Type == stream.FrameHeartbeat {
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}
