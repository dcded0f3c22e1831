package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/stream"
)

// handleStream serves the server-sent-event stream for one coin. Each data
// frame is a JSON object on a "data:" line; heartbeats are comment lines so
// idle-connection intermediaries keep the pipe open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/stream/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "coin id required", http.StatusBadRequest)
		return
	}
	if !s.coins[id] {
		http.Error(w, "unknown coin: "+id, http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.mux.Subscribe(id)
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			if err := writeSSE(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, frame stream.Frame) error {
	if frame.Type == stream.FrameHeartbeat {
		_, err := fmt.Fprint(w, ": heartbeat\n\n")
		return err
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
