package stream

import (
	"time"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/domain"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/market"
)

// FrameType enumerates the messages a subscriber can receive.
type FrameType string

const (
	FrameConnected   FrameType = "connected"
	FramePriceUpdate FrameType = "price_update"
	FrameWarning     FrameType = "warning"
	FrameError       FrameType = "error"
	FrameRateLimit   FrameType = "rate_limit"

	// FrameHeartbeat never reaches clients as JSON; transports render it
	// out-of-band (SSE comment line, WebSocket ping).
	FrameHeartbeat FrameType = "heartbeat"
)

// PriceData is the payload of a price_update frame.
type PriceData struct {
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
	Cached    bool    `json:"cached"`
}

// Frame is one message on a subscriber channel. It marshals to the wire
// schema directly (timestamp as RFC 3339).
type Frame struct {
	Type      FrameType  `json:"type"`
	Data      *PriceData `json:"data,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func connectedFrame(now time.Time) Frame {
	return Frame{Type: FrameConnected, Timestamp: now}
}

func heartbeatFrame(now time.Time) Frame {
	return Frame{Type: FrameHeartbeat, Timestamp: now}
}

func priceFrame(snap domain.CryptoSnapshot, out market.Outcome, now time.Time) Frame {
	price, _ := snap.Price.Float64()
	change, _ := snap.Change24h.Float64()
	return Frame{
		Type: FramePriceUpdate,
		Data: &PriceData{
			Price:     price,
			Change24h: change,
			Cached:    out.Cached,
		},
		Timestamp: now,
	}
}
