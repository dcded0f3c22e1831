// Package streamclient consumes the dashboard's SSE endpoint with automatic
// reconnection. It is what cmd/streamwatch uses and doubles as a reference
// consumer for the stream protocol.
package streamclient

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/infra"
)

// State is the connection state of the client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Message is one decoded stream frame as seen by a client.
type Message struct {
	Type string `json:"type"`
	Data *struct {
		Price     float64 `json:"price"`
		Change24h float64 `json:"change24h"`
		Cached    bool    `json:"cached"`
	} `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client maintains one SSE connection. After a connection that never came up
// it backs off exponentially from the configured retry delay; after a drop of
// an established connection it retries at that delay directly. Teardown via
// Stop suppresses a pending retry.
type Client struct {
	url        string
	retryDelay time.Duration
	backoff    infra.Backoff
	onMessage  func(Message)
	onState    func(State)

	httpClient *http.Client
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu    sync.Mutex
	state State
}

// New creates a client for the given stream URL. onMessage receives every
// decoded frame; onState may be nil.
func New(url string, retryDelay time.Duration, onMessage func(Message), onState func(State)) *Client {
	return &Client{
		url:        url,
		retryDelay: retryDelay,
		backoff:    infra.Backoff{Base: retryDelay, Max: time.Minute},
		onMessage:  onMessage,
		onState:    onState,
		// No client timeout: the response body is an endless stream.
		httpClient: &http.Client{},
	}
}

// Start launches the connect/read/retry loop.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.runLoop(ctx)
}

// Stop tears the client down and waits for the loop to exit. Any pending
// retry timer is cancelled, not fired.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) runLoop(ctx context.Context) {
	defer c.wg.Done()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.setState(StateConnecting)
		connected, err := c.consume(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Warn("Stream connection lost", slog.String("url", c.url), slog.Any("error", err))
		}
		c.setState(StateDisconnected)

		if connected {
			failures = 0
		} else {
			failures++
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.nextDelay(failures)):
		}
	}
}

// nextDelay picks the wait before the next connection attempt: the plain
// retry delay after an established connection dropped, exponential backoff
// while the connection never comes up.
func (c *Client) nextDelay(failures int) time.Duration {
	if failures == 0 {
		return c.retryDelay
	}
	return c.backoff.Delay(failures)
}

// consume opens one SSE connection and reads frames until it breaks. The
// returned bool reports whether the connection was ever established.
func (c *Client) consume(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &statusError{code: resp.StatusCode}
	}

	c.setState(StateConnected)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		// Comment lines are heartbeats; blank lines are frame terminators.
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var msg Message
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			slog.Warn("Undecodable stream frame", slog.Any("error", err))
			continue
		}
		c.onMessage(msg)
	}
	return true, scanner.Err()
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "unexpected status code: " + http.StatusText(e.code)
}
