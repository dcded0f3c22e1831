package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/domain"
)

// DefaultBaseURL is CoinGecko's public API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

const userAgent = "crypto-indicators-dashboard/1.0"

// Client talks to the CoinGecko REST API. It classifies every failure into
// the domain fetch-error taxonomy so the fetcher can pick a fallback.
type Client struct {
	baseURL    string
	apiKey     string
	currency   string
	httpClient *http.Client
}

// NewClient creates a CoinGecko client. apiKey may be empty (public quota).
func NewClient(baseURL, apiKey, currency string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		currency: currency,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SimplePrice fetches the current price and 24h change for the given coin ids
// in one batched call.
func (c *Client) SimplePrice(ctx context.Context, ids []string) ([]domain.CryptoSnapshot, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currency", c.currency)
	q.Set("include_24hr_change", "true")

	body, err := c.get(ctx, "/simple/price", q, "simple_price")
	if err != nil {
		return nil, err
	}

	// { "<id>": { "usd": 50000.5, "usd_24h_change": 2.5 }, ... }
	var raw map[string]map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.NewFetchError(domain.FetchMalformed, "simple_price", err)
	}

	priceField := c.currency
	changeField := c.currency + "_24h_change"

	snapshots := make([]domain.CryptoSnapshot, 0, len(ids))
	for _, id := range ids {
		quote, ok := raw[id]
		if !ok {
			return nil, domain.NewFetchError(domain.FetchMalformed, "simple_price",
				fmt.Errorf("coin %q missing from response", id))
		}
		price, ok := quote[priceField]
		if !ok {
			return nil, domain.NewFetchError(domain.FetchMalformed, "simple_price",
				fmt.Errorf("coin %q missing %q field", id, priceField))
		}
		change, ok := quote[changeField]
		if !ok {
			return nil, domain.NewFetchError(domain.FetchMalformed, "simple_price",
				fmt.Errorf("coin %q missing %q field", id, changeField))
		}
		snapshots = append(snapshots, domain.CryptoSnapshot{
			ID:        id,
			Price:     decimal.NewFromFloat(price),
			Change24h: decimal.NewFromFloat(change),
		})
	}

	return snapshots, nil
}

// MarketChart fetches the daily price series for one coin.
func (c *Client) MarketChart(ctx context.Context, id string, days int) (*domain.PriceHistory, error) {
	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("days", strconv.Itoa(days))

	resource := "history_" + id
	body, err := c.get(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", q, resource)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Prices []domain.PricePoint `json:"prices"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.NewFetchError(domain.FetchMalformed, resource, err)
	}
	if len(raw.Prices) == 0 {
		return nil, domain.NewFetchError(domain.FetchMalformed, resource,
			errors.New("response has no prices field"))
	}

	return &domain.PriceHistory{ID: id, Points: raw.Prices}, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, resource string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchUpstream, resource, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewFetchError(classifyTransport(err), resource, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewFetchError(domain.FetchRateLimited, resource,
			fmt.Errorf("upstream returned 429"))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, domain.NewFetchError(domain.FetchUpstream, resource,
			fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewFetchError(classifyTransport(err), resource, err)
	}

	return body, nil
}

// classifyTransport separates timeouts from other transport errors.
func classifyTransport(err error) domain.FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FetchTimeout
	}
	return domain.FetchUpstream
}
