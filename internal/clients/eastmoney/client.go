// Package eastmoney implements the vendor adapters for the Eastmoney
// push2-style endpoints: daily bars, intraday snapshots, money flow,
// sector flow, concepts, hot rank and index data.
//
// Each adapter is a pure transformation from a vendor response to a list of
// normalised records: canonical column names, six-digit codes, currency in
// ten-thousand units. Network or schema failures surface as errors; callers
// on the polling path log at warn level and proceed with whatever else they
// have.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/aristath/marketpulse/internal/obs"
)

// Client is the Eastmoney HTTP client. All adapter methods share one rate
// limiter and one circuit breaker so a misbehaving endpoint cannot starve
// the rest of the process.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// Config holds client construction parameters.
type Config struct {
	BaseURL   string
	RateLimit float64 // requests per second
	Burst     int
	Timeout   time.Duration
}

// New creates a new Eastmoney client.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "eastmoney",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		breaker: breaker,
		log:     log.With().Str("client", "eastmoney").Logger(),
	}
}

// getJSON performs a rate-limited, breaker-guarded GET and decodes the body
// into v. Transient failures are retried once with a short backoff.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, v interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		b, err := c.fetch(ctx, path)
		if err == nil {
			return b, nil
		}
		// One retry on transient failure; the breaker counts the pair as one.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		return c.fetch(ctx, path)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			obs.VendorRequests.WithLabelValues(endpoint, "breaker_open").Inc()
		} else {
			obs.VendorRequests.WithLabelValues(endpoint, "http_error").Inc()
		}
		return err
	}

	if err := json.Unmarshal(body.([]byte), v); err != nil {
		obs.VendorRequests.WithLabelValues(endpoint, "decode_error").Inc()
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}

	obs.VendorRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; marketpulse/1.0)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// secID renders the vendor security id for a canonical code:
// "1.<code>" for Shanghai, "0.<code>" for Shenzhen.
func secID(code string) string {
	if len(code) > 0 && code[0] == '6' {
		return "1." + code
	}
	return "0." + code
}
