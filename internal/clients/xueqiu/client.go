// Package xueqiu implements the hot-rank adapter for the Xueqiu community
// popularity list. It is the second hot-rank source next to the Eastmoney
// one; both feed the same hot_rank table keyed by source.
package xueqiu

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

	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/obs"
)

// Client is the Xueqiu HTTP client.
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
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// New creates a new Xueqiu client.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "xueqiu",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		log: log.With().Str("client", "xueqiu").Logger(),
	}
}

type hotStockList struct {
	Data *struct {
		Items []struct {
			Code    string  `json:"code"`     // e.g. "SH600000"
			Name    string  `json:"name"`
			Value   float64 `json:"value"`    // hotness score
			Percent float64 `json:"percent"`
		} `json:"items"`
	} `json:"data"`
	ErrorCode int `json:"error_code"`
}

// HotRank returns the Xueqiu hot-stock list (top 100), rank ascending.
func (c *Client) HotRank(ctx context.Context, tradeDate string) ([]domain.HotRankEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, "/v5/stock/hot_stock/list.json?size=100&type=12")
	})
	if err != nil {
		obs.VendorRequests.WithLabelValues("xueqiu_hot_rank", "http_error").Inc()
		return nil, err
	}

	var env hotStockList
	if err := json.Unmarshal(body.([]byte), &env); err != nil {
		obs.VendorRequests.WithLabelValues("xueqiu_hot_rank", "decode_error").Inc()
		return nil, fmt.Errorf("decode hot stock list: %w", err)
	}
	if env.Data == nil || len(env.Data.Items) == 0 {
		obs.VendorRequests.WithLabelValues("xueqiu_hot_rank", "decode_error").Inc()
		return nil, fmt.Errorf("hot stock list: empty payload")
	}

	obs.VendorRequests.WithLabelValues("xueqiu_hot_rank", "ok").Inc()

	entries := make([]domain.HotRankEntry, 0, len(env.Data.Items))
	for i, item := range env.Data.Items {
		entries = append(entries, domain.HotRankEntry{
			Code:      domain.CanonicalCode(item.Code),
			Source:    domain.HotSourceXueqiu,
			TradeDate: tradeDate,
			Rank:      i + 1,
			HotScore:  item.Value,
		})
	}
	return entries, nil
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

	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
