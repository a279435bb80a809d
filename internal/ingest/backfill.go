package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// backfillWorkers bounds concurrent per-ticker history fetches. The vendor
// rate limiter is the real throttle; this just caps in-flight requests.
const backfillWorkers = 8

// Derived-metric patch targets and the recompute scope each one needs.
var patchTargets = map[string]string{
	"ma":                "ticker",
	"vol_ma_5":          "ticker",
	"rps_250":           "ticker",
	"vcp_factor":        "ticker",
	"sector_rps":        "sector",
	"sector_change_pct": "sector",
}

// Backfill pulls per-ticker kline and money-flow history for the active
// universe, the benchmark index, synthesised sector flow, and then replays
// the derived-metric recompute across the window. It is the cold-start
// path and the catch-up path.
func (s *Service) Backfill(ctx context.Context, days int) error {
	if days <= 0 {
		return fmt.Errorf("backfill days must be positive, got %d", days)
	}
	start := time.Now()

	// Refresh the universe first so a cold database has tickers to iterate.
	if rows, err := s.vendor.Snapshot(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Snapshot unavailable, backfilling stored universe")
	} else if err := s.storeSnapshot(rows, s.cal.Now().Format("2006-01-02")); err != nil {
		return err
	}

	tickers, err := s.stores.Tickers.GetAllActive()
	if err != nil {
		return fmt.Errorf("load universe: %w", err)
	}
	if len(tickers) == 0 {
		return fmt.Errorf("no active tickers to backfill")
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backfillWorkers)
	for _, ticker := range tickers {
		code := ticker.Code
		g.Go(func() error {
			if err := s.backfillTicker(gctx, code, days); err != nil {
				// one dead ticker must not abort a multi-hour cold start
				mu.Lock()
				failed = append(failed, code)
				mu.Unlock()
				s.log.Warn().Err(err).Str("code", code).Msg("Ticker backfill failed")
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failed) > len(tickers)/2 {
		return fmt.Errorf("backfill failed for %d of %d tickers", len(failed), len(tickers))
	}

	if index, err := s.vendor.IndexDaily(ctx, s.indexCode, days); err != nil {
		s.log.Warn().Err(err).Str("index", s.indexCode).Msg("Index backfill failed")
	} else if err := s.stores.Index.UpsertBatch(index); err != nil {
		return fmt.Errorf("store index history: %w", err)
	}

	dates := s.windowTradingDays(days)
	for _, date := range dates {
		flows, err := s.synthesizeSectorFlows(ctx, date)
		if err != nil {
			return err
		}
		if len(flows) == 0 {
			continue
		}
		if err := s.stores.Sectors.UpsertBatch(flows); err != nil {
			return fmt.Errorf("store sector flow for %s: %w", date, err)
		}
	}

	if err := s.metrics.Backfill(dates); err != nil {
		return fmt.Errorf("replay derived metrics: %w", err)
	}

	s.log.Info().Int("tickers", len(tickers)).Int("failed", len(failed)).Int("days", len(dates)).
		Dur("elapsed", time.Since(start)).Msg("Backfill complete")
	return nil
}

func (s *Service) backfillTicker(ctx context.Context, code string, days int) error {
	bars, err := s.vendor.DailyBars(ctx, code, days)
	if err != nil {
		return fmt.Errorf("kline history: %w", err)
	}
	if err := s.stores.Bars.UpsertBatch(bars); err != nil {
		return fmt.Errorf("store bars: %w", err)
	}

	flows, err := s.vendor.TickerFlowHistory(ctx, code)
	if err != nil {
		return fmt.Errorf("flow history: %w", err)
	}
	return s.stores.Flows.UpsertBatch(flows)
}

// Patch recomputes a single derived-metric family over the recent window
// without re-fetching any vendor data.
func (s *Service) Patch(ctx context.Context, target string, days int) error {
	scope, ok := patchTargets[target]
	if !ok {
		return fmt.Errorf("unknown patch target %q, valid targets: %v", target, patchTargetNames())
	}
	if days <= 0 {
		return fmt.Errorf("patch days must be positive, got %d", days)
	}

	dates := s.windowTradingDays(days)
	// recent days first so the freshest state heals before history
	for i := len(dates) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if scope == "sector" {
			err = s.metrics.RecomputeSectorDay(dates[i])
		} else {
			err = s.metrics.RecomputeTickerDay(dates[i])
		}
		if err != nil {
			return fmt.Errorf("patch %s on %s: %w", target, dates[i], err)
		}
	}

	s.log.Info().Str("target", target).Int("days", len(dates)).Msg("Metric patch complete")
	return nil
}

// windowTradingDays lists the trading days in the trailing window,
// ascending.
func (s *Service) windowTradingDays(days int) []string {
	now := s.cal.Now()
	return s.cal.TradingDaysIn(now.AddDate(0, 0, -days), now)
}

func patchTargetNames() []string {
	names := make([]string, 0, len(patchTargets))
	for name := range patchTargets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
