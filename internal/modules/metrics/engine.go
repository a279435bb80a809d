package metrics

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/domain"
)

// rpsWindow is the trailing-return horizon for the per-ticker strength
// rank. Tickers without a bar that far back get no rank at all.
const rpsWindow = 250

// BarStore is the slice of the market module the engine reads and writes.
type BarStore interface {
	GetRecentBefore(code, tradeDate string, limit int) ([]domain.DailyBar, error)
	GetByDate(tradeDate string) ([]domain.DailyBar, error)
	GetByCodesAndDate(codes []string, tradeDate string) ([]domain.DailyBar, error)
	UpdateDerived(code, tradeDate string, ma5, ma10, ma20, ma30, ma60, volMA5, vcp *float64) error
	UpdateRPSBatch(tradeDate string, rps map[string]float64) error
}

// SectorStore is the sector-side persistence the engine needs.
type SectorStore interface {
	GetByDate(tradeDate string) ([]domain.SectorFlow, error)
	GetRecentBefore(sectorName, tradeDate string, limit int) ([]domain.SectorFlow, error)
	UpdateDerived(sectorName, tradeDate string, rps20, rps50 *float64, maStatus int) error
	UpdateAggregates(sectorName, tradeDate string, changePct, avgTurnover float64, limitUpCount int, topWeights []string) error
}

// ConceptStore resolves sector names to member codes.
type ConceptStore interface {
	MemberCodesByName(name string) ([]string, error)
}

// Engine recomputes derived metrics over one trading day after raw
// ingestion lands. All recomputations are idempotent: re-running a day
// rewrites the same values.
type Engine struct {
	bars     BarStore
	sectors  SectorStore
	concepts ConceptStore
	log      zerolog.Logger
}

// NewEngine creates a derived-metric engine.
func NewEngine(bars BarStore, sectors SectorStore, concepts ConceptStore, log zerolog.Logger) *Engine {
	return &Engine{
		bars:     bars,
		sectors:  sectors,
		concepts: concepts,
		log:      log.With().Str("component", "metrics_engine").Logger(),
	}
}

// RecomputeDay runs the full per-ticker and per-sector recomputation for
// one trading day.
func (e *Engine) RecomputeDay(tradeDate string) error {
	if err := e.RecomputeTickerDay(tradeDate); err != nil {
		return err
	}
	return e.RecomputeSectorDay(tradeDate)
}

// Backfill applies RecomputeDay over a date window in descending calendar
// order (recent days first, so fresh data is usable before the history
// finishes).
func (e *Engine) Backfill(dates []string) error {
	sorted := make([]string, len(dates))
	copy(sorted, dates)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))

	for _, d := range sorted {
		if err := e.RecomputeDay(d); err != nil {
			return fmt.Errorf("backfill %s: %w", d, err)
		}
	}
	return nil
}

// RecomputeTickerDay rewrites the per-ticker derived columns (moving
// averages, volume MA, VCP factor, RPS rank) for every ticker with a bar
// on the target day.
func (e *Engine) RecomputeTickerDay(tradeDate string) error {
	dayBars, err := e.bars.GetByDate(tradeDate)
	if err != nil {
		return fmt.Errorf("load bars on %s: %w", tradeDate, err)
	}
	if len(dayBars) == 0 {
		e.log.Debug().Str("date", tradeDate).Msg("No bars on day, skipping ticker metrics")
		return nil
	}

	for _, bar := range dayBars {
		window, err := e.bars.GetRecentBefore(bar.Code, tradeDate, 60)
		if err != nil {
			return fmt.Errorf("load window for %s: %w", bar.Code, err)
		}
		m := ComputeBarMetrics(window)
		if err := e.bars.UpdateDerived(bar.Code, tradeDate,
			m.MA5, m.MA10, m.MA20, m.MA30, m.MA60, m.VolMA5, m.VCPFactor); err != nil {
			return fmt.Errorf("write derived for %s: %w", bar.Code, err)
		}
	}

	if err := e.recomputeRPS(tradeDate, dayBars); err != nil {
		return err
	}

	e.log.Info().Str("date", tradeDate).Int("tickers", len(dayBars)).Msg("Recomputed ticker metrics")
	return nil
}

// BarMetrics is the derived-column set of one bar.
type BarMetrics struct {
	MA5, MA10, MA20, MA30, MA60 *float64
	VolMA5                      *float64
	VCPFactor                   *float64
}

// ComputeBarMetrics derives the MA / volume / contraction metrics from an
// ascending window ending at the target day. Partial windows use the
// shorter available span rather than producing a NaN.
func ComputeBarMetrics(window []domain.DailyBar) BarMetrics {
	var m BarMetrics
	if len(window) == 0 {
		return m
	}

	closes := make([]float64, len(window))
	volumes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	m.MA5 = ptr(tailMean(closes, 5))
	m.MA10 = ptr(tailMean(closes, 10))
	m.MA20 = ptr(tailMean(closes, 20))
	m.MA30 = ptr(tailMean(closes, 30))
	m.MA60 = ptr(tailMean(closes, 60))
	m.VolMA5 = ptr(tailMean(volumes, 5))
	m.VCPFactor = ptr(vcpFactor(window))
	return m
}

// vcpFactor is the trailing 20-row price-range contraction measure:
// (high_max - low_min) / close_mean. Falls back to 1.0 under 20 rows.
func vcpFactor(window []domain.DailyBar) float64 {
	if len(window) < 20 {
		return 1.0
	}
	tail := window[len(window)-20:]

	hi := tail[0].High
	lo := tail[0].Low
	sum := 0.0
	for _, b := range tail {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
		sum += b.Close
	}
	mean := sum / float64(len(tail))
	if mean == 0 {
		return 1.0
	}
	return (hi - lo) / mean
}

// recomputeRPS ranks every ticker's 250-day trailing return on the target
// day and writes the percentile scores in one transaction. Tickers lacking
// a bar 250 trading days back are excluded, not scored zero.
func (e *Engine) recomputeRPS(tradeDate string, dayBars []domain.DailyBar) error {
	type ret struct {
		code string
		r    float64
	}
	var returns []ret

	for _, bar := range dayBars {
		window, err := e.bars.GetRecentBefore(bar.Code, tradeDate, rpsWindow+1)
		if err != nil {
			return fmt.Errorf("load rps window for %s: %w", bar.Code, err)
		}
		if len(window) < rpsWindow+1 {
			continue
		}
		base := window[0].Close
		if base <= 0 {
			continue
		}
		returns = append(returns, ret{
			code: bar.Code,
			r:    (window[len(window)-1].Close/base - 1) * 100,
		})
	}
	if len(returns) == 0 {
		return nil
	}

	sort.Slice(returns, func(i, j int) bool { return returns[i].r < returns[j].r })

	rps := make(map[string]float64, len(returns))
	n := len(returns)
	for rank, rr := range returns {
		score := 99.9
		if n > 1 {
			score = float64(rank) / float64(n-1) * 99.9
		}
		rps[rr.code] = clamp(score, 0, 99.9)
	}
	return e.bars.UpdateRPSBatch(tradeDate, rps)
}

func tailMean(values []float64, span int) float64 {
	if len(values) == 0 {
		return 0
	}
	if span > len(values) {
		span = len(values)
	}
	tail := values[len(values)-span:]
	sum := 0.0
	for _, v := range tail {
		sum += v
	}
	return sum / float64(span)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ptr(v float64) *float64 { return &v }
