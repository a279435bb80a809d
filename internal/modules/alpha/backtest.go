package alpha

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// A backtest span is capped at half a year to bound runtime.
const maxBacktestDays = 180

// ErrSpanTooLong is returned for spans over the cap; handlers surface it
// as a 400.
var ErrSpanTooLong = fmt.Errorf("date range cannot exceed 6 months")

// holdingDays is the simulated holding period of every position.
const holdingDays = 5

// TradingCalendar enumerates trading days for the walk-forward loop.
type TradingCalendar interface {
	TradingDaysIn(a, b time.Time) []string
}

// Trade is one simulated position.
type Trade struct {
	Code        string  `json:"code"`
	EntryDate   string  `json:"entry_date"`
	EntryPrice  float64 `json:"entry_price"`
	MaxReturn   float64 `json:"max_return"`
	FinalReturn float64 `json:"final_return"`
	Score       float64 `json:"score"`
	Settled     bool    `json:"settled"`
}

// BacktestResult is the walk-forward outcome. It is returned to the
// caller and never persisted.
type BacktestResult struct {
	RunID       string  `json:"run_id"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	TradingDays int     `json:"trading_days"`
	Trades      []Trade `json:"trades"`

	TotalTrades    int     `json:"total_trades"`
	WinRate        float64 `json:"win_rate"`
	AvgMaxReturn   float64 `json:"avg_max_return"`
	AvgFinalReturn float64 `json:"avg_final_return"`
	ElapsedMS      int64   `json:"elapsed_ms"`
}

// Backtester walks the pipeline forward over a date span, opening
// simulated positions at each day's close and settling them five trading
// days later.
type Backtester struct {
	pipeline *Pipeline
	bars     BarStore
	calendar TradingCalendar
	log      zerolog.Logger
}

// NewBacktester creates the walk-forward engine.
func NewBacktester(pipeline *Pipeline, bars BarStore, calendar TradingCalendar, log zerolog.Logger) *Backtester {
	return &Backtester{
		pipeline: pipeline,
		bars:     bars,
		calendar: calendar,
		log:      log.With().Str("component", "backtester").Logger(),
	}
}

// Run executes the walk-forward loop. Trades whose holding window extends
// past available data stay unsettled and are excluded from the summary.
func (b *Backtester) Run(ctx context.Context, startDate, endDate string, params Params, topN int) (*BacktestResult, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date before start date")
	}
	if end.Sub(start) > maxBacktestDays*24*time.Hour {
		return nil, ErrSpanTooLong
	}

	began := time.Now()
	days := b.calendar.TradingDaysIn(start, end)

	result := &BacktestResult{
		RunID:       uuid.New().String(),
		StartDate:   startDate,
		EndDate:     endDate,
		TradingDays: len(days),
	}

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		run, err := b.pipeline.Run(ctx, day, params, topN)
		if err != nil {
			return nil, fmt.Errorf("pipeline at %s: %w", day, err)
		}

		for _, rec := range run.Recommendations {
			trade, err := b.settle(rec, day)
			if err != nil {
				return nil, err
			}
			result.Trades = append(result.Trades, trade)
		}
	}

	summarize(result)
	result.ElapsedMS = time.Since(began).Milliseconds()

	b.log.Info().
		Str("run_id", result.RunID).
		Int("trading_days", result.TradingDays).
		Int("trades", result.TotalTrades).
		Float64("win_rate", result.WinRate).
		Msg("Backtest complete")
	return result, nil
}

// settle opens a position at the entry day's close and scores it against
// the following five trading days of realised bars.
func (b *Backtester) settle(rec ScoredTicker, entryDate string) (Trade, error) {
	trade := Trade{
		Code:       rec.Code,
		EntryDate:  entryDate,
		EntryPrice: rec.Close,
		Score:      rec.TotalScore,
	}

	future, err := b.bars.GetAfter(rec.Code, entryDate, holdingDays)
	if err != nil {
		return trade, fmt.Errorf("load outcome bars for %s: %w", rec.Code, err)
	}
	if len(future) < holdingDays || trade.EntryPrice <= 0 {
		return trade, nil
	}

	maxHigh := future[0].High
	for _, bar := range future {
		if bar.High > maxHigh {
			maxHigh = bar.High
		}
	}
	finalClose := future[len(future)-1].Close

	trade.MaxReturn = (maxHigh - trade.EntryPrice) / trade.EntryPrice * 100
	trade.FinalReturn = (finalClose - trade.EntryPrice) / trade.EntryPrice * 100
	trade.Settled = true
	return trade, nil
}

func summarize(result *BacktestResult) {
	var settled, wins int
	var sumMax, sumFinal float64
	for _, t := range result.Trades {
		if !t.Settled {
			continue
		}
		settled++
		sumMax += t.MaxReturn
		sumFinal += t.FinalReturn
		if t.FinalReturn > 0 {
			wins++
		}
	}

	result.TotalTrades = settled
	if settled > 0 {
		result.WinRate = float64(wins) / float64(settled) * 100
		result.AvgMaxReturn = sumMax / float64(settled)
		result.AvgFinalReturn = sumFinal / float64(settled)
	}
}
