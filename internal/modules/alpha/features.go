package alpha

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/aristath/marketpulse/internal/domain"
)

// Level 1 needs a full trailing quarter of history per ticker.
const featureWindow = 90

// BarStore is the market-data access the pipeline needs.
type BarStore interface {
	GetByDate(tradeDate string) ([]domain.DailyBar, error)
	GetRecentBefore(code, tradeDate string, limit int) ([]domain.DailyBar, error)
	GetAfter(code, tradeDate string, limit int) ([]domain.DailyBar, error)
}

// TickerStore resolves ticker metadata for the feature join.
type TickerStore interface {
	GetAllActive() ([]domain.Ticker, error)
}

// Feature is one ticker's Level-1 row: the latest bar joined with metadata
// and the in-memory factor set.
type Feature struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Industry  string `json:"industry"`
	TradeDate string `json:"trade_date"`
	ListDate  *string `json:"list_date,omitempty"`

	Open         float64 `json:"open"`
	Close        float64 `json:"close"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Volume       float64 `json:"volume"`
	Amount       float64 `json:"amount"`
	TurnoverRate float64 `json:"turnover_rate"`
	ChangePct    float64 `json:"change_pct"`

	VolMA5           float64  `json:"vol_ma_5"`
	VolMA20          float64  `json:"vol_ma_20"`
	VCPFactor        float64  `json:"vcp_factor"`
	VolRatioMA20     float64  `json:"vol_ratio_ma20"`
	UpperShadowRatio float64  `json:"upper_shadow_ratio"`
	VWAP             float64  `json:"vwap"`
	ATR              float64  `json:"atr"`
	Bias20           float64  `json:"bias_20"`
	RSI6             float64  `json:"rsi_6"`
	MA20             float64  `json:"ma20"`
	MA60             float64  `json:"ma60"`
	RPS250           *float64 `json:"rps_250,omitempty"`

	IsSTARMarket bool `json:"is_star_market"`
	IsGEM        bool `json:"is_gem"`

	// Resonance fields, filled for T6/T7 (§ sector grouping).
	SectorAvgChg   float64 `json:"sector_avg_chg"`
	SectorBreadth  float64 `json:"sector_breadth"`
	SectorMaxChg   float64 `json:"sector_max_chg"`
	ResonanceScore float64 `json:"resonance_score"`
}

// extractFeatures runs Level 1 over every ticker with a bar on the target
// day and at least featureWindow trailing rows. Returns nil, "" on success
// with rows; an empty result carries the diagnostic breadcrumb.
func (p *Pipeline) extractFeatures(ctx context.Context, tradeDate string) ([]Feature, error) {
	dayBars, err := p.bars.GetByDate(tradeDate)
	if err != nil {
		return nil, fmt.Errorf("load bars on %s: %w", tradeDate, err)
	}

	tickers, err := p.tickers.GetAllActive()
	if err != nil {
		return nil, fmt.Errorf("load ticker universe: %w", err)
	}
	meta := make(map[string]domain.Ticker, len(tickers))
	for _, t := range tickers {
		meta[t.Code] = t
	}

	features := make([]Feature, 0, len(dayBars))
	for _, bar := range dayBars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		window, err := p.bars.GetRecentBefore(bar.Code, tradeDate, featureWindow)
		if err != nil {
			return nil, fmt.Errorf("load feature window %s: %w", bar.Code, err)
		}
		if len(window) < featureWindow {
			continue
		}

		f := computeFeature(window)
		if t, ok := meta[bar.Code]; ok {
			f.Name = t.Name
			f.Industry = t.Industry
			f.ListDate = t.ListDate
		}
		features = append(features, f)
	}
	return features, nil
}

// computeFeature derives the factor set from one ascending 90-bar window.
func computeFeature(window []domain.DailyBar) Feature {
	last := window[len(window)-1]

	closes := make([]float64, len(window))
	volumes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	f := Feature{
		Code:         last.Code,
		TradeDate:    last.TradeDate,
		Open:         last.Open,
		Close:        last.Close,
		High:         last.High,
		Low:          last.Low,
		Volume:       last.Volume,
		Amount:       last.Amount,
		TurnoverRate: last.TurnoverRate,
		ChangePct:    last.ChangePct,
		RPS250:       last.RPS250,
		IsSTARMarket: domain.IsSTARMarket(last.Code),
		IsGEM:        domain.IsGEM(last.Code),
	}

	f.VolMA5 = mean(volumes[len(volumes)-5:])
	f.VolMA20 = mean(volumes[len(volumes)-20:])
	f.MA20 = mean(closes[len(closes)-20:])
	f.MA60 = mean(closes[len(closes)-60:])
	f.VCPFactor = rangeContraction(window[len(window)-20:])

	f.VolRatioMA20 = 1.0
	if f.VolMA20 > 0 {
		f.VolRatioMA20 = last.Volume / f.VolMA20
	}

	if priceRange := last.High - last.Low; priceRange > 0 {
		f.UpperShadowRatio = (last.High - last.Close) / priceRange
	}

	f.VWAP = last.Close
	if last.Volume > 0 {
		// amount is stored in ten-thousand units; volume in shares of 100
		f.VWAP = last.Amount * 10000 / (last.Volume * 100)
	}

	f.ATR = last.High - last.Low

	if f.MA20 > 0 {
		f.Bias20 = (last.Close - f.MA20) / f.MA20 * 100
	}

	if rsi := talib.Rsi(closes, 6); len(rsi) > 0 {
		f.RSI6 = rsi[len(rsi)-1]
	}

	return f
}

// rangeContraction is the 20-row VCP measure computed on the fly.
func rangeContraction(tail []domain.DailyBar) float64 {
	if len(tail) < 20 {
		return 1.0
	}
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
	m := sum / float64(len(tail))
	if m == 0 {
		return 1.0
	}
	return (hi - lo) / m
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
