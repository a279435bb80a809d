package alpha

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/marketpulse/internal/domain"
)

// Market regimes. Attack loosens the Level-2 gate for momentum, Defense
// narrows it to oversold reversals, Balance keeps the baseline.
const (
	RegimeAttack  = "attack"
	RegimeDefense = "defense"
	RegimeBalance = "balance"
)

// RSRS geometry: slope windows of 18 index days, z-scored over up to 30
// trailing windows.
const (
	rsrsWindow     = 18
	rsrsMaxHistory = 30
	rsrsMinHistory = 10
	regimeZCut     = 0.7
)

// IndexStore provides benchmark bars for regime detection.
type IndexStore interface {
	GetRecentBefore(indexCode, tradeDate string, limit int) ([]domain.IndexDaily, error)
}

// SyntheticIndexSource rebuilds a universe-wide benchmark for days the
// configured index cannot cover: per trading day, the amount-weighted
// mean of every ticker's high, low and close.
type SyntheticIndexSource interface {
	AmountWeightedIndex(tradeDate string, limit int) ([]domain.IndexDaily, error)
}

// RegimeInfo is the detection outcome surfaced in pipeline metadata.
type RegimeInfo struct {
	Regime string  `json:"regime"`
	ZScore float64 `json:"z_score"`
	Beta   float64 `json:"beta"`
}

// RegimeDetector computes the RSRS regime from a broad-market index:
// OLS of daily high on daily low per window, the latest slope z-scored
// against its own trailing distribution.
type RegimeDetector struct {
	index     IndexStore
	synthetic SyntheticIndexSource
	indexCode string
}

// NewRegimeDetector creates a detector on the configured benchmark index,
// with an optional synthetic universe index as fallback.
func NewRegimeDetector(index IndexStore, synthetic SyntheticIndexSource, indexCode string) *RegimeDetector {
	return &RegimeDetector{index: index, synthetic: synthetic, indexCode: indexCode}
}

// Detect classifies the market regime as of one trading day. When the
// benchmark index is unavailable or too short it retries on the
// amount-weighted synthetic universe index; Balance is reported only
// when that series is also too short for a single slope window.
func (d *RegimeDetector) Detect(tradeDate string) (RegimeInfo, error) {
	need := rsrsWindow + rsrsMaxHistory - 1

	bars, err := d.index.GetRecentBefore(d.indexCode, tradeDate, need)
	if err != nil {
		bars = nil
	}
	if len(bars) < rsrsWindow && d.synthetic != nil {
		synth, synthErr := d.synthetic.AmountWeightedIndex(tradeDate, need)
		if synthErr == nil && len(synth) > len(bars) {
			bars, err = synth, nil
		}
	}
	if len(bars) < rsrsWindow {
		if err != nil {
			return RegimeInfo{}, fmt.Errorf("load index bars for regime: %w", err)
		}
		return RegimeInfo{Regime: RegimeBalance}, nil
	}

	betas := rollingBetas(bars)
	if len(betas) == 0 {
		return RegimeInfo{Regime: RegimeBalance}, nil
	}
	latest := betas[len(betas)-1]

	var z float64
	if len(betas) >= rsrsMinHistory {
		m, sd := stat.MeanStdDev(betas, nil)
		if sd > 0 {
			z = (latest - m) / sd
		}
	} else {
		// short-history surrogate: scale the slope's distance from 1
		z = (latest - 1) * 10
	}

	info := RegimeInfo{Regime: RegimeBalance, ZScore: z, Beta: latest}
	switch {
	case z > regimeZCut:
		info.Regime = RegimeAttack
	case z < -regimeZCut:
		info.Regime = RegimeDefense
	}
	return info, nil
}

// rollingBetas computes the OLS slope high ~ low for every complete
// 18-bar window ending in the series, oldest first.
func rollingBetas(bars []domain.IndexDaily) []float64 {
	var betas []float64
	for end := rsrsWindow; end <= len(bars); end++ {
		window := bars[end-rsrsWindow : end]
		lows := make([]float64, rsrsWindow)
		highs := make([]float64, rsrsWindow)
		for i, b := range window {
			lows[i] = b.Low
			highs[i] = b.High
		}
		_, beta := stat.LinearRegression(lows, highs, nil, false)
		if math.IsNaN(beta) || math.IsInf(beta, 0) {
			continue
		}
		betas = append(betas, beta)
	}
	if len(betas) > rsrsMaxHistory {
		betas = betas[len(betas)-rsrsMaxHistory:]
	}
	return betas
}
