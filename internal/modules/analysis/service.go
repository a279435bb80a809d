// Package analysis produces the on-demand deep dive for one ticker:
// short-horizon price projection, pattern read, ATR stop levels and a
// factor panel.
package analysis

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/domain"
)

// History window sizes. The factor panel needs a full MACD warm-up; swing
// levels read a shorter tail.
const (
	analysisWindow  = 60
	minAnalysisBars = 35
	swingWindow     = 20
	projectionDays  = 5
)

// ATR multiples for the suggested stop and target.
const (
	stopATRMultiple   = 2.0
	targetATRMultiple = 3.0
)

// BarReader is the market-data slice the analyzer needs.
type BarReader interface {
	GetRecentBefore(code, tradeDate string, limit int) ([]domain.DailyBar, error)
	LatestDate() (string, error)
}

// NameResolver maps a code to ticker metadata.
type NameResolver interface {
	GetByCode(code string) (*domain.Ticker, error)
}

// Projection is one projected day.
type Projection struct {
	Day   int     `json:"day"`
	Price float64 `json:"price"`
}

// Factors is the technical panel computed over the analysis window.
type Factors struct {
	RSI6       float64 `json:"rsi_6"`
	RSI14      float64 `json:"rsi_14"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	ATR14      float64 `json:"atr_14"`
	Bias20     float64 `json:"bias_20"`
	VolRatio   float64 `json:"vol_ratio"`
}

// Report is the full deep-analysis payload.
type Report struct {
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	TradeDate   string       `json:"trade_date"`
	Close       float64      `json:"close"`
	Pattern     string       `json:"pattern"`
	Projections []Projection `json:"projections"`
	Support     float64      `json:"support"`
	Resistance  float64      `json:"resistance"`
	StopLoss    float64      `json:"stop_loss"`
	Target      float64      `json:"target"`
	Factors     Factors      `json:"factors"`
	Assessment  string       `json:"assessment"`
}

// Service runs deep analyses against the feature store.
type Service struct {
	bars    BarReader
	tickers NameResolver
	log     zerolog.Logger
}

// NewService creates the deep-analysis service.
func NewService(bars BarReader, tickers NameResolver, log zerolog.Logger) *Service {
	return &Service{
		bars:    bars,
		tickers: tickers,
		log:     log.With().Str("component", "analysis").Logger(),
	}
}

// Analyze builds the report for one ticker as of tradeDate; an empty date
// means the latest stored day.
func (s *Service) Analyze(code, tradeDate string) (*Report, error) {
	code = domain.CanonicalCode(code)
	if tradeDate == "" {
		latest, err := s.bars.LatestDate()
		if err != nil {
			return nil, fmt.Errorf("resolve latest trade date: %w", err)
		}
		tradeDate = latest
	}
	if tradeDate == "" {
		return nil, fmt.Errorf("no market data available")
	}

	window, err := s.bars.GetRecentBefore(code, tradeDate, analysisWindow)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", code, err)
	}
	if len(window) < minAnalysisBars {
		return nil, fmt.Errorf("insufficient history for %s: have %d bars, need %d",
			code, len(window), minAnalysisBars)
	}

	report := buildReport(code, window)
	if t, err := s.tickers.GetByCode(code); err == nil && t != nil {
		report.Name = t.Name
	}
	return report, nil
}

func buildReport(code string, window []domain.DailyBar) *Report {
	last := window[len(window)-1]

	closes := make([]float64, len(window))
	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	volumes := make([]float64, len(window))
	for i, b := range window {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	f := computeFactors(closes, highs, lows, volumes)

	tail := window[len(window)-swingWindow:]
	support, resistance := swingLevels(tail)

	report := &Report{
		Code:        code,
		TradeDate:   last.TradeDate,
		Close:       last.Close,
		Pattern:     classifyPattern(closes, support, resistance, last.Close),
		Projections: project(window),
		Support:     support,
		Resistance:  resistance,
		StopLoss:    math.Max(0, last.Close-stopATRMultiple*f.ATR14),
		Target:      last.Close + targetATRMultiple*f.ATR14,
		Factors:     f,
	}
	report.Assessment = assess(report)
	return report
}

func computeFactors(closes, highs, lows, volumes []float64) Factors {
	var f Factors

	if rsi := talib.Rsi(closes, 6); len(rsi) > 0 {
		f.RSI6 = rsi[len(rsi)-1]
	}
	if rsi := talib.Rsi(closes, 14); len(rsi) > 0 {
		f.RSI14 = rsi[len(rsi)-1]
	}

	macd, signal, hist := talib.Macd(closes, 12, 26, 9)
	if n := len(macd); n > 0 {
		f.MACD = macd[n-1]
		f.MACDSignal = signal[n-1]
		f.MACDHist = hist[n-1]
	}

	if atr := talib.Atr(highs, lows, closes, 14); len(atr) > 0 {
		f.ATR14 = atr[len(atr)-1]
	}

	last := closes[len(closes)-1]
	if ma20 := tailMean(closes, 20); ma20 > 0 {
		f.Bias20 = (last - ma20) / ma20 * 100
	}
	if volMA20 := tailMean(volumes, 20); volMA20 > 0 {
		f.VolRatio = volumes[len(volumes)-1] / volMA20
	}
	return f
}

// swingLevels reads support and resistance off the recent swing extremes.
func swingLevels(tail []domain.DailyBar) (support, resistance float64) {
	support = tail[0].Low
	resistance = tail[0].High
	for _, b := range tail {
		if b.Low < support {
			support = b.Low
		}
		if b.High > resistance {
			resistance = b.High
		}
	}
	return support, resistance
}

// classifyPattern labels the trend from the short and medium moving means
// and the price's position inside the swing range.
func classifyPattern(closes []float64, support, resistance, last float64) string {
	ma5 := tailMean(closes, 5)
	ma20 := tailMean(closes, 20)

	switch {
	case ma5 > ma20*1.01:
		if resistance > 0 && last >= resistance*0.99 {
			return "breakout"
		}
		return "uptrend"
	case ma5 < ma20*0.99:
		if support > 0 && last <= support*1.01 {
			return "breakdown"
		}
		return "downtrend"
	default:
		return "consolidation"
	}
}

// project extrapolates five daily closes from recent momentum damped by
// the volume trend.
func project(window []domain.DailyBar) []Projection {
	n := len(window)
	last := window[n-1]

	momentum := 0.0
	for _, b := range window[n-5:] {
		momentum += b.ChangePct
	}
	momentum /= 5

	volumes := make([]float64, n)
	for i, b := range window {
		volumes[i] = b.Volume
	}
	volFactor := 1.0
	if volMA20 := tailMean(volumes, 20); volMA20 > 0 {
		volFactor = tailMean(volumes, 5) / volMA20
	}

	// daily drift: momentum confirmed by volume, clamped to +-3 percent
	drift := momentum * math.Min(volFactor, 1.5) * 0.5
	if drift > 3 {
		drift = 3
	}
	if drift < -3 {
		drift = -3
	}

	out := make([]Projection, projectionDays)
	price := last.Close
	for i := 0; i < projectionDays; i++ {
		price *= 1 + drift/100
		out[i] = Projection{Day: i + 1, Price: price}
	}
	return out
}

func assess(r *Report) string {
	f := r.Factors
	switch {
	case f.RSI6 >= 80:
		return fmt.Sprintf("%s is overbought (RSI6 %.1f); chasing here risks a pullback toward %.2f", r.Pattern, f.RSI6, r.Support)
	case f.RSI6 <= 20:
		return fmt.Sprintf("%s is oversold (RSI6 %.1f); watch for stabilisation above %.2f", r.Pattern, f.RSI6, r.Support)
	case f.MACDHist > 0 && f.VolRatio >= 1.5:
		return fmt.Sprintf("%s with volume confirmation; resistance at %.2f, stop %.2f", r.Pattern, r.Resistance, r.StopLoss)
	case f.MACDHist < 0:
		return fmt.Sprintf("%s with fading momentum; support at %.2f is the line to hold", r.Pattern, r.Support)
	default:
		return fmt.Sprintf("%s; range %.2f-%.2f, stop %.2f", r.Pattern, r.Support, r.Resistance, r.StopLoss)
	}
}

func tailMean(values []float64, n int) float64 {
	if len(values) < n {
		n = len(values)
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}
