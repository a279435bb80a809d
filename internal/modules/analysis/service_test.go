package analysis

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketpulse/internal/domain"
)

type stubBars struct {
	latest string
	series map[string][]domain.DailyBar
}

func (s *stubBars) LatestDate() (string, error) { return s.latest, nil }

func (s *stubBars) GetRecentBefore(code, tradeDate string, limit int) ([]domain.DailyBar, error) {
	bars := s.series[code]
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

type stubNames map[string]string

func (s stubNames) GetByCode(code string) (*domain.Ticker, error) {
	name, ok := s[code]
	if !ok {
		return nil, nil
	}
	return &domain.Ticker{Code: code, Name: name}, nil
}

func analysisLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

// risingSeries walks the close up by pct each day with steady volume.
func risingSeries(code string, n int, pct float64) []domain.DailyBar {
	out := make([]domain.DailyBar, n)
	price := 10.0
	for i := 0; i < n; i++ {
		price *= 1 + pct/100
		out[i] = domain.DailyBar{
			Code:      code,
			TradeDate: fmt.Sprintf("2026-%04d", i+1),
			Open:      price * 0.99,
			Close:     price,
			High:      price * 1.01,
			Low:       price * 0.98,
			Volume:    10000,
			ChangePct: pct,
		}
	}
	return out
}

func fallingSeries(code string, n int, pct float64) []domain.DailyBar {
	out := risingSeries(code, n, -pct)
	return out
}

func TestAnalyze_RisingTicker(t *testing.T) {
	bars := &stubBars{
		latest: "2026-08-21",
		series: map[string][]domain.DailyBar{"600519": risingSeries("600519", 60, 1.5)},
	}
	svc := NewService(bars, stubNames{"600519": "贵州茅台"}, analysisLogger())

	report, err := svc.Analyze("600519", "")
	require.NoError(t, err)

	assert.Equal(t, "600519", report.Code)
	assert.Equal(t, "贵州茅台", report.Name)
	assert.Contains(t, []string{"uptrend", "breakout"}, report.Pattern)

	// a steady climber projects higher closes
	require.Len(t, report.Projections, 5)
	assert.Greater(t, report.Projections[0].Price, report.Close)
	assert.Greater(t, report.Projections[4].Price, report.Projections[0].Price)

	assert.Greater(t, report.Resistance, report.Support)
	assert.Less(t, report.StopLoss, report.Close)
	assert.Greater(t, report.Target, report.Close)

	// persistent gains pin RSI near the top of its range
	assert.Greater(t, report.Factors.RSI6, 70.0)
	assert.Greater(t, report.Factors.ATR14, 0.0)
	assert.NotEmpty(t, report.Assessment)
}

func TestAnalyze_FallingTicker(t *testing.T) {
	bars := &stubBars{
		latest: "2026-08-21",
		series: map[string][]domain.DailyBar{"000400": fallingSeries("000400", 60, 1.5)},
	}
	svc := NewService(bars, stubNames{}, analysisLogger())

	report, err := svc.Analyze("000400", "")
	require.NoError(t, err)

	assert.Contains(t, []string{"downtrend", "breakdown"}, report.Pattern)
	assert.Less(t, report.Projections[4].Price, report.Close)
	assert.Less(t, report.Factors.RSI6, 30.0)
}

func TestAnalyze_CanonicalisesCode(t *testing.T) {
	bars := &stubBars{
		latest: "2026-08-21",
		series: map[string][]domain.DailyBar{"600519": risingSeries("600519", 60, 1.0)},
	}
	svc := NewService(bars, stubNames{}, analysisLogger())

	report, err := svc.Analyze("SH600519", "")
	require.NoError(t, err)
	assert.Equal(t, "600519", report.Code)
}

func TestAnalyze_InsufficientHistory(t *testing.T) {
	bars := &stubBars{
		latest: "2026-08-21",
		series: map[string][]domain.DailyBar{"300750": risingSeries("300750", 10, 1.0)},
	}
	svc := NewService(bars, stubNames{}, analysisLogger())

	_, err := svc.Analyze("300750", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient history")
}

func TestAnalyze_EmptyStore(t *testing.T) {
	svc := NewService(&stubBars{series: map[string][]domain.DailyBar{}}, stubNames{}, analysisLogger())

	_, err := svc.Analyze("600519", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no market data")
}
