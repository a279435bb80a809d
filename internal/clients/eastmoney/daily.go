package eastmoney

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aristath/marketpulse/internal/domain"
)

// klineFieldCount is the column count of the fields2 selection requested in
// kline calls: date, open, close, high, low, volume, amount, amplitude,
// change_pct, change, turnover_rate.
const klineFieldCount = 11

// DailyBars returns up to limit daily bars for one ticker, ascending by date.
// Derived columns are left nil; the derived-metric engine fills them.
func (c *Client) DailyBars(ctx context.Context, code string, limit int) ([]domain.DailyBar, error) {
	code = domain.CanonicalCode(code)
	path := fmt.Sprintf(
		"/api/qt/stock/kline/get?secid=%s&klt=101&fqt=1&lmt=%d&end=20500101"+
			"&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61",
		secID(code), limit)

	var env klineEnvelope
	if err := c.getJSON(ctx, "daily_bars", path, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, fmt.Errorf("daily bars %s: empty payload", code)
	}

	bars := make([]domain.DailyBar, 0, len(env.Data.Klines))
	for _, line := range env.Data.Klines {
		bar, err := parseKline(code, line)
		if err != nil {
			return nil, fmt.Errorf("daily bars %s: %w", code, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// IndexDaily returns daily bars of a broad-market index, ascending.
func (c *Client) IndexDaily(ctx context.Context, indexCode string, limit int) ([]domain.IndexDaily, error) {
	indexCode = domain.CanonicalCode(indexCode)
	path := fmt.Sprintf(
		"/api/qt/stock/kline/get?secid=%s&klt=101&fqt=1&lmt=%d&end=20500101"+
			"&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61",
		indexSecID(indexCode), limit)

	var env klineEnvelope
	if err := c.getJSON(ctx, "index_daily", path, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, fmt.Errorf("index daily %s: empty payload", indexCode)
	}

	rows := make([]domain.IndexDaily, 0, len(env.Data.Klines))
	for _, line := range env.Data.Klines {
		bar, err := parseKline(indexCode, line)
		if err != nil {
			return nil, fmt.Errorf("index daily %s: %w", indexCode, err)
		}
		rows = append(rows, domain.IndexDaily{
			IndexCode: indexCode,
			TradeDate: bar.TradeDate,
			Open:      bar.Open,
			Close:     bar.Close,
			High:      bar.High,
			Low:       bar.Low,
			Volume:    bar.Volume,
			Amount:    bar.Amount,
			ChangePct: bar.ChangePct,
		})
	}
	return rows, nil
}

// TradingDays implements calendar.Source: the trading-day list is the set of
// kline dates of the Shanghai composite over the trailing two years.
func (c *Client) TradingDays(ctx context.Context) ([]string, error) {
	rows, err := c.IndexDaily(ctx, "000001", 500)
	if err != nil {
		return nil, err
	}
	days := make([]string, 0, len(rows))
	for _, r := range rows {
		days = append(days, r.TradeDate)
	}
	return days, nil
}

// parseKline converts one comma-separated kline row into a DailyBar.
// An unexpected column count is a schema mismatch and rejects the whole
// response; no silent partial records.
func parseKline(code, line string) (domain.DailyBar, error) {
	parts := strings.Split(line, ",")
	if len(parts) != klineFieldCount {
		return domain.DailyBar{}, fmt.Errorf("schema mismatch: %d columns", len(parts))
	}

	fs := make([]float64, klineFieldCount)
	for i := 1; i < klineFieldCount; i++ {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return domain.DailyBar{}, fmt.Errorf("column %d: %w", i, err)
		}
		fs[i] = v
	}

	changePct := fs[8]
	// Clamp runaway change values; up to +-1000 percent covers relisting gaps.
	if changePct > 1000 {
		changePct = 1000
	} else if changePct < -1000 {
		changePct = -1000
	}

	return domain.DailyBar{
		Code:         code,
		TradeDate:    parts[0],
		Open:         fs[1],
		Close:        fs[2],
		High:         fs[3],
		Low:          fs[4],
		Volume:       fs[5],
		Amount:       fs[6] / wan,
		ChangePct:    changePct,
		TurnoverRate: fs[10],
	}, nil
}

// indexSecID maps an index code to the vendor security id. The Shanghai
// composite family lives under market 1, the rest under 0.
func indexSecID(code string) string {
	if strings.HasPrefix(code, "000001") || strings.HasPrefix(code, "000852") ||
		strings.HasPrefix(code, "000300") || strings.HasPrefix(code, "000905") {
		return "1." + code
	}
	return "0." + code
}
