package eastmoney

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aristath/marketpulse/internal/domain"
)

// flowFieldCount is the column count of the fflow daykline selection:
// date, main, small, medium, large, super_large (yuan), then the five
// matching percentage columns.
const flowFieldCount = 11

// TickerFlowHistory returns the trailing ~100-day money-flow series for one
// ticker, ascending by date, values in ten-thousand units.
func (c *Client) TickerFlowHistory(ctx context.Context, code string) ([]domain.MoneyFlow, error) {
	code = domain.CanonicalCode(code)
	path := fmt.Sprintf(
		"/api/qt/stock/fflow/daykline/get?secid=%s&lmt=100"+
			"&fields1=f1,f2,f3,f7&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61",
		secID(code))

	var env klineEnvelope
	if err := c.getJSON(ctx, "ticker_flow", path, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, fmt.Errorf("ticker flow %s: empty payload", code)
	}

	flows := make([]domain.MoneyFlow, 0, len(env.Data.Klines))
	for _, line := range env.Data.Klines {
		flow, err := parseFlowKline(code, line)
		if err != nil {
			return nil, fmt.Errorf("ticker flow %s: %w", code, err)
		}
		flows = append(flows, flow)
	}
	return flows, nil
}

// UniverseFlowToday returns today's money flow for every ticker in one call.
func (c *Client) UniverseFlowToday(ctx context.Context, tradeDate string) ([]domain.MoneyFlow, error) {
	var out []domain.MoneyFlow
	for page := 1; ; page++ {
		path := fmt.Sprintf(
			"/api/qt/clist/get?pn=%d&pz=%d&po=1&fltt=2&fid=f62&fs=m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23"+
				"&fields=f12,f14,f62,f66,f72,f78,f84",
			page, snapshotPageSize)

		var env listEnvelope
		if err := c.getJSON(ctx, "universe_flow", path, &env); err != nil {
			return nil, err
		}
		if env.Data == nil || len(env.Data.Diff) == 0 {
			break
		}

		for _, item := range env.Data.Diff {
			if item.Code == "" {
				continue
			}
			out = append(out, domain.MoneyFlow{
				Code:          domain.CanonicalCode(item.Code),
				TradeDate:     tradeDate,
				MainNet:       float64(item.MainNet) / wan,
				SuperLargeNet: float64(item.SuperNet) / wan,
				LargeNet:      float64(item.LargeNet) / wan,
				MediumNet:     float64(item.MediumNet) / wan,
				SmallNet:      float64(item.SmallNet) / wan,
			})
		}

		if len(out) >= env.Data.Total || len(env.Data.Diff) < snapshotPageSize {
			break
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("universe flow: empty payload")
	}
	return out, nil
}

// SectorFlowToday returns today's aggregate flow per concept board.
// Derived sector columns (RPS, MA status, limit-up count, top weights) are
// computed by the derived-metric engine, not pulled from the vendor.
func (c *Client) SectorFlowToday(ctx context.Context, tradeDate string) ([]domain.SectorFlow, error) {
	path := "/api/qt/clist/get?pn=1&pz=500&po=1&fltt=2&fid=f62&fs=m:90+t:3" +
		"&fields=f3,f8,f12,f14,f62,f66,f72,f78,f84"

	var env listEnvelope
	if err := c.getJSON(ctx, "sector_flow", path, &env); err != nil {
		return nil, err
	}
	if env.Data == nil || len(env.Data.Diff) == 0 {
		return nil, fmt.Errorf("sector flow: empty payload")
	}

	rows := make([]domain.SectorFlow, 0, len(env.Data.Diff))
	for _, item := range env.Data.Diff {
		if item.Name == "" {
			continue
		}
		rows = append(rows, domain.SectorFlow{
			SectorName:    item.Name,
			TradeDate:     tradeDate,
			MainNet:       float64(item.MainNet) / wan,
			SuperLargeNet: float64(item.SuperNet) / wan,
			LargeNet:      float64(item.LargeNet) / wan,
			MediumNet:     float64(item.MediumNet) / wan,
			SmallNet:      float64(item.SmallNet) / wan,
			ChangePct:     float64(item.ChangePct),
			AvgTurnover:   float64(item.TurnoverRate),
		})
	}
	return rows, nil
}

// parseFlowKline converts one fflow daykline row into a MoneyFlow record.
func parseFlowKline(code, line string) (domain.MoneyFlow, error) {
	parts := strings.Split(line, ",")
	if len(parts) != flowFieldCount {
		return domain.MoneyFlow{}, fmt.Errorf("schema mismatch: %d columns", len(parts))
	}

	vals := make([]float64, 6)
	for i := 1; i < 6; i++ {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return domain.MoneyFlow{}, fmt.Errorf("column %d: %w", i, err)
		}
		vals[i] = v
	}

	return domain.MoneyFlow{
		Code:          code,
		TradeDate:     parts[0],
		MainNet:       vals[1] / wan,
		SmallNet:      vals[2] / wan,
		MediumNet:     vals[3] / wan,
		LargeNet:      vals[4] / wan,
		SuperLargeNet: vals[5] / wan,
	}, nil
}
