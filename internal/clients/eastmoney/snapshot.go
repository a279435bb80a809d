package eastmoney

import (
	"context"
	"fmt"

	"github.com/aristath/marketpulse/internal/domain"
)

// SnapshotRow is one intraday quote for one ticker. The whole universe comes
// back in a handful of pages; realtime ingestion rewrites today's OHLCV on
// the daily bar but never touches derived columns.
type SnapshotRow struct {
	Code         string
	Name         string
	Open         float64
	High         float64
	Low          float64
	Price        float64 // latest, stored as today's close
	Volume       float64
	Amount       float64 // ten-thousand units
	ChangePct    float64
	TurnoverRate float64
}

const snapshotPageSize = 5000

// Snapshot pulls the intraday quote for the whole A-share universe.
func (c *Client) Snapshot(ctx context.Context) ([]SnapshotRow, error) {
	var out []SnapshotRow
	for page := 1; ; page++ {
		path := fmt.Sprintf(
			"/api/qt/clist/get?pn=%d&pz=%d&po=1&fltt=2&fid=f3&fs=m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23"+
				"&fields=f2,f3,f5,f6,f8,f12,f14,f15,f16,f17",
			page, snapshotPageSize)

		var env listEnvelope
		if err := c.getJSON(ctx, "snapshot", path, &env); err != nil {
			return nil, err
		}
		if env.Data == nil || len(env.Data.Diff) == 0 {
			break
		}

		for _, item := range env.Data.Diff {
			if item.Code == "" {
				continue
			}
			out = append(out, SnapshotRow{
				Code:         domain.CanonicalCode(item.Code),
				Name:         item.Name,
				Open:         float64(item.Open),
				High:         float64(item.High),
				Low:          float64(item.Low),
				Price:        float64(item.Price),
				Volume:       float64(item.Volume),
				Amount:       float64(item.Amount) / wan,
				ChangePct:    float64(item.ChangePct),
				TurnoverRate: float64(item.TurnoverRate),
			})
		}

		if len(out) >= env.Data.Total || len(env.Data.Diff) < snapshotPageSize {
			break
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("snapshot: empty universe")
	}
	return out, nil
}

// TickerSnapshot fetches a single ticker's intraday quote. Used as the
// per-ticker backup when the universal endpoint fails.
func (c *Client) TickerSnapshot(ctx context.Context, code string) (*SnapshotRow, error) {
	code = domain.CanonicalCode(code)
	bars, err := c.DailyBars(ctx, code, 1)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("ticker snapshot %s: no data", code)
	}

	b := bars[len(bars)-1]
	return &SnapshotRow{
		Code:         code,
		Open:         b.Open,
		High:         b.High,
		Low:          b.Low,
		Price:        b.Close,
		Volume:       b.Volume,
		Amount:       b.Amount,
		ChangePct:    b.ChangePct,
		TurnoverRate: b.TurnoverRate,
	}, nil
}
