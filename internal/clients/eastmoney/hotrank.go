package eastmoney

import (
	"context"
	"fmt"

	"github.com/aristath/marketpulse/internal/domain"
)

// HotRank returns the vendor popularity list (top 100), rank ascending.
// The day's rows for this source are replaced atomically by the repository.
func (c *Client) HotRank(ctx context.Context, tradeDate string) ([]domain.HotRankEntry, error) {
	path := "/api/qt/clist/get?pn=1&pz=100&po=1&fltt=2&fid=f1020&fs=m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23" +
		"&fields=f5,f12,f14,f1020,f1021"

	var env listEnvelope
	if err := c.getJSON(ctx, "hot_rank", path, &env); err != nil {
		return nil, err
	}
	if env.Data == nil || len(env.Data.Diff) == 0 {
		return nil, fmt.Errorf("hot rank: empty payload")
	}

	entries := make([]domain.HotRankEntry, 0, len(env.Data.Diff))
	for i, item := range env.Data.Diff {
		if item.Code == "" {
			continue
		}
		rank := int(item.HotRank)
		if rank == 0 {
			rank = i + 1 // vendor omits explicit ranks on some pages
		}
		entries = append(entries, domain.HotRankEntry{
			Code:      domain.CanonicalCode(item.Code),
			Source:    domain.HotSourceDongcai,
			TradeDate: tradeDate,
			Rank:      rank,
			HotScore:  float64(item.HotScore),
			Volume:    float64(item.Volume),
		})
	}
	return entries, nil
}
