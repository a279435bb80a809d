package eastmoney

import (
	"context"
	"fmt"

	"github.com/aristath/marketpulse/internal/domain"
)

// ConceptInfo is one vendor concept board.
type ConceptInfo struct {
	Code string
	Name string
}

// ConceptList returns all concept boards known to the vendor.
func (c *Client) ConceptList(ctx context.Context) ([]ConceptInfo, error) {
	path := "/api/qt/clist/get?pn=1&pz=1000&po=1&fltt=2&fid=f3&fs=m:90+t:3&fields=f12,f14"

	var env listEnvelope
	if err := c.getJSON(ctx, "concept_list", path, &env); err != nil {
		return nil, err
	}
	if env.Data == nil || len(env.Data.Diff) == 0 {
		return nil, fmt.Errorf("concept list: empty payload")
	}

	concepts := make([]ConceptInfo, 0, len(env.Data.Diff))
	for _, item := range env.Data.Diff {
		if item.Name == "" {
			continue
		}
		concepts = append(concepts, ConceptInfo{Code: item.Code, Name: item.Name})
	}
	return concepts, nil
}

// ConceptConstituents returns the member tickers of one concept board.
func (c *Client) ConceptConstituents(ctx context.Context, conceptCode string) ([]domain.Ticker, error) {
	path := fmt.Sprintf(
		"/api/qt/clist/get?pn=1&pz=1000&po=1&fltt=2&fid=f3&fs=b:%s&fields=f12,f14",
		conceptCode)

	var env listEnvelope
	if err := c.getJSON(ctx, "concept_members", path, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, fmt.Errorf("concept constituents %s: empty payload", conceptCode)
	}

	members := make([]domain.Ticker, 0, len(env.Data.Diff))
	for _, item := range env.Data.Diff {
		if item.Code == "" {
			continue
		}
		code := domain.CanonicalCode(item.Code)
		members = append(members, domain.Ticker{
			Code:   code,
			Name:   item.Name,
			Market: domain.MarketForCode(code),
			Active: true,
		})
	}
	return members, nil
}
