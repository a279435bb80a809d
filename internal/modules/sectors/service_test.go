package sectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketpulse/internal/domain"
)

type stubBars map[string][]domain.DailyBar

func (b stubBars) GetByCodesAndDate(codes []string, tradeDate string) ([]domain.DailyBar, error) {
	var out []domain.DailyBar
	for _, code := range codes {
		for _, bar := range b[code] {
			if bar.TradeDate == tradeDate {
				out = append(out, bar)
			}
		}
	}
	return out, nil
}

func newTestService(t *testing.T, bars BarReader, blacklist []string) (*Service, *SectorFlowRepository, *ConceptRepository, *VirtualBoardRepository) {
	t.Helper()
	db := setupSectorsDB(t)
	t.Cleanup(func() { db.Close() })

	flows := NewSectorFlowRepository(db, testLogger())
	concepts := NewConceptRepository(db, testLogger())
	boards := NewVirtualBoardRepository(db, testLogger())
	clusterer := NewClusterer(concepts, testLogger())
	svc := NewService(flows, concepts, boards, clusterer, bars, blacklist, testLogger())
	return svc, flows, concepts, boards
}

func TestService_RecommendByMoneyFlow_ClustersNearDuplicates(t *testing.T) {
	svc, flows, concepts, _ := newTestService(t, stubBars{}, nil)

	// CPO and 光通信 share 3 of their top-5 weight stocks.
	sharedTop := []string{"300308", "300502", "002281"}
	require.NoError(t, flows.UpsertBatch([]domain.SectorFlow{
		sectorFlow("CPO", "2026-08-21", 90000, 3.0, append(sharedTop, "300394", "300620")),
		sectorFlow("光通信", "2026-08-21", 60000, 2.5, append(sharedTop, "600487", "300025")),
		sectorFlow("白酒", "2026-08-21", 40000, 0.5, []string{"600519", "000858"}),
	}))
	_ = concepts

	got, err := svc.RecommendByMoneyFlow(1, 30)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "CPO", got[0].Name)
	assert.Equal(t, []string{"光通信"}, got[0].AggregatedSectors)
	assert.Equal(t, "白酒", got[1].Name)
}

func TestService_RecommendByMoneyFlow_AppliesBlacklist(t *testing.T) {
	svc, flows, _, _ := newTestService(t, stubBars{}, []string{"融资融券"})

	require.NoError(t, flows.UpsertBatch([]domain.SectorFlow{
		sectorFlow("融资融券", "2026-08-21", 999999, 1.0, nil),
		sectorFlow("CPO", "2026-08-21", 50000, 2.0, nil),
	}))

	got, err := svc.RecommendByMoneyFlow(1, 30)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CPO", got[0].Name)
}

func TestService_ResolveSources(t *testing.T) {
	svc, _, _, boards := newTestService(t, stubBars{}, nil)

	require.NoError(t, boards.Upsert("算力", "CPO", 1.0))
	require.NoError(t, boards.Upsert("算力", "液冷服务器", 0.8))

	sources, err := svc.ResolveSources("算力")
	require.NoError(t, err)
	assert.Equal(t, []string{"CPO", "液冷服务器"}, sources)

	// unmapped name resolves to itself
	sources, err = svc.ResolveSources("白酒")
	require.NoError(t, err)
	assert.Equal(t, []string{"白酒"}, sources)
}

func TestService_Daily_MergesProjectedSources(t *testing.T) {
	svc, flows, _, boards := newTestService(t, stubBars{}, nil)

	require.NoError(t, boards.Upsert("算力", "CPO", 1.0))
	require.NoError(t, boards.Upsert("算力", "液冷服务器", 0.8))
	require.NoError(t, flows.UpsertBatch([]domain.SectorFlow{
		sectorFlow("CPO", "2026-08-21", 60000, 3.0, nil),
		sectorFlow("液冷服务器", "2026-08-21", 40000, 1.0, nil),
	}))

	got, err := svc.Daily("算力", 30)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "算力", got[0].SectorName)
	assert.InDelta(t, 100000, got[0].MainNet, 1e-9)
	assert.InDelta(t, 2.0, got[0].ChangePct, 1e-9) // averaged
}

func TestService_StocksByChange(t *testing.T) {
	bars := stubBars{
		"300308": {{Code: "300308", TradeDate: "2026-08-21", ChangePct: 5.2}},
		"300502": {{Code: "300502", TradeDate: "2026-08-21", ChangePct: 9.9}},
		"002281": {{Code: "002281", TradeDate: "2026-08-21", ChangePct: -1.3}},
	}
	svc, _, concepts, _ := newTestService(t, bars, nil)

	id, err := concepts.Create("CPO", "", "dongcai")
	require.NoError(t, err)
	require.NoError(t, concepts.ReplaceMembers(id, []domain.ConceptMember{
		{Code: "300308", Weight: 1},
		{Code: "300502", Weight: 1},
		{Code: "002281", Weight: 1},
	}))

	got, err := svc.StocksByChange("CPO", "2026-08-21", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "300502", got[0].Code)
	assert.Equal(t, "300308", got[1].Code)
}
