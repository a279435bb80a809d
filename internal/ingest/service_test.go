package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketpulse/internal/clients/eastmoney"
	"github.com/aristath/marketpulse/internal/config"
	"github.com/aristath/marketpulse/internal/domain"
)

func ingestLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type stubVendor struct {
	snapshot     []eastmoney.SnapshotRow
	snapshotErr  error
	sectorFlows  []domain.SectorFlow
	sectorErr    error
	flows        []domain.MoneyFlow
	index        []domain.IndexDaily
	hot          []domain.HotRankEntry
	hotErr       error
	concepts     []eastmoney.ConceptInfo
	constituents map[string][]domain.Ticker
	barsByCode   map[string][]domain.DailyBar
	barErr       map[string]error
	flowHistory  map[string][]domain.MoneyFlow
}

func (v *stubVendor) Snapshot(ctx context.Context) ([]eastmoney.SnapshotRow, error) {
	return v.snapshot, v.snapshotErr
}

func (v *stubVendor) DailyBars(ctx context.Context, code string, limit int) ([]domain.DailyBar, error) {
	if err := v.barErr[code]; err != nil {
		return nil, err
	}
	return v.barsByCode[code], nil
}

func (v *stubVendor) IndexDaily(ctx context.Context, indexCode string, limit int) ([]domain.IndexDaily, error) {
	return v.index, nil
}

func (v *stubVendor) UniverseFlowToday(ctx context.Context, tradeDate string) ([]domain.MoneyFlow, error) {
	return v.flows, nil
}

func (v *stubVendor) SectorFlowToday(ctx context.Context, tradeDate string) ([]domain.SectorFlow, error) {
	return v.sectorFlows, v.sectorErr
}

func (v *stubVendor) TickerFlowHistory(ctx context.Context, code string) ([]domain.MoneyFlow, error) {
	return v.flowHistory[code], nil
}

func (v *stubVendor) HotRank(ctx context.Context, tradeDate string) ([]domain.HotRankEntry, error) {
	return v.hot, v.hotErr
}

func (v *stubVendor) ConceptList(ctx context.Context) ([]eastmoney.ConceptInfo, error) {
	return v.concepts, nil
}

func (v *stubVendor) ConceptConstituents(ctx context.Context, conceptCode string) ([]domain.Ticker, error) {
	return v.constituents[conceptCode], nil
}

type stubHotSource struct {
	entries []domain.HotRankEntry
	err     error
}

func (h *stubHotSource) HotRank(ctx context.Context, tradeDate string) ([]domain.HotRankEntry, error) {
	return h.entries, h.err
}

type memBars struct {
	bars    []domain.DailyBar
	onDate  map[string]int
	removed int64
}

func (m *memBars) UpsertBatch(bars []domain.DailyBar) error {
	m.bars = append(m.bars, bars...)
	return nil
}

func (m *memBars) CountOnDate(tradeDate string) (int, error) { return m.onDate[tradeDate], nil }

func (m *memBars) CleanupOldData(nDays int) (int64, error) { return m.removed, nil }

type memFlows struct {
	flows   []domain.MoneyFlow
	sums    map[string]*domain.MoneyFlow // keyed by trade date
	removed int64
}

func (m *memFlows) UpsertBatch(flows []domain.MoneyFlow) error {
	m.flows = append(m.flows, flows...)
	return nil
}

func (m *memFlows) SumByCodesOnDate(codes []string, tradeDate string) (*domain.MoneyFlow, error) {
	return m.sums[tradeDate], nil
}

func (m *memFlows) CleanupOldData(nDays int) (int64, error) { return m.removed, nil }

type memSectors struct {
	flows   []domain.SectorFlow
	removed int64
}

func (m *memSectors) UpsertBatch(flows []domain.SectorFlow) error {
	m.flows = append(m.flows, flows...)
	return nil
}

func (m *memSectors) CountOnDate(tradeDate string) (int, error) { return 0, nil }

func (m *memSectors) CleanupOldData(nDays int) (int64, error) { return m.removed, nil }

type memIndex struct{ bars []domain.IndexDaily }

func (m *memIndex) UpsertBatch(bars []domain.IndexDaily) error {
	m.bars = append(m.bars, bars...)
	return nil
}

type memTickers struct{ tickers map[string]domain.Ticker }

func (m *memTickers) UpsertBatch(tickers []domain.Ticker) error {
	if m.tickers == nil {
		m.tickers = make(map[string]domain.Ticker)
	}
	for _, t := range tickers {
		m.tickers[t.Code] = t
	}
	return nil
}

func (m *memTickers) GetAllActive() ([]domain.Ticker, error) {
	out := make([]domain.Ticker, 0, len(m.tickers))
	for _, t := range m.tickers {
		out = append(out, t)
	}
	return out, nil
}

type memHot struct {
	bySource map[string][]domain.HotRankEntry
	removed  int64
}

func (m *memHot) ReplaceDay(source, tradeDate string, entries []domain.HotRankEntry) error {
	if m.bySource == nil {
		m.bySource = make(map[string][]domain.HotRankEntry)
	}
	m.bySource[source] = entries
	return nil
}

func (m *memHot) CleanupOldData(nDays int) (int64, error) { return m.removed, nil }

type memConcepts struct {
	active      []domain.Concept
	members     map[int64][]domain.ConceptMember
	codesByName map[string][]string
	deactivated []int64
	nextID      int64
}

func (m *memConcepts) ListActive() ([]domain.Concept, error) { return m.active, nil }

func (m *memConcepts) GetByName(name string) (*domain.Concept, error) {
	for _, c := range m.active {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memConcepts) Create(name, code, source string) (int64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *memConcepts) Deactivate(id int64) error {
	m.deactivated = append(m.deactivated, id)
	return nil
}

func (m *memConcepts) ReplaceMembers(conceptID int64, members []domain.ConceptMember) error {
	if m.members == nil {
		m.members = make(map[int64][]domain.ConceptMember)
	}
	m.members[conceptID] = members
	return nil
}

func (m *memConcepts) MemberCodesByName(name string) ([]string, error) {
	return m.codesByName[name], nil
}

type memCache struct {
	cutoffs []string
	removed int64
}

func (m *memCache) DeleteBefore(cutoff string) (int64, error) {
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.removed, nil
}

type stubMetrics struct {
	recomputed   []string
	tickerDays   []string
	sectorDays   []string
	backfilled   [][]string
	recomputeErr error
}

func (m *stubMetrics) RecomputeDay(tradeDate string) error {
	m.recomputed = append(m.recomputed, tradeDate)
	return m.recomputeErr
}

func (m *stubMetrics) RecomputeTickerDay(tradeDate string) error {
	m.tickerDays = append(m.tickerDays, tradeDate)
	return nil
}

func (m *stubMetrics) RecomputeSectorDay(tradeDate string) error {
	m.sectorDays = append(m.sectorDays, tradeDate)
	return nil
}

func (m *stubMetrics) Backfill(dates []string) error {
	m.backfilled = append(m.backfilled, dates)
	return nil
}

// weekdayCalendar treats every weekday as a trading day.
type weekdayCalendar struct{ now time.Time }

func (c *weekdayCalendar) Now() time.Time { return c.now }

func (c *weekdayCalendar) IsTradingDay(d time.Time) bool {
	return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
}

func (c *weekdayCalendar) LastTradingDay(d time.Time) time.Time {
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func (c *weekdayCalendar) TradingDaysIn(a, b time.Time) []string {
	var out []string
	for d := a; !d.After(b); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			out = append(out, d.Format("2006-01-02"))
		}
	}
	return out
}

type ingestFixture struct {
	svc     *Service
	vendor  *stubVendor
	hot     *stubHotSource
	bars    *memBars
	flows   *memFlows
	sectors *memSectors
	index   *memIndex
	tickers *memTickers
	hots    *memHot
	conc    *memConcepts
	cache   *memCache
	metrics *stubMetrics
}

func newIngestFixture(now time.Time) *ingestFixture {
	f := &ingestFixture{
		vendor:  &stubVendor{},
		hot:     &stubHotSource{},
		bars:    &memBars{onDate: map[string]int{}},
		flows:   &memFlows{sums: map[string]*domain.MoneyFlow{}},
		sectors: &memSectors{},
		index:   &memIndex{},
		tickers: &memTickers{},
		hots:    &memHot{},
		conc:    &memConcepts{codesByName: map[string][]string{}},
		cache:   &memCache{},
		metrics: &stubMetrics{},
	}
	stores := Stores{
		Bars:     f.bars,
		Flows:    f.flows,
		Sectors:  f.sectors,
		Index:    f.index,
		Tickers:  f.tickers,
		Hot:      f.hots,
		Concepts: f.conc,
		Cache:    f.cache,
	}
	retention := config.Retention{DailyBars: 1095, MoneyFlow: 1095, SectorFlow: 365, HotRank: 30}
	f.svc = NewService(f.vendor, f.hot, stores, f.metrics, &weekdayCalendar{now: now},
		"000852", retention, ingestLogger())
	return f
}

func tradingNoon() time.Time {
	return time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC) // a Friday
}

func TestRealtimeSnapshot_StoresRawBarsAndFlow(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.vendor.snapshot = []eastmoney.SnapshotRow{
		{Code: "600519", Name: "贵州茅台", Open: 1800, High: 1850, Low: 1790, Price: 1840,
			Volume: 25000, Amount: 460000, ChangePct: 2.1, TurnoverRate: 0.4},
		{Code: "300750", Name: "宁德时代", Open: 200, High: 210, Low: 198, Price: 208,
			Volume: 90000, Amount: 185000, ChangePct: 4.2, TurnoverRate: 1.8},
	}
	f.vendor.flows = []domain.MoneyFlow{{Code: "600519", TradeDate: "2026-08-21", MainNet: 5000}}

	require.NoError(t, f.svc.RealtimeSnapshot(context.Background()))

	require.Len(t, f.bars.bars, 2)
	bar := f.bars.bars[0]
	assert.Equal(t, "600519", bar.Code)
	assert.Equal(t, "2026-08-21", bar.TradeDate)
	assert.Equal(t, 1840.0, bar.Close)
	assert.Nil(t, bar.MA20, "intraday writes must not touch derived columns")

	assert.Equal(t, "SH", f.tickers.tickers["600519"].Market)
	assert.Equal(t, "SZ", f.tickers.tickers["300750"].Market)
	assert.Len(t, f.flows.flows, 1)
	assert.Empty(t, f.metrics.recomputed, "intraday snapshot never recomputes derived metrics")
}

func TestRealtimeSnapshot_FlowFailureKeepsBars(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.vendor.snapshot = []eastmoney.SnapshotRow{{Code: "600519", Name: "贵州茅台", Price: 1840}}
	f.vendor.flows = nil

	require.NoError(t, f.svc.RealtimeSnapshot(context.Background()))
	assert.Len(t, f.bars.bars, 1)
}

func TestDailyClose_RunsFullPipeline(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.vendor.snapshot = []eastmoney.SnapshotRow{{Code: "600519", Name: "贵州茅台", Price: 1840}}
	f.vendor.flows = []domain.MoneyFlow{{Code: "600519", TradeDate: "2026-08-21", MainNet: 5000}}
	f.vendor.sectorFlows = []domain.SectorFlow{{SectorName: "白酒", TradeDate: "2026-08-21", MainNet: 9000}}
	f.vendor.index = []domain.IndexDaily{{IndexCode: "000852", TradeDate: "2026-08-21", Close: 6500}}

	require.NoError(t, f.svc.DailyClose(context.Background(), "2026-08-21"))

	assert.Len(t, f.bars.bars, 1)
	assert.Len(t, f.sectors.flows, 1)
	assert.Len(t, f.index.bars, 1)
	assert.Equal(t, []string{"2026-08-21"}, f.metrics.recomputed)
}

func TestDailyClose_SynthesisesSectorFlowFromConstituents(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.vendor.snapshot = []eastmoney.SnapshotRow{{Code: "600519", Name: "贵州茅台", Price: 1840}}
	f.vendor.sectorErr = fmt.Errorf("vendor 502")
	f.conc.active = []domain.Concept{{ID: 1, Name: "白酒", Active: true}}
	f.conc.codesByName["白酒"] = []string{"600519", "000858"}
	f.flows.sums["2026-08-21"] = &domain.MoneyFlow{
		MainNet:       12000,
		SuperLargeNet: 8000,
		LargeNet:      4000,
		MediumNet:     -500,
		SmallNet:      -1500,
	}

	require.NoError(t, f.svc.DailyClose(context.Background(), "2026-08-21"))

	require.Len(t, f.sectors.flows, 1)
	row := f.sectors.flows[0]
	assert.Equal(t, "白酒", row.SectorName)
	assert.Equal(t, 12000.0, row.MainNet)
	assert.Equal(t, 8000.0, row.SuperLargeNet)
}

func TestDailyClose_SnapshotFailureAborts(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.vendor.snapshotErr = fmt.Errorf("vendor down")

	err := f.svc.DailyClose(context.Background(), "2026-08-21")
	require.Error(t, err)
	assert.Empty(t, f.metrics.recomputed)
}

func TestRefreshHotRanks_OneSourceFailingKeepsOther(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.vendor.hotErr = fmt.Errorf("dongcai 503")
	f.hot.entries = []domain.HotRankEntry{
		{Code: "300750", Source: domain.HotSourceXueqiu, TradeDate: "2026-08-21", Rank: 1},
	}

	err := f.svc.RefreshHotRanks(context.Background())
	require.Error(t, err)
	assert.Len(t, f.hots.bySource[domain.HotSourceXueqiu], 1)
	assert.Empty(t, f.hots.bySource[domain.HotSourceDongcai])
}

func TestSyncConcepts_CreatesAndDeactivates(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.conc.active = []domain.Concept{
		{ID: 7, Name: "算力", Active: true},
		{ID: 8, Name: "元宇宙", Active: true},
	}
	f.vendor.concepts = []eastmoney.ConceptInfo{
		{Code: "BK0001", Name: "算力"},
		{Code: "BK0002", Name: "固态电池"},
	}
	f.vendor.constituents = map[string][]domain.Ticker{
		"BK0001": {{Code: "300750"}},
		"BK0002": {{Code: "002594"}, {Code: "300014"}},
	}

	require.NoError(t, f.svc.SyncConcepts(context.Background()))

	assert.Equal(t, []int64{8}, f.conc.deactivated, "vanished concept is deactivated")
	assert.Len(t, f.conc.members[7], 1, "existing concept keeps its id")
	newMembers := f.conc.members[f.conc.nextID]
	require.Len(t, newMembers, 2)
	assert.Equal(t, 1.0, newMembers[0].Weight)
}

func TestSyncConcepts_EmptyVendorListIsNoop(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.conc.active = []domain.Concept{{ID: 7, Name: "算力", Active: true}}

	require.NoError(t, f.svc.SyncConcepts(context.Background()))
	assert.Empty(t, f.conc.deactivated)
}

func TestRetentionSweep_AppliesConfiguredHorizons(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.bars.removed = 100
	f.flows.removed = 50
	f.sectors.removed = 10
	f.hots.removed = 5
	f.cache.removed = 2

	require.NoError(t, f.svc.RetentionSweep())
	require.Len(t, f.cache.cutoffs, 1)
	assert.Equal(t, "2026-07-22", f.cache.cutoffs[0], "cache cutoff tracks the hot-rank horizon")
}

func TestCatchUp_SkipsWhenQuorumMet(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	// before 15:15 on a trading day the previous close is Thursday
	f.bars.onDate["2026-08-20"] = 5000

	require.NoError(t, f.svc.CatchUp(context.Background()))
	assert.Empty(t, f.metrics.backfilled)
}

func TestCatchUp_BackfillsMissingClose(t *testing.T) {
	evening := time.Date(2026, 8, 21, 18, 0, 0, 0, time.UTC)
	f := newIngestFixture(evening)
	f.bars.onDate["2026-08-21"] = 12 // partial intraday rows only
	f.vendor.snapshot = []eastmoney.SnapshotRow{{Code: "600519", Name: "贵州茅台", Price: 1840}}
	f.vendor.barsByCode = map[string][]domain.DailyBar{
		"600519": {{Code: "600519", TradeDate: "2026-08-21", Close: 1840}},
	}

	require.NoError(t, f.svc.CatchUp(context.Background()))
	require.Len(t, f.metrics.backfilled, 1)
	assert.NotEmpty(t, f.metrics.backfilled[0])
}

func TestBackfill_SurvivesIndividualTickerFailures(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.vendor.snapshot = []eastmoney.SnapshotRow{
		{Code: "600519", Name: "贵州茅台", Price: 1840},
		{Code: "000001", Name: "平安银行", Price: 12},
		{Code: "300750", Name: "宁德时代", Price: 208},
	}
	f.vendor.barsByCode = map[string][]domain.DailyBar{
		"600519": {{Code: "600519", TradeDate: "2026-08-20", Close: 1800}},
		"000001": {{Code: "000001", TradeDate: "2026-08-20", Close: 11.8}},
		"300750": {{Code: "300750", TradeDate: "2026-08-20", Close: 205}},
	}
	f.vendor.barErr = map[string]error{"000001": fmt.Errorf("kline 404")}

	require.NoError(t, f.svc.Backfill(context.Background(), 30))
	require.Len(t, f.metrics.backfilled, 1)
	assert.NotEmpty(t, f.index.bars)
}

func TestBackfill_TooManyFailuresAborts(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	f.vendor.snapshot = []eastmoney.SnapshotRow{
		{Code: "600519", Name: "贵州茅台", Price: 1840},
		{Code: "000001", Name: "平安银行", Price: 12},
	}
	f.vendor.barErr = map[string]error{
		"600519": fmt.Errorf("kline 404"),
		"000001": fmt.Errorf("kline 404"),
	}

	err := f.svc.Backfill(context.Background(), 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed for 2 of 2")
}

func TestBackfill_RejectsNonPositiveWindow(t *testing.T) {
	f := newIngestFixture(tradingNoon())
	require.Error(t, f.svc.Backfill(context.Background(), 0))
}

func TestPatch_RecomputesRequestedScope(t *testing.T) {
	f := newIngestFixture(tradingNoon())

	require.NoError(t, f.svc.Patch(context.Background(), "sector_rps", 7))
	assert.NotEmpty(t, f.metrics.sectorDays)
	assert.Empty(t, f.metrics.tickerDays)

	require.NoError(t, f.svc.Patch(context.Background(), "vcp_factor", 7))
	assert.NotEmpty(t, f.metrics.tickerDays)
}

func TestPatch_RecentDaysFirst(t *testing.T) {
	f := newIngestFixture(tradingNoon())

	require.NoError(t, f.svc.Patch(context.Background(), "ma", 7))
	days := f.metrics.tickerDays
	require.GreaterOrEqual(t, len(days), 2)
	assert.Greater(t, days[0], days[len(days)-1], "freshest day heals first")
}

func TestPatch_RejectsUnknownTarget(t *testing.T) {
	f := newIngestFixture(tradingNoon())

	err := f.svc.Patch(context.Background(), "close_price", 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown patch target")
}
