package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/events"
	"github.com/aristath/marketpulse/internal/modules/alpha"
	"github.com/aristath/marketpulse/internal/modules/analysis"
	"github.com/aristath/marketpulse/internal/modules/hotrank"
	"github.com/aristath/marketpulse/internal/modules/prediction"
	"github.com/aristath/marketpulse/internal/modules/sectors"
	"github.com/aristath/marketpulse/internal/scheduler"
	"github.com/aristath/marketpulse/internal/work"
)

func serverLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type stubTickers struct {
	results []domain.Ticker
	byCode  map[string]*domain.Ticker
	err     error
}

func (s *stubTickers) Search(keyword string, limit int) ([]domain.Ticker, error) {
	return s.results, s.err
}

func (s *stubTickers) GetByCode(code string) (*domain.Ticker, error) {
	return s.byCode[code], nil
}

type stubServerBars struct {
	bars   []domain.DailyBar
	latest string
	err    error
}

func (s *stubServerBars) GetRecent(code string, limit int) ([]domain.DailyBar, error) {
	return s.bars, s.err
}

func (s *stubServerBars) LatestDate() (string, error) { return s.latest, nil }

type stubServerFlows struct {
	flows    []domain.MoneyFlow
	codes    []string
	readErr  error
	rankErr  error
	lastDays int
}

func (s *stubServerFlows) GetRecent(code string, limit int) ([]domain.MoneyFlow, error) {
	s.lastDays = limit
	return s.flows, s.readErr
}

func (s *stubServerFlows) CodesWithPositiveMainNet(days int) ([]string, error) {
	s.lastDays = days
	return s.codes, s.rankErr
}

type stubSectors struct {
	daily     []domain.SectorFlow
	stocks    []domain.DailyBar
	ranked    []sectors.ClusteredSector
	hotCalls  int
	lastDays  int
	lastLimit int
}

func (s *stubSectors) Daily(name string, limit int) ([]domain.SectorFlow, error) {
	return s.daily, nil
}

func (s *stubSectors) StocksByChange(name, tradeDate string, limit int) ([]domain.DailyBar, error) {
	return s.stocks, nil
}

func (s *stubSectors) HotSectors(limit int) ([]sectors.ClusteredSector, error) {
	s.hotCalls++
	return s.ranked, nil
}

func (s *stubSectors) RecommendByMoneyFlow(days, limit int) ([]sectors.ClusteredSector, error) {
	s.lastDays = days
	s.lastLimit = limit
	return s.ranked, nil
}

type stubHotList struct{ stocks []hotrank.HotStock }

func (s *stubHotList) TopEnriched(source string, limit int) ([]hotrank.HotStock, error) {
	return s.stocks, nil
}

type stubPipeline struct {
	result   *alpha.Result
	err      error
	lastDate string
}

func (s *stubPipeline) Run(ctx context.Context, tradeDate string, params alpha.Params, topN int) (*alpha.Result, error) {
	s.lastDate = tradeDate
	return s.result, s.err
}

type stubBacktester struct {
	result *alpha.BacktestResult
	err    error
}

func (s *stubBacktester) Run(ctx context.Context, start, end string, params alpha.Params, topN int) (*alpha.BacktestResult, error) {
	return s.result, s.err
}

type stubRecs struct {
	recorded int
	history  []domain.Recommendation
	removed  int64
	lastUser string
}

func (s *stubRecs) Record(userID, runDate string, params alpha.Params, picks []alpha.ScoredTicker) error {
	s.recorded++
	s.lastUser = userID
	return nil
}

func (s *stubRecs) History(userID, runDate, modelVersion string, limit, offset int) ([]domain.Recommendation, error) {
	s.lastUser = userID
	return s.history, nil
}

func (s *stubRecs) Clear(userID string, failedOnly bool) (int64, error) {
	return s.removed, nil
}

type stubPredictor struct {
	pred   *prediction.Prediction
	forced bool
}

func (s *stubPredictor) Predict(force bool) (*prediction.Prediction, error) {
	if force {
		s.forced = true
	}
	return s.pred, nil
}

type stubAnalyzer struct {
	report *analysis.Report
	err    error
}

func (s *stubAnalyzer) Analyze(code, tradeDate string) (*analysis.Report, error) {
	return s.report, s.err
}

type stubJobs struct {
	names     []string
	triggered []string
}

func (s *stubJobs) RunByName(ctx context.Context, name string) error {
	s.triggered = append(s.triggered, name)
	return nil
}

func (s *stubJobs) JobNames() []string { return s.names }

type stubJobHistory struct{ runs []scheduler.JobRun }

func (s *stubJobHistory) RecentRuns(limit int) ([]scheduler.JobRun, error) {
	return s.runs, nil
}

// inlineWorker runs submitted tasks synchronously.
type inlineWorker struct {
	submitted []string
	reject    bool
}

func (w *inlineWorker) Submit(task work.Task) bool {
	if w.reject {
		return false
	}
	w.submitted = append(w.submitted, task.Name)
	_ = task.Run(context.Background())
	return true
}

type stubPayloadCache struct {
	entries map[string]interface{}
	hits    map[string]interface{}
}

func newStubCache() *stubPayloadCache {
	return &stubPayloadCache{entries: map[string]interface{}{}}
}

func (c *stubPayloadCache) GetFresh(key string, ttl time.Duration, dest interface{}) (bool, error) {
	hit, ok := c.hits[key]
	if !ok {
		return false, nil
	}
	data, err := json.Marshal(hit)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dest)
}

func (c *stubPayloadCache) Put(key string, value interface{}) error {
	c.entries[key] = value
	return nil
}

type serverClock struct{}

func (serverClock) Now() time.Time                       { return time.Now() }
func (serverClock) LastTradingDay(d time.Time) time.Time { return d }

type fixture struct {
	srv        *Server
	tickers    *stubTickers
	bars       *stubServerBars
	flows      *stubServerFlows
	sectors    *stubSectors
	hot        *stubHotList
	pipeline   *stubPipeline
	backtester *stubBacktester
	recs       *stubRecs
	predictor  *stubPredictor
	analyzer   *stubAnalyzer
	jobs       *stubJobs
	worker     *inlineWorker
	cache      *stubPayloadCache
}

func newFixture() *fixture {
	f := &fixture{
		tickers:    &stubTickers{byCode: map[string]*domain.Ticker{}},
		bars:       &stubServerBars{latest: "2026-08-21"},
		flows:      &stubServerFlows{},
		sectors:    &stubSectors{},
		hot:        &stubHotList{},
		pipeline:   &stubPipeline{result: &alpha.Result{TradeDate: "2026-08-21"}},
		backtester: &stubBacktester{result: &alpha.BacktestResult{RunID: "r1"}},
		recs:       &stubRecs{},
		predictor:  &stubPredictor{pred: &prediction.Prediction{TargetDate: "2026-08-24"}},
		analyzer:   &stubAnalyzer{report: &analysis.Report{Code: "600519"}},
		jobs:       &stubJobs{names: []string{scheduler.JobHotRank, scheduler.JobDailyClose}},
		worker:     &inlineWorker{},
		cache:      newStubCache(),
	}
	deps := Deps{
		Tickers:         f.tickers,
		Bars:            f.bars,
		Flows:           f.flows,
		Sectors:         f.sectors,
		Hot:             f.hot,
		Pipeline:        f.pipeline,
		Backtester:      f.backtester,
		Recommendations: f.recs,
		Predictor:       f.predictor,
		Analyzer:        f.analyzer,
		Jobs:            f.jobs,
		History:         &stubJobHistory{},
		Worker:          f.worker,
		Cache:           f.cache,
		Clock:           serverClock{},
		Bus:             events.NewBus(),
		DataDir:         "/tmp",
		StartedAt:       time.Now(),
	}
	f.srv = New(deps, 0, serverLogger())
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTickerSearch_EmptyQueryIsEmptyArray(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/tickers/search", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestTickerSearch_ReturnsMatches(t *testing.T) {
	f := newFixture()
	f.tickers.results = []domain.Ticker{{Code: "600519", Name: "贵州茅台"}}

	rec := f.do(t, http.MethodGet, "/api/tickers/search?q=gzmt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[[]domain.Ticker](t, rec)
	require.Len(t, out, 1)
	assert.Equal(t, "600519", out[0].Code)
}

func TestTickerCapitalFlow_DegradesToEmptyOnError(t *testing.T) {
	f := newFixture()
	f.flows.readErr = fmt.Errorf("store offline")

	rec := f.do(t, http.MethodGet, "/api/tickers/600519/capital-flow?days=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
	assert.Equal(t, 60, f.flows.lastDays)
}

func TestTickerCapitalFlow_RejectsDisallowedDays(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/tickers/600519/capital-flow?days=45", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "days must be one of 30, 60", body["error"])
	assert.Zero(t, f.flows.lastDays)
}

func TestTickerCapitalFlow_AbsentDaysKeepsDefault(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/tickers/600519/capital-flow", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, f.flows.lastDays)
}

func TestSectorMoneyFlowRecommend_RejectsDisallowedDays(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/sector-money-flow/recommend?days=7", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "days must be one of 1, 3, 5", body["error"])
	assert.Zero(t, f.sectors.lastDays)
}

func TestCapitalInflowRecommend_RejectsNonNumericDays(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/capital-inflow/recommend?days=week", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "days must be one of 5, 10, 20", body["error"])
}

func TestBacktest_SpanOverCapIs400(t *testing.T) {
	f := newFixture()
	f.backtester.err = alpha.ErrSpanTooLong

	rec := f.do(t, http.MethodPost, "/api/model-k/backtest", map[string]string{
		"start_date": "2026-01-01",
		"end_date":   "2026-07-01",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	out := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "date range cannot exceed 6 months", out["error"])
}

func TestBacktest_ReturnsResult(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/model-k/backtest", backtestRequest{
		StartDate: "2026-06-01",
		EndDate:   "2026-06-30",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[alpha.BacktestResult](t, rec)
	assert.Equal(t, "r1", out.RunID)
}

func TestRecommend_DefaultsToLatestTradeDate(t *testing.T) {
	f := newFixture()
	f.pipeline.result = &alpha.Result{
		TradeDate:       "2026-08-21",
		Recommendations: []alpha.ScoredTicker{{Feature: alpha.Feature{Code: "600519"}}},
	}

	rec := f.do(t, http.MethodPost, "/api/model-k/recommend", recommendRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-08-21", f.pipeline.lastDate)
	assert.Equal(t, 1, f.recs.recorded, "picks land in the caller's history")
	assert.Equal(t, "default", f.recs.lastUser)
}

func TestRecommend_EmptyResultSkipsHistory(t *testing.T) {
	f := newFixture()
	f.pipeline.result = &alpha.Result{TradeDate: "2026-08-21", DiagnosticInfo: "empty_after_level2_filters"}

	rec := f.do(t, http.MethodPost, "/api/model-k/recommend", recommendRequest{TradeDate: "2026-08-21"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.recs.recorded)
}

func TestHistory_ScopedToHeaderUser(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodGet, "/api/model-k/history", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", f.recs.lastUser)
}

func TestClearHistory(t *testing.T) {
	f := newFixture()
	f.recs.removed = 3

	rec := f.do(t, http.MethodDelete, "/api/model-k/history?failed_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[map[string]int64](t, rec)
	assert.Equal(t, int64(3), out["removed"])
}

func TestDefaultParams(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/model-k/default-params", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[alpha.Params](t, rec)
	assert.Equal(t, alpha.DefaultParams().ModelVersion, out.ModelVersion)
}

func TestRefreshHotSheep_Offloads(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/refresh-hot-sheep", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	out := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, []string{scheduler.JobHotRank}, f.jobs.triggered)
}

func TestRefreshHotSheep_DuplicateAcknowledged(t *testing.T) {
	f := newFixture()
	f.worker.reject = true

	rec := f.do(t, http.MethodPost, "/api/refresh-hot-sheep", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	out := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "already_running", out["status"])
}

func TestHotSectors_ServedFromCacheWhenFresh(t *testing.T) {
	f := newFixture()
	f.cache.hits = map[string]interface{}{
		hotSectorCacheKey: []sectors.ClusteredSector{
			{ClusterItem: sectors.ClusterItem{Name: "算力"}, DisplayName: "算力"},
		},
	}

	rec := f.do(t, http.MethodGet, "/api/hot-sectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.sectors.hotCalls, "fresh cache short-circuits the clusterer")
}

func TestHotSectors_MissPopulatesCache(t *testing.T) {
	f := newFixture()
	f.sectors.ranked = []sectors.ClusteredSector{
		{ClusterItem: sectors.ClusterItem{Name: "固态电池"}},
	}

	rec := f.do(t, http.MethodGet, "/api/hot-sectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.sectors.hotCalls)
	assert.Contains(t, f.cache.entries, hotSectorCacheKey)
}

func TestSectorMoneyFlowRecommend_CapsLimit(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/sector-money-flow/recommend?days=3&limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, f.sectors.lastDays)
	assert.Equal(t, 30, f.sectors.lastLimit)
}

func TestCapitalInflowRecommend_JoinsNames(t *testing.T) {
	f := newFixture()
	f.flows.codes = []string{"600519"}
	f.tickers.byCode["600519"] = &domain.Ticker{Code: "600519", Name: "贵州茅台"}

	rec := f.do(t, http.MethodGet, "/api/capital-inflow/recommend?days=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, f.flows.lastDays)
	out := decodeBody[[]map[string]string](t, rec)
	require.Len(t, out, 1)
	assert.Equal(t, "贵州茅台", out[0]["name"])
}

func TestDeepAnalysis_EmptyBodyMeansLatest(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/sheep/600519/deep-analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[analysis.Report](t, rec)
	assert.Equal(t, "600519", out.Code)
}

func TestDeepAnalysis_ServiceErrorIs400(t *testing.T) {
	f := newFixture()
	f.analyzer.report = nil
	f.analyzer.err = fmt.Errorf("insufficient history for 600519: have 10 bars, need 35")

	rec := f.do(t, http.MethodPost, "/api/sheep/600519/deep-analysis", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictionRefresh_ForcesRegeneration(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/next-day-prediction/refresh", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, f.predictor.forced)
}

func TestJobTrigger_UnknownJobIs404(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/system/jobs/nonexistent", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobTrigger_KnownJobOffloads(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/system/jobs/"+scheduler.JobDailyClose, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, f.jobs.triggered, scheduler.JobDailyClose)
}

func TestEventsWS_StreamsPublishedEvents(t *testing.T) {
	f := newFixture()
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// let the handler subscribe before publishing
	time.Sleep(50 * time.Millisecond)
	f.srv.deps.Bus.Publish(events.Event{Job: "daily_close", Status: "completed"})

	var got events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "daily_close", got.Job)
	assert.Equal(t, "completed", got.Status)
	assert.False(t, got.At.IsZero())
}

func TestSystemStatus(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/system/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[systemStatus](t, rec)
	assert.Equal(t, "ok", out.Status)
	assert.GreaterOrEqual(t, out.Goroutines, 1)
}
