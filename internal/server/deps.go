package server

import (
	"context"
	"time"

	"github.com/aristath/marketpulse/internal/database"
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

// TickerDirectory searches the ticker universe.
type TickerDirectory interface {
	Search(keyword string, limit int) ([]domain.Ticker, error)
	GetByCode(code string) (*domain.Ticker, error)
}

// BarReader serves daily bars.
type BarReader interface {
	GetRecent(code string, limit int) ([]domain.DailyBar, error)
	LatestDate() (string, error)
}

// FlowReader serves per-ticker money flow.
type FlowReader interface {
	GetRecent(code string, limit int) ([]domain.MoneyFlow, error)
	CodesWithPositiveMainNet(days int) ([]string, error)
}

// SectorQueries is the board-level query surface.
type SectorQueries interface {
	Daily(name string, limit int) ([]domain.SectorFlow, error)
	StocksByChange(name, tradeDate string, limit int) ([]domain.DailyBar, error)
	HotSectors(limit int) ([]sectors.ClusteredSector, error)
	RecommendByMoneyFlow(days, limit int) ([]sectors.ClusteredSector, error)
}

// HotList serves the enriched popularity list.
type HotList interface {
	TopEnriched(source string, limit int) ([]hotrank.HotStock, error)
}

// Recommender runs the alpha funnel for one day.
type Recommender interface {
	Run(ctx context.Context, tradeDate string, params alpha.Params, topN int) (*alpha.Result, error)
}

// BacktestRunner replays the funnel over a span.
type BacktestRunner interface {
	Run(ctx context.Context, startDate, endDate string, params alpha.Params, topN int) (*alpha.BacktestResult, error)
}

// RecommendationStore persists and verifies per-user picks.
type RecommendationStore interface {
	Record(userID, runDate string, params alpha.Params, picks []alpha.ScoredTicker) error
	History(userID, runDate, modelVersion string, limit, offset int) ([]domain.Recommendation, error)
	Clear(userID string, failedOnly bool) (int64, error)
}

// Predictor serves the next-day prediction.
type Predictor interface {
	Predict(force bool) (*prediction.Prediction, error)
}

// Analyzer produces the deep-analysis report.
type Analyzer interface {
	Analyze(code, tradeDate string) (*analysis.Report, error)
}

// JobControl triggers and lists scheduler jobs.
type JobControl interface {
	RunByName(ctx context.Context, name string) error
	JobNames() []string
}

// JobHistory reads the job run log.
type JobHistory interface {
	RecentRuns(limit int) ([]scheduler.JobRun, error)
}

// Worker accepts offloaded background tasks.
type Worker interface {
	Submit(task work.Task) bool
}

// PayloadCache holds expensive response snapshots.
type PayloadCache interface {
	GetFresh(key string, ttl time.Duration, dest interface{}) (bool, error)
	Put(key string, value interface{}) error
}

// Clock is the calendar slice the handlers need.
type Clock interface {
	Now() time.Time
	LastTradingDay(d time.Time) time.Time
}

// Deps bundles everything the routing table serves from.
type Deps struct {
	Tickers         TickerDirectory
	Bars            BarReader
	Flows           FlowReader
	Sectors         SectorQueries
	Hot             HotList
	Pipeline        Recommender
	Backtester      BacktestRunner
	Recommendations RecommendationStore
	Predictor       Predictor
	Analyzer        Analyzer
	Jobs            JobControl
	History         JobHistory
	Worker          Worker
	Cache           PayloadCache
	Clock           Clock
	Bus             *events.Bus
	Databases       []*database.DB
	DataDir         string
	StartedAt       time.Time
}
