// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/marketpulse/internal/cache"
	"github.com/aristath/marketpulse/internal/calendar"
	"github.com/aristath/marketpulse/internal/clients/eastmoney"
	"github.com/aristath/marketpulse/internal/clients/xueqiu"
	"github.com/aristath/marketpulse/internal/database"
	"github.com/aristath/marketpulse/internal/events"
	"github.com/aristath/marketpulse/internal/ingest"
	"github.com/aristath/marketpulse/internal/modules/alpha"
	"github.com/aristath/marketpulse/internal/modules/analysis"
	"github.com/aristath/marketpulse/internal/modules/hotrank"
	"github.com/aristath/marketpulse/internal/modules/market"
	"github.com/aristath/marketpulse/internal/modules/metrics"
	"github.com/aristath/marketpulse/internal/modules/prediction"
	"github.com/aristath/marketpulse/internal/modules/recommendations"
	"github.com/aristath/marketpulse/internal/modules/sectors"
	"github.com/aristath/marketpulse/internal/reliability"
	"github.com/aristath/marketpulse/internal/scheduler"
	"github.com/aristath/marketpulse/internal/work"
)

// Container holds all application dependencies. It is created by Wire()
// and handed to the HTTP server and the command entry points.
type Container struct {
	// Databases (3-database architecture)
	// market.db and sectors.db hold the feature store; app.db holds
	// ephemeral operational data (recommendations, caches, job history).
	MarketDB  *database.DB
	SectorsDB *database.DB
	AppDB     *database.DB

	// Clients - vendor API integrations
	Eastmoney *eastmoney.Client
	Xueqiu    *xueqiu.Client

	// Repositories - data access layer
	Bars            *market.BarRepository
	Flows           *market.FlowRepository
	Index           *market.IndexRepository
	Tickers         *market.TickerRepository
	SectorFlows     *sectors.SectorFlowRepository
	Concepts        *sectors.ConceptRepository
	Boards          *sectors.VirtualBoardRepository
	HotRank         *hotrank.Repository
	Recommendations *recommendations.Repository
	PredictionCache *prediction.CacheRepository
	PayloadCache    *cache.PayloadRepository
	JobHistory      *scheduler.HistoryRepository

	// Services - business logic layer
	Calendar       *calendar.Calendar
	Metrics        *metrics.Engine
	SectorService  *sectors.Service
	HotService     *hotrank.Service
	Directory      *market.Directory
	Pipeline       *alpha.Pipeline
	Backtester     *alpha.Backtester
	RecService     *recommendations.Service
	Predictor      *prediction.Service
	Analyzer       *analysis.Service
	Ingest         *ingest.Service
	Backup         *reliability.BackupService // nil when backups are not configured

	// Background execution
	Scheduler *scheduler.Scheduler
	Runner    *work.Runner
	Bus       *events.Bus
}

// Close releases every held resource in reverse dependency order.
func (c *Container) Close() {
	if c.Runner != nil {
		c.Runner.Stop()
	}
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Bus != nil {
		c.Bus.Close()
	}
	for _, db := range []*database.DB{c.AppDB, c.SectorsDB, c.MarketDB} {
		if db != nil {
			db.Close()
		}
	}
}

// Databases lists the open feature-store and operational databases.
func (c *Container) Databases() []*database.DB {
	return []*database.DB{c.MarketDB, c.SectorsDB, c.AppDB}
}
