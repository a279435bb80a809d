package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/cache"
	"github.com/aristath/marketpulse/internal/modules/hotrank"
	"github.com/aristath/marketpulse/internal/modules/market"
	"github.com/aristath/marketpulse/internal/modules/prediction"
	"github.com/aristath/marketpulse/internal/modules/recommendations"
	"github.com/aristath/marketpulse/internal/modules/sectors"
	"github.com/aristath/marketpulse/internal/scheduler"
)

// initializeRepositories builds the data access layer over the open
// databases.
func initializeRepositories(c *Container, log zerolog.Logger) {
	marketConn := c.MarketDB.Conn()
	sectorsConn := c.SectorsDB.Conn()
	appConn := c.AppDB.Conn()

	c.Bars = market.NewBarRepository(marketConn, log)
	c.Flows = market.NewFlowRepository(marketConn, log)
	c.Index = market.NewIndexRepository(marketConn, log)
	c.Tickers = market.NewTickerRepository(marketConn, log)

	c.SectorFlows = sectors.NewSectorFlowRepository(sectorsConn, log)
	c.Concepts = sectors.NewConceptRepository(sectorsConn, log)
	c.Boards = sectors.NewVirtualBoardRepository(sectorsConn, log)
	c.HotRank = hotrank.NewRepository(sectorsConn, log)

	c.Recommendations = recommendations.NewRepository(appConn, log)
	c.PredictionCache = prediction.NewCacheRepository(appConn, log)
	c.PayloadCache = cache.NewPayloadRepository(appConn, log)
	c.JobHistory = scheduler.NewHistoryRepository(appConn, log)
}
