package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/calendar"
	"github.com/aristath/marketpulse/internal/clients/eastmoney"
	"github.com/aristath/marketpulse/internal/clients/xueqiu"
	"github.com/aristath/marketpulse/internal/config"
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
)

// initializeServices builds the business logic layer.
func initializeServices(c *Container, cfg *config.Config, log zerolog.Logger) error {
	c.Eastmoney = eastmoney.New(eastmoney.Config{
		BaseURL:   cfg.EastmoneyBaseURL,
		RateLimit: cfg.VendorRateLimit,
		Burst:     cfg.VendorBurst,
	}, log)
	c.Xueqiu = xueqiu.New(xueqiu.Config{
		BaseURL:   cfg.XueqiuBaseURL,
		RateLimit: cfg.VendorRateLimit,
		Burst:     cfg.VendorBurst,
	}, log)

	c.Calendar = calendar.New(c.Eastmoney, log)
	c.Metrics = metrics.NewEngine(c.Bars, c.SectorFlows, c.Concepts, log)

	clusterer := sectors.NewClusterer(c.Concepts, log)
	c.SectorService = sectors.NewService(
		c.SectorFlows, c.Concepts, c.Boards, clusterer, c.Bars, cfg.ConceptBlacklist, log)
	c.HotService = hotrank.NewService(c.HotRank, c.Bars, c.Tickers, c.Concepts, log)
	c.Directory = market.NewDirectory(c.Tickers, c.HotService, log)

	regime := alpha.NewRegimeDetector(c.Index, c.Bars, cfg.RSRSIndexCode)
	c.Pipeline = alpha.NewPipeline(c.Bars, c.Tickers, regime, log)
	c.Backtester = alpha.NewBacktester(c.Pipeline, c.Bars, c.Calendar, log)

	c.RecService = recommendations.NewService(c.Recommendations, c.Bars, log)
	c.Predictor = prediction.NewService(
		c.SectorFlows, c.HotRank, c.Concepts, c.Boards,
		c.Bars, c.Tickers, c.PredictionCache, c.Calendar, log)
	c.Analyzer = analysis.NewService(c.Bars, c.Tickers, log)

	c.Ingest = ingest.NewService(c.Eastmoney, c.Xueqiu, ingest.Stores{
		Bars:     c.Bars,
		Flows:    c.Flows,
		Sectors:  c.SectorFlows,
		Index:    c.Index,
		Tickers:  c.Tickers,
		Hot:      c.HotRank,
		Concepts: c.Concepts,
		Cache:    c.PredictionCache,
	}, c.Metrics, c.Calendar, cfg.RSRSIndexCode, cfg.Retention, log)

	if cfg.BackupEnabled() {
		store, err := reliability.NewS3Client(
			cfg.Backup.Endpoint, cfg.Backup.Region, cfg.Backup.Bucket,
			cfg.Backup.AccessKeyID, cfg.Backup.SecretAccessKey, log)
		if err != nil {
			return err
		}
		sources := make([]reliability.DatabaseSource, 0, 3)
		for _, db := range c.Databases() {
			sources = append(sources, db)
		}
		c.Backup = reliability.NewBackupService(
			store, sources, cfg.DataDir, cfg.Backup.KeepArchives, log)
	}
	return nil
}
