// Package ingest moves vendor data into the feature store: the intraday
// snapshot, the daily close pipeline, hot-rank refreshes, concept sync,
// retention sweeps and historical backfills.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/clients/eastmoney"
	"github.com/aristath/marketpulse/internal/config"
	"github.com/aristath/marketpulse/internal/domain"
)

// A daily-close run is considered present when at least this many bar rows
// exist for the day; fewer means the close job was missed or cut short.
const minDailyBarQuorum = 1000

// catchUpLookbackDays bounds how far the startup catch-up reaches back.
const catchUpLookbackDays = 7

// Vendor is the eastmoney client surface the ingester drives.
type Vendor interface {
	Snapshot(ctx context.Context) ([]eastmoney.SnapshotRow, error)
	DailyBars(ctx context.Context, code string, limit int) ([]domain.DailyBar, error)
	IndexDaily(ctx context.Context, indexCode string, limit int) ([]domain.IndexDaily, error)
	UniverseFlowToday(ctx context.Context, tradeDate string) ([]domain.MoneyFlow, error)
	SectorFlowToday(ctx context.Context, tradeDate string) ([]domain.SectorFlow, error)
	TickerFlowHistory(ctx context.Context, code string) ([]domain.MoneyFlow, error)
	HotRank(ctx context.Context, tradeDate string) ([]domain.HotRankEntry, error)
	ConceptList(ctx context.Context) ([]eastmoney.ConceptInfo, error)
	ConceptConstituents(ctx context.Context, conceptCode string) ([]domain.Ticker, error)
}

// HotSource is a secondary popularity-list vendor.
type HotSource interface {
	HotRank(ctx context.Context, tradeDate string) ([]domain.HotRankEntry, error)
}

// BarStore writes daily bars.
type BarStore interface {
	UpsertBatch(bars []domain.DailyBar) error
	CountOnDate(tradeDate string) (int, error)
	CleanupOldData(nDays int) (int64, error)
}

// FlowStore writes per-ticker money flow.
type FlowStore interface {
	UpsertBatch(flows []domain.MoneyFlow) error
	SumByCodesOnDate(codes []string, tradeDate string) (*domain.MoneyFlow, error)
	CleanupOldData(nDays int) (int64, error)
}

// SectorStore writes sector flow rows.
type SectorStore interface {
	UpsertBatch(flows []domain.SectorFlow) error
	CountOnDate(tradeDate string) (int, error)
	CleanupOldData(nDays int) (int64, error)
}

// IndexStore writes benchmark index bars.
type IndexStore interface {
	UpsertBatch(bars []domain.IndexDaily) error
}

// TickerStore maintains the ticker universe.
type TickerStore interface {
	UpsertBatch(tickers []domain.Ticker) error
	GetAllActive() ([]domain.Ticker, error)
}

// HotStore replaces popularity lists per source and day.
type HotStore interface {
	ReplaceDay(source, tradeDate string, entries []domain.HotRankEntry) error
	CleanupOldData(nDays int) (int64, error)
}

// ConceptStore maintains concepts and their memberships.
type ConceptStore interface {
	ListActive() ([]domain.Concept, error)
	GetByName(name string) (*domain.Concept, error)
	Create(name, code, source string) (int64, error)
	Deactivate(id int64) error
	ReplaceMembers(conceptID int64, members []domain.ConceptMember) error
	MemberCodesByName(name string) ([]string, error)
}

// PredictionCache is swept alongside the feature-store tables.
type PredictionCache interface {
	DeleteBefore(cutoff string) (int64, error)
}

// MetricsEngine recomputes derived columns after raw ingestion.
type MetricsEngine interface {
	RecomputeDay(tradeDate string) error
	RecomputeTickerDay(tradeDate string) error
	RecomputeSectorDay(tradeDate string) error
	Backfill(dates []string) error
}

// Calendar is the trading-calendar slice ingestion needs.
type Calendar interface {
	Now() time.Time
	IsTradingDay(d time.Time) bool
	LastTradingDay(d time.Time) time.Time
	TradingDaysIn(a, b time.Time) []string
}

// Stores bundles the feature-store write surfaces.
type Stores struct {
	Bars     BarStore
	Flows    FlowStore
	Sectors  SectorStore
	Index    IndexStore
	Tickers  TickerStore
	Hot      HotStore
	Concepts ConceptStore
	Cache    PredictionCache
}

// Service runs the ingestion pipelines.
type Service struct {
	vendor    Vendor
	hotBackup HotSource
	stores    Stores
	metrics   MetricsEngine
	cal       Calendar
	indexCode string
	retention config.Retention
	log       zerolog.Logger
}

// NewService wires the ingester.
func NewService(vendor Vendor, hotBackup HotSource, stores Stores, metrics MetricsEngine,
	cal Calendar, indexCode string, retention config.Retention, log zerolog.Logger) *Service {
	return &Service{
		vendor:    vendor,
		hotBackup: hotBackup,
		stores:    stores,
		metrics:   metrics,
		cal:       cal,
		indexCode: indexCode,
		retention: retention,
		log:       log.With().Str("component", "ingest").Logger(),
	}
}

// RealtimeSnapshot rewrites today's raw bar columns and money flow from the
// intraday universe quote. Derived columns are never touched here.
func (s *Service) RealtimeSnapshot(ctx context.Context) error {
	tradeDate := s.cal.Now().Format("2006-01-02")

	rows, err := s.vendor.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("intraday snapshot: %w", err)
	}
	if err := s.storeSnapshot(rows, tradeDate); err != nil {
		return err
	}

	flows, err := s.vendor.UniverseFlowToday(ctx, tradeDate)
	if err != nil {
		// flow lags the quote feed; today's bars are still worth keeping
		s.log.Warn().Err(err).Msg("Universe flow unavailable, keeping snapshot only")
		return nil
	}
	if err := s.stores.Flows.UpsertBatch(flows); err != nil {
		return fmt.Errorf("store universe flow: %w", err)
	}

	s.log.Debug().Str("date", tradeDate).Int("bars", len(rows)).Int("flows", len(flows)).
		Msg("Realtime snapshot stored")
	return nil
}

// DailyClose materialises one trading day end to end: final bars, money
// flow, sector flow (vendor or synthesised), index bars, then the derived
// metric recompute.
func (s *Service) DailyClose(ctx context.Context, tradeDate string) error {
	rows, err := s.vendor.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := s.storeSnapshot(rows, tradeDate); err != nil {
		return err
	}

	flows, err := s.vendor.UniverseFlowToday(ctx, tradeDate)
	if err != nil {
		s.log.Warn().Err(err).Msg("Universe flow unavailable at close")
	} else if err := s.stores.Flows.UpsertBatch(flows); err != nil {
		return fmt.Errorf("store universe flow: %w", err)
	}

	if err := s.ingestSectorFlow(ctx, tradeDate); err != nil {
		return err
	}

	if index, err := s.vendor.IndexDaily(ctx, s.indexCode, 60); err != nil {
		s.log.Warn().Err(err).Str("index", s.indexCode).Msg("Index history unavailable")
	} else if err := s.stores.Index.UpsertBatch(index); err != nil {
		return fmt.Errorf("store index bars: %w", err)
	}

	if err := s.metrics.RecomputeDay(tradeDate); err != nil {
		return fmt.Errorf("recompute derived metrics: %w", err)
	}

	s.log.Info().Str("date", tradeDate).Int("bars", len(rows)).Msg("Daily close complete")
	return nil
}

// ingestSectorFlow prefers the vendor sector aggregate and falls back to
// summing constituent money-flow rows per active concept.
func (s *Service) ingestSectorFlow(ctx context.Context, tradeDate string) error {
	sectorFlows, err := s.vendor.SectorFlowToday(ctx, tradeDate)
	if err != nil || len(sectorFlows) == 0 {
		if err != nil {
			s.log.Warn().Err(err).Msg("Sector flow endpoint failed, synthesising from constituents")
		}
		sectorFlows, err = s.synthesizeSectorFlows(ctx, tradeDate)
		if err != nil {
			return err
		}
	}
	if len(sectorFlows) == 0 {
		return nil
	}
	if err := s.stores.Sectors.UpsertBatch(sectorFlows); err != nil {
		return fmt.Errorf("store sector flow: %w", err)
	}
	return nil
}

// synthesizeSectorFlows builds sector rows by summing member tickers'
// money flow. Derived and aggregate columns are filled later by the
// metrics engine.
func (s *Service) synthesizeSectorFlows(ctx context.Context, tradeDate string) ([]domain.SectorFlow, error) {
	concepts, err := s.stores.Concepts.ListActive()
	if err != nil {
		return nil, fmt.Errorf("list concepts for sector synthesis: %w", err)
	}

	var out []domain.SectorFlow
	for _, concept := range concepts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		codes, err := s.stores.Concepts.MemberCodesByName(concept.Name)
		if err != nil {
			return nil, fmt.Errorf("members of %s: %w", concept.Name, err)
		}
		if len(codes) == 0 {
			continue
		}
		sum, err := s.stores.Flows.SumByCodesOnDate(codes, tradeDate)
		if err != nil {
			return nil, fmt.Errorf("sum flow for %s: %w", concept.Name, err)
		}
		if sum == nil {
			continue
		}
		out = append(out, domain.SectorFlow{
			SectorName:    concept.Name,
			TradeDate:     tradeDate,
			MainNet:       sum.MainNet,
			SuperLargeNet: sum.SuperLargeNet,
			LargeNet:      sum.LargeNet,
			MediumNet:     sum.MediumNet,
			SmallNet:      sum.SmallNet,
		})
	}
	return out, nil
}

// RefreshHotRanks replaces today's popularity lists for both sources.
// One source failing does not block the other.
func (s *Service) RefreshHotRanks(ctx context.Context) error {
	tradeDate := s.cal.LastTradingDay(s.cal.Now()).Format("2006-01-02")

	var firstErr error
	if entries, err := s.vendor.HotRank(ctx, tradeDate); err != nil {
		s.log.Warn().Err(err).Str("source", domain.HotSourceDongcai).Msg("Hot rank fetch failed")
		firstErr = err
	} else if len(entries) > 0 {
		if err := s.stores.Hot.ReplaceDay(domain.HotSourceDongcai, tradeDate, entries); err != nil {
			return err
		}
	}

	if entries, err := s.hotBackup.HotRank(ctx, tradeDate); err != nil {
		s.log.Warn().Err(err).Str("source", domain.HotSourceXueqiu).Msg("Hot rank fetch failed")
		if firstErr == nil {
			firstErr = err
		}
	} else if len(entries) > 0 {
		if err := s.stores.Hot.ReplaceDay(domain.HotSourceXueqiu, tradeDate, entries); err != nil {
			return err
		}
	}
	return firstErr
}

// SyncConcepts diffs the vendor concept universe against the store: new
// concepts are created with their memberships, vanished ones deactivated.
// Memberships of deactivated concepts are kept.
func (s *Service) SyncConcepts(ctx context.Context) error {
	remote, err := s.vendor.ConceptList(ctx)
	if err != nil {
		return fmt.Errorf("fetch concept list: %w", err)
	}
	if len(remote) == 0 {
		s.log.Warn().Msg("Vendor concept list empty, keeping current concepts")
		return nil
	}

	existing, err := s.stores.Concepts.ListActive()
	if err != nil {
		return fmt.Errorf("list active concepts: %w", err)
	}
	stale := make(map[string]int64, len(existing))
	for _, c := range existing {
		stale[c.Name] = c.ID
	}

	created, updated := 0, 0
	for _, info := range remote {
		if err := ctx.Err(); err != nil {
			return err
		}

		id, known := stale[info.Name]
		if known {
			delete(stale, info.Name)
		} else {
			id, err = s.stores.Concepts.Create(info.Name, info.Code, "eastmoney")
			if err != nil {
				return fmt.Errorf("create concept %s: %w", info.Name, err)
			}
			created++
		}

		constituents, err := s.vendor.ConceptConstituents(ctx, info.Code)
		if err != nil {
			s.log.Warn().Err(err).Str("concept", info.Name).Msg("Constituent fetch failed, keeping members")
			continue
		}
		members := make([]domain.ConceptMember, 0, len(constituents))
		for _, t := range constituents {
			members = append(members, domain.ConceptMember{Code: t.Code, ConceptID: id, Weight: 1.0})
		}
		if err := s.stores.Concepts.ReplaceMembers(id, members); err != nil {
			return fmt.Errorf("replace members of %s: %w", info.Name, err)
		}
		updated++
	}

	for name, id := range stale {
		if err := s.stores.Concepts.Deactivate(id); err != nil {
			return fmt.Errorf("deactivate concept %s: %w", name, err)
		}
	}

	s.log.Info().Int("created", created).Int("updated", updated).Int("deactivated", len(stale)).
		Msg("Concept sync complete")
	return nil
}

// RetentionSweep applies the configured horizons across all stores.
func (s *Service) RetentionSweep() error {
	var total int64

	removed, err := s.stores.Bars.CleanupOldData(s.retention.DailyBars)
	if err != nil {
		return err
	}
	total += removed

	if removed, err = s.stores.Flows.CleanupOldData(s.retention.MoneyFlow); err != nil {
		return err
	}
	total += removed

	if removed, err = s.stores.Sectors.CleanupOldData(s.retention.SectorFlow); err != nil {
		return err
	}
	total += removed

	if removed, err = s.stores.Hot.CleanupOldData(s.retention.HotRank); err != nil {
		return err
	}
	total += removed

	cutoff := s.cal.Now().AddDate(0, 0, -s.retention.HotRank).Format("2006-01-02")
	if removed, err = s.stores.Cache.DeleteBefore(cutoff); err != nil {
		return err
	}
	total += removed

	s.log.Info().Int64("rows", total).Msg("Retention sweep complete")
	return nil
}

// CatchUp backfills the recent window when the last closed trading day is
// missing its daily bars, typically after the process was down at 15:00.
func (s *Service) CatchUp(ctx context.Context) error {
	lastClosed := s.lastClosedTradingDay()
	count, err := s.stores.Bars.CountOnDate(lastClosed.Format("2006-01-02"))
	if err != nil {
		return err
	}
	if count >= minDailyBarQuorum {
		return nil
	}

	s.log.Info().Str("date", lastClosed.Format("2006-01-02")).Int("bars", count).
		Msg("Last close incomplete, catching up")
	return s.Backfill(ctx, catchUpLookbackDays)
}

// lastClosedTradingDay is the most recent trading day whose close auction
// has finished.
func (s *Service) lastClosedTradingDay() time.Time {
	now := s.cal.Now()
	day := s.cal.LastTradingDay(now)
	sameDay := day.Format("2006-01-02") == now.Format("2006-01-02")
	if sameDay && now.Hour()*60+now.Minute() < 15*60+15 {
		day = s.cal.LastTradingDay(now.AddDate(0, 0, -1))
	}
	return day
}

// storeSnapshot maps intraday quotes onto raw bar columns and refreshes
// the ticker universe.
func (s *Service) storeSnapshot(rows []eastmoney.SnapshotRow, tradeDate string) error {
	bars := make([]domain.DailyBar, 0, len(rows))
	tickers := make([]domain.Ticker, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, domain.DailyBar{
			Code:         row.Code,
			TradeDate:    tradeDate,
			Open:         row.Open,
			Close:        row.Price,
			High:         row.High,
			Low:          row.Low,
			Volume:       row.Volume,
			Amount:       row.Amount,
			TurnoverRate: row.TurnoverRate,
			ChangePct:    clampChangePct(row.ChangePct),
		})
		tickers = append(tickers, domain.Ticker{
			Code:   row.Code,
			Name:   row.Name,
			Market: domain.MarketForCode(row.Code),
			Active: true,
		})
	}

	if err := s.stores.Tickers.UpsertBatch(tickers); err != nil {
		return fmt.Errorf("sync ticker universe: %w", err)
	}
	if err := s.stores.Bars.UpsertBatch(bars); err != nil {
		return fmt.Errorf("store snapshot bars: %w", err)
	}
	return nil
}

// clampChangePct bounds a vendor change percentage to a sane band.
func clampChangePct(v float64) float64 {
	const bound = 1000.0
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
