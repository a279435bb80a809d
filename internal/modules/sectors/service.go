package sectors

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/domain"
)

// BarReader is the slice of the market module the sector service needs to
// rank member tickers by intraday change.
type BarReader interface {
	GetByCodesAndDate(codes []string, tradeDate string) ([]domain.DailyBar, error)
}

// Service answers sector-level queries: daily aggregates, member stocks,
// and the clustered hot / money-flow rankings.
type Service struct {
	flows     *SectorFlowRepository
	concepts  *ConceptRepository
	boards    *VirtualBoardRepository
	clusterer *Clusterer
	bars      BarReader
	blacklist map[string]struct{}
	log       zerolog.Logger
}

// NewService creates the sector query service. blacklist names are dropped
// from every ranked output.
func NewService(
	flows *SectorFlowRepository,
	concepts *ConceptRepository,
	boards *VirtualBoardRepository,
	clusterer *Clusterer,
	bars BarReader,
	blacklist []string,
	log zerolog.Logger,
) *Service {
	bl := make(map[string]struct{}, len(blacklist))
	for _, name := range blacklist {
		bl[name] = struct{}{}
	}
	return &Service{
		flows:     flows,
		concepts:  concepts,
		boards:    boards,
		clusterer: clusterer,
		bars:      bars,
		blacklist: bl,
		log:       log.With().Str("service", "sectors").Logger(),
	}
}

// ResolveSources maps a presentation (virtual board) name back to the
// source concept names it projects. An unmapped name resolves to itself.
func (s *Service) ResolveSources(name string) ([]string, error) {
	projection, err := s.boards.ProjectionMap()
	if err != nil {
		return nil, err
	}

	var sources []string
	for source, mappings := range projection {
		for _, m := range mappings {
			if m.BoardName == name {
				sources = append(sources, source)
				break
			}
		}
	}
	if len(sources) == 0 {
		sources = []string{name}
	}
	sort.Strings(sources)
	return sources, nil
}

// Daily returns the last `limit` aggregate rows for a board, oldest-first.
// When the board projects several source concepts, rows of the same day
// are merged: flows sum, change and turnover average.
func (s *Service) Daily(name string, limit int) ([]domain.SectorFlow, error) {
	sources, err := s.ResolveSources(name)
	if err != nil {
		return nil, err
	}
	if len(sources) == 1 {
		return s.flows.GetRecent(sources[0], limit)
	}

	byDate := make(map[string]*domain.SectorFlow)
	counts := make(map[string]int)
	for _, source := range sources {
		rows, err := s.flows.GetRecent(source, limit)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			agg, ok := byDate[row.TradeDate]
			if !ok {
				merged := row
				merged.SectorName = name
				byDate[row.TradeDate] = &merged
				counts[row.TradeDate] = 1
				continue
			}
			agg.MainNet += row.MainNet
			agg.SuperLargeNet += row.SuperLargeNet
			agg.LargeNet += row.LargeNet
			agg.MediumNet += row.MediumNet
			agg.SmallNet += row.SmallNet
			agg.ChangePct += row.ChangePct
			agg.AvgTurnover += row.AvgTurnover
			agg.LimitUpCount += row.LimitUpCount
			counts[row.TradeDate]++
		}
	}

	out := make([]domain.SectorFlow, 0, len(byDate))
	for date, agg := range byDate {
		if n := counts[date]; n > 1 {
			agg.ChangePct /= float64(n)
			agg.AvgTurnover /= float64(n)
		}
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeDate < out[j].TradeDate })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// MemberCodes returns the deduplicated member tickers of a board, resolved
// through the virtual-board mapping.
func (s *Service) MemberCodes(name string) ([]string, error) {
	sources, err := s.ResolveSources(name)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var codes []string
	for _, source := range sources {
		members, err := s.concepts.MemberCodesByName(source)
		if err != nil {
			return nil, err
		}
		for _, code := range members {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	return codes, nil
}

// StocksByChange returns a board's member bars on one day, strongest
// intraday change first.
func (s *Service) StocksByChange(name, tradeDate string, limit int) ([]domain.DailyBar, error) {
	codes, err := s.MemberCodes(name)
	if err != nil {
		return nil, err
	}
	bars, err := s.bars.GetByCodesAndDate(codes, tradeDate)
	if err != nil {
		return nil, err
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].ChangePct > bars[j].ChangePct })
	if limit > 0 && len(bars) > limit {
		bars = bars[:limit]
	}
	return bars, nil
}

// HotSectors ranks the latest day's sectors by main inflow and collapses
// near-duplicates through the clusterer.
func (s *Service) HotSectors(limit int) ([]ClusteredSector, error) {
	ranked, err := s.flows.TopByMainNet(1, rankingPoolSize(limit))
	if err != nil {
		return nil, err
	}
	return s.clusterAndTrim(ranked, limit), nil
}

// RecommendByMoneyFlow ranks sectors by cumulative main inflow over the
// last `days` trading days, then clusters. Backs /sector-money-flow/recommend.
func (s *Service) RecommendByMoneyFlow(days, limit int) ([]ClusteredSector, error) {
	ranked, err := s.flows.TopByMainNet(days, rankingPoolSize(limit))
	if err != nil {
		return nil, err
	}
	return s.clusterAndTrim(ranked, limit), nil
}

func (s *Service) clusterAndTrim(ranked []RankedFlow, limit int) []ClusteredSector {
	items := make([]ClusterItem, 0, len(ranked))
	for _, r := range ranked {
		if _, banned := s.blacklist[r.Flow.SectorName]; banned {
			continue
		}
		items = append(items, ClusterItem{
			Name:    r.Flow.SectorName,
			Score:   r.CumulativeNet,
			Top5:    r.Flow.TopWeightStocks,
			Payload: r,
		})
	}

	clustered := s.clusterer.Cluster(items)
	if limit > 0 && len(clustered) > limit {
		clustered = clustered[:limit]
	}
	return clustered
}

// The ranking pool is wider than the requested page so that clustering has
// absorption candidates beyond the cut line.
func rankingPoolSize(limit int) int {
	if limit <= 0 {
		limit = 30
	}
	return limit * 2
}
