package hotrank

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/domain"
)

// BarReader is the slice of the market module the enricher needs for the
// price columns of the hot list.
type BarReader interface {
	GetRecent(code string, limit int) ([]domain.DailyBar, error)
}

// NameResolver looks up ticker display names.
type NameResolver interface {
	GetByCode(code string) (*domain.Ticker, error)
}

// ConceptTagger resolves sector labels for a set of codes in one call.
type ConceptTagger interface {
	MembershipsByCodes(codes []string) (map[string][]string, error)
}

// HotStock is one enriched row of the popularity list.
type HotStock struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	Rank            int      `json:"rank"`
	HotScore        float64  `json:"hot_score"`
	Volume          float64  `json:"volume"`
	LastPrice       float64  `json:"last_price"`
	ChangePct       float64  `json:"change_pct"`
	Change7D        float64  `json:"change_7d"`
	Sectors         []string `json:"sectors"`
	ConsecutiveDays int      `json:"consecutive_days"`
}

// Service joins the raw popularity list with prices, sector tags and
// persistence-on-list counters.
type Service struct {
	repo     *Repository
	bars     BarReader
	tickers  NameResolver
	concepts ConceptTagger
	log      zerolog.Logger
}

// NewService creates the hot list enrichment service.
func NewService(repo *Repository, bars BarReader, tickers NameResolver, concepts ConceptTagger, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		bars:     bars,
		tickers:  tickers,
		concepts: concepts,
		log:      log.With().Str("service", "hotrank").Logger(),
	}
}

// TopEnriched returns the most recent list of one source, enriched. Missing
// joins degrade to zero values rather than dropping the row: a hot entry
// with no bar history is still worth showing.
func (s *Service) TopEnriched(source string, limit int) ([]HotStock, error) {
	entries, err := s.repo.TopForLatestDate(source, limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	codes := make([]string, 0, len(entries))
	for _, e := range entries {
		codes = append(codes, e.Code)
	}

	tags, err := s.concepts.MembershipsByCodes(codes)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to resolve sector tags for hot list")
		tags = map[string][]string{}
	}
	streaks, err := s.repo.ConsecutiveDays(source, codes)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to compute list streaks")
		streaks = map[string]int{}
	}

	out := make([]HotStock, 0, len(entries))
	for _, e := range entries {
		hs := HotStock{
			Code:            e.Code,
			Rank:            e.Rank,
			HotScore:        e.HotScore,
			Volume:          e.Volume,
			Sectors:         tags[e.Code],
			ConsecutiveDays: streaks[e.Code],
		}

		if t, err := s.tickers.GetByCode(e.Code); err == nil && t != nil {
			hs.Name = t.Name
		}

		bars, err := s.bars.GetRecent(e.Code, 8)
		if err == nil && len(bars) > 0 {
			last := bars[len(bars)-1]
			hs.LastPrice = last.Close
			hs.ChangePct = last.ChangePct
			if len(bars) >= 8 {
				base := bars[0].Close
				if base > 0 {
					hs.Change7D = (last.Close/base - 1) * 100
				}
			}
		}

		out = append(out, hs)
	}
	return out, nil
}

// SearchNames matches the latest hot list's display names against a
// keyword. Second step of the ticker-search fallback chain.
func (s *Service) SearchNames(source, keyword string, limit int) ([]domain.Ticker, error) {
	entries, err := s.repo.TopForLatestDate(source, 100)
	if err != nil {
		return nil, err
	}

	var out []domain.Ticker
	for _, e := range entries {
		if len(out) >= limit {
			break
		}
		t, err := s.tickers.GetByCode(e.Code)
		if err != nil || t == nil {
			continue
		}
		if keyword != "" && strings.Contains(t.Name, keyword) {
			out = append(out, *t)
		}
	}
	return out, nil
}
