package market

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/domain"
)

// HotNameSource matches display names against the latest popularity list.
type HotNameSource interface {
	SearchNames(source, keyword string, limit int) ([]domain.Ticker, error)
}

// Directory is the ticker lookup surface behind the search endpoint.
// Digit keywords resolve by code prefix; name keywords fall back through
// the ticker store, then the popularity lists, then in-memory pinyin
// initials. Case-insensitive throughout.
type Directory struct {
	tickers *TickerRepository
	hot     HotNameSource
	log     zerolog.Logger
}

func NewDirectory(tickers *TickerRepository, hot HotNameSource, log zerolog.Logger) *Directory {
	return &Directory{
		tickers: tickers,
		hot:     hot,
		log:     log.With().Str("module", "directory").Logger(),
	}
}

// GetByCode resolves one ticker from the store.
func (d *Directory) GetByCode(code string) (*domain.Ticker, error) {
	return d.tickers.GetByCode(code)
}

// Search resolves a keyword to matching tickers.
func (d *Directory) Search(keyword string, limit int) ([]domain.Ticker, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	if isDigits(keyword) {
		return d.tickers.searchByCodePrefix(keyword, limit)
	}

	out, err := d.tickers.searchByNameSubstring(keyword, limit)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}

	if hits := d.searchHotLists(keyword, limit); len(hits) > 0 {
		return hits, nil
	}

	return d.tickers.searchByPinyinInitials(keyword, limit)
}

func (d *Directory) searchHotLists(keyword string, limit int) []domain.Ticker {
	if d.hot == nil {
		return nil
	}
	for _, source := range []string{domain.HotSourceDongcai, domain.HotSourceXueqiu} {
		hits, err := d.hot.SearchNames(source, keyword, limit)
		if err != nil {
			d.log.Warn().Err(err).Str("source", source).Msg("Hot-list name search failed")
			continue
		}
		if len(hits) > 0 {
			return hits
		}
	}
	return nil
}
