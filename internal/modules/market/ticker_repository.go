package market

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"
	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/database"
	"github.com/aristath/marketpulse/internal/domain"
)

// TickerRepository handles ticker-universe database operations.
type TickerRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTickerRepository creates a new ticker repository.
func NewTickerRepository(db *sql.DB, log zerolog.Logger) *TickerRepository {
	return &TickerRepository{
		db:  db,
		log: log.With().Str("repo", "tickers").Logger(),
	}
}

// UpsertBatch writes tickers with insert-or-replace semantics. The active
// flag is deliberately not overwritten: deactivation is admin-only.
func (r *TickerRepository) UpsertBatch(tickers []domain.Ticker) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO tickers (code, name, market, industry, list_date, active, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, datetime('now'))
			ON CONFLICT(code) DO UPDATE SET
				name = excluded.name,
				market = excluded.market,
				industry = CASE WHEN excluded.industry != '' THEN excluded.industry ELSE tickers.industry END,
				list_date = COALESCE(excluded.list_date, tickers.list_date),
				updated_at = datetime('now')`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range tickers {
			market := t.Market
			if market == "" {
				market = domain.MarketForCode(t.Code)
			}
			if _, err := stmt.Exec(t.Code, t.Name, market, t.Industry, t.ListDate); err != nil {
				return fmt.Errorf("upsert ticker %s: %w", t.Code, err)
			}
		}
		return nil
	})
}

// GetByCode returns one ticker, or nil when absent.
func (r *TickerRepository) GetByCode(code string) (*domain.Ticker, error) {
	row := r.db.QueryRow(`
		SELECT code, name, market, industry, list_date, active
		FROM tickers WHERE code = ?`, domain.CanonicalCode(code))

	t, err := scanTicker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ticker %s: %w", code, err)
	}
	return t, nil
}

// GetAllActive returns all active tickers.
func (r *TickerRepository) GetAllActive() ([]domain.Ticker, error) {
	rows, err := r.db.Query(`
		SELECT code, name, market, industry, list_date, active
		FROM tickers WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("query active tickers: %w", err)
	}
	defer rows.Close()

	var out []domain.Ticker
	for rows.Next() {
		var t domain.Ticker
		var active int
		if err := rows.Scan(&t.Code, &t.Name, &t.Market, &t.Industry, &t.ListDate, &active); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		t.Active = active == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetActive flips the active flag. Admin-only operation; deletes never cascade.
func (r *TickerRepository) SetActive(code string, active bool) error {
	flag := 0
	if active {
		flag = 1
	}
	_, err := r.db.Exec(`
		UPDATE tickers SET active = ?, updated_at = datetime('now') WHERE code = ?`,
		flag, domain.CanonicalCode(code))
	if err != nil {
		return fmt.Errorf("set active %s: %w", code, err)
	}
	return nil
}

func (r *TickerRepository) searchByCodePrefix(prefix string, limit int) ([]domain.Ticker, error) {
	rows, err := r.db.Query(`
		SELECT code, name, market, industry, list_date, active
		FROM tickers WHERE code LIKE ? AND active = 1
		ORDER BY code LIMIT ?`, prefix+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search by code prefix: %w", err)
	}
	defer rows.Close()
	return collectTickers(rows)
}

func (r *TickerRepository) searchByNameSubstring(sub string, limit int) ([]domain.Ticker, error) {
	rows, err := r.db.Query(`
		SELECT code, name, market, industry, list_date, active
		FROM tickers WHERE name LIKE ? AND active = 1
		ORDER BY code LIMIT ?`, "%"+sub+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search by name: %w", err)
	}
	defer rows.Close()
	return collectTickers(rows)
}

func (r *TickerRepository) searchByPinyinInitials(keyword string, limit int) ([]domain.Ticker, error) {
	all, err := r.GetAllActive()
	if err != nil {
		return nil, err
	}

	needle := strings.ToUpper(keyword)
	var out []domain.Ticker
	for _, t := range all {
		if strings.Contains(PinyinInitials(t.Name), needle) {
			out = append(out, t)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// PinyinInitials returns the upper-case pinyin initials of a name, e.g.
// "浦发银行" -> "PFYH". Non-Han runes pass through unchanged.
func PinyinInitials(name string) string {
	args := pinyin.NewArgs()
	args.Style = pinyin.FirstLetter

	var b strings.Builder
	for _, r := range name {
		if unicode.Is(unicode.Han, r) {
			py := pinyin.SinglePinyin(r, args)
			if len(py) > 0 {
				b.WriteString(strings.ToUpper(py[0]))
				continue
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func collectTickers(rows *sql.Rows) ([]domain.Ticker, error) {
	var out []domain.Ticker
	for rows.Next() {
		var t domain.Ticker
		var active int
		if err := rows.Scan(&t.Code, &t.Name, &t.Market, &t.Industry, &t.ListDate, &active); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		t.Active = active == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTicker(row *sql.Row) (*domain.Ticker, error) {
	var t domain.Ticker
	var active int
	if err := row.Scan(&t.Code, &t.Name, &t.Market, &t.Industry, &t.ListDate, &active); err != nil {
		return nil, err
	}
	t.Active = active == 1
	return &t, nil
}
