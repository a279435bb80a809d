package hotrank

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/database"
	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/obs"
)

// Repository stores vendor popularity lists. Rows are replaced whole per
// (source, day): partial lists from a flaky refresh never mix with the
// previous snapshot.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new hot rank repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "hot_rank").Logger(),
	}
}

// ReplaceDay atomically swaps one source's rows for one day.
func (r *Repository) ReplaceDay(source, tradeDate string, entries []domain.HotRankEntry) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`DELETE FROM hot_rank WHERE source = ? AND trade_date = ?`, source, tradeDate); err != nil {
			return fmt.Errorf("clear hot rank %s/%s: %w", source, tradeDate, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO hot_rank (code, source, trade_date, rank, hot_score, volume)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.Exec(e.Code, source, tradeDate, e.Rank, e.HotScore, e.Volume); err != nil {
				return fmt.Errorf("insert hot rank %s/%s: %w", e.Code, tradeDate, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	obs.UpsertRows.WithLabelValues("hot_rank").Add(float64(len(entries)))
	return nil
}

// LatestDate returns the most recent date with rows for one source.
func (r *Repository) LatestDate(source string) (string, error) {
	var d sql.NullString
	err := r.db.QueryRow(
		`SELECT MAX(trade_date) FROM hot_rank WHERE source = ?`, source).Scan(&d)
	if err != nil {
		return "", fmt.Errorf("query latest hot rank date: %w", err)
	}
	return d.String, nil
}

// TopForLatestDate returns the list of the most recent day, best rank first.
func (r *Repository) TopForLatestDate(source string, limit int) ([]domain.HotRankEntry, error) {
	latest, err := r.LatestDate(source)
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, nil
	}

	rows, err := r.db.Query(`
		SELECT code, source, trade_date, rank, hot_score, volume
		FROM hot_rank
		WHERE source = ? AND trade_date = ?
		ORDER BY rank ASC LIMIT ?`, source, latest, limit)
	if err != nil {
		return nil, fmt.Errorf("query hot rank %s/%s: %w", source, latest, err)
	}
	defer rows.Close()

	var out []domain.HotRankEntry
	for rows.Next() {
		var e domain.HotRankEntry
		if err := rows.Scan(&e.Code, &e.Source, &e.TradeDate, &e.Rank, &e.HotScore, &e.Volume); err != nil {
			return nil, fmt.Errorf("scan hot rank entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ConsecutiveDays returns, per code, how many consecutive stored dates
// (newest backwards, starting at the latest) the code appeared on the list.
func (r *Repository) ConsecutiveDays(source string, codes []string) (map[string]int, error) {
	dates, err := r.datesDesc(source, 30)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(codes))
	if len(dates) == 0 {
		return out, nil
	}

	presence := make(map[string]map[string]struct{}, len(dates))
	for _, d := range dates {
		rows, err := r.db.Query(
			`SELECT code FROM hot_rank WHERE source = ? AND trade_date = ?`, source, d)
		if err != nil {
			return nil, fmt.Errorf("query hot rank codes on %s: %w", d, err)
		}
		set := make(map[string]struct{})
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan hot rank code: %w", err)
			}
			set[c] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		presence[d] = set
	}

	for _, code := range codes {
		n := 0
		for _, d := range dates {
			if _, ok := presence[d][code]; !ok {
				break
			}
			n++
		}
		out[code] = n
	}
	return out, nil
}

// CleanupOldData removes rows older than nDays. Returns rows removed.
func (r *Repository) CleanupOldData(nDays int) (int64, error) {
	res, err := r.db.Exec(
		`DELETE FROM hot_rank WHERE trade_date < date('now', ?)`,
		fmt.Sprintf("-%d days", nDays))
	if err != nil {
		return 0, fmt.Errorf("cleanup hot rank: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		r.log.Info().Int64("rows", removed).Msg("Removed old hot rank rows")
	}
	return removed, nil
}

func (r *Repository) datesDesc(source string, n int) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT trade_date FROM hot_rank
		WHERE source = ? ORDER BY trade_date DESC LIMIT ?`, source, n)
	if err != nil {
		return nil, fmt.Errorf("query hot rank dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan hot rank date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}
