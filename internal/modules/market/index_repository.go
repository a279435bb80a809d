package market

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/database"
	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/obs"
)

// IndexRepository stores benchmark index bars used by regime detection.
type IndexRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewIndexRepository creates a new index repository.
func NewIndexRepository(db *sql.DB, log zerolog.Logger) *IndexRepository {
	return &IndexRepository{
		db:  db,
		log: log.With().Str("repo", "index_daily").Logger(),
	}
}

// UpsertBatch writes index bars with insert-or-replace semantics.
func (r *IndexRepository) UpsertBatch(bars []domain.IndexDaily) error {
	if len(bars) == 0 {
		return nil
	}
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO index_daily (index_code, trade_date, open, close, high, low, volume, amount, change_pct)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(index_code, trade_date) DO UPDATE SET
				open = excluded.open,
				close = excluded.close,
				high = excluded.high,
				low = excluded.low,
				volume = excluded.volume,
				amount = excluded.amount,
				change_pct = excluded.change_pct`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, b := range bars {
			if _, err := stmt.Exec(b.IndexCode, b.TradeDate, b.Open, b.Close, b.High, b.Low, b.Volume, b.Amount, b.ChangePct); err != nil {
				return fmt.Errorf("upsert index bar %s/%s: %w", b.IndexCode, b.TradeDate, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	obs.UpsertRows.WithLabelValues("index_daily").Add(float64(len(bars)))
	return nil
}

// GetRecent returns up to limit most recent bars for an index, ordered
// oldest-first. Time-series readers always return ascending order.
func (r *IndexRepository) GetRecent(indexCode string, limit int) ([]domain.IndexDaily, error) {
	rows, err := r.db.Query(`
		SELECT index_code, trade_date, open, close, high, low, volume, amount, change_pct
		FROM (
			SELECT index_code, trade_date, open, close, high, low, volume, amount, change_pct
			FROM index_daily
			WHERE index_code = ?
			ORDER BY trade_date DESC
			LIMIT ?
		) ORDER BY trade_date ASC`, indexCode, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent index bars: %w", err)
	}
	defer rows.Close()

	var out []domain.IndexDaily
	for rows.Next() {
		var b domain.IndexDaily
		if err := rows.Scan(&b.IndexCode, &b.TradeDate, &b.Open, &b.Close, &b.High, &b.Low, &b.Volume, &b.Amount, &b.ChangePct); err != nil {
			return nil, fmt.Errorf("scan index bar: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetRecentBefore returns the most recent limit bars for an index ending
// at tradeDate (inclusive), ascending. Regime detection replays history
// through this reader.
func (r *IndexRepository) GetRecentBefore(indexCode, tradeDate string, limit int) ([]domain.IndexDaily, error) {
	rows, err := r.db.Query(`
		SELECT index_code, trade_date, open, close, high, low, volume, amount, change_pct
		FROM (
			SELECT index_code, trade_date, open, close, high, low, volume, amount, change_pct
			FROM index_daily
			WHERE index_code = ? AND trade_date <= ?
			ORDER BY trade_date DESC
			LIMIT ?
		) ORDER BY trade_date ASC`, indexCode, tradeDate, limit)
	if err != nil {
		return nil, fmt.Errorf("query index bars before %s: %w", tradeDate, err)
	}
	defer rows.Close()

	var out []domain.IndexDaily
	for rows.Next() {
		var b domain.IndexDaily
		if err := rows.Scan(&b.IndexCode, &b.TradeDate, &b.Open, &b.Close, &b.High, &b.Low, &b.Volume, &b.Amount, &b.ChangePct); err != nil {
			return nil, fmt.Errorf("scan index bar: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestDate returns the most recent stored date for an index, empty when none.
func (r *IndexRepository) LatestDate(indexCode string) (string, error) {
	var d sql.NullString
	err := r.db.QueryRow(`SELECT MAX(trade_date) FROM index_daily WHERE index_code = ?`, indexCode).Scan(&d)
	if err != nil {
		return "", fmt.Errorf("query latest index date: %w", err)
	}
	return d.String, nil
}
