// Package market provides the feature-store repositories for the per-ticker
// time series: the ticker universe, daily bars, money flow and index data.
package market

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/database"
	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/obs"
)

// barUpsertBatch is the number of daily-bar rows written per transaction.
const barUpsertBatch = 2000

// barColumns is the column list for daily_bars reads. Kept explicit so a
// schema change breaks the query, not the scan.
const barColumns = `code, trade_date, open, close, high, low, volume, amount,
turnover_rate, change_pct, ma5, ma10, ma20, ma30, ma60, rps_250, vcp_factor, vol_ma_5`

// BarRepository handles daily-bar database operations.
type BarRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBarRepository creates a new daily-bar repository.
func NewBarRepository(db *sql.DB, log zerolog.Logger) *BarRepository {
	return &BarRepository{
		db:  db,
		log: log.With().Str("repo", "bars").Logger(),
	}
}

// UpsertBatch writes bars with insert-or-replace-on-conflict semantics, in
// batches, one transaction per batch. Running the same batch twice leaves
// the table byte-identical.
func (r *BarRepository) UpsertBatch(bars []domain.DailyBar) error {
	for start := 0; start < len(bars); start += barUpsertBatch {
		end := start + barUpsertBatch
		if end > len(bars) {
			end = len(bars)
		}

		err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(`
				INSERT INTO daily_bars
					(code, trade_date, open, close, high, low, volume, amount, turnover_rate, change_pct)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(code, trade_date) DO UPDATE SET
					open = excluded.open, close = excluded.close,
					high = excluded.high, low = excluded.low,
					volume = excluded.volume, amount = excluded.amount,
					turnover_rate = excluded.turnover_rate, change_pct = excluded.change_pct`)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, b := range bars[start:end] {
				if _, err := stmt.Exec(b.Code, b.TradeDate, b.Open, b.Close, b.High, b.Low,
					b.Volume, b.Amount, b.TurnoverRate, b.ChangePct); err != nil {
					return fmt.Errorf("upsert bar %s %s: %w", b.Code, b.TradeDate, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		obs.UpsertRows.WithLabelValues("daily_bars").Add(float64(end - start))
	}
	return nil
}

// UpdateDerived rewrites the derived columns of a single bar row.
// Raw OHLCV columns are never touched here.
func (r *BarRepository) UpdateDerived(code, tradeDate string, ma5, ma10, ma20, ma30, ma60, volMA5, vcp *float64) error {
	_, err := r.db.Exec(`
		UPDATE daily_bars
		SET ma5 = ?, ma10 = ?, ma20 = ?, ma30 = ?, ma60 = ?, vol_ma_5 = ?, vcp_factor = ?
		WHERE code = ? AND trade_date = ?`,
		ma5, ma10, ma20, ma30, ma60, volMA5, vcp, code, tradeDate)
	if err != nil {
		return fmt.Errorf("update derived %s %s: %w", code, tradeDate, err)
	}
	return nil
}

// UpdateRPSBatch writes rps_250 for many tickers on one day in one transaction.
func (r *BarRepository) UpdateRPSBatch(tradeDate string, rps map[string]float64) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE daily_bars SET rps_250 = ? WHERE code = ? AND trade_date = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for code, v := range rps {
			if _, err := stmt.Exec(v, code, tradeDate); err != nil {
				return fmt.Errorf("update rps %s: %w", code, err)
			}
		}
		return nil
	})
}

// GetRecent returns the most recent limit bars for one ticker in ascending
// trade_date order. The ordering is a contract: derived-metric and chart
// code depends on it.
func (r *BarRepository) GetRecent(code string, limit int) ([]domain.DailyBar, error) {
	rows, err := r.db.Query(`
		SELECT * FROM (
			SELECT `+barColumns+`
			FROM daily_bars WHERE code = ?
			ORDER BY trade_date DESC LIMIT ?
		) ORDER BY trade_date ASC`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent bars %s: %w", code, err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetRecentBefore returns the most recent limit bars ending at tradeDate
// (inclusive), ascending.
func (r *BarRepository) GetRecentBefore(code, tradeDate string, limit int) ([]domain.DailyBar, error) {
	rows, err := r.db.Query(`
		SELECT * FROM (
			SELECT `+barColumns+`
			FROM daily_bars WHERE code = ? AND trade_date <= ?
			ORDER BY trade_date DESC LIMIT ?
		) ORDER BY trade_date ASC`, code, tradeDate, limit)
	if err != nil {
		return nil, fmt.Errorf("query bars before %s %s: %w", code, tradeDate, err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetByDate returns all bars of one trading day.
func (r *BarRepository) GetByDate(tradeDate string) ([]domain.DailyBar, error) {
	rows, err := r.db.Query(`
		SELECT `+barColumns+` FROM daily_bars WHERE trade_date = ?`, tradeDate)
	if err != nil {
		return nil, fmt.Errorf("query bars on %s: %w", tradeDate, err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetByCodesAndDate returns the bars of the given tickers on one day.
func (r *BarRepository) GetByCodesAndDate(codes []string, tradeDate string) ([]domain.DailyBar, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(codes))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(codes)+1)
	for _, c := range codes {
		args = append(args, c)
	}
	args = append(args, tradeDate)

	rows, err := r.db.Query(`
		SELECT `+barColumns+` FROM daily_bars
		WHERE code IN (`+placeholders+`) AND trade_date = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars by codes on %s: %w", tradeDate, err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetAfter returns up to limit bars strictly after tradeDate, ascending.
// Used by recommendation verification to look 5 trading days ahead.
func (r *BarRepository) GetAfter(code, tradeDate string, limit int) ([]domain.DailyBar, error) {
	rows, err := r.db.Query(`
		SELECT `+barColumns+` FROM daily_bars
		WHERE code = ? AND trade_date > ?
		ORDER BY trade_date ASC LIMIT ?`, code, tradeDate, limit)
	if err != nil {
		return nil, fmt.Errorf("query bars after %s %s: %w", code, tradeDate, err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// CountOnDate returns the number of bar rows stored for one trading day.
// The catch-up job compares it against the universe quorum.
func (r *BarRepository) CountOnDate(tradeDate string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM daily_bars WHERE trade_date = ?`, tradeDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bars on %s: %w", tradeDate, err)
	}
	return n, nil
}

// LatestDate returns the most recent trade_date present, or "" when empty.
func (r *BarRepository) LatestDate() (string, error) {
	var d sql.NullString
	err := r.db.QueryRow(`SELECT MAX(trade_date) FROM daily_bars`).Scan(&d)
	if err != nil {
		return "", fmt.Errorf("query latest bar date: %w", err)
	}
	return d.String, nil
}

// AmountWeightedIndex reconstructs a universe-wide benchmark series up to
// tradeDate inclusive, ascending by date: per trading day, the
// amount-weighted mean of every ticker's high, low and close.
func (r *BarRepository) AmountWeightedIndex(tradeDate string, limit int) ([]domain.IndexDaily, error) {
	rows, err := r.db.Query(`
		SELECT * FROM (
			SELECT trade_date,
			       SUM(high * amount) / SUM(amount)  AS high,
			       SUM(low * amount) / SUM(amount)   AS low,
			       SUM(close * amount) / SUM(amount) AS close
			FROM daily_bars
			WHERE trade_date <= ? AND amount > 0
			GROUP BY trade_date
			ORDER BY trade_date DESC LIMIT ?
		) ORDER BY trade_date ASC`, tradeDate, limit)
	if err != nil {
		return nil, fmt.Errorf("query synthetic index before %s: %w", tradeDate, err)
	}
	defer rows.Close()

	var out []domain.IndexDaily
	for rows.Next() {
		b := domain.IndexDaily{IndexCode: "universe"}
		if err := rows.Scan(&b.TradeDate, &b.High, &b.Low, &b.Close); err != nil {
			return nil, fmt.Errorf("scan synthetic index row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// EarliestDate returns the oldest trade_date present, or "" when empty.
func (r *BarRepository) EarliestDate() (string, error) {
	var d sql.NullString
	err := r.db.QueryRow(`SELECT MIN(trade_date) FROM daily_bars`).Scan(&d)
	if err != nil {
		return "", fmt.Errorf("query earliest bar date: %w", err)
	}
	return d.String, nil
}

// CleanupOldData removes bars older than nDays calendar days, returning the
// number of rows deleted.
func (r *BarRepository) CleanupOldData(nDays int) (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM daily_bars WHERE trade_date < date('now', ?)`,
		fmt.Sprintf("-%d days", nDays))
	if err != nil {
		return 0, fmt.Errorf("cleanup daily bars: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanBars(rows *sql.Rows) ([]domain.DailyBar, error) {
	var bars []domain.DailyBar
	for rows.Next() {
		var b domain.DailyBar
		err := rows.Scan(&b.Code, &b.TradeDate, &b.Open, &b.Close, &b.High, &b.Low,
			&b.Volume, &b.Amount, &b.TurnoverRate, &b.ChangePct,
			&b.MA5, &b.MA10, &b.MA20, &b.MA30, &b.MA60,
			&b.RPS250, &b.VCPFactor, &b.VolMA5)
		if err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
