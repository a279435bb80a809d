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

const flowUpsertBatch = 2000

// FlowRepository handles per-ticker money-flow database operations.
type FlowRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFlowRepository creates a new money-flow repository.
func NewFlowRepository(db *sql.DB, log zerolog.Logger) *FlowRepository {
	return &FlowRepository{
		db:  db,
		log: log.With().Str("repo", "money_flow").Logger(),
	}
}

// UpsertBatch writes flow rows in batches with insert-or-replace semantics.
func (r *FlowRepository) UpsertBatch(flows []domain.MoneyFlow) error {
	for start := 0; start < len(flows); start += flowUpsertBatch {
		end := start + flowUpsertBatch
		if end > len(flows) {
			end = len(flows)
		}

		err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(`
				INSERT INTO money_flow
					(code, trade_date, main_net, super_large_net, large_net, medium_net, small_net)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(code, trade_date) DO UPDATE SET
					main_net = excluded.main_net,
					super_large_net = excluded.super_large_net,
					large_net = excluded.large_net,
					medium_net = excluded.medium_net,
					small_net = excluded.small_net`)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, f := range flows[start:end] {
				if _, err := stmt.Exec(f.Code, f.TradeDate, f.MainNet, f.SuperLargeNet,
					f.LargeNet, f.MediumNet, f.SmallNet); err != nil {
					return fmt.Errorf("upsert flow %s %s: %w", f.Code, f.TradeDate, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		obs.UpsertRows.WithLabelValues("money_flow").Add(float64(end - start))
	}
	return nil
}

// GetRecent returns the most recent limit flow rows for one ticker,
// ascending by trade_date.
func (r *FlowRepository) GetRecent(code string, limit int) ([]domain.MoneyFlow, error) {
	rows, err := r.db.Query(`
		SELECT * FROM (
			SELECT code, trade_date, main_net, super_large_net, large_net, medium_net, small_net
			FROM money_flow WHERE code = ?
			ORDER BY trade_date DESC LIMIT ?
		) ORDER BY trade_date ASC`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent flow %s: %w", code, err)
	}
	defer rows.Close()

	return scanFlows(rows)
}

// GetByCodesRecentDays returns, per ticker, the most recent `days` flow rows.
// Used by the capital-inflow recommender.
func (r *FlowRepository) GetByCodesRecentDays(codes []string, days int) (map[string][]domain.MoneyFlow, error) {
	out := make(map[string][]domain.MoneyFlow, len(codes))
	for _, code := range codes {
		flows, err := r.GetRecent(code, days)
		if err != nil {
			return nil, err
		}
		out[code] = flows
	}
	return out, nil
}

// CodesWithPositiveMainNet returns tickers whose main_net was positive on
// each of the last `days` trading days present in the store.
func (r *FlowRepository) CodesWithPositiveMainNet(days int) ([]string, error) {
	// Last `days` distinct dates in the table, newest first.
	dateRows, err := r.db.Query(`
		SELECT DISTINCT trade_date FROM money_flow ORDER BY trade_date DESC LIMIT ?`, days)
	if err != nil {
		return nil, fmt.Errorf("query flow dates: %w", err)
	}
	defer dateRows.Close()

	var dates []string
	for dateRows.Next() {
		var d string
		if err := dateRows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan flow date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := dateRows.Err(); err != nil {
		return nil, err
	}
	if len(dates) < days {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(dates))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(dates)+1)
	for _, d := range dates {
		args = append(args, d)
	}
	args = append(args, days)

	rows, err := r.db.Query(`
		SELECT code FROM money_flow
		WHERE trade_date IN (`+placeholders+`) AND main_net > 0
		GROUP BY code HAVING COUNT(*) = ?
		ORDER BY SUM(main_net) DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query positive main net: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// SumByCodesOnDate aggregates the flow rows of the given tickers on one day.
// Canonical fallback for sector aggregates when the vendor endpoint fails.
func (r *FlowRepository) SumByCodesOnDate(codes []string, tradeDate string) (*domain.MoneyFlow, error) {
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

	var f domain.MoneyFlow
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(main_net), 0), COALESCE(SUM(super_large_net), 0),
			COALESCE(SUM(large_net), 0), COALESCE(SUM(medium_net), 0), COALESCE(SUM(small_net), 0)
		FROM money_flow
		WHERE code IN (`+placeholders+`) AND trade_date = ?`, args...).
		Scan(&n, &f.MainNet, &f.SuperLargeNet, &f.LargeNet, &f.MediumNet, &f.SmallNet)
	if err != nil {
		return nil, fmt.Errorf("sum flow on %s: %w", tradeDate, err)
	}
	if n == 0 {
		return nil, nil
	}
	f.TradeDate = tradeDate
	return &f, nil
}

// CountOnDate returns the number of flow rows present for one day.
func (r *FlowRepository) CountOnDate(tradeDate string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM money_flow WHERE trade_date = ?`, tradeDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count flow on %s: %w", tradeDate, err)
	}
	return n, nil
}

// CleanupOldData removes flow rows older than nDays calendar days.
func (r *FlowRepository) CleanupOldData(nDays int) (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM money_flow WHERE trade_date < date('now', ?)`,
		fmt.Sprintf("-%d days", nDays))
	if err != nil {
		return 0, fmt.Errorf("cleanup money flow: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanFlows(rows *sql.Rows) ([]domain.MoneyFlow, error) {
	var flows []domain.MoneyFlow
	for rows.Next() {
		var f domain.MoneyFlow
		err := rows.Scan(&f.Code, &f.TradeDate, &f.MainNet, &f.SuperLargeNet,
			&f.LargeNet, &f.MediumNet, &f.SmallNet)
		if err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}
