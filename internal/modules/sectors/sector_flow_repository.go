package sectors

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/database"
	"github.com/aristath/marketpulse/internal/domain"
	"github.com/aristath/marketpulse/internal/obs"
)

// Batch size for sector flow upserts. Sector universes are small so the
// batches rarely fill, but catch-up backfills can push thousands of rows.
const sectorFlowUpsertBatch = 500

// SectorFlowRepository handles sector aggregate persistence.
type SectorFlowRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSectorFlowRepository creates a new sector flow repository.
func NewSectorFlowRepository(db *sql.DB, log zerolog.Logger) *SectorFlowRepository {
	return &SectorFlowRepository{
		db:  db,
		log: log.With().Str("repo", "sector_flow").Logger(),
	}
}

// UpsertBatch writes sector flow rows. Raw vendor fields are overwritten;
// derived columns (sector RPS, MA status) are preserved so a re-ingest
// never wipes metric-engine output.
func (r *SectorFlowRepository) UpsertBatch(flows []domain.SectorFlow) error {
	if len(flows) == 0 {
		return nil
	}

	for start := 0; start < len(flows); start += sectorFlowUpsertBatch {
		end := start + sectorFlowUpsertBatch
		if end > len(flows) {
			end = len(flows)
		}
		if err := r.upsertChunk(flows[start:end]); err != nil {
			return err
		}
	}

	obs.UpsertRows.WithLabelValues("sector_flow").Add(float64(len(flows)))
	return nil
}

func (r *SectorFlowRepository) upsertChunk(flows []domain.SectorFlow) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO sector_flow (
				sector_name, trade_date, main_net, super_large_net, large_net,
				medium_net, small_net, change_pct, avg_turnover, limit_up_count, top_weight_stocks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(sector_name, trade_date) DO UPDATE SET
				main_net = excluded.main_net,
				super_large_net = excluded.super_large_net,
				large_net = excluded.large_net,
				medium_net = excluded.medium_net,
				small_net = excluded.small_net,
				change_pct = excluded.change_pct,
				avg_turnover = excluded.avg_turnover,
				limit_up_count = excluded.limit_up_count,
				top_weight_stocks = excluded.top_weight_stocks`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range flows {
			top, err := encodeTopWeights(f.TopWeightStocks)
			if err != nil {
				return fmt.Errorf("encode top weights for %s: %w", f.SectorName, err)
			}
			if _, err := stmt.Exec(
				f.SectorName, f.TradeDate, f.MainNet, f.SuperLargeNet, f.LargeNet,
				f.MediumNet, f.SmallNet, f.ChangePct, f.AvgTurnover, f.LimitUpCount, top,
			); err != nil {
				return fmt.Errorf("upsert sector flow %s/%s: %w", f.SectorName, f.TradeDate, err)
			}
		}
		return nil
	})
}

// UpdateDerived writes metric-engine output for one (sector, day) row.
// Never touches the raw flow columns.
func (r *SectorFlowRepository) UpdateDerived(sectorName, tradeDate string, rps20, rps50 *float64, maStatus int) error {
	_, err := r.db.Exec(`
		UPDATE sector_flow
		SET sector_rps_20 = ?, sector_rps_50 = ?, sector_ma_status = ?
		WHERE sector_name = ? AND trade_date = ?`,
		rps20, rps50, maStatus, sectorName, tradeDate)
	if err != nil {
		return fmt.Errorf("update derived sector metrics %s/%s: %w", sectorName, tradeDate, err)
	}
	return nil
}

// UpdateAggregates fills the columns that can be reconstructed from member
// ticker bars when the vendor row was missing or incomplete.
func (r *SectorFlowRepository) UpdateAggregates(sectorName, tradeDate string, changePct, avgTurnover float64, limitUpCount int, topWeights []string) error {
	top, err := encodeTopWeights(topWeights)
	if err != nil {
		return fmt.Errorf("encode top weights for %s: %w", sectorName, err)
	}
	_, err = r.db.Exec(`
		UPDATE sector_flow
		SET change_pct = ?, avg_turnover = ?, limit_up_count = ?, top_weight_stocks = ?
		WHERE sector_name = ? AND trade_date = ?`,
		changePct, avgTurnover, limitUpCount, top, sectorName, tradeDate)
	if err != nil {
		return fmt.Errorf("update sector aggregates %s/%s: %w", sectorName, tradeDate, err)
	}
	return nil
}

// GetRecent returns up to limit most recent rows for one sector, ordered
// oldest-first. Same ordering contract as the per-ticker readers.
func (r *SectorFlowRepository) GetRecent(sectorName string, limit int) ([]domain.SectorFlow, error) {
	rows, err := r.db.Query(`
		SELECT * FROM (
			SELECT `+sectorFlowColumns+`
			FROM sector_flow WHERE sector_name = ?
			ORDER BY trade_date DESC LIMIT ?
		) ORDER BY trade_date ASC`, sectorName, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sector flow %s: %w", sectorName, err)
	}
	defer rows.Close()
	return scanSectorFlows(rows)
}

// GetRecentBefore returns the most recent limit rows for one sector ending
// at tradeDate (inclusive), ascending. Window reader for the metric engine.
func (r *SectorFlowRepository) GetRecentBefore(sectorName, tradeDate string, limit int) ([]domain.SectorFlow, error) {
	rows, err := r.db.Query(`
		SELECT * FROM (
			SELECT `+sectorFlowColumns+`
			FROM sector_flow WHERE sector_name = ? AND trade_date <= ?
			ORDER BY trade_date DESC LIMIT ?
		) ORDER BY trade_date ASC`, sectorName, tradeDate, limit)
	if err != nil {
		return nil, fmt.Errorf("query sector flow before %s %s: %w", sectorName, tradeDate, err)
	}
	defer rows.Close()
	return scanSectorFlows(rows)
}

// GetByDate returns all sector rows of one day.
func (r *SectorFlowRepository) GetByDate(tradeDate string) ([]domain.SectorFlow, error) {
	rows, err := r.db.Query(`
		SELECT `+sectorFlowColumns+`
		FROM sector_flow WHERE trade_date = ?`, tradeDate)
	if err != nil {
		return nil, fmt.Errorf("query sector flow on %s: %w", tradeDate, err)
	}
	defer rows.Close()
	return scanSectorFlows(rows)
}

// RankedFlow is one sector with its cumulative main inflow over a window.
type RankedFlow struct {
	Flow          domain.SectorFlow
	CumulativeNet float64
}

// TopByMainNet ranks sectors by cumulative main_net over the last `days`
// distinct trading dates in the store. The most recent row provides the
// presentation fields (change, RPS, top weights).
func (r *SectorFlowRepository) TopByMainNet(days, limit int) ([]RankedFlow, error) {
	rows, err := r.db.Query(`
		WITH recent AS (
			SELECT DISTINCT trade_date FROM sector_flow
			ORDER BY trade_date DESC LIMIT ?
		),
		totals AS (
			SELECT sector_name, SUM(main_net) AS cum_net, MAX(trade_date) AS last_date
			FROM sector_flow
			WHERE trade_date IN (SELECT trade_date FROM recent)
			GROUP BY sector_name
		)
		SELECT `+prefixedSectorFlowColumns("sf")+`, t.cum_net
		FROM totals t
		JOIN sector_flow sf ON sf.sector_name = t.sector_name AND sf.trade_date = t.last_date
		ORDER BY t.cum_net DESC
		LIMIT ?`, days, limit)
	if err != nil {
		return nil, fmt.Errorf("query top sectors by main net: %w", err)
	}
	defer rows.Close()

	var out []RankedFlow
	for rows.Next() {
		f, cum, err := scanRankedFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, RankedFlow{Flow: *f, CumulativeNet: cum})
	}
	return out, rows.Err()
}

// SectorNamesOnDate lists the sectors that have a row on one day.
func (r *SectorFlowRepository) SectorNamesOnDate(tradeDate string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT sector_name FROM sector_flow WHERE trade_date = ? ORDER BY sector_name`, tradeDate)
	if err != nil {
		return nil, fmt.Errorf("query sector names on %s: %w", tradeDate, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan sector name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// LatestDate returns the most recent trade date with any sector row, or ""
// on an empty store.
func (r *SectorFlowRepository) LatestDate() (string, error) {
	var date sql.NullString
	err := r.db.QueryRow(`SELECT MAX(trade_date) FROM sector_flow`).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("query latest sector flow date: %w", err)
	}
	return date.String, nil
}

// CountOnDate returns the number of sector rows present for one day.
func (r *SectorFlowRepository) CountOnDate(tradeDate string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sector_flow WHERE trade_date = ?`, tradeDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sector flow on %s: %w", tradeDate, err)
	}
	return n, nil
}

// CleanupOldData removes rows older than nDays. Returns rows removed.
func (r *SectorFlowRepository) CleanupOldData(nDays int) (int64, error) {
	res, err := r.db.Exec(
		`DELETE FROM sector_flow WHERE trade_date < date('now', ?)`,
		fmt.Sprintf("-%d days", nDays))
	if err != nil {
		return 0, fmt.Errorf("cleanup sector flow: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		r.log.Info().Int64("rows", removed).Msg("Removed old sector flow rows")
	}
	return removed, nil
}

const sectorFlowColumns = `sector_name, trade_date, main_net, super_large_net, large_net,
	medium_net, small_net, change_pct, avg_turnover, limit_up_count,
	sector_rps_20, sector_rps_50, sector_ma_status, top_weight_stocks`

func prefixedSectorFlowColumns(alias string) string {
	return alias + `.sector_name, ` + alias + `.trade_date, ` + alias + `.main_net, ` +
		alias + `.super_large_net, ` + alias + `.large_net, ` + alias + `.medium_net, ` +
		alias + `.small_net, ` + alias + `.change_pct, ` + alias + `.avg_turnover, ` +
		alias + `.limit_up_count, ` + alias + `.sector_rps_20, ` + alias + `.sector_rps_50, ` +
		alias + `.sector_ma_status, ` + alias + `.top_weight_stocks`
}

func encodeTopWeights(codes []string) (string, error) {
	if codes == nil {
		codes = []string{}
	}
	b, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTopWeights(raw string) []string {
	if raw == "" {
		return nil
	}
	var codes []string
	if err := json.Unmarshal([]byte(raw), &codes); err != nil {
		return nil
	}
	return codes
}

func scanSectorFlowFields(scan func(...interface{}) error, extra ...interface{}) (*domain.SectorFlow, error) {
	var f domain.SectorFlow
	var rps20, rps50 sql.NullFloat64
	var top string

	dest := []interface{}{
		&f.SectorName, &f.TradeDate, &f.MainNet, &f.SuperLargeNet, &f.LargeNet,
		&f.MediumNet, &f.SmallNet, &f.ChangePct, &f.AvgTurnover, &f.LimitUpCount,
		&rps20, &rps50, &f.SectorMAStatus, &top,
	}
	dest = append(dest, extra...)
	if err := scan(dest...); err != nil {
		return nil, fmt.Errorf("scan sector flow: %w", err)
	}
	if rps20.Valid {
		f.SectorRPS20 = &rps20.Float64
	}
	if rps50.Valid {
		f.SectorRPS50 = &rps50.Float64
	}
	f.TopWeightStocks = decodeTopWeights(top)
	return &f, nil
}

func scanSectorFlows(rows *sql.Rows) ([]domain.SectorFlow, error) {
	var out []domain.SectorFlow
	for rows.Next() {
		f, err := scanSectorFlowFields(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanRankedFlow(rows *sql.Rows) (*domain.SectorFlow, float64, error) {
	var cum float64
	f, err := scanSectorFlowFields(rows.Scan, &cum)
	if err != nil {
		return nil, 0, err
	}
	return f, cum, nil
}
