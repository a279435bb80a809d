// Package recommendations persists alpha-pipeline picks per user and day
// and verifies them against realised five-day returns.
package recommendations

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/database"
	"github.com/aristath/marketpulse/internal/domain"
)

const recommendationColumns = `id, user_id, run_date, code, name, params_snapshot,
	entry_price, stop_loss_price, ai_score, win_probability, reason_tags,
	strategy_version, verification_status, max_return_5d, final_return_5d`

// Repository stores strategy recommendations in app.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new recommendation repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "recommendations").Logger(),
	}
}

// SaveBatch upserts one row per pick. Re-running the pipeline for the same
// user and day refreshes scores and resets verification.
func (r *Repository) SaveBatch(recs []domain.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO recommendations (
				user_id, run_date, code, name, params_snapshot,
				entry_price, stop_loss_price, ai_score, win_probability,
				reason_tags, strategy_version, verification_status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, run_date, code) DO UPDATE SET
				name = excluded.name,
				params_snapshot = excluded.params_snapshot,
				entry_price = excluded.entry_price,
				stop_loss_price = excluded.stop_loss_price,
				ai_score = excluded.ai_score,
				win_probability = excluded.win_probability,
				reason_tags = excluded.reason_tags,
				strategy_version = excluded.strategy_version,
				verification_status = excluded.verification_status,
				max_return_5d = NULL,
				final_return_5d = NULL`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range recs {
			status := rec.Verification
			if status == "" {
				status = domain.VerificationPending
			}
			if _, err := stmt.Exec(
				rec.UserID, rec.RunDate, rec.Code, rec.Name, rec.ParamsSnapshot,
				rec.EntryPrice, rec.StopLossPrice, rec.AIScore, rec.WinProbability,
				rec.ReasonTags, rec.Version, status,
			); err != nil {
				return fmt.Errorf("upsert recommendation %s/%s/%s: %w", rec.UserID, rec.RunDate, rec.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int("rows", len(recs)).Msg("Saved recommendation batch")
	return nil
}

// ListByUser returns a user's recommendations, newest run first, optionally
// narrowed to one run date or one model version.
func (r *Repository) ListByUser(userID, runDate, modelVersion string, limit, offset int) ([]domain.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE user_id = ?`
	args := []interface{}{userID}
	if runDate != "" {
		query += ` AND run_date = ?`
		args = append(args, runDate)
	}
	if modelVersion != "" {
		query += ` AND strategy_version = ?`
		args = append(args, modelVersion)
	}
	query += ` ORDER BY run_date DESC, ai_score DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recommendations for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

// PendingByUser returns the user's rows still awaiting verification.
func (r *Repository) PendingByUser(userID string) ([]domain.Recommendation, error) {
	rows, err := r.db.Query(`
		SELECT `+recommendationColumns+`
		FROM recommendations
		WHERE user_id = ? AND verification_status = ?
		ORDER BY run_date ASC`, userID, domain.VerificationPending)
	if err != nil {
		return nil, fmt.Errorf("query pending recommendations for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

// SetVerification records the realised returns and the final verdict.
func (r *Repository) SetVerification(id int64, status string, maxReturn, finalReturn float64) error {
	_, err := r.db.Exec(`
		UPDATE recommendations
		SET verification_status = ?, max_return_5d = ?, final_return_5d = ?
		WHERE id = ?`, status, maxReturn, finalReturn, id)
	if err != nil {
		return fmt.Errorf("set verification for recommendation %d: %w", id, err)
	}
	return nil
}

// DeleteByUser clears a user's history. With failedOnly only failed rows go.
// Returns rows removed.
func (r *Repository) DeleteByUser(userID string, failedOnly bool) (int64, error) {
	query := `DELETE FROM recommendations WHERE user_id = ?`
	args := []interface{}{userID}
	if failedOnly {
		query += ` AND verification_status = ?`
		args = append(args, domain.VerificationFail)
	}

	res, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete recommendations for %s: %w", userID, err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		r.log.Info().Str("user", userID).Int64("rows", removed).Msg("Cleared recommendation history")
	}
	return removed, nil
}

func scanRecommendations(rows *sql.Rows) ([]domain.Recommendation, error) {
	var out []domain.Recommendation
	for rows.Next() {
		var rec domain.Recommendation
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.RunDate, &rec.Code, &rec.Name, &rec.ParamsSnapshot,
			&rec.EntryPrice, &rec.StopLossPrice, &rec.AIScore, &rec.WinProbability,
			&rec.ReasonTags, &rec.Version, &rec.Verification, &rec.MaxReturn5D, &rec.FinalReturn5D,
		); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
