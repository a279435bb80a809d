// Package prediction builds the next-trading-day sector outlook: money
// flow, popularity and momentum folded into per-board scores, with a
// cached payload per target date.
package prediction

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CachedPrediction is one stored payload row. Payload is the marshalled
// Prediction exactly as it was generated.
type CachedPrediction struct {
	TargetDate string
	Payload    []byte
	CreatedAt  time.Time
}

// CacheRepository stores one prediction payload per future trading day.
type CacheRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCacheRepository creates the prediction cache store on app.db.
func NewCacheRepository(db *sql.DB, log zerolog.Logger) *CacheRepository {
	return &CacheRepository{db: db, log: log.With().Str("repo", "prediction_cache").Logger()}
}

// Get returns the cached payload for one target date, or nil when absent.
func (r *CacheRepository) Get(targetDate string) (*CachedPrediction, error) {
	row := r.db.QueryRow(`
		SELECT target_date, payload, created_at
		FROM prediction_cache WHERE target_date = ?`, targetDate)

	var c CachedPrediction
	if err := row.Scan(&c.TargetDate, &c.Payload, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query prediction cache %s: %w", targetDate, err)
	}
	return &c, nil
}

// Put overwrites the payload for one target date.
func (r *CacheRepository) Put(targetDate string, payload []byte, createdAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO prediction_cache (target_date, payload, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(target_date) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at`,
		targetDate, payload, createdAt)
	if err != nil {
		return fmt.Errorf("store prediction cache %s: %w", targetDate, err)
	}
	return nil
}

// DeleteBefore drops cache rows for target dates before cutoff. Returns
// rows removed.
func (r *CacheRepository) DeleteBefore(cutoff string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM prediction_cache WHERE target_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup prediction cache: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		r.log.Info().Int64("rows", removed).Msg("Removed stale prediction cache rows")
	}
	return removed, nil
}
