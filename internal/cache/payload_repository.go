// Package cache is a small keyed payload cache in the operational
// database, used for responses that are expensive to recompute inside a
// request, like the clustered hot-sector snapshot.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// PayloadRepository stores msgpack-encoded values keyed by string.
type PayloadRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPayloadRepository wires the repository.
func NewPayloadRepository(db *sql.DB, log zerolog.Logger) *PayloadRepository {
	return &PayloadRepository{
		db:  db,
		log: log.With().Str("repo", "payload_cache").Logger(),
	}
}

// Put encodes and stores a value under the key, replacing any previous
// entry.
func (r *PayloadRepository) Put(key string, value interface{}) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache payload %s: %w", key, err)
	}
	_, err = r.db.Exec(`
		INSERT INTO payload_cache (key, payload, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload    = excluded.payload,
			created_at = excluded.created_at`,
		key, payload, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store cache payload %s: %w", key, err)
	}
	return nil
}

// Get decodes the entry into dest. The second return is false on a miss.
func (r *PayloadRepository) Get(key string, dest interface{}) (time.Time, bool, error) {
	var (
		payload   []byte
		createdAt string
	)
	err := r.db.QueryRow(
		`SELECT payload, created_at FROM payload_cache WHERE key = ?`, key,
	).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cache payload %s: %w", key, err)
	}

	if err := msgpack.Unmarshal(payload, dest); err != nil {
		// a stale encoding is a miss, not an error
		r.log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache payload")
		_ = r.Delete(key)
		return time.Time{}, false, nil
	}

	at, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		at = time.Time{}
	}
	return at, true, nil
}

// GetFresh is Get with a max-age bound; entries older than ttl are misses.
func (r *PayloadRepository) GetFresh(key string, ttl time.Duration, dest interface{}) (bool, error) {
	at, ok, err := r.Get(key, dest)
	if err != nil || !ok {
		return false, err
	}
	if time.Since(at) > ttl {
		return false, nil
	}
	return true, nil
}

// Delete removes one entry.
func (r *PayloadRepository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM payload_cache WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete cache payload %s: %w", key, err)
	}
	return nil
}

// Sweep removes entries created before the cutoff.
func (r *PayloadRepository) Sweep(before time.Time) (int64, error) {
	res, err := r.db.Exec(
		`DELETE FROM payload_cache WHERE created_at < ?`,
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep payload cache: %w", err)
	}
	return res.RowsAffected()
}
