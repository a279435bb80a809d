package prediction

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPredictionDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE prediction_cache (
			target_date TEXT PRIMARY KEY,
			payload     BLOB NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)`)
	require.NoError(t, err)
	return db
}

func TestCacheRepository_PutGetRoundtrip(t *testing.T) {
	repo := NewCacheRepository(setupPredictionDB(t), predictionLogger())
	created := time.Date(2026, 8, 21, 16, 5, 0, 0, time.UTC)

	require.NoError(t, repo.Put("2026-08-24", []byte(`{"target_date":"2026-08-24"}`), created))

	got, err := repo.Get("2026-08-24")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2026-08-24", got.TargetDate)
	assert.JSONEq(t, `{"target_date":"2026-08-24"}`, string(got.Payload))
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestCacheRepository_GetMissing(t *testing.T) {
	repo := NewCacheRepository(setupPredictionDB(t), predictionLogger())

	got, err := repo.Get("2026-08-24")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheRepository_PutOverwrites(t *testing.T) {
	repo := NewCacheRepository(setupPredictionDB(t), predictionLogger())

	require.NoError(t, repo.Put("2026-08-24", []byte(`{"v":1}`), time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)))
	later := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Put("2026-08-24", []byte(`{"v":2}`), later))

	got, err := repo.Get("2026-08-24")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"v":2}`, string(got.Payload))
	assert.True(t, got.CreatedAt.Equal(later))
}

func TestCacheRepository_DeleteBefore(t *testing.T) {
	repo := NewCacheRepository(setupPredictionDB(t), predictionLogger())
	now := time.Date(2026, 8, 21, 16, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Put("2026-08-20", []byte(`{}`), now))
	require.NoError(t, repo.Put("2026-08-24", []byte(`{}`), now))

	removed, err := repo.DeleteBefore("2026-08-21")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := repo.Get("2026-08-24")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
