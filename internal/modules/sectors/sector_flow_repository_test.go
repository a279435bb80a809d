package sectors

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketpulse/internal/domain"

	_ "modernc.org/sqlite"
)

func setupSectorsDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE sector_flow (
			sector_name       TEXT NOT NULL,
			trade_date        TEXT NOT NULL,
			main_net          REAL NOT NULL DEFAULT 0,
			super_large_net   REAL NOT NULL DEFAULT 0,
			large_net         REAL NOT NULL DEFAULT 0,
			medium_net        REAL NOT NULL DEFAULT 0,
			small_net         REAL NOT NULL DEFAULT 0,
			change_pct        REAL NOT NULL DEFAULT 0,
			avg_turnover      REAL NOT NULL DEFAULT 0,
			limit_up_count    INTEGER NOT NULL DEFAULT 0,
			sector_rps_20     REAL,
			sector_rps_50     REAL,
			sector_ma_status  INTEGER NOT NULL DEFAULT 0,
			top_weight_stocks TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (sector_name, trade_date)
		);
		CREATE TABLE concepts (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			name    TEXT NOT NULL,
			code    TEXT NOT NULL DEFAULT '',
			source  TEXT NOT NULL DEFAULT '',
			active  INTEGER NOT NULL DEFAULT 1
		);
		CREATE TABLE concept_members (
			code       TEXT NOT NULL,
			concept_id INTEGER NOT NULL,
			weight     REAL NOT NULL DEFAULT 1.0,
			PRIMARY KEY (code, concept_id)
		);
		CREATE TABLE virtual_boards (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			board_name  TEXT NOT NULL,
			source_name TEXT NOT NULL,
			weight      REAL NOT NULL DEFAULT 1.0,
			active      INTEGER NOT NULL DEFAULT 1
		);
		CREATE TABLE hot_rank (
			code       TEXT NOT NULL,
			source     TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			rank       INTEGER NOT NULL,
			hot_score  REAL NOT NULL DEFAULT 0,
			volume     REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (code, source, trade_date)
		);
	`)
	require.NoError(t, err)

	return db
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func sectorFlow(name, date string, mainNet, changePct float64, top []string) domain.SectorFlow {
	return domain.SectorFlow{
		SectorName:      name,
		TradeDate:       date,
		MainNet:         mainNet,
		SuperLargeNet:   mainNet * 0.5,
		LargeNet:        mainNet * 0.5,
		MediumNet:       -mainNet * 0.4,
		SmallNet:        -mainNet * 0.6,
		ChangePct:       changePct,
		AvgTurnover:     3.2,
		LimitUpCount:    1,
		TopWeightStocks: top,
	}
}

func TestSectorFlowRepository_UpsertPreservesDerived(t *testing.T) {
	db := setupSectorsDB(t)
	defer db.Close()
	repo := NewSectorFlowRepository(db, testLogger())

	row := sectorFlow("CPO", "2026-08-21", 80000, 2.4, []string{"300308", "300502"})
	require.NoError(t, repo.UpsertBatch([]domain.SectorFlow{row}))

	rps20 := 95.0
	require.NoError(t, repo.UpdateDerived("CPO", "2026-08-21", &rps20, nil, 1))

	// Re-ingest must not wipe derived columns.
	row.MainNet = 90000
	require.NoError(t, repo.UpsertBatch([]domain.SectorFlow{row}))

	got, err := repo.GetRecent("CPO", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 90000, got[0].MainNet, 1e-9)
	require.NotNil(t, got[0].SectorRPS20)
	assert.InDelta(t, 95.0, *got[0].SectorRPS20, 1e-9)
	assert.Nil(t, got[0].SectorRPS50)
	assert.Equal(t, 1, got[0].SectorMAStatus)
	assert.Equal(t, []string{"300308", "300502"}, got[0].TopWeightStocks)
}

func TestSectorFlowRepository_GetRecent_AscendingOrder(t *testing.T) {
	db := setupSectorsDB(t)
	defer db.Close()
	repo := NewSectorFlowRepository(db, testLogger())

	require.NoError(t, repo.UpsertBatch([]domain.SectorFlow{
		sectorFlow("CPO", "2026-08-19", 1000, 1.0, nil),
		sectorFlow("CPO", "2026-08-20", 2000, 2.0, nil),
		sectorFlow("CPO", "2026-08-21", 3000, 3.0, nil),
	}))

	got, err := repo.GetRecent("CPO", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-08-20", got[0].TradeDate)
	assert.Equal(t, "2026-08-21", got[1].TradeDate)
}

func TestSectorFlowRepository_TopByMainNet(t *testing.T) {
	db := setupSectorsDB(t)
	defer db.Close()
	repo := NewSectorFlowRepository(db, testLogger())

	require.NoError(t, repo.UpsertBatch([]domain.SectorFlow{
		sectorFlow("CPO", "2026-08-20", 50000, 2.0, []string{"300308"}),
		sectorFlow("CPO", "2026-08-21", 30000, 1.0, []string{"300308"}),
		sectorFlow("白酒", "2026-08-20", 10000, 0.5, []string{"600519"}),
		sectorFlow("白酒", "2026-08-21", 90000, 1.5, []string{"600519"}),
		// outside the 2-day window
		sectorFlow("军工", "2026-08-01", 999999, 9.0, nil),
	}))

	ranked, err := repo.TopByMainNet(2, 10)
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	assert.Equal(t, "白酒", ranked[0].Flow.SectorName)
	assert.InDelta(t, 100000, ranked[0].CumulativeNet, 1e-9)
	assert.Equal(t, "2026-08-21", ranked[0].Flow.TradeDate)

	assert.Equal(t, "CPO", ranked[1].Flow.SectorName)
	assert.InDelta(t, 80000, ranked[1].CumulativeNet, 1e-9)
}

func TestSectorFlowRepository_UpdateAggregates(t *testing.T) {
	db := setupSectorsDB(t)
	defer db.Close()
	repo := NewSectorFlowRepository(db, testLogger())

	require.NoError(t, repo.UpsertBatch([]domain.SectorFlow{
		sectorFlow("CPO", "2026-08-21", 1000, 0, nil),
	}))
	require.NoError(t, repo.UpdateAggregates("CPO", "2026-08-21", 3.1, 4.5, 2, []string{"300308", "300502"}))

	got, err := repo.GetByDate("2026-08-21")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 3.1, got[0].ChangePct, 1e-9)
	assert.InDelta(t, 4.5, got[0].AvgTurnover, 1e-9)
	assert.Equal(t, 2, got[0].LimitUpCount)
	assert.Equal(t, []string{"300308", "300502"}, got[0].TopWeightStocks)
}

func TestSectorFlowRepository_CleanupOldData(t *testing.T) {
	db := setupSectorsDB(t)
	defer db.Close()
	repo := NewSectorFlowRepository(db, testLogger())

	require.NoError(t, repo.UpsertBatch([]domain.SectorFlow{
		sectorFlow("CPO", "2001-01-04", 1000, 0, nil),
		sectorFlow("CPO", "2026-08-21", 1000, 0, nil),
	}))

	removed, err := repo.CleanupOldData(365)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := repo.CountOnDate("2026-08-21")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
