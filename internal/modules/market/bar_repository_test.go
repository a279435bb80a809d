package market

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketpulse/internal/domain"

	_ "modernc.org/sqlite"
)

func setupMarketDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE tickers (
			code        TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			market      TEXT NOT NULL DEFAULT '',
			industry    TEXT NOT NULL DEFAULT '',
			list_date   TEXT,
			active      INTEGER NOT NULL DEFAULT 1,
			created_at  TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE daily_bars (
			code          TEXT NOT NULL,
			trade_date    TEXT NOT NULL,
			open          REAL NOT NULL,
			close         REAL NOT NULL,
			high          REAL NOT NULL,
			low           REAL NOT NULL,
			volume        REAL NOT NULL DEFAULT 0,
			amount        REAL NOT NULL DEFAULT 0,
			turnover_rate REAL NOT NULL DEFAULT 0,
			change_pct    REAL NOT NULL DEFAULT 0,
			ma5           REAL,
			ma10          REAL,
			ma20          REAL,
			ma30          REAL,
			ma60          REAL,
			rps_250       REAL,
			vcp_factor    REAL,
			vol_ma_5      REAL,
			PRIMARY KEY (code, trade_date)
		);
		CREATE TABLE money_flow (
			code            TEXT NOT NULL,
			trade_date      TEXT NOT NULL,
			main_net        REAL NOT NULL DEFAULT 0,
			super_large_net REAL NOT NULL DEFAULT 0,
			large_net       REAL NOT NULL DEFAULT 0,
			medium_net      REAL NOT NULL DEFAULT 0,
			small_net       REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (code, trade_date)
		);
		CREATE TABLE index_daily (
			index_code  TEXT NOT NULL,
			trade_date  TEXT NOT NULL,
			open        REAL NOT NULL,
			close       REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			volume      REAL NOT NULL DEFAULT 0,
			amount      REAL NOT NULL DEFAULT 0,
			change_pct  REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (index_code, trade_date)
		);
	`)
	require.NoError(t, err)

	return db
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func sampleBar(code, date string, close float64) domain.DailyBar {
	return domain.DailyBar{
		Code:         code,
		TradeDate:    date,
		Open:         close - 0.5,
		Close:        close,
		High:         close + 0.3,
		Low:          close - 0.8,
		Volume:       150000,
		Amount:       2500, // ten-thousand units
		TurnoverRate: 1.8,
		ChangePct:    2.1,
	}
}

func TestBarRepository_UpsertBatch_Idempotent(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	bars := []domain.DailyBar{
		sampleBar("600519", "2026-08-20", 1700.0),
		sampleBar("600519", "2026-08-21", 1710.0),
	}
	require.NoError(t, repo.UpsertBatch(bars))
	require.NoError(t, repo.UpsertBatch(bars))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM daily_bars`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestBarRepository_UpsertBatch_PreservesDerivedColumns(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	require.NoError(t, repo.UpsertBatch([]domain.DailyBar{sampleBar("600519", "2026-08-21", 1710.0)}))

	ma5 := 1705.0
	vcp := 0.04
	require.NoError(t, repo.UpdateDerived("600519", "2026-08-21", &ma5, nil, nil, nil, nil, nil, &vcp))

	// Re-ingesting the raw bar must not wipe derived columns.
	require.NoError(t, repo.UpsertBatch([]domain.DailyBar{sampleBar("600519", "2026-08-21", 1712.0)}))

	got, err := repo.GetRecent("600519", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1712.0, got[0].Close)
	require.NotNil(t, got[0].MA5)
	assert.InDelta(t, 1705.0, *got[0].MA5, 1e-9)
	require.NotNil(t, got[0].VCPFactor)
	assert.InDelta(t, 0.04, *got[0].VCPFactor, 1e-9)
}

func TestBarRepository_GetRecent_AscendingOrder(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	dates := []string{"2026-08-17", "2026-08-18", "2026-08-19", "2026-08-20", "2026-08-21"}
	var bars []domain.DailyBar
	for i, d := range dates {
		bars = append(bars, sampleBar("000001", d, 10.0+float64(i)))
	}
	require.NoError(t, repo.UpsertBatch(bars))

	got, err := repo.GetRecent("000001", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// windowing takes the newest rows, output stays oldest-first
	assert.Equal(t, "2026-08-19", got[0].TradeDate)
	assert.Equal(t, "2026-08-20", got[1].TradeDate)
	assert.Equal(t, "2026-08-21", got[2].TradeDate)
}

func TestBarRepository_GetRecentBefore(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	for i, d := range []string{"2026-08-18", "2026-08-19", "2026-08-20", "2026-08-21"} {
		require.NoError(t, repo.UpsertBatch([]domain.DailyBar{sampleBar("000001", d, 10.0+float64(i))}))
	}

	// window ends at the requested date, inclusive
	got, err := repo.GetRecentBefore("000001", "2026-08-20", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-08-19", got[0].TradeDate)
	assert.Equal(t, "2026-08-20", got[1].TradeDate)
}

func TestBarRepository_AmountWeightedIndex(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	bar := func(code, date string, high, low, close, amount float64) domain.DailyBar {
		return domain.DailyBar{Code: code, TradeDate: date, Open: low, Close: close, High: high, Low: low, Amount: amount}
	}
	require.NoError(t, repo.UpsertBatch([]domain.DailyBar{
		bar("600519", "2026-08-20", 10, 8, 9, 100),
		bar("000001", "2026-08-20", 20, 16, 18, 300),
		bar("600519", "2026-08-21", 12, 10, 11, 200),
		bar("000002", "2026-08-21", 50, 40, 45, 0), // suspended, excluded
		bar("600519", "2026-08-22", 99, 90, 95, 500),
	}))

	got, err := repo.AmountWeightedIndex("2026-08-21", 30)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// day one: weights 100 and 300 on highs 10/20 and lows 8/16
	assert.Equal(t, "2026-08-20", got[0].TradeDate)
	assert.InDelta(t, 17.5, got[0].High, 1e-9)
	assert.InDelta(t, 14.0, got[0].Low, 1e-9)
	assert.InDelta(t, 15.75, got[0].Close, 1e-9)

	// day two: the zero-amount bar carries no weight
	assert.Equal(t, "2026-08-21", got[1].TradeDate)
	assert.InDelta(t, 12.0, got[1].High, 1e-9)
	assert.InDelta(t, 10.0, got[1].Low, 1e-9)
}

func TestBarRepository_UpdateRPSBatch(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	require.NoError(t, repo.UpsertBatch([]domain.DailyBar{
		sampleBar("600519", "2026-08-21", 1710.0),
		sampleBar("000001", "2026-08-21", 12.0),
	}))

	require.NoError(t, repo.UpdateRPSBatch("2026-08-21", map[string]float64{
		"600519": 99.9,
		"000001": 49.9,
	}))

	got, err := repo.GetByDate("2026-08-21")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, b := range got {
		require.NotNil(t, b.RPS250, "rps missing for %s", b.Code)
	}
}

func TestBarRepository_GetByCodesAndDate(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	require.NoError(t, repo.UpsertBatch([]domain.DailyBar{
		sampleBar("600519", "2026-08-21", 1710.0),
		sampleBar("000001", "2026-08-21", 12.0),
		sampleBar("300750", "2026-08-21", 210.0),
	}))

	got, err := repo.GetByCodesAndDate([]string{"600519", "300750"}, "2026-08-21")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = repo.GetByCodesAndDate(nil, "2026-08-21")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBarRepository_GetAfter(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	for i, d := range []string{"2026-08-18", "2026-08-19", "2026-08-20", "2026-08-21"} {
		require.NoError(t, repo.UpsertBatch([]domain.DailyBar{sampleBar("000001", d, 10.0+float64(i))}))
	}

	got, err := repo.GetAfter("000001", "2026-08-18", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-08-19", got[0].TradeDate)
	assert.Equal(t, "2026-08-20", got[1].TradeDate)
}

func TestBarRepository_Dates(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	latest, err := repo.LatestDate()
	require.NoError(t, err)
	assert.Empty(t, latest)

	require.NoError(t, repo.UpsertBatch([]domain.DailyBar{
		sampleBar("000001", "2026-08-19", 10.0),
		sampleBar("000001", "2026-08-21", 11.0),
	}))

	latest, err = repo.LatestDate()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-21", latest)

	earliest, err := repo.EarliestDate()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-19", earliest)

	n, err := repo.CountOnDate("2026-08-21")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBarRepository_CleanupOldData(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewBarRepository(db, testLogger())

	require.NoError(t, repo.UpsertBatch([]domain.DailyBar{
		sampleBar("000001", "2001-01-04", 10.0),
		sampleBar("000001", "2026-08-21", 11.0),
	}))

	removed, err := repo.CleanupOldData(1095)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM daily_bars`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestIndexRepository_UpsertAndRead(t *testing.T) {
	db := setupMarketDB(t)
	defer db.Close()
	repo := NewIndexRepository(db, testLogger())

	bars := []domain.IndexDaily{
		{IndexCode: "000852", TradeDate: "2026-08-20", Open: 6100, Close: 6150, High: 6180, Low: 6080, ChangePct: 0.8},
		{IndexCode: "000852", TradeDate: "2026-08-21", Open: 6150, Close: 6120, High: 6165, Low: 6100, ChangePct: -0.5},
	}
	require.NoError(t, repo.UpsertBatch(bars))
	require.NoError(t, repo.UpsertBatch(bars)) // idempotent

	got, err := repo.GetRecent("000852", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-08-20", got[0].TradeDate)
	assert.Equal(t, "2026-08-21", got[1].TradeDate)

	latest, err := repo.LatestDate("000852")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-21", latest)
}
