package scheduler

import (
	"context"
	"time"
)

// Ingester is the ingestion surface the standard job table drives.
type Ingester interface {
	RealtimeSnapshot(ctx context.Context) error
	DailyClose(ctx context.Context, tradeDate string) error
	RefreshHotRanks(ctx context.Context) error
	SyncConcepts(ctx context.Context) error
	RetentionSweep() error
}

// Clock is the trading-calendar slice the job guards need.
type Clock interface {
	Now() time.Time
	IsTradingDay(d time.Time) bool
	IsTradingHours(d time.Time) bool
}

// Deps wires the standard job table. Backup and WarmPrediction are
// optional; a nil entry drops the job.
type Deps struct {
	Ingest         Ingester
	Clock          Clock
	Backup         func(ctx context.Context) error
	WarmPrediction func(ctx context.Context) error
}

// Job names in the standard table.
const (
	JobRealtime       = "realtime_snapshot"
	JobDailyClose     = "daily_close"
	JobHotRank        = "hotrank_refresh"
	JobConceptSync    = "concept_sync"
	JobRetention      = "retention_sweep"
	JobBackup         = "backup"
	JobPredictionWarm = "prediction_warm"
)

// RegisterStandardJobs installs the recurring job table.
func RegisterStandardJobs(s *Scheduler, deps Deps) error {
	tradingDay := func() bool { return deps.Clock.IsTradingDay(deps.Clock.Now()) }
	tradingHours := func() bool { return deps.Clock.IsTradingHours(deps.Clock.Now()) }

	jobs := []Job{
		{
			Name:  JobRealtime,
			Spec:  "0 * * * * *", // every minute
			Guard: tradingHours,
			Run:   deps.Ingest.RealtimeSnapshot,
		},
		{
			Name:  JobDailyClose,
			Spec:  "0 5 15 * * MON-FRI", // shortly after the close auction
			Guard: tradingDay,
			Run: func(ctx context.Context) error {
				return deps.Ingest.DailyClose(ctx, deps.Clock.Now().Format("2006-01-02"))
			},
		},
		{
			// popularity moves on non-trading days too, so no guard
			Name: JobHotRank,
			Spec: "0 */10 * * * *",
			Run:  deps.Ingest.RefreshHotRanks,
		},
		{
			Name: JobConceptSync,
			Spec: "0 30 8 * * *", // before the open
			Run:  deps.Ingest.SyncConcepts,
		},
		{
			Name: JobRetention,
			Spec: "0 0 2 * * *",
			Run: func(ctx context.Context) error {
				return deps.Ingest.RetentionSweep()
			},
		},
	}

	if deps.WarmPrediction != nil {
		jobs = append(jobs, Job{
			Name:  JobPredictionWarm,
			Spec:  "0 35 15 * * MON-FRI", // after the close pipeline settles
			Guard: tradingDay,
			Run:   deps.WarmPrediction,
		})
	}
	if deps.Backup != nil {
		jobs = append(jobs, Job{
			Name: JobBackup,
			Spec: "0 0 3 * * *",
			Run:  deps.Backup,
		})
	}

	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}
