package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/events"
	"github.com/aristath/marketpulse/internal/scheduler"
	"github.com/aristath/marketpulse/internal/work"
)

// initializeJobs builds the background execution layer: the event bus, the
// task runner and the cron table.
func initializeJobs(c *Container, log zerolog.Logger) error {
	c.Bus = events.NewBus()
	c.Runner = work.NewRunner(log)
	c.Scheduler = scheduler.New(c.JobHistory, c.Bus, log)

	deps := scheduler.Deps{
		Ingest: c.Ingest,
		Clock:  c.Calendar,
		WarmPrediction: func(ctx context.Context) error {
			_, err := c.Predictor.Predict(true)
			return err
		},
	}
	if c.Backup != nil {
		deps.Backup = c.Backup.Run
	}

	if err := scheduler.RegisterStandardJobs(c.Scheduler, deps); err != nil {
		return fmt.Errorf("register standard jobs: %w", err)
	}
	return nil
}
