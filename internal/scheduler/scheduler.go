// Package scheduler runs the recurring ingestion and maintenance jobs on
// cron schedules, with coalescing guards, history logging and event
// broadcast.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/events"
	"github.com/aristath/marketpulse/internal/obs"
)

// Job is one named recurring task. Guard, when set, is consulted before
// each run; a false guard records a skip.
type Job struct {
	Name  string
	Spec  string // six-field cron spec, seconds first
	Guard func() bool
	Run   func(ctx context.Context) error
}

// History is the job-history surface the scheduler writes to.
type History interface {
	Start(jobName string) (int64, error)
	Finish(id int64, status string, errMsg string) error
}

// Scheduler owns the cron loop and the per-job coalescing state.
type Scheduler struct {
	cron    *cron.Cron
	history History
	bus     *events.Bus
	jobs    map[string]Job
	running sync.Map // job name -> struct{}
	log     zerolog.Logger
}

// New creates an empty scheduler.
func New(history History, bus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		history: history,
		bus:     bus,
		jobs:    make(map[string]Job),
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a job to the cron table.
func (s *Scheduler) Register(job Job) error {
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	_, err := s.cron.AddFunc(job.Spec, func() {
		s.execute(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name, err)
	}
	s.jobs[job.Name] = job

	s.log.Info().Str("job", job.Name).Str("schedule", job.Spec).Msg("Job registered")
	return nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// RunByName triggers a registered job outside its schedule.
func (s *Scheduler) RunByName(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.execute(ctx, job)
	return nil
}

// JobNames lists the registered job names.
func (s *Scheduler) JobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// execute runs one job with coalescing, history and event bookkeeping.
// A job still running when its next tick fires is skipped, not stacked.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	if _, busy := s.running.LoadOrStore(job.Name, struct{}{}); busy {
		s.log.Warn().Str("job", job.Name).Msg("Previous run still in flight, skipping")
		obs.JobRuns.WithLabelValues(job.Name, StatusSkipped).Inc()
		return
	}
	defer s.running.Delete(job.Name)

	if job.Guard != nil && !job.Guard() {
		obs.JobRuns.WithLabelValues(job.Name, StatusSkipped).Inc()
		return
	}

	runID, err := s.history.Start(job.Name)
	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Msg("Could not record job start")
	}
	s.publish(job.Name, "started", "")

	start := time.Now()
	runErr := job.Run(ctx)
	elapsed := time.Since(start)

	status := StatusCompleted
	errMsg := ""
	if runErr != nil {
		status = StatusFailed
		errMsg = runErr.Error()
		s.log.Error().Err(runErr).Str("job", job.Name).Dur("elapsed", elapsed).Msg("Job failed")
	} else {
		s.log.Info().Str("job", job.Name).Dur("elapsed", elapsed).Msg("Job completed")
	}

	obs.JobRuns.WithLabelValues(job.Name, status).Inc()
	if runID > 0 {
		if err := s.history.Finish(runID, status, errMsg); err != nil {
			s.log.Error().Err(err).Str("job", job.Name).Msg("Could not record job finish")
		}
	}
	s.publish(job.Name, status, errMsg)
}

func (s *Scheduler) publish(job, status, errMsg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Job: job, Status: status, Error: errMsg})
}
