package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// JobRun is one row of the job history log.
type JobRun struct {
	ID         int64   `json:"id"`
	JobName    string  `json:"job_name"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at"`
	Status     string  `json:"status"`
	Error      *string `json:"error,omitempty"`
}

// Job statuses in the history log.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// HistoryRepository records scheduler runs in the operational database.
type HistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryRepository wires the repository.
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("repo", "job_history").Logger(),
	}
}

// Start records a run beginning and returns its row id.
func (r *HistoryRepository) Start(jobName string) (int64, error) {
	res, err := r.db.Exec(
		`INSERT INTO job_history (job_name, started_at, status) VALUES (?, ?, ?)`,
		jobName, time.Now().UTC().Format(time.RFC3339), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("record job start: %w", err)
	}
	return res.LastInsertId()
}

// Finish closes a run with its outcome.
func (r *HistoryRepository) Finish(id int64, status string, errMsg string) error {
	var errVal interface{}
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := r.db.Exec(
		`UPDATE job_history SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), status, errVal, id,
	)
	if err != nil {
		return fmt.Errorf("record job finish: %w", err)
	}
	return nil
}

// RecentRuns lists the latest runs across all jobs, newest first.
func (r *HistoryRepository) RecentRuns(limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT id, job_name, started_at, finished_at, status, error
		 FROM job_history ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var run JobRun
		if err := rows.Scan(&run.ID, &run.JobName, &run.StartedAt,
			&run.FinishedAt, &run.Status, &run.Error); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastCompleted returns the start time of the newest completed run of a
// job, or "" when it has never completed.
func (r *HistoryRepository) LastCompleted(jobName string) (string, error) {
	var started sql.NullString
	err := r.db.QueryRow(
		`SELECT MAX(started_at) FROM job_history WHERE job_name = ? AND status = ?`,
		jobName, StatusCompleted,
	).Scan(&started)
	if err != nil {
		return "", fmt.Errorf("last completed run of %s: %w", jobName, err)
	}
	return started.String, nil
}

// Prune drops history rows older than the cutoff.
func (r *HistoryRepository) Prune(before time.Time) (int64, error) {
	res, err := r.db.Exec(
		`DELETE FROM job_history WHERE started_at < ?`,
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("prune job history: %w", err)
	}
	return res.RowsAffected()
}
