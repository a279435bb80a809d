package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/marketpulse/internal/work"
)

type systemStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
	DiskUsedPct   float64 `json:"disk_used_pct"`
	DiskFreeBytes uint64  `json:"disk_free_bytes"`
	Databases     int     `json:"databases"`
}

// handleSystemStatus serves GET /api/system/status.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := systemStatus{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.deps.StartedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Databases:     len(s.deps.Databases),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemoryUsedPct = vm.UsedPercent
	}
	if du, err := disk.Usage(s.deps.DataDir); err == nil {
		status.DiskUsedPct = du.UsedPercent
		status.DiskFreeBytes = du.Free
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, db := range s.deps.Databases {
		if err := db.HealthCheck(ctx); err != nil {
			status.Status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, status)
}

type databaseStats struct {
	Name          string `json:"name"`
	SizeBytes     int64  `json:"size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	PageCount     int64  `json:"page_count"`
	PageSize      int64  `json:"page_size"`
	FreelistCount int64  `json:"freelist_count"`
}

// handleDatabaseStats serves GET /api/system/database/stats.
func (s *Server) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	out := make([]databaseStats, 0, len(s.deps.Databases))
	for _, db := range s.deps.Databases {
		stats, err := db.GetStats()
		if err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("Stats read failed")
			continue
		}
		out = append(out, databaseStats{
			Name:          db.Name(),
			SizeBytes:     stats.SizeBytes,
			WALSizeBytes:  stats.WALSizeBytes,
			PageCount:     stats.PageCount,
			PageSize:      stats.PageSize,
			FreelistCount: stats.FreelistCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleJobList serves GET /api/system/jobs: registered jobs plus recent
// run history.
func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.History.RecentRuns(queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load job history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": s.deps.Jobs.JobNames(),
		"runs": runs,
	})
}

// handleJobTrigger serves POST /api/system/jobs/{name}: offloads one run
// of a registered job.
func (s *Server) handleJobTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	known := false
	for _, n := range s.deps.Jobs.JobNames() {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}

	accepted := s.deps.Worker.Submit(work.Task{
		Name: name,
		Run: func(ctx context.Context) error {
			return s.deps.Jobs.RunByName(ctx, name)
		},
	})
	if !accepted {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already_running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}
