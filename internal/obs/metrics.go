// Package obs holds process-wide Prometheus collectors.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VendorRequests counts vendor API calls by endpoint and outcome.
	VendorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpulse_vendor_requests_total",
		Help: "Vendor API requests by endpoint and outcome (ok, http_error, decode_error, breaker_open).",
	}, []string{"endpoint", "outcome"})

	// JobRuns counts scheduler job executions by job name and outcome.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpulse_scheduler_job_runs_total",
		Help: "Scheduler job runs by job and outcome (completed, failed, skipped).",
	}, []string{"job", "outcome"})

	// PipelineDuration observes alpha-pipeline level durations.
	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketpulse_pipeline_duration_seconds",
		Help:    "Alpha pipeline duration per level.",
		Buckets: prometheus.DefBuckets,
	}, []string{"level"})

	// UpsertRows counts feature-store rows written by table.
	UpsertRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpulse_store_upsert_rows_total",
		Help: "Rows written to the feature store by table.",
	}, []string{"table"})
)
