package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job-level metrics.
var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_job_duration_seconds",
			Help:    "Duration of job processing in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Retrieval metrics.
var (
	SnapshotFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_snapshot_fetches_total",
			Help: "Unfiltered snapshot fetches by outcome",
		},
		[]string{"source", "outcome"},
	)

	SnapshotCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_snapshot_cache_lookups_total",
			Help: "Snapshot cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	SnapshotRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_snapshot_rows",
			Help: "Row count of the cached unfiltered snapshot",
		},
		[]string{"source"},
	)

	PageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_page_retries_total",
			Help: "Page fetch retries after transient errors",
		},
		[]string{"source"},
	)

	RemoteFilterOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_remote_filter_outcomes_total",
			Help: "Server-side filter attempts by outcome (accepted, mismatch, unsupported, error)",
		},
		[]string{"outcome"},
	)
)

// Registry metrics.
var (
	RegistryRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_registry_rebuilds_total",
			Help: "Registry rebuilds by outcome (ok, degraded, rejected, failed)",
		},
		[]string{"outcome"},
	)

	RegistryEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entity_registry_entries",
			Help: "Registry entries by entity type",
		},
		[]string{"entity_type"},
	)

	RegistryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_registry_lookups_total",
			Help: "Registry lookups by result (exact, normalized, partial, ambiguous, none)",
		},
		[]string{"result"},
	)
)
