// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChunkClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_chunk_claims_total",
			Help: "Chunk claim attempts by result",
		},
		[]string{"result"}, // claimed, lost
	)

	ChunksFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_chunks_finalized_total",
			Help: "Chunk outcomes written by status",
		},
		[]string{"status"},
	)

	OwnershipLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backfill_chunk_ownership_lost_total",
			Help: "Finalize writes refused because the chunk was recovered or reclaimed",
		},
	)

	RowsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_rows_total",
			Help: "Export rows by ingest result",
		},
		[]string{"result"}, // inserted, updated, skipped
	)

	ExportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_export_errors_total",
			Help: "Failed upstream exports by stage and kind",
		},
		[]string{"stage", "kind"},
	)

	ChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backfill_chunk_duration_seconds",
			Help:    "Time from claim to outcome of one chunk pipeline",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"status"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_jobs_finished_total",
			Help: "Jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	WatchdogActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_watchdog_actions_total",
			Help: "Corrective writes applied by the watchdog",
		},
		[]string{"action"},
	)

	TriggerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_trigger_runs_total",
			Help: "Scheduled trigger firings by outcome",
		},
		[]string{"trigger", "result"}, // ok, error, skipped
	)
)
