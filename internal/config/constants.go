package config

import "time"

type JobStatus string

type ChunkStatus string

const (
	JobStatusRunning             JobStatus = "running"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusCancelled           JobStatus = "cancelled"
)

const (
	ChunkStatusPending    ChunkStatus = "pending"
	ChunkStatusProcessing ChunkStatus = "processing"
	ChunkStatusRetrying   ChunkStatus = "retrying"
	ChunkStatusCompleted  ChunkStatus = "completed"
	ChunkStatusFailed     ChunkStatus = "failed"
	ChunkStatusCancelled  ChunkStatus = "cancelled"
)

// Trigger names recorded in trigger_heartbeats.
const (
	TriggerDispatcher = "dispatcher"
	TriggerWatchdog   = "watchdog"
)

var (
	// ClaimableStatuses are the chunk states the dispatcher may pick up.
	ClaimableStatuses = []ChunkStatus{ChunkStatusPending, ChunkStatusRetrying}

	// RetryDelays is indexed by attempt_count-1. Attempts past the end reuse
	// the last entry.
	RetryDelays = []time.Duration{
		60 * time.Second,
		300 * time.Second,
		900 * time.Second,
	}
)

const (
	DefaultMaxParallelChunks = 3
	DefaultMaxAttempts       = 3
	DefaultChunkDays         = 30
	DefaultUpsertBatchSize   = 100
)

// IsTerminal reports whether no further automatic transition happens from s.
func (s ChunkStatus) IsTerminal() bool {
	switch s {
	case ChunkStatusCompleted, ChunkStatusFailed, ChunkStatusCancelled:
		return true
	}
	return false
}

// RetryDelay returns the backoff for a chunk that has used attempt attempts.
func RetryDelay(attempt int) time.Duration {
	if len(RetryDelays) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(RetryDelays) {
		idx = len(RetryDelays) - 1
	}
	return RetryDelays[idx]
}
