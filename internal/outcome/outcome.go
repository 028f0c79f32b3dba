// Package outcome writes the result of a chunk attempt back to the store.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshu-sajeev/backfill/common"
	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/ingest"
	"github.com/joshu-sajeev/backfill/internal/metrics"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/rs/zerolog/log"
)

const maxErrorMessage = 2000

// ErrOwnershipLost is returned when the chunk was recovered or reclaimed
// after this claim, so the outcome was not written.
var ErrOwnershipLost = errors.New("chunk no longer held by this claim")

type ChunkStore interface {
	FinalizeClaimed(ctx context.Context, id uint, attempt int, updates map[string]any) (bool, error)
	FinalizeUnclaimed(ctx context.Context, id uint, attempt int, updates map[string]any) (bool, error)
}

type Manager struct {
	store ChunkStore
	now   func() time.Time
}

func NewManager(store ChunkStore) *Manager {
	return &Manager{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Succeed marks a claimed chunk completed with its row counts.
func (m *Manager) Succeed(ctx context.Context, chunk *models.Chunk, counts ingest.Counts) error {
	now := m.now()
	updates := map[string]any{
		"status":         config.ChunkStatusCompleted,
		"completed_at":   now,
		"error_message":  "",
		"next_retry_at":  nil,
		"processed_rows": counts.Processed,
		"inserted_rows":  counts.Inserted,
		"updated_rows":   counts.Updated,
		"skipped_rows":   counts.Skipped,
	}
	if chunk.ExportID != "" {
		updates["export_id"] = chunk.ExportID
	}

	if err := m.finalize(ctx, chunk, updates); err != nil {
		return err
	}

	chunk.Status = config.ChunkStatusCompleted
	chunk.CompletedAt = &now
	chunk.ErrorMessage = ""
	chunk.ProcessedRows = counts.Processed
	chunk.InsertedRows = counts.Inserted
	chunk.UpdatedRows = counts.Updated
	chunk.SkippedRows = counts.Skipped
	return nil
}

// Fail records a failed attempt and returns the status the chunk moved to:
// retrying while attempts remain, failed when they do not or when cause is
// permanent.
func (m *Manager) Fail(ctx context.Context, chunk *models.Chunk, cause error) (config.ChunkStatus, error) {
	now := m.now()
	status, updates := Decide(chunk, cause, now)
	if chunk.ExportID != "" {
		updates["export_id"] = chunk.ExportID
	}

	if err := m.finalize(ctx, chunk, updates); err != nil {
		return chunk.Status, err
	}

	chunk.Status = status
	chunk.ErrorMessage, _ = updates["error_message"].(string)
	if at, ok := updates["next_retry_at"].(time.Time); ok {
		chunk.NextRetryAt = &at
	} else {
		chunk.NextRetryAt = nil
	}
	if status == config.ChunkStatusFailed {
		chunk.CompletedAt = &now
	}
	return status, nil
}

// ExpireExhausted fails a chunk that is waiting to be claimed but has no
// attempts left. It returns false if the chunk moved in the meantime.
func (m *Manager) ExpireExhausted(ctx context.Context, chunk *models.Chunk) (bool, error) {
	now := m.now()
	msg := fmt.Sprintf("retries exhausted after %d attempts", chunk.AttemptCount)
	if chunk.ErrorMessage != "" {
		msg += ": " + chunk.ErrorMessage
	}

	ok, err := m.store.FinalizeUnclaimed(ctx, chunk.ID, chunk.AttemptCount, map[string]any{
		"status":        config.ChunkStatusFailed,
		"completed_at":  now,
		"next_retry_at": nil,
		"error_message": truncate(msg),
	})
	if err != nil || !ok {
		return false, err
	}

	metrics.ChunksFinalized.WithLabelValues(string(config.ChunkStatusFailed)).Inc()
	chunk.Status = config.ChunkStatusFailed
	chunk.CompletedAt = &now
	return true, nil
}

// Decide computes the failure transition for chunk without touching the
// store. attempt_count already includes the attempt that failed.
func Decide(chunk *models.Chunk, cause error, now time.Time) (config.ChunkStatus, map[string]any) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	switch {
	case common.IsPermanent(cause):
		return config.ChunkStatusFailed, map[string]any{
			"status":        config.ChunkStatusFailed,
			"completed_at":  now,
			"next_retry_at": nil,
			"error_message": truncate("permanent failure: " + msg),
		}
	case chunk.AttemptCount < chunk.MaxAttempts:
		return config.ChunkStatusRetrying, map[string]any{
			"status":        config.ChunkStatusRetrying,
			"next_retry_at": now.Add(config.RetryDelay(chunk.AttemptCount)),
			"error_message": truncate(msg),
		}
	default:
		return config.ChunkStatusFailed, map[string]any{
			"status":        config.ChunkStatusFailed,
			"completed_at":  now,
			"next_retry_at": nil,
			"error_message": truncate(fmt.Sprintf("retries exhausted after %d attempts: %s", chunk.AttemptCount, msg)),
		}
	}
}

func (m *Manager) finalize(ctx context.Context, chunk *models.Chunk, updates map[string]any) error {
	ok, err := m.store.FinalizeClaimed(ctx, chunk.ID, chunk.AttemptCount, updates)
	if err != nil {
		return err
	}
	if !ok {
		metrics.OwnershipLost.Inc()
		log.Warn().
			Uint("chunk_id", chunk.ID).
			Uint("job_id", chunk.JobID).
			Int("attempt", chunk.AttemptCount).
			Msg("Chunk was recovered or reclaimed, dropping outcome")
		return ErrOwnershipLost
	}

	if status, ok := updates["status"].(config.ChunkStatus); ok {
		metrics.ChunksFinalized.WithLabelValues(string(status)).Inc()
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= maxErrorMessage {
		return s
	}
	return s[:maxErrorMessage]
}
