package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/dispatch"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/joshu-sajeev/backfill/internal/outcome"
	"github.com/joshu-sajeev/backfill/internal/progress"
	"github.com/joshu-sajeev/backfill/internal/watchdog"
	"gorm.io/gorm"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

var (
	_ dispatch.ChunkStore = (*ChunkRepository)(nil)
	_ outcome.ChunkStore  = (*ChunkRepository)(nil)
	_ progress.ChunkStore = (*ChunkRepository)(nil)
	_ watchdog.ChunkStore = (*ChunkRepository)(nil)
)

// ListClaimable returns up to limit chunks that are pending, or retrying with
// an elapsed next_retry_at, in chunk_index order. A non-nil jobID restricts
// the result to that job.
func (r *ChunkRepository) ListClaimable(ctx context.Context, now time.Time, limit int, jobID *uint) ([]models.Chunk, error) {
	q := r.db.WithContext(ctx).
		Where("status IN ?", config.ClaimableStatuses).
		Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now)

	if jobID != nil {
		q = q.Where("job_id = ?", *jobID)
	}

	var chunks []models.Chunk
	if err := q.Order("chunk_index ASC").Order("id ASC").
		Limit(limit).
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list claimable chunks: %w", err)
	}
	return chunks, nil
}

// Claim moves chunk to processing if, and only if, it is still in the state
// the caller observed. It returns false when another invocation got there
// first. On success chunk is updated in place.
func (r *ChunkRepository) Claim(ctx context.Context, chunk *models.Chunk, invocationID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("id = ? AND status IN ? AND attempt_count = ? AND attempt_count < max_attempts",
			chunk.ID, config.ClaimableStatuses, chunk.AttemptCount).
		Updates(map[string]any{
			"status":        config.ChunkStatusProcessing,
			"started_at":    now,
			"attempt_count": gorm.Expr("attempt_count + ?", 1),
			"next_retry_at": nil,
			"claimed_by":    invocationID,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim chunk: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	chunk.Status = config.ChunkStatusProcessing
	chunk.StartedAt = &now
	chunk.AttemptCount++
	chunk.NextRetryAt = nil
	chunk.ClaimedBy = invocationID
	return true, nil
}

// CancelChunks moves the given not-yet-claimed chunks to cancelled.
func (r *ChunkRepository) CancelChunks(ctx context.Context, ids []uint, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("id IN ? AND status IN ?", ids, config.ClaimableStatuses).
		Updates(cancelUpdates(now))
	if res.Error != nil {
		return 0, fmt.Errorf("cancel chunks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CancelJobChunks cancels every not-yet-claimed chunk of a job. Chunks in
// processing are left alone and run to completion.
func (r *ChunkRepository) CancelJobChunks(ctx context.Context, jobID uint, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("job_id = ? AND status IN ?", jobID, config.ClaimableStatuses).
		Updates(cancelUpdates(now))
	if res.Error != nil {
		return 0, fmt.Errorf("cancel job chunks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func cancelUpdates(now time.Time) map[string]any {
	return map[string]any{
		"status":        config.ChunkStatusCancelled,
		"next_retry_at": nil,
		"completed_at":  now,
		"error_message": "job cancelled",
	}
}

// FinalizeClaimed applies updates to a chunk still held by the claim that
// produced attempt. It returns false if the chunk has since been recovered
// or reclaimed.
func (r *ChunkRepository) FinalizeClaimed(ctx context.Context, id uint, attempt int, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("id = ? AND status = ? AND attempt_count = ?", id, config.ChunkStatusProcessing, attempt).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("finalize chunk: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FinalizeUnclaimed applies updates to a chunk that is still waiting to be
// claimed with the observed attempt count.
func (r *ChunkRepository) FinalizeUnclaimed(ctx context.Context, id uint, attempt int, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("id = ? AND status IN ? AND attempt_count = ?", id, config.ClaimableStatuses, attempt).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("finalize unclaimed chunk: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// StatusesForJob returns the status of every chunk of a job.
func (r *ChunkRepository) StatusesForJob(ctx context.Context, jobID uint) ([]config.ChunkStatus, error) {
	var statuses []config.ChunkStatus
	if err := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("job_id = ?", jobID).
		Pluck("status", &statuses).Error; err != nil {
		return nil, fmt.Errorf("list chunk statuses: %w", err)
	}
	return statuses, nil
}

// ListStuck returns processing chunks claimed before startedBefore.
func (r *ChunkRepository) ListStuck(ctx context.Context, startedBefore time.Time) ([]models.Chunk, error) {
	var chunks []models.Chunk
	if err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", config.ChunkStatusProcessing, startedBefore).
		Order("id ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list stuck chunks: %w", err)
	}
	return chunks, nil
}

// ListForRunningJobs returns every chunk whose job is still running.
func (r *ChunkRepository) ListForRunningJobs(ctx context.Context) ([]models.Chunk, error) {
	running := r.db.Model(&models.Job{}).
		Select("id").
		Where("status = ?", config.JobStatusRunning)

	var chunks []models.Chunk
	if err := r.db.WithContext(ctx).
		Where("job_id IN (?)", running).
		Order("job_id ASC").Order("chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks of running jobs: %w", err)
	}
	return chunks, nil
}

// CountClaimable counts pending and retrying chunks regardless of
// next_retry_at.
func (r *ChunkRepository) CountClaimable(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("status IN ?", config.ClaimableStatuses).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count claimable chunks: %w", err)
	}
	return n, nil
}
