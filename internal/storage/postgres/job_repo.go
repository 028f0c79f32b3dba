package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/dispatch"
	"github.com/joshu-sajeev/backfill/internal/job"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/joshu-sajeev/backfill/internal/progress"
	"github.com/joshu-sajeev/backfill/internal/watchdog"
	"gorm.io/gorm"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

var (
	_ job.JobRepoInterface = (*JobRepository)(nil)
	_ dispatch.JobStore    = (*JobRepository)(nil)
	_ progress.JobStore    = (*JobRepository)(nil)
	_ watchdog.JobStore    = (*JobRepository)(nil)
)

// CreateWithChunks inserts a job and all of its chunks in one transaction.
// Chunks get their JobID from the inserted job.
func (r *JobRepository) CreateWithChunks(ctx context.Context, j *models.Job, chunks []models.Chunk) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Chunks").Create(j).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		for i := range chunks {
			chunks[i].JobID = j.ID
		}
		return tx.CreateInBatches(&chunks, 500).Error
	})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	j.Chunks = chunks
	return nil
}

// Get retrieves a single job without its chunks.
func (r *JobRepository) Get(ctx context.Context, id uint) (*models.Job, error) {
	var j models.Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job not found: %w", err)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// GetWithChunks retrieves a job and its chunks ordered by chunk_index.
func (r *JobRepository) GetWithChunks(ctx context.Context, id uint) (*models.Job, error) {
	var j models.Job
	err := r.db.WithContext(ctx).
		Preload("Chunks", func(db *gorm.DB) *gorm.DB {
			return db.Order("chunk_index ASC")
		}).
		First(&j, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job not found: %w", err)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// List retrieves jobs newest first, optionally for one organization.
func (r *JobRepository) List(ctx context.Context, organizationID string) ([]models.Job, error) {
	q := r.db.WithContext(ctx)
	if organizationID != "" {
		q = q.Where("organization_id = ?", organizationID)
	}

	var jobs []models.Job
	if err := q.Order("id DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListRunningWithoutChunks returns running jobs that own no chunk rows.
func (r *JobRepository) ListRunningWithoutChunks(ctx context.Context) ([]models.Job, error) {
	owned := r.db.Model(&models.Chunk{}).Select("1").Where("backfill_chunks.job_id = backfill_jobs.id")

	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", config.JobStatusRunning).
		Where("NOT EXISTS (?)", owned).
		Order("id ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list running jobs without chunks: %w", err)
	}
	return jobs, nil
}

// Cancel moves a running job to cancelled. It returns false if the job was
// not running.
func (r *JobRepository) Cancel(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, config.JobStatusRunning).
		Update("status", config.JobStatusCancelled)
	if res.Error != nil {
		return false, fmt.Errorf("cancel job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// StatusesByID returns the status of each requested job that exists.
func (r *JobRepository) StatusesByID(ctx context.Context, ids []uint) (map[uint]config.JobStatus, error) {
	statuses := make(map[uint]config.JobStatus, len(ids))
	if len(ids) == 0 {
		return statuses, nil
	}

	var rows []struct {
		ID     uint
		Status config.JobStatus
	}
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("id", "status").
		Where("id IN ?", ids).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load job statuses: %w", err)
	}

	for _, row := range rows {
		statuses[row.ID] = row.Status
	}
	return statuses, nil
}

// UpdateProgress applies updates only while the job's status is one of from.
// Callers never list cancelled in from, which keeps cancellation sticky.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uint, from []config.JobStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update job progress: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// BackfillCompletedAt sets completed_at if it has never been set.
func (r *JobRepository) BackfillCompletedAt(ctx context.Context, id uint, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND completed_at IS NULL", id).
		Update("completed_at", at).Error; err != nil {
		return fmt.Errorf("backfill completed_at: %w", err)
	}
	return nil
}
