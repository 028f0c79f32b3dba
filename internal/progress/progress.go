// Package progress derives a job's status and counters from its chunks.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/events"
	"github.com/joshu-sajeev/backfill/internal/metrics"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/rs/zerolog/log"
)

type JobStore interface {
	Get(ctx context.Context, id uint) (*models.Job, error)
	UpdateProgress(ctx context.Context, id uint, from []config.JobStatus, updates map[string]any) (bool, error)
	BackfillCompletedAt(ctx context.Context, id uint, at time.Time) error
}

type ChunkStore interface {
	StatusesForJob(ctx context.Context, jobID uint) ([]config.ChunkStatus, error)
}

type Summary struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
}

func (s Summary) Terminal() int {
	return s.Completed + s.Failed + s.Cancelled
}

// Status is the job status the chunk counts imply. A job without chunks is
// complete.
func (s Summary) Status() config.JobStatus {
	switch {
	case s.Terminal() < s.Total:
		return config.JobStatusRunning
	case s.Failed == 0 && s.Cancelled > 0:
		return config.JobStatusCancelled
	case s.Failed > 0:
		return config.JobStatusCompletedWithErrors
	default:
		return config.JobStatusCompleted
	}
}

func Compute(statuses []config.ChunkStatus) Summary {
	s := Summary{Total: len(statuses)}
	for _, st := range statuses {
		switch st {
		case config.ChunkStatusCompleted:
			s.Completed++
		case config.ChunkStatusFailed:
			s.Failed++
		case config.ChunkStatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

var finishedStatuses = []config.JobStatus{config.JobStatusCompleted, config.JobStatusCompletedWithErrors}

type Aggregator struct {
	jobs      JobStore
	chunks    ChunkStore
	publisher events.Publisher
	now       func() time.Time
}

func NewAggregator(jobs JobStore, chunks ChunkStore, publisher events.Publisher) *Aggregator {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Aggregator{
		jobs:      jobs,
		chunks:    chunks,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Refresh recomputes the job from its chunks and returns the stored status.
// A cancelled job keeps its status; writes that would leave cancelled are
// refused by the store condition rather than reported as errors.
func (a *Aggregator) Refresh(ctx context.Context, jobID uint) (config.JobStatus, error) {
	job, err := a.jobs.Get(ctx, jobID)
	if err != nil {
		return "", err
	}

	now := a.now()
	if job.Status == config.JobStatusCancelled {
		if job.CompletedAt == nil {
			if err := a.jobs.BackfillCompletedAt(ctx, jobID, now); err != nil {
				return job.Status, err
			}
		}
		return job.Status, nil
	}

	statuses, err := a.chunks.StatusesForJob(ctx, jobID)
	if err != nil {
		return job.Status, err
	}
	sum := Compute(statuses)
	target := sum.Status()

	updates := map[string]any{
		"status":          target,
		"total_items":     sum.Total,
		"processed_items": sum.Terminal(),
		"failed_items":    sum.Failed,
	}

	if target == config.JobStatusRunning {
		ok, err := a.jobs.UpdateProgress(ctx, jobID, []config.JobStatus{config.JobStatusRunning}, updates)
		if err != nil {
			return job.Status, err
		}
		if !ok {
			return a.current(ctx, jobID, job.Status)
		}
		return target, nil
	}

	updates["completed_at"] = now
	ok, err := a.jobs.UpdateProgress(ctx, jobID, []config.JobStatus{config.JobStatusRunning}, updates)
	if err != nil {
		return job.Status, err
	}
	if ok {
		a.finished(ctx, job, sum, target, now)
		return target, nil
	}

	// Already finished earlier; keep counters in sync without moving
	// completed_at or touching a job cancelled in the meantime.
	delete(updates, "completed_at")
	ok, err = a.jobs.UpdateProgress(ctx, jobID, finishedStatuses, updates)
	if err != nil {
		return job.Status, err
	}
	if !ok {
		return a.current(ctx, jobID, job.Status)
	}
	return target, nil
}

func (a *Aggregator) current(ctx context.Context, jobID uint, fallback config.JobStatus) (config.JobStatus, error) {
	job, err := a.jobs.Get(ctx, jobID)
	if err != nil {
		return fallback, fmt.Errorf("reload job %d: %w", jobID, err)
	}
	log.Debug().
		Uint("job_id", jobID).
		Str("status", string(job.Status)).
		Msg("Progress write refused, job changed concurrently")
	return job.Status, nil
}

func (a *Aggregator) finished(ctx context.Context, job *models.Job, sum Summary, status config.JobStatus, at time.Time) {
	metrics.JobsFinished.WithLabelValues(string(status)).Inc()

	log.Info().
		Uint("job_id", job.ID).
		Str("organization_id", job.OrganizationID).
		Str("status", string(status)).
		Int("total", sum.Total).
		Int("failed", sum.Failed).
		Int("cancelled", sum.Cancelled).
		Msg("Job finished")

	err := a.publisher.PublishJobFinished(ctx, events.JobFinished{
		JobID:          job.ID,
		OrganizationID: job.OrganizationID,
		Status:         status,
		TotalItems:     sum.Total,
		ProcessedItems: sum.Terminal(),
		FailedItems:    sum.Failed,
		CompletedAt:    at,
	})
	if err != nil {
		log.Warn().Err(err).Uint("job_id", job.ID).Msg("Failed to publish job event")
	}
}
