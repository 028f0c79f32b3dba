package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/dto"
	"github.com/joshu-sajeev/backfill/internal/metrics"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/rs/zerolog/log"
)

type ChunkStore interface {
	ListStuck(ctx context.Context, startedBefore time.Time) ([]models.Chunk, error)
	ListForRunningJobs(ctx context.Context) ([]models.Chunk, error)
	CountClaimable(ctx context.Context) (int64, error)
	FinalizeClaimed(ctx context.Context, id uint, attempt int, updates map[string]any) (bool, error)
}

type JobStore interface {
	ListRunningWithoutChunks(ctx context.Context) ([]models.Job, error)
}

type HeartbeatStore interface {
	Get(ctx context.Context, name string) (*models.TriggerHeartbeat, error)
	Reset(ctx context.Context, name string, observedNextRun, now time.Time) (bool, error)
}

type Refresher interface {
	Refresh(ctx context.Context, jobID uint) (config.JobStatus, error)
}

type Watchdog struct {
	chunks     ChunkStore
	jobs       JobStore
	heartbeats HeartbeatStore
	progress   Refresher
	thresholds Thresholds
	now        func() time.Time
}

func New(chunks ChunkStore, jobs JobStore, heartbeats HeartbeatStore, progress Refresher, th Thresholds) *Watchdog {
	return &Watchdog{
		chunks:     chunks,
		jobs:       jobs,
		heartbeats: heartbeats,
		progress:   progress,
		thresholds: th,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run loads a snapshot, plans and applies every action. A failing action does
// not stop the others; all failures are returned joined.
func (w *Watchdog) Run(ctx context.Context) (dto.WatchdogReport, error) {
	report := dto.WatchdogReport{InvocationID: uuid.NewString()}
	logger := log.With().Str("invocation_id", report.InvocationID).Logger()

	now := w.now()
	snap, err := w.snapshot(ctx, now)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, a := range Plan(snap, now, w.thresholds) {
		applied, err := w.apply(ctx, a, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Kind, err))
			logger.Error().Err(err).Str("action", string(a.Kind)).Uint("chunk_id", a.ChunkID).Uint("job_id", a.JobID).Msg("Watchdog action failed")
			continue
		}
		if !applied {
			report.Skipped++
			continue
		}

		metrics.WatchdogActions.WithLabelValues(string(a.Kind)).Inc()
		logger.Info().
			Str("action", string(a.Kind)).
			Uint("chunk_id", a.ChunkID).
			Uint("job_id", a.JobID).
			Str("reason", a.Reason).
			Msg("Watchdog repaired state")

		switch a.Kind {
		case ActionRequeueChunk:
			report.Requeued++
		case ActionFailChunk:
			report.Failed++
		case ActionRefreshJob:
			report.JobsRefreshed++
		case ActionResetHeartbeat:
			report.HeartbeatsReset++
		}
	}

	logger.Info().
		Int("requeued", report.Requeued).
		Int("failed", report.Failed).
		Int("jobs_refreshed", report.JobsRefreshed).
		Int("heartbeats_reset", report.HeartbeatsReset).
		Int("skipped", report.Skipped).
		Msg("Watchdog finished")

	return report, errors.Join(errs...)
}

func (w *Watchdog) snapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.ProcessingChunks, err = w.chunks.ListStuck(ctx, now.Add(-w.thresholds.StuckChunk)); err != nil {
		return snap, err
	}
	if snap.RunningJobChunks, err = w.chunks.ListForRunningJobs(ctx); err != nil {
		return snap, err
	}
	if snap.ChunklessJobs, err = w.jobs.ListRunningWithoutChunks(ctx); err != nil {
		return snap, err
	}
	if snap.Heartbeat, err = w.heartbeats.Get(ctx, config.TriggerDispatcher); err != nil {
		return snap, err
	}
	if snap.ClaimableChunks, err = w.chunks.CountClaimable(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

func (w *Watchdog) apply(ctx context.Context, a Action, now time.Time) (bool, error) {
	switch a.Kind {
	case ActionRequeueChunk, ActionFailChunk:
		return w.chunks.FinalizeClaimed(ctx, a.ChunkID, a.Attempt, a.Updates)
	case ActionRefreshJob:
		if _, err := w.progress.Refresh(ctx, a.JobID); err != nil {
			return false, err
		}
		return true, nil
	case ActionResetHeartbeat:
		return w.heartbeats.Reset(ctx, a.Heartbeat, a.ObservedNextRun, now)
	}
	return false, fmt.Errorf("unknown action %q", a.Kind)
}
