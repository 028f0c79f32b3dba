// Package dispatch claims due chunks and runs them with bounded parallelism.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/backfill/common"
	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/credentials"
	"github.com/joshu-sajeev/backfill/internal/dto"
	"github.com/joshu-sajeev/backfill/internal/ingest"
	"github.com/joshu-sajeev/backfill/internal/metrics"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/joshu-sajeev/backfill/internal/outcome"
	"github.com/joshu-sajeev/backfill/internal/pool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// finalizeTimeout bounds outcome writes that run after the invocation
// context has ended.
const finalizeTimeout = 30 * time.Second

type ChunkStore interface {
	ListClaimable(ctx context.Context, now time.Time, limit int, jobID *uint) ([]models.Chunk, error)
	Claim(ctx context.Context, chunk *models.Chunk, invocationID string, now time.Time) (bool, error)
	CancelChunks(ctx context.Context, ids []uint, now time.Time) (int64, error)
}

type JobStore interface {
	StatusesByID(ctx context.Context, ids []uint) (map[uint]config.JobStatus, error)
}

type Processor interface {
	Process(ctx context.Context, chunk *models.Chunk, creds credentials.Credentials) (ingest.Counts, error)
}

type Outcomes interface {
	Succeed(ctx context.Context, chunk *models.Chunk, counts ingest.Counts) error
	Fail(ctx context.Context, chunk *models.Chunk, cause error) (config.ChunkStatus, error)
	ExpireExhausted(ctx context.Context, chunk *models.Chunk) (bool, error)
}

type Refresher interface {
	Refresh(ctx context.Context, jobID uint) (config.JobStatus, error)
}

type Dispatcher struct {
	chunks      ChunkStore
	jobs        JobStore
	creds       credentials.Provider
	processor   Processor
	outcomes    Outcomes
	progress    Refresher
	maxParallel int
	now         func() time.Time
}

func New(
	chunks ChunkStore,
	jobs JobStore,
	creds credentials.Provider,
	processor Processor,
	outcomes Outcomes,
	progress Refresher,
	maxParallel int,
) *Dispatcher {
	if maxParallel < 1 {
		maxParallel = config.DefaultMaxParallelChunks
	}
	return &Dispatcher{
		chunks:      chunks,
		jobs:        jobs,
		creds:       creds,
		processor:   processor,
		outcomes:    outcomes,
		progress:    progress,
		maxParallel: maxParallel,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// tally collects pipeline results from concurrent goroutines.
type tally struct {
	mu     sync.Mutex
	report *dto.DispatchReport
}

func (t *tally) record(status config.ChunkStatus, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if errors.Is(err, outcome.ErrOwnershipLost) {
		t.report.OwnershipLost++
		return
	}
	if err != nil {
		return
	}
	switch status {
	case config.ChunkStatusCompleted:
		t.report.Completed++
	case config.ChunkStatusRetrying:
		t.report.Retrying++
	case config.ChunkStatusFailed:
		t.report.Failed++
	}
}

// Run performs one dispatch invocation. Chunk-level failures are recorded on
// the chunks and in the report; only failures to read the queue are
// returned.
func (d *Dispatcher) Run(ctx context.Context, req dto.DispatchRequest) (dto.DispatchReport, error) {
	invocationID := uuid.NewString()
	report := dto.DispatchReport{InvocationID: invocationID}
	logger := log.With().Str("invocation_id", invocationID).Logger()

	now := d.now()
	selected, err := d.chunks.ListClaimable(ctx, now, d.maxParallel, req.JobID)
	if err != nil {
		return report, err
	}
	report.Selected = len(selected)
	if len(selected) == 0 {
		logger.Debug().Msg("No chunks due")
		return report, nil
	}

	candidates, err := d.dropCancelled(ctx, logger, selected, now, &report)
	if err != nil {
		return report, err
	}

	claimed := d.claim(ctx, logger, candidates, invocationID, now, &report)
	report.Claimed = len(claimed)

	t := &tally{report: &report}
	p := pool.New(d.maxParallel)

	for _, group := range groupByOrganization(claimed) {
		creds, err := d.creds.Get(ctx, group.org)
		if err != nil {
			logger.Error().
				Err(err).
				Str("organization_id", group.org).
				Bool("permanent", common.IsPermanent(err)).
				Int("chunks", len(group.chunks)).
				Msg("Credentials unavailable, failing chunks")
			fctx, cancel := finalizeContext(ctx)
			for _, chunk := range group.chunks {
				status, ferr := d.outcomes.Fail(fctx, chunk, err)
				t.record(status, ferr)
				d.refresh(fctx, logger, chunk.JobID)
			}
			cancel()
			continue
		}

		for _, chunk := range group.chunks {
			name := fmt.Sprintf("chunk-%d", chunk.ID)
			if err := p.Go(ctx, name, func(ctx context.Context) {
				d.runChunk(ctx, logger, chunk, *creds, t)
			}); err != nil {
				// Left in processing; the watchdog requeues it.
				logger.Warn().Err(err).Uint("chunk_id", chunk.ID).Msg("Invocation ended before chunk could start")
			}
		}
	}
	p.Wait()

	logger.Info().
		Int("selected", report.Selected).
		Int("cancelled", report.Cancelled).
		Int("claimed", report.Claimed).
		Int("skipped", report.Skipped).
		Int("completed", report.Completed).
		Int("retrying", report.Retrying).
		Int("failed", report.Failed).
		Int("ownership_lost", report.OwnershipLost).
		Msg("Dispatch finished")

	return report, nil
}

// dropCancelled cancels selected chunks whose job has been cancelled and
// returns the rest.
func (d *Dispatcher) dropCancelled(ctx context.Context, logger zerolog.Logger, selected []models.Chunk, now time.Time, report *dto.DispatchReport) ([]models.Chunk, error) {
	jobIDs := make([]uint, 0, len(selected))
	seen := make(map[uint]bool, len(selected))
	for _, c := range selected {
		if !seen[c.JobID] {
			seen[c.JobID] = true
			jobIDs = append(jobIDs, c.JobID)
		}
	}

	statuses, err := d.jobs.StatusesByID(ctx, jobIDs)
	if err != nil {
		return nil, err
	}

	var (
		keep          []models.Chunk
		cancelIDs     []uint
		cancelledJobs []uint
		affected      = make(map[uint]bool)
	)
	for _, c := range selected {
		status, ok := statuses[c.JobID]
		if !ok {
			logger.Warn().Uint("chunk_id", c.ID).Uint("job_id", c.JobID).Msg("Chunk has no job, skipping")
			report.Skipped++
			continue
		}
		if status == config.JobStatusCancelled {
			cancelIDs = append(cancelIDs, c.ID)
			if !affected[c.JobID] {
				affected[c.JobID] = true
				cancelledJobs = append(cancelledJobs, c.JobID)
			}
			continue
		}
		keep = append(keep, c)
	}

	if len(cancelIDs) == 0 {
		return keep, nil
	}

	n, err := d.chunks.CancelChunks(ctx, cancelIDs, now)
	if err != nil {
		return nil, err
	}
	report.Cancelled = int(n)
	metrics.ChunksFinalized.WithLabelValues(string(config.ChunkStatusCancelled)).Add(float64(n))

	for _, jobID := range cancelledJobs {
		d.refresh(ctx, logger, jobID)
	}
	return keep, nil
}

// claim takes ownership of candidates in order. Chunks that lost the race are
// skipped; chunks without attempts left are failed instead of claimed.
func (d *Dispatcher) claim(ctx context.Context, logger zerolog.Logger, candidates []models.Chunk, invocationID string, now time.Time, report *dto.DispatchReport) []*models.Chunk {
	claimed := make([]*models.Chunk, 0, len(candidates))

	for i := range candidates {
		chunk := &candidates[i]

		if chunk.AttemptsExhausted() {
			ok, err := d.outcomes.ExpireExhausted(ctx, chunk)
			switch {
			case err != nil:
				logger.Error().Err(err).Uint("chunk_id", chunk.ID).Msg("Failed to expire exhausted chunk")
				report.Skipped++
			case ok:
				report.Failed++
				d.refresh(ctx, logger, chunk.JobID)
			default:
				report.Skipped++
			}
			continue
		}

		ok, err := d.chunks.Claim(ctx, chunk, invocationID, now)
		if err != nil {
			logger.Error().Err(err).Uint("chunk_id", chunk.ID).Msg("Claim failed")
			report.Skipped++
			continue
		}
		if !ok {
			metrics.ChunkClaims.WithLabelValues("lost").Inc()
			report.Skipped++
			continue
		}
		metrics.ChunkClaims.WithLabelValues("claimed").Inc()
		claimed = append(claimed, chunk)
	}
	return claimed
}

func (d *Dispatcher) runChunk(ctx context.Context, logger zerolog.Logger, chunk *models.Chunk, creds credentials.Credentials, t *tally) {
	started := time.Now()

	counts, err := d.processor.Process(ctx, chunk, creds)

	fctx, cancel := finalizeContext(ctx)
	defer cancel()

	var (
		status config.ChunkStatus
		ferr   error
	)
	if err == nil {
		status = config.ChunkStatusCompleted
		ferr = d.outcomes.Succeed(fctx, chunk, counts)
	} else {
		status, ferr = d.outcomes.Fail(fctx, chunk, err)
	}
	if ferr != nil && !errors.Is(ferr, outcome.ErrOwnershipLost) {
		logger.Error().Err(ferr).Uint("chunk_id", chunk.ID).Msg("Failed to record chunk outcome")
	}
	t.record(status, ferr)
	metrics.ChunkDuration.WithLabelValues(string(status)).Observe(time.Since(started).Seconds())

	d.refresh(fctx, logger, chunk.JobID)
}

func (d *Dispatcher) refresh(ctx context.Context, logger zerolog.Logger, jobID uint) {
	if _, err := d.progress.Refresh(ctx, jobID); err != nil {
		logger.Error().Err(err).Uint("job_id", jobID).Msg("Failed to refresh job progress")
	}
}

// finalizeContext lets bookkeeping writes finish even if ctx was cancelled
// while the chunk was running.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

type orgGroup struct {
	org    string
	chunks []*models.Chunk
}

// groupByOrganization keeps first-seen organization order.
func groupByOrganization(chunks []*models.Chunk) []orgGroup {
	var groups []orgGroup
	index := make(map[string]int)
	for _, c := range chunks {
		i, ok := index[c.OrganizationID]
		if !ok {
			i = len(groups)
			index[c.OrganizationID] = i
			groups = append(groups, orgGroup{org: c.OrganizationID})
		}
		groups[i].chunks = append(groups[i].chunks, c)
	}
	return groups
}
