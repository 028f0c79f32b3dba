package job

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/joshu-sajeev/backfill/common"
	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/dto"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type JobService struct {
	repo        JobRepoInterface
	chunks      ChunkCanceller
	progress    Refresher
	maxAttempts int
	now         func() time.Time
}

// NewJobService plans chunks with maxAttempts unless a request overrides it.
func NewJobService(repo JobRepoInterface, chunks ChunkCanceller, progress Refresher, maxAttempts int) *JobService {
	if maxAttempts < 1 {
		maxAttempts = config.DefaultMaxAttempts
	}
	return &JobService{
		repo:        repo,
		chunks:      chunks,
		progress:    progress,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ JobServiceInterface = (*JobService)(nil)

// CreateJob plans a backfill: it splits the requested date range into chunks
// and stores the running job together with all of them.
func (s *JobService) CreateJob(ctx context.Context, in *dto.JobCreateDTO) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	start, err := time.Parse(dateLayout, in.StartDate)
	if err != nil {
		return nil, common.Errf(http.StatusBadRequest, "start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, in.EndDate)
	if err != nil {
		return nil, common.Errf(http.StatusBadRequest, "end_date must be YYYY-MM-DD")
	}

	chunkDays := in.ChunkDays
	if chunkDays == 0 {
		chunkDays = config.DefaultChunkDays
	}

	maxAttempts := in.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.maxAttempts
	}

	chunks, err := PlanChunks(in.OrganizationID, start, end, chunkDays, maxAttempts)
	if err != nil {
		return nil, common.NewAPIError(http.StatusBadRequest, "invalid date range", map[string]any{
			"reason": err.Error(),
		})
	}

	now := s.now()
	job := models.Job{
		OrganizationID: in.OrganizationID,
		Status:         config.JobStatusRunning,
		StartDate:      start,
		EndDate:        end,
		ChunkDays:      chunkDays,
		TotalItems:     len(chunks),
		StartedAt:      &now,
	}

	if err := s.repo.CreateWithChunks(ctx, &job, chunks); err != nil {
		return nil, mapRepoError(err, "failed to create job")
	}
	job.Chunks = chunks

	log.Info().
		Uint("job_id", job.ID).
		Str("organization_id", job.OrganizationID).
		Int("chunks", len(chunks)).
		Msg("Job planned")

	resp := toJobResponse(&job)
	return &resp, nil
}

// GetJobByID returns a job with its chunks.
func (s *JobService) GetJobByID(ctx context.Context, id uint) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, err := s.repo.GetWithChunks(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "failed to get job")
	}

	resp := toJobResponse(job)
	return &resp, nil
}

// ListJobs returns jobs newest first, optionally for one organization.
func (s *JobService) ListJobs(ctx context.Context, organizationID string) ([]dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	jobs, err := s.repo.List(ctx, organizationID)
	if err != nil {
		return nil, mapRepoError(err, "failed to list jobs")
	}

	dtos := make([]dto.JobResponseDTO, len(jobs))
	for i := range jobs {
		dtos[i] = toJobResponse(&jobs[i])
	}
	return dtos, nil
}

// CancelJob marks a running job cancelled and cancels its unclaimed chunks.
// Chunks already processing finish their current attempt.
func (s *JobService) CancelJob(ctx context.Context, id uint) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "failed to cancel job")
	}

	ok, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "failed to cancel job")
	}
	if !ok && job.Status != config.JobStatusCancelled {
		return nil, common.NewAPIError(http.StatusConflict, "job is not running", map[string]any{
			"status": job.Status,
		})
	}

	n, err := s.chunks.CancelJobChunks(ctx, id, s.now())
	if err != nil {
		return nil, mapRepoError(err, "failed to cancel chunks")
	}

	if _, err := s.progress.Refresh(ctx, id); err != nil {
		log.Warn().Err(err).Uint("job_id", id).Msg("Failed to refresh cancelled job")
	}

	log.Info().Uint("job_id", id).Int64("chunks_cancelled", n).Msg("Job cancelled")

	return s.GetJobByID(ctx, id)
}

func mapRepoError(err error, msg string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return common.Errf(http.StatusNotFound, "job not found")
	default:
		log.Error().Err(err).Msg(msg)
		return common.Errf(http.StatusInternalServerError, "%s", msg)
	}
}

func toJobResponse(j *models.Job) dto.JobResponseDTO {
	resp := dto.JobResponseDTO{
		ID:             j.ID,
		OrganizationID: j.OrganizationID,
		Status:         j.Status,
		StartDate:      j.StartDate.Format(dateLayout),
		EndDate:        j.EndDate.Format(dateLayout),
		ChunkDays:      j.ChunkDays,
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		FailedItems:    j.FailedItems,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if len(j.Chunks) > 0 {
		resp.Chunks = make([]dto.ChunkDTO, len(j.Chunks))
		for i, c := range j.Chunks {
			resp.Chunks[i] = dto.ChunkDTO{
				ID:            c.ID,
				ChunkIndex:    c.ChunkIndex,
				StartDate:     c.StartDate.Format(dateLayout),
				EndDate:       c.EndDate.Format(dateLayout),
				Status:        c.Status,
				AttemptCount:  c.AttemptCount,
				MaxAttempts:   c.MaxAttempts,
				NextRetryAt:   c.NextRetryAt,
				StartedAt:     c.StartedAt,
				CompletedAt:   c.CompletedAt,
				ErrorMessage:  c.ErrorMessage,
				ProcessedRows: c.ProcessedRows,
				InsertedRows:  c.InsertedRows,
				UpdatedRows:   c.UpdatedRows,
				SkippedRows:   c.SkippedRows,
				ExportID:      c.ExportID,
			}
		}
	}
	return resp
}
