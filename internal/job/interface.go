package job

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/dto"
	"github.com/joshu-sajeev/backfill/internal/models"
)

// JobRepoInterface defines the contract for job repository operations.
type JobRepoInterface interface {
	CreateWithChunks(ctx context.Context, job *models.Job, chunks []models.Chunk) error
	Get(ctx context.Context, id uint) (*models.Job, error)
	GetWithChunks(ctx context.Context, id uint) (*models.Job, error)
	List(ctx context.Context, organizationID string) ([]models.Job, error)
	Cancel(ctx context.Context, id uint) (bool, error)
}

// ChunkCanceller cancels the chunks of a job that have not been claimed.
type ChunkCanceller interface {
	CancelJobChunks(ctx context.Context, jobID uint, now time.Time) (int64, error)
}

type Refresher interface {
	Refresh(ctx context.Context, jobID uint) (config.JobStatus, error)
}

// JobServiceInterface defines the contract for job business logic operations.
type JobServiceInterface interface {
	CreateJob(ctx context.Context, dto *dto.JobCreateDTO) (*dto.JobResponseDTO, error)
	GetJobByID(ctx context.Context, id uint) (*dto.JobResponseDTO, error)
	ListJobs(ctx context.Context, organizationID string) ([]dto.JobResponseDTO, error)
	CancelJob(ctx context.Context, id uint) (*dto.JobResponseDTO, error)
}

// DispatchRunner and WatchdogRunner are the cron entry points exposed over
// HTTP.
type DispatchRunner interface {
	Run(ctx context.Context, req dto.DispatchRequest) (dto.DispatchReport, error)
}

type WatchdogRunner interface {
	Run(ctx context.Context) (dto.WatchdogReport, error)
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	List(c *gin.Context)
	Cancel(c *gin.Context)
	Dispatch(c *gin.Context)
	Watchdog(c *gin.Context)
}
