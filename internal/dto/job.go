package dto

import (
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
)

// Dates are calendar days in YYYY-MM-DD, both ends inclusive.
type JobCreateDTO struct {
	OrganizationID string `json:"organization_id" validate:"required,max=255"`
	StartDate      string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate        string `json:"end_date" validate:"required,datetime=2006-01-02"`
	ChunkDays      int    `json:"chunk_days" validate:"omitempty,gte=1,lte=366"`
	MaxAttempts    int    `json:"max_attempts" validate:"omitempty,gte=1,lte=10"`
}

type JobResponseDTO struct {
	ID             uint             `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Status         config.JobStatus `json:"status"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	ChunkDays      int              `json:"chunk_days"`
	TotalItems     int              `json:"total_items"`
	ProcessedItems int              `json:"processed_items"`
	FailedItems    int              `json:"failed_items"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Chunks         []ChunkDTO       `json:"chunks,omitempty"`
}

type ChunkDTO struct {
	ID            uint               `json:"id"`
	ChunkIndex    int                `json:"chunk_index"`
	StartDate     string             `json:"start_date"`
	EndDate       string             `json:"end_date"`
	Status        config.ChunkStatus `json:"status"`
	AttemptCount  int                `json:"attempt_count"`
	MaxAttempts   int                `json:"max_attempts"`
	NextRetryAt   *time.Time         `json:"next_retry_at,omitempty"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	ProcessedRows int                `json:"processed_rows"`
	InsertedRows  int                `json:"inserted_rows"`
	UpdatedRows   int                `json:"updated_rows"`
	SkippedRows   int                `json:"skipped_rows"`
	ExportID      string             `json:"export_id,omitempty"`
}

// DispatchRequest optionally limits a dispatch run to one job.
type DispatchRequest struct {
	JobID *uint `json:"job_id,omitempty" validate:"omitempty,gte=1"`
}

type DispatchReport struct {
	InvocationID  string `json:"invocation_id"`
	Selected      int    `json:"selected"`
	Cancelled     int    `json:"cancelled"`
	Claimed       int    `json:"claimed"`
	Skipped       int    `json:"skipped"`
	Completed     int    `json:"completed"`
	Retrying      int    `json:"retrying"`
	Failed        int    `json:"failed"`
	OwnershipLost int    `json:"ownership_lost"`
}

type WatchdogReport struct {
	InvocationID    string `json:"invocation_id"`
	Requeued        int    `json:"requeued"`
	Failed          int    `json:"failed"`
	JobsRefreshed   int    `json:"jobs_refreshed"`
	HeartbeatsReset int    `json:"heartbeats_reset"`
	Skipped         int    `json:"skipped"`
}
