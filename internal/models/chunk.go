package models

import (
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
)

type Chunk struct {
	ID             uint               `gorm:"primaryKey;autoIncrement"`
	JobID          uint               `gorm:"not null;index"`
	OrganizationID string             `gorm:"type:varchar(255);not null"`
	ChunkIndex     int                `gorm:"not null"`
	StartDate      time.Time          `gorm:"not null"`
	EndDate        time.Time          `gorm:"not null"`
	Status         config.ChunkStatus `gorm:"type:varchar(50);not null;default:'pending';index"`
	AttemptCount   int                `gorm:"not null;default:0"`
	MaxAttempts    int                `gorm:"not null;default:3"`
	NextRetryAt    *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   string `gorm:"type:text"`
	ProcessedRows  int    `gorm:"not null;default:0"`
	InsertedRows   int    `gorm:"not null;default:0"`
	UpdatedRows    int    `gorm:"not null;default:0"`
	SkippedRows    int    `gorm:"not null;default:0"`
	ClaimedBy      string `gorm:"type:varchar(64)"`
	ExportID       string `gorm:"type:varchar(255)"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (Chunk) TableName() string {
	return "backfill_chunks"
}

// AttemptsExhausted reports whether another claim would break
// attempt_count <= max_attempts.
func (c *Chunk) AttemptsExhausted() bool {
	return c.AttemptCount >= c.MaxAttempts
}
