package models

import (
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
)

type Job struct {
	ID             uint             `gorm:"primaryKey;autoIncrement"`
	OrganizationID string           `gorm:"type:varchar(255);not null;index"`
	Status         config.JobStatus `gorm:"type:varchar(50);not null;default:'running';index"`
	StartDate      time.Time        `gorm:"not null"`
	EndDate        time.Time        `gorm:"not null"`
	ChunkDays      int              `gorm:"not null;default:30"`
	TotalItems     int              `gorm:"not null;default:0"`
	ProcessedItems int              `gorm:"not null;default:0"`
	FailedItems    int              `gorm:"not null;default:0"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`

	Chunks []Chunk `gorm:"foreignKey:JobID"`
}

func (Job) TableName() string {
	return "backfill_jobs"
}
