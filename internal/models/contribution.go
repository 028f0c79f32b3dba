package models

import (
	"time"

	"gorm.io/datatypes"
)

// Contribution is the destination row of an ingested export line. Only the
// conflict key (ExternalID, OrganizationID) carries meaning for ingestion.
type Contribution struct {
	ID             uint           `gorm:"primaryKey;autoIncrement"`
	ExternalID     string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_contributions_natural_key"`
	OrganizationID string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_contributions_natural_key"`
	Amount         *float64       `gorm:"type:numeric(12,2)"`
	Email          string         `gorm:"type:varchar(320)"`
	FirstName      string         `gorm:"type:varchar(255)"`
	LastName       string         `gorm:"type:varchar(255)"`
	Refcode        string         `gorm:"type:varchar(255)"`
	PaidAt         *time.Time
	Raw            datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
}
