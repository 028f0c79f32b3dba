package models

import "time"

// TriggerHeartbeat records when a named cron trigger last ran and when it is
// next due. Running is set while an invocation holds the trigger.
type TriggerHeartbeat struct {
	Name            string    `gorm:"primaryKey;type:varchar(64)"`
	IntervalSeconds int       `gorm:"not null"`
	NextRunAt       time.Time `gorm:"not null"`
	LastRunAt       *time.Time
	Running         bool      `gorm:"not null;default:false"`
	LastError       string    `gorm:"type:text"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}
