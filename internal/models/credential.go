package models

import "time"

type OrganizationCredential struct {
	OrganizationID string    `gorm:"primaryKey;type:varchar(255)"`
	Username       string    `gorm:"type:varchar(255);not null"`
	Secret         string    `gorm:"type:text;not null"`
	BaseURL        string    `gorm:"type:text;not null"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}
