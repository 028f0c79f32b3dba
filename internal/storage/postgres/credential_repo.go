package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshu-sajeev/backfill/internal/credentials"
	"github.com/joshu-sajeev/backfill/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

var _ credentials.Source = (*CredentialRepository)(nil)

func (r *CredentialRepository) Get(ctx context.Context, organizationID string) (*models.OrganizationCredential, error) {
	var cred models.OrganizationCredential
	if err := r.db.WithContext(ctx).
		First(&cred, "organization_id = ?", organizationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get credentials: %w", credentials.ErrNotFound)
		}
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &cred, nil
}

// Save inserts or replaces the credentials of an organization.
func (r *CredentialRepository) Save(ctx context.Context, cred *models.OrganizationCredential) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "secret", "base_url", "updated_at"}),
	}).Create(cred).Error; err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}
