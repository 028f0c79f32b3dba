package postgres

import (
	"context"
	"fmt"

	"github.com/joshu-sajeev/backfill/internal/ingest"
	"github.com/joshu-sajeev/backfill/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContributionRepository struct {
	db *gorm.DB
}

func NewContributionRepository(db *gorm.DB) *ContributionRepository {
	return &ContributionRepository{db: db}
}

var _ ingest.Writer = (*ContributionRepository)(nil)

// Text columns treat '' as missing; the rest treat NULL as missing.
var (
	mergeTextColumns    = []string{"email", "first_name", "last_name", "refcode"}
	mergeNullableColumn = []string{"amount", "paid_at", "raw"}
)

// mergeAssignments keeps every populated column of the stored row and only
// fills gaps from the incoming row.
func mergeAssignments() clause.Set {
	set := make(clause.Set, 0, len(mergeTextColumns)+len(mergeNullableColumn))
	for _, col := range mergeTextColumns {
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: col},
			Value:  gorm.Expr(fmt.Sprintf("COALESCE(NULLIF(contributions.%s, ''), excluded.%s)", col, col)),
		})
	}
	for _, col := range mergeNullableColumn {
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: col},
			Value:  gorm.Expr(fmt.Sprintf("COALESCE(contributions.%s, excluded.%s)", col, col)),
		})
	}
	return set
}

// UpsertBatch writes records of a single organization on the
// (external_id, organization_id) key and reports how many were new.
func (r *ContributionRepository) UpsertBatch(ctx context.Context, records []models.Contribution) (inserted, updated int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	org := records[0].OrganizationID
	ids := make([]string, len(records))
	for i, rec := range records {
		if rec.OrganizationID != org {
			return 0, 0, fmt.Errorf("upsert contributions: batch mixes organizations %q and %q", org, rec.OrganizationID)
		}
		ids[i] = rec.ExternalID
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Contribution{}).
			Where("organization_id = ? AND external_id IN ?", org, ids).
			Count(&existing).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}, {Name: "organization_id"}},
			DoUpdates: mergeAssignments(),
		}).Create(&records).Error; err != nil {
			return err
		}

		updated = int(existing)
		inserted = len(records) - updated
		return nil
	})
	if err != nil {
		if isConnectionError(err) {
			return 0, 0, fmt.Errorf("upsert contributions: %w: %w", ingest.ErrDestinationUnavailable, err)
		}
		return 0, 0, fmt.Errorf("upsert contributions: %w", err)
	}
	return inserted, updated, nil
}
