package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/joshu-sajeev/backfill/internal/trigger"
	"github.com/joshu-sajeev/backfill/internal/watchdog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type HeartbeatRepository struct {
	db *gorm.DB
}

func NewHeartbeatRepository(db *gorm.DB) *HeartbeatRepository {
	return &HeartbeatRepository{db: db}
}

var (
	_ trigger.HeartbeatStore  = (*HeartbeatRepository)(nil)
	_ watchdog.HeartbeatStore = (*HeartbeatRepository)(nil)
)

// Ensure creates the heartbeat row for name if it does not exist yet.
func (r *HeartbeatRepository) Ensure(ctx context.Context, name string, interval time.Duration, now time.Time) error {
	hb := models.TriggerHeartbeat{
		Name:            name,
		IntervalSeconds: int(interval / time.Second),
		NextRunAt:       now,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&hb).Error; err != nil {
		return fmt.Errorf("ensure heartbeat: %w", err)
	}
	return nil
}

// Get returns nil, nil when the heartbeat has never been recorded.
func (r *HeartbeatRepository) Get(ctx context.Context, name string) (*models.TriggerHeartbeat, error) {
	var hb models.TriggerHeartbeat
	if err := r.db.WithContext(ctx).First(&hb, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get heartbeat: %w", err)
	}
	return &hb, nil
}

// Claim marks a due, idle trigger as running.
func (r *HeartbeatRepository) Claim(ctx context.Context, name string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.TriggerHeartbeat{}).
		Where("name = ? AND running = ? AND next_run_at <= ?", name, false, now).
		Update("running", true)
	if res.Error != nil {
		return false, fmt.Errorf("claim heartbeat: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Release records the end of a run and schedules the next one.
func (r *HeartbeatRepository) Release(ctx context.Context, name string, now, next time.Time, lastError string) error {
	if err := r.db.WithContext(ctx).Model(&models.TriggerHeartbeat{}).
		Where("name = ?", name).
		Updates(map[string]any{
			"running":     false,
			"last_run_at": now,
			"next_run_at": next,
			"last_error":  lastError,
		}).Error; err != nil {
		return fmt.Errorf("release heartbeat: %w", err)
	}
	return nil
}

// Reset makes a stale trigger due immediately. observedNextRun guards against
// resetting a heartbeat that moved since it was read.
func (r *HeartbeatRepository) Reset(ctx context.Context, name string, observedNextRun, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.TriggerHeartbeat{}).
		Where("name = ? AND next_run_at = ?", name, observedNextRun).
		Updates(map[string]any{
			"running":     false,
			"next_run_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("reset heartbeat: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
