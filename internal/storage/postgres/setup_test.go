package postgres

import (
	"testing"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func SetupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent), // Disable logs during tests
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	// Every connection to :memory: is its own database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	err = db.AutoMigrate(
		&models.Job{},
		&models.Chunk{},
		&models.Contribution{},
		&models.OrganizationCredential{},
		&models.TriggerHeartbeat{},
	)
	require.NoError(t, err)

	return db
}

// seedJob stores a running job with n pending chunks of one day each.
func seedJob(t *testing.T, db *gorm.DB, org string, n int) (*models.Job, []models.Chunk) {
	t.Helper()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &models.Job{
		OrganizationID: org,
		Status:         config.JobStatusRunning,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, n-1),
		ChunkDays:      1,
		TotalItems:     n,
	}
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		day := start.AddDate(0, 0, i)
		chunks[i] = models.Chunk{
			OrganizationID: org,
			ChunkIndex:     i,
			StartDate:      day,
			EndDate:        day,
			Status:         config.ChunkStatusPending,
			MaxAttempts:    3,
		}
	}

	require.NoError(t, NewJobRepository(db).CreateWithChunks(t.Context(), job, chunks))
	return job, chunks
}

func reloadChunk(t *testing.T, db *gorm.DB, id uint) models.Chunk {
	t.Helper()

	var c models.Chunk
	require.NoError(t, db.First(&c, id).Error)
	return c
}
