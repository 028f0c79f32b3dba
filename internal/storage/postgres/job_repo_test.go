package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestJobRepository_CreateWithChunks(t *testing.T) {
	tests := []struct {
		name    string
		chunks  int
		setup   func(db *gorm.DB)
		wantErr bool
	}{
		{name: "job with chunks", chunks: 3},
		{name: "job without chunks", chunks: 0},
		{
			name:   "error when db connection is closed",
			chunks: 1,
			setup: func(db *gorm.DB) {
				sqlDB, _ := db.DB()
				sqlDB.Close()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := SetupTestDB(t)
			if tt.setup != nil {
				tt.setup(db)
			}
			repo := NewJobRepository(db)

			job := &models.Job{OrganizationID: "org-1", Status: config.JobStatusRunning}
			chunks := make([]models.Chunk, tt.chunks)
			for i := range chunks {
				chunks[i] = models.Chunk{OrganizationID: "org-1", ChunkIndex: i, MaxAttempts: 3, Status: config.ChunkStatusPending}
			}

			err := repo.CreateWithChunks(context.Background(), job, chunks)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, job.ID)
			assert.Len(t, job.Chunks, tt.chunks)

			var count int64
			require.NoError(t, db.Model(&models.Chunk{}).Where("job_id = ?", job.ID).Count(&count).Error)
			assert.Equal(t, int64(tt.chunks), count)
		})
	}
}

func TestJobRepository_Get(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewJobRepository(db)
	job, _ := seedJob(t, db, "org-1", 3)

	t.Run("found with chunks in order", func(t *testing.T) {
		got, err := repo.GetWithChunks(context.Background(), job.ID)
		require.NoError(t, err)
		require.Len(t, got.Chunks, 3)
		for i, c := range got.Chunks {
			assert.Equal(t, i, c.ChunkIndex)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.Get(context.Background(), 999)
		require.Error(t, err)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestJobRepository_List(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewJobRepository(db)
	first, _ := seedJob(t, db, "org-1", 1)
	second, _ := seedJob(t, db, "org-1", 1)
	seedJob(t, db, "org-2", 1)

	jobs, err := repo.List(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)

	all, err := repo.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestJobRepository_Cancel(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewJobRepository(db)
	job, _ := seedJob(t, db, "org-1", 1)

	ok, err := repo.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, ok, "cancelling twice affects no rows")

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCancelled, got.Status)
}

func TestJobRepository_UpdateProgress(t *testing.T) {
	running := []config.JobStatus{config.JobStatusRunning}

	t.Run("updates a running job", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		job, _ := seedJob(t, db, "org-1", 2)

		ok, err := repo.UpdateProgress(context.Background(), job.ID, running, map[string]any{
			"status":          config.JobStatusCompleted,
			"processed_items": 2,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.Get(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusCompleted, got.Status)
		assert.Equal(t, 2, got.ProcessedItems)
	})

	t.Run("cancelled job is never downgraded", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		job, _ := seedJob(t, db, "org-1", 2)
		_, err := repo.Cancel(context.Background(), job.ID)
		require.NoError(t, err)

		ok, err := repo.UpdateProgress(context.Background(), job.ID, running, map[string]any{
			"status": config.JobStatusCompleted,
		})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.Get(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusCancelled, got.Status)
	})
}

func TestJobRepository_BackfillCompletedAt(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewJobRepository(db)
	job, _ := seedJob(t, db, "org-1", 1)

	first := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.BackfillCompletedAt(context.Background(), job.ID, first))
	require.NoError(t, repo.BackfillCompletedAt(context.Background(), job.ID, first.Add(time.Hour)))

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, first.Equal(*got.CompletedAt), "completed_at is only set once")
}

func TestJobRepository_StatusesByID(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewJobRepository(db)
	a, _ := seedJob(t, db, "org-1", 1)
	b, _ := seedJob(t, db, "org-1", 1)
	_, err := repo.Cancel(context.Background(), b.ID)
	require.NoError(t, err)

	statuses, err := repo.StatusesByID(context.Background(), []uint{a.ID, b.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, map[uint]config.JobStatus{
		a.ID: config.JobStatusRunning,
		b.ID: config.JobStatusCancelled,
	}, statuses)

	empty, err := repo.StatusesByID(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestJobRepository_ListRunningWithoutChunks(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewJobRepository(db)

	seedJob(t, db, "org-1", 2)
	empty, _ := seedJob(t, db, "org-1", 0)
	done, _ := seedJob(t, db, "org-2", 0)
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", done.ID).Update("status", config.JobStatusCompleted).Error)

	jobs, err := repo.ListRunningWithoutChunks(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, empty.ID, jobs[0].ID)
}
