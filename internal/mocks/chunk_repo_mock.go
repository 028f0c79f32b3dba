package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/stretchr/testify/mock"
)

type ChunkRepoMock struct {
	mock.Mock
}

func (m *ChunkRepoMock) ListClaimable(ctx context.Context, now time.Time, limit int, jobID *uint) ([]models.Chunk, error) {
	args := m.Called(ctx, now, limit, jobID)

	chunks, _ := args.Get(0).([]models.Chunk)
	return chunks, args.Error(1)
}

// Claim mirrors the repository: on success the chunk is updated in place.
func (m *ChunkRepoMock) Claim(ctx context.Context, chunk *models.Chunk, invocationID string, now time.Time) (bool, error) {
	args := m.Called(ctx, chunk, invocationID, now)
	if args.Bool(0) {
		chunk.Status = config.ChunkStatusProcessing
		chunk.StartedAt = &now
		chunk.AttemptCount++
		chunk.NextRetryAt = nil
		chunk.ClaimedBy = invocationID
	}
	return args.Bool(0), args.Error(1)
}

func (m *ChunkRepoMock) CancelChunks(ctx context.Context, ids []uint, now time.Time) (int64, error) {
	args := m.Called(ctx, ids, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ChunkRepoMock) CancelJobChunks(ctx context.Context, jobID uint, now time.Time) (int64, error) {
	args := m.Called(ctx, jobID, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ChunkRepoMock) FinalizeClaimed(ctx context.Context, id uint, attempt int, updates map[string]any) (bool, error) {
	args := m.Called(ctx, id, attempt, updates)
	return args.Bool(0), args.Error(1)
}

func (m *ChunkRepoMock) FinalizeUnclaimed(ctx context.Context, id uint, attempt int, updates map[string]any) (bool, error) {
	args := m.Called(ctx, id, attempt, updates)
	return args.Bool(0), args.Error(1)
}

func (m *ChunkRepoMock) StatusesForJob(ctx context.Context, jobID uint) ([]config.ChunkStatus, error) {
	args := m.Called(ctx, jobID)

	statuses, _ := args.Get(0).([]config.ChunkStatus)
	return statuses, args.Error(1)
}

func (m *ChunkRepoMock) ListStuck(ctx context.Context, startedBefore time.Time) ([]models.Chunk, error) {
	args := m.Called(ctx, startedBefore)

	chunks, _ := args.Get(0).([]models.Chunk)
	return chunks, args.Error(1)
}

func (m *ChunkRepoMock) ListForRunningJobs(ctx context.Context) ([]models.Chunk, error) {
	args := m.Called(ctx)

	chunks, _ := args.Get(0).([]models.Chunk)
	return chunks, args.Error(1)
}

func (m *ChunkRepoMock) CountClaimable(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
