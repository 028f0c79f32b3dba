package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/stretchr/testify/mock"
)

type JobRepoMock struct {
	mock.Mock
}

func (m *JobRepoMock) CreateWithChunks(ctx context.Context, job *models.Job, chunks []models.Chunk) error {
	args := m.Called(ctx, job, chunks)
	return args.Error(0)
}

func (m *JobRepoMock) Get(ctx context.Context, id uint) (*models.Job, error) {
	args := m.Called(ctx, id)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *JobRepoMock) GetWithChunks(ctx context.Context, id uint) (*models.Job, error) {
	args := m.Called(ctx, id)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *JobRepoMock) List(ctx context.Context, organizationID string) ([]models.Job, error) {
	args := m.Called(ctx, organizationID)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) ListRunningWithoutChunks(ctx context.Context) ([]models.Job, error) {
	args := m.Called(ctx)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) Cancel(ctx context.Context, id uint) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) StatusesByID(ctx context.Context, ids []uint) (map[uint]config.JobStatus, error) {
	args := m.Called(ctx, ids)

	statuses, _ := args.Get(0).(map[uint]config.JobStatus)
	return statuses, args.Error(1)
}

func (m *JobRepoMock) UpdateProgress(ctx context.Context, id uint, from []config.JobStatus, updates map[string]any) (bool, error) {
	args := m.Called(ctx, id, from, updates)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) BackfillCompletedAt(ctx context.Context, id uint, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}
