package mocks

import (
	"context"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/credentials"
	"github.com/joshu-sajeev/backfill/internal/dto"
	"github.com/joshu-sajeev/backfill/internal/events"
	"github.com/joshu-sajeev/backfill/internal/ingest"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/stretchr/testify/mock"
)

type JobServiceMock struct {
	mock.Mock
}

func (m *JobServiceMock) CreateJob(ctx context.Context, in *dto.JobCreateDTO) (*dto.JobResponseDTO, error) {
	args := m.Called(ctx, in)

	resp, _ := args.Get(0).(*dto.JobResponseDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) GetJobByID(ctx context.Context, id uint) (*dto.JobResponseDTO, error) {
	args := m.Called(ctx, id)

	resp, _ := args.Get(0).(*dto.JobResponseDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) ListJobs(ctx context.Context, organizationID string) ([]dto.JobResponseDTO, error) {
	args := m.Called(ctx, organizationID)

	resp, _ := args.Get(0).([]dto.JobResponseDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) CancelJob(ctx context.Context, id uint) (*dto.JobResponseDTO, error) {
	args := m.Called(ctx, id)

	resp, _ := args.Get(0).(*dto.JobResponseDTO)
	return resp, args.Error(1)
}

type DispatchRunnerMock struct {
	mock.Mock
}

func (m *DispatchRunnerMock) Run(ctx context.Context, req dto.DispatchRequest) (dto.DispatchReport, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(dto.DispatchReport), args.Error(1)
}

type WatchdogRunnerMock struct {
	mock.Mock
}

func (m *WatchdogRunnerMock) Run(ctx context.Context) (dto.WatchdogReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(dto.WatchdogReport), args.Error(1)
}

type RefresherMock struct {
	mock.Mock
}

func (m *RefresherMock) Refresh(ctx context.Context, jobID uint) (config.JobStatus, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(config.JobStatus), args.Error(1)
}

type CredentialsProviderMock struct {
	mock.Mock
}

func (m *CredentialsProviderMock) Get(ctx context.Context, organizationID string) (*credentials.Credentials, error) {
	args := m.Called(ctx, organizationID)

	creds, _ := args.Get(0).(*credentials.Credentials)
	return creds, args.Error(1)
}

type ProcessorMock struct {
	mock.Mock
}

func (m *ProcessorMock) Process(ctx context.Context, chunk *models.Chunk, creds credentials.Credentials) (ingest.Counts, error) {
	args := m.Called(ctx, chunk, creds)
	return args.Get(0).(ingest.Counts), args.Error(1)
}

type OutcomesMock struct {
	mock.Mock
}

func (m *OutcomesMock) Succeed(ctx context.Context, chunk *models.Chunk, counts ingest.Counts) error {
	args := m.Called(ctx, chunk, counts)
	return args.Error(0)
}

func (m *OutcomesMock) Fail(ctx context.Context, chunk *models.Chunk, cause error) (config.ChunkStatus, error) {
	args := m.Called(ctx, chunk, cause)
	return args.Get(0).(config.ChunkStatus), args.Error(1)
}

func (m *OutcomesMock) ExpireExhausted(ctx context.Context, chunk *models.Chunk) (bool, error) {
	args := m.Called(ctx, chunk)
	return args.Bool(0), args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishJobFinished(ctx context.Context, evt events.JobFinished) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}
