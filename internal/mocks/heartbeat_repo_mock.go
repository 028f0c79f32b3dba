package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/stretchr/testify/mock"
)

type HeartbeatRepoMock struct {
	mock.Mock
}

func (m *HeartbeatRepoMock) Ensure(ctx context.Context, name string, interval time.Duration, now time.Time) error {
	args := m.Called(ctx, name, interval, now)
	return args.Error(0)
}

func (m *HeartbeatRepoMock) Get(ctx context.Context, name string) (*models.TriggerHeartbeat, error) {
	args := m.Called(ctx, name)

	hb, _ := args.Get(0).(*models.TriggerHeartbeat)
	return hb, args.Error(1)
}

func (m *HeartbeatRepoMock) Claim(ctx context.Context, name string, now time.Time) (bool, error) {
	args := m.Called(ctx, name, now)
	return args.Bool(0), args.Error(1)
}

func (m *HeartbeatRepoMock) Release(ctx context.Context, name string, now, next time.Time, lastError string) error {
	args := m.Called(ctx, name, now, next, lastError)
	return args.Error(0)
}

func (m *HeartbeatRepoMock) Reset(ctx context.Context, name string, observedNextRun, now time.Time) (bool, error) {
	args := m.Called(ctx, name, observedNextRun, now)
	return args.Bool(0), args.Error(1)
}
