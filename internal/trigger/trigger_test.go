package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joshu-sajeev/backfill/internal/mocks"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRunner(store HeartbeatStore) *Runner {
	r := NewRunner(store)
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestRunner_Fire(t *testing.T) {
	every := cron.Every(time.Minute)
	next := fixedNow.Add(time.Minute)

	t.Run("runs a due trigger and schedules the next run", func(t *testing.T) {
		store := new(mocks.HeartbeatRepoMock)
		store.On("Claim", mock.Anything, "dispatcher", fixedNow).Return(true, nil)
		store.On("Release", mock.Anything, "dispatcher", fixedNow, next, "").Return(nil)

		calls := 0
		ran, err := newTestRunner(store).Fire(context.Background(), "dispatcher", every, func(context.Context) error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, 1, calls)
		store.AssertExpectations(t)
	})

	t.Run("records the task error", func(t *testing.T) {
		store := new(mocks.HeartbeatRepoMock)
		store.On("Claim", mock.Anything, "watchdog", fixedNow).Return(true, nil)
		store.On("Release", mock.Anything, "watchdog", fixedNow, next, "boom").Return(nil)

		ran, err := newTestRunner(store).Fire(context.Background(), "watchdog", every, func(context.Context) error {
			return errors.New("boom")
		})

		assert.True(t, ran)
		require.EqualError(t, err, "boom")
		store.AssertExpectations(t)
	})

	t.Run("skips when not due or already running", func(t *testing.T) {
		store := new(mocks.HeartbeatRepoMock)
		store.On("Claim", mock.Anything, "dispatcher", fixedNow).Return(false, nil)

		ran, err := newTestRunner(store).Fire(context.Background(), "dispatcher", every, func(context.Context) error {
			t.Fatal("task must not run")
			return nil
		})

		require.NoError(t, err)
		assert.False(t, ran)
		store.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("releases even when the run context is cancelled", func(t *testing.T) {
		store := new(mocks.HeartbeatRepoMock)
		ctx, cancel := context.WithCancel(context.Background())

		store.On("Claim", mock.Anything, "dispatcher", fixedNow).Return(true, nil)
		live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
		store.On("Release", live, "dispatcher", fixedNow, next, "context canceled").Return(nil)

		ran, err := newTestRunner(store).Fire(ctx, "dispatcher", every, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})

		assert.True(t, ran)
		require.ErrorIs(t, err, context.Canceled)
		store.AssertExpectations(t)
	})
}

func TestRunner_Register(t *testing.T) {
	t.Run("ensures the heartbeat row", func(t *testing.T) {
		store := new(mocks.HeartbeatRepoMock)
		store.On("Ensure", mock.Anything, "dispatcher", time.Minute, fixedNow).Return(nil)

		err := newTestRunner(store).Register(context.Background(), "dispatcher", "@every 1m", time.Minute, func(context.Context) error { return nil })
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("rejects an invalid schedule", func(t *testing.T) {
		store := new(mocks.HeartbeatRepoMock)

		err := newTestRunner(store).Register(context.Background(), "dispatcher", "every minute", time.Minute, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse schedule")
		store.AssertNotCalled(t, "Ensure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
