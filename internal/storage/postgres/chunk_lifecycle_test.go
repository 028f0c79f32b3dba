package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/export"
	"github.com/joshu-sajeev/backfill/internal/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Claims and fails one chunk through the real repository, the way the
// dispatcher and worker do across invocations.
func TestChunkLifecycle_RetryThenFail(t *testing.T) {
	timeout := &export.FetchError{Stage: export.StagePoll, Kind: export.KindTransient, ExportID: "exp-1", Err: export.ErrPollTimeout}

	tests := []struct {
		name        string
		maxAttempts int
		// after the first claim and failure
		wantStatus config.ChunkStatus
		wantDelay  time.Duration
	}{
		{
			name:        "third delay reached when a fourth attempt is allowed",
			maxAttempts: 4,
			wantStatus:  config.ChunkStatusRetrying,
			wantDelay:   900 * time.Second,
		},
		{
			name:        "third attempt is the last under the default budget",
			maxAttempts: config.DefaultMaxAttempts,
			wantStatus:  config.ChunkStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := SetupTestDB(t)
			repo := NewChunkRepository(db)
			manager := outcome.NewManager(repo)
			_, chunks := seedJob(t, db, "org-1", 1)
			setChunk(t, repo, chunks[0].ID, map[string]any{
				"status":        config.ChunkStatusRetrying,
				"attempt_count": 2,
				"max_attempts":  tt.maxAttempts,
			})

			chunk := reloadChunk(t, db, chunks[0].ID)
			ok, err := repo.Claim(ctx, &chunk, "inv-1", time.Now().UTC())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 3, chunk.AttemptCount)

			status, err := manager.Fail(ctx, &chunk, timeout)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status)

			stored := reloadChunk(t, db, chunks[0].ID)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, 3, stored.AttemptCount)

			if tt.wantStatus == config.ChunkStatusFailed {
				assert.Nil(t, stored.NextRetryAt)
				assert.NotNil(t, stored.CompletedAt)
				assert.Contains(t, stored.ErrorMessage, "retries exhausted after 3 attempts")

				ok, err := repo.Claim(ctx, &stored, "inv-2", time.Now().UTC())
				require.NoError(t, err)
				assert.False(t, ok)
				return
			}

			require.NotNil(t, stored.NextRetryAt)
			assert.WithinDuration(t, time.Now().UTC().Add(tt.wantDelay), *stored.NextRetryAt, 5*time.Second)

			ok, err = repo.Claim(ctx, &stored, "inv-2", time.Now().UTC())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 4, stored.AttemptCount)

			status, err = manager.Fail(ctx, &stored, timeout)
			require.NoError(t, err)
			assert.Equal(t, config.ChunkStatusFailed, status)

			final := reloadChunk(t, db, chunks[0].ID)
			assert.Equal(t, config.ChunkStatusFailed, final.Status)
			assert.Equal(t, 4, final.AttemptCount)
			assert.Nil(t, final.NextRetryAt)
			assert.NotNil(t, final.CompletedAt)
			assert.Contains(t, final.ErrorMessage, "retries exhausted after 4 attempts")

			ok, err = repo.Claim(ctx, &final, "inv-3", time.Now().UTC())
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}
