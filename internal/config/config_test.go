package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		CronSecret: "secret",
		Dispatch:   DispatchConfig{MaxParallelChunks: 3, MaxAttempts: 3},
		Export: ExportConfig{
			PollInterval:      10 * time.Second,
			PollAttempts:      30,
			RequestsPerMinute: 60,
		},
		Upsert: UpsertConfig{BatchSize: 100},
		Watchdog: WatchdogConfig{
			StuckChunkThreshold:     30 * time.Minute,
			StuckJobThreshold:       time.Hour,
			StaleHeartbeatThreshold: 15 * time.Minute,
		},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing cron secret",
			mutate:  func(c *Config) { c.CronSecret = "  " },
			wantErr: "CRON_SECRET is required",
		},
		{
			name:    "no parallelism",
			mutate:  func(c *Config) { c.Dispatch.MaxParallelChunks = 0 },
			wantErr: "MAX_PARALLEL_CHUNKS must be at least 1",
		},
		{
			name:    "negative batch delay",
			mutate:  func(c *Config) { c.Upsert.BatchDelay = -time.Second },
			wantErr: "UPSERT_BATCH_DELAY must not be negative",
		},
		{
			name:    "stuck threshold inside the poll budget",
			mutate:  func(c *Config) { c.Watchdog.StuckChunkThreshold = 5 * time.Minute },
			wantErr: "STUCK_CHUNK_THRESHOLD must exceed the export poll budget (5m0s)",
		},
		{
			name: "several problems are joined",
			mutate: func(c *Config) {
				c.CronSecret = ""
				c.Upsert.BatchSize = 0
			},
			wantErr: "CRON_SECRET is required; UPSERT_BATCH_SIZE must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := validateConfig(&cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	original := envProcess
	t.Cleanup(func() { envProcess = original })

	t.Run("env error", func(t *testing.T) {
		envProcess = func(ctx context.Context, v any, mus ...envconfig.Mutator) error {
			return errors.New("bad env")
		}

		_, err := Load(context.Background())
		assert.ErrorContains(t, err, "failed to process env config: bad env")
	})

	t.Run("defaults need a secret", func(t *testing.T) {
		t.Setenv("CRON_SECRET", "")
		envProcess = original

		_, err := Load(context.Background())
		assert.ErrorContains(t, err, "CRON_SECRET is required")
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("CRON_SECRET", "s")
		envProcess = original

		cfg, err := Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.HTTPPort)
		assert.Equal(t, 3, cfg.Dispatch.MaxParallelChunks)
		assert.Equal(t, 30*time.Minute, cfg.Watchdog.StuckChunkThreshold)
		assert.Equal(t, "@every 1m", cfg.Trigger.DispatchSchedule)
	})
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 60*time.Second, RetryDelay(1))
	assert.Equal(t, 300*time.Second, RetryDelay(2))
	assert.Equal(t, 900*time.Second, RetryDelay(3))
	assert.Equal(t, 900*time.Second, RetryDelay(7))
}
