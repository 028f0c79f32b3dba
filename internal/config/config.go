package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds everything except the database connection, which lives in
// storage/postgres.Config.
type Config struct {
	HTTPPort   string `env:"HTTP_PORT,default=8080"`
	CronSecret string `env:"CRON_SECRET"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
	LogFormat  string `env:"LOG_FORMAT,default=json"`

	Dispatch DispatchConfig
	Export   ExportConfig
	Upsert   UpsertConfig
	Watchdog WatchdogConfig
	Trigger  TriggerConfig
	Redis    RedisConfig
	Archive  ArchiveConfig
	AMQP     AMQPConfig
}

type DispatchConfig struct {
	MaxParallelChunks int `env:"MAX_PARALLEL_CHUNKS,default=3"`
	MaxAttempts       int `env:"CHUNK_MAX_ATTEMPTS,default=3"`
}

type ExportConfig struct {
	PollInterval      time.Duration `env:"EXPORT_POLL_INTERVAL,default=10s"`
	PollAttempts      int           `env:"EXPORT_POLL_ATTEMPTS,default=30"`
	RequestsPerMinute int           `env:"EXPORT_REQUESTS_PER_MINUTE,default=60"`
	HTTPTimeout       time.Duration `env:"EXPORT_HTTP_TIMEOUT,default=60s"`
	MaxResponseBytes  int64         `env:"EXPORT_MAX_RESPONSE_BYTES,default=268435456"`
}

type UpsertConfig struct {
	BatchSize  int           `env:"UPSERT_BATCH_SIZE,default=100"`
	BatchDelay time.Duration `env:"UPSERT_BATCH_DELAY,default=0s"`
}

type WatchdogConfig struct {
	StuckChunkThreshold     time.Duration `env:"STUCK_CHUNK_THRESHOLD,default=30m"`
	StuckJobThreshold       time.Duration `env:"STUCK_JOB_THRESHOLD,default=60m"`
	StaleHeartbeatThreshold time.Duration `env:"STALE_HEARTBEAT_THRESHOLD,default=15m"`
}

type TriggerConfig struct {
	DispatchSchedule string        `env:"DISPATCH_SCHEDULE,default=@every 1m"`
	DispatchInterval time.Duration `env:"DISPATCH_INTERVAL,default=1m"`
	WatchdogSchedule string        `env:"WATCHDOG_SCHEDULE,default=@every 10m"`
	WatchdogInterval time.Duration `env:"WATCHDOG_INTERVAL,default=10m"`
}

type RedisConfig struct {
	Address  string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,default=0"`
	Prefix   string        `env:"REDIS_PREFIX,default=backfill"`
	TTL      time.Duration `env:"CREDENTIALS_CACHE_TTL,default=5m"`
	// CacheKey is a base64 32-byte key sealing cached secrets. The
	// credentials cache stays off without it.
	CacheKey string `env:"CREDENTIALS_CACHE_KEY"`
}

type ArchiveConfig struct {
	Bucket string `env:"ARCHIVE_BUCKET"`
	Region string `env:"AWS_REGION,default=us-east-1"`
	Prefix string `env:"ARCHIVE_PREFIX,default=exports"`
}

type AMQPConfig struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE,default=backfill.events"`
}

// to help with testing
var envProcess = envconfig.Process

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	var errors []string

	if strings.TrimSpace(cfg.CronSecret) == "" {
		errors = append(errors, "CRON_SECRET is required")
	}

	if cfg.Dispatch.MaxParallelChunks < 1 {
		errors = append(errors, "MAX_PARALLEL_CHUNKS must be at least 1")
	}

	if cfg.Dispatch.MaxAttempts < 1 {
		errors = append(errors, "CHUNK_MAX_ATTEMPTS must be at least 1")
	}

	if cfg.Export.PollInterval <= 0 {
		errors = append(errors, "EXPORT_POLL_INTERVAL must be positive")
	}

	if cfg.Export.PollAttempts < 1 {
		errors = append(errors, "EXPORT_POLL_ATTEMPTS must be at least 1")
	}

	if cfg.Export.RequestsPerMinute < 1 {
		errors = append(errors, "EXPORT_REQUESTS_PER_MINUTE must be at least 1")
	}

	if cfg.Upsert.BatchSize < 1 {
		errors = append(errors, "UPSERT_BATCH_SIZE must be at least 1")
	}

	if cfg.Upsert.BatchDelay < 0 {
		errors = append(errors, "UPSERT_BATCH_DELAY must not be negative")
	}

	// A stuck chunk must have outlived any legitimate export poll.
	pollBudget := cfg.Export.PollInterval * time.Duration(cfg.Export.PollAttempts)
	if cfg.Watchdog.StuckChunkThreshold <= pollBudget {
		errors = append(errors, fmt.Sprintf("STUCK_CHUNK_THRESHOLD must exceed the export poll budget (%s)", pollBudget))
	}

	if cfg.Watchdog.StuckJobThreshold <= 0 || cfg.Watchdog.StaleHeartbeatThreshold <= 0 {
		errors = append(errors, "watchdog thresholds must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}
