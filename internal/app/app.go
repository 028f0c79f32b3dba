// Package app wires the repositories and services shared by the commands.
package app

import (
	"context"
	"errors"

	"github.com/joshu-sajeev/backfill/internal/archive"
	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/credentials"
	"github.com/joshu-sajeev/backfill/internal/dispatch"
	"github.com/joshu-sajeev/backfill/internal/events"
	"github.com/joshu-sajeev/backfill/internal/export"
	"github.com/joshu-sajeev/backfill/internal/ingest"
	"github.com/joshu-sajeev/backfill/internal/job"
	"github.com/joshu-sajeev/backfill/internal/outcome"
	"github.com/joshu-sajeev/backfill/internal/progress"
	"github.com/joshu-sajeev/backfill/internal/storage/postgres"
	"github.com/joshu-sajeev/backfill/internal/watchdog"
	"github.com/joshu-sajeev/backfill/internal/worker"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type App struct {
	Jobs       *postgres.JobRepository
	Chunks     *postgres.ChunkRepository
	Heartbeats *postgres.HeartbeatRepository

	JobService *job.JobService
	Dispatcher *dispatch.Dispatcher
	Watchdog   *watchdog.Watchdog

	closers []func() error
}

// New builds every component. Redis, S3 and RabbitMQ are optional and only
// used when configured.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB) (*App, error) {
	a := &App{
		Jobs:       postgres.NewJobRepository(db),
		Chunks:     postgres.NewChunkRepository(db),
		Heartbeats: postgres.NewHeartbeatRepository(db),
	}

	var provider credentials.Provider = credentials.NewStore(postgres.NewCredentialRepository(db))
	switch {
	case cfg.Redis.Address != "" && cfg.Redis.CacheKey == "":
		log.Warn().Msg("REDIS_ADDR set without CREDENTIALS_CACHE_KEY, credentials cache disabled")
	case cfg.Redis.Address != "":
		key, err := credentials.ParseCacheKey(cfg.Redis.CacheKey)
		if err != nil {
			return nil, err
		}
		cache, err := credentials.NewRedisCache(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cache.Close)
		cached, err := credentials.NewCachedProvider(provider, cache, cfg.Redis.TTL, key)
		if err != nil {
			a.Close()
			return nil, err
		}
		provider = cached
	}

	var archiver archive.Archiver = archive.Noop{}
	if cfg.Archive.Bucket != "" {
		s3, err := archive.NewS3Archiver(ctx, cfg.Archive.Bucket, cfg.Archive.Region, cfg.Archive.Prefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		archiver = s3
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.AMQP.URL != "" {
		amqp, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		publisher = amqp
	}
	a.closers = append(a.closers, publisher.Close)

	aggregator := progress.NewAggregator(a.Jobs, a.Chunks, publisher)

	client := export.New(export.Options{
		PollInterval:      cfg.Export.PollInterval,
		PollAttempts:      cfg.Export.PollAttempts,
		RequestsPerMinute: cfg.Export.RequestsPerMinute,
		HTTPTimeout:       cfg.Export.HTTPTimeout,
		MaxResponseBytes:  cfg.Export.MaxResponseBytes,
	})
	upserter := ingest.NewUpserter(postgres.NewContributionRepository(db), cfg.Upsert.BatchSize, cfg.Upsert.BatchDelay)

	a.Dispatcher = dispatch.New(
		a.Chunks,
		a.Jobs,
		provider,
		worker.NewProcessor(client, upserter, archiver),
		outcome.NewManager(a.Chunks),
		aggregator,
		cfg.Dispatch.MaxParallelChunks,
	)

	a.Watchdog = watchdog.New(a.Chunks, a.Jobs, a.Heartbeats, aggregator, watchdog.Thresholds{
		StuckChunk:     cfg.Watchdog.StuckChunkThreshold,
		StuckJob:       cfg.Watchdog.StuckJobThreshold,
		StaleHeartbeat: cfg.Watchdog.StaleHeartbeatThreshold,
	})

	a.JobService = job.NewJobService(a.Jobs, a.Chunks, aggregator, cfg.Dispatch.MaxAttempts)

	return a, nil
}

// Close releases broker and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Error while closing connections")
		return err
	}
	return nil
}
