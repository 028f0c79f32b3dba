// Package worker runs the export-and-ingest pipeline for one claimed chunk.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/joshu-sajeev/backfill/internal/archive"
	"github.com/joshu-sajeev/backfill/internal/credentials"
	"github.com/joshu-sajeev/backfill/internal/export"
	"github.com/joshu-sajeev/backfill/internal/ingest"
	"github.com/joshu-sajeev/backfill/internal/metrics"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/rs/zerolog/log"
)

type Fetcher interface {
	Fetch(ctx context.Context, creds credentials.Credentials, start, end time.Time) (*export.Export, error)
}

type Ingester interface {
	Ingest(ctx context.Context, org string, rows []export.Row) (ingest.Counts, error)
}

type Processor struct {
	fetcher  Fetcher
	ingester Ingester
	archiver archive.Archiver
}

func NewProcessor(fetcher Fetcher, ingester Ingester, archiver archive.Archiver) *Processor {
	if archiver == nil {
		archiver = archive.Noop{}
	}
	return &Processor{fetcher: fetcher, ingester: ingester, archiver: archiver}
}

// Process fetches the chunk's date window and upserts its rows. On return
// chunk.ExportID holds the upstream export id when one was created.
func (p *Processor) Process(ctx context.Context, chunk *models.Chunk, creds credentials.Credentials) (ingest.Counts, error) {
	logger := log.With().
		Uint("job_id", chunk.JobID).
		Uint("chunk_id", chunk.ID).
		Int("chunk_index", chunk.ChunkIndex).
		Str("organization_id", chunk.OrganizationID).
		Int("attempt", chunk.AttemptCount).
		Logger()

	logger.Info().
		Time("start_date", chunk.StartDate).
		Time("end_date", chunk.EndDate).
		Msg("Processing chunk")

	exp, err := p.fetcher.Fetch(ctx, creds, chunk.StartDate, chunk.EndDate)
	if err != nil {
		var fetchErr *export.FetchError
		if errors.As(err, &fetchErr) {
			chunk.ExportID = fetchErr.ExportID
			metrics.ExportErrors.WithLabelValues(string(fetchErr.Stage), string(fetchErr.Kind)).Inc()
		}
		logger.Warn().Err(err).Msg("Export fetch failed")
		return ingest.Counts{}, err
	}
	chunk.ExportID = exp.ID

	key := archive.Key(chunk.OrganizationID, chunk.JobID, chunk.ChunkIndex, chunk.StartDate, chunk.EndDate, exp.ID)
	if err := p.archiver.Store(ctx, key, exp.Raw); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Failed to archive export")
	}

	counts, err := p.ingester.Ingest(ctx, chunk.OrganizationID, exp.Rows)
	if err != nil {
		logger.Warn().Err(err).Msg("Ingest failed")
		return counts, err
	}

	logger.Info().
		Str("export_id", exp.ID).
		Int("processed", counts.Processed).
		Int("inserted", counts.Inserted).
		Int("updated", counts.Updated).
		Int("skipped", counts.Skipped).
		Msg("Chunk ingested")

	return counts, nil
}
