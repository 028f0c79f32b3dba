package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/export"
	"github.com/joshu-sajeev/backfill/internal/metrics"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/rs/zerolog/log"
)

// Writer upserts contributions of a single organization on
// (external_id, organization_id). Populated stored fields must win.
type Writer interface {
	UpsertBatch(ctx context.Context, records []models.Contribution) (inserted, updated int, err error)
}

type Counts struct {
	Processed int
	Inserted  int
	Updated   int
	Skipped   int
}

// RowError is a single row the destination rejected. It is counted as
// skipped and never fails the chunk.
type RowError struct {
	ExternalID string
	Err        error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %s rejected: %v", e.ExternalID, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ErrDestinationUnavailable marks a Writer error caused by the destination
// itself (lost connection, driver failure) rather than by the rows. Writers
// wrap it so Ingest can stop instead of skipping rows that never got a chance.
var ErrDestinationUnavailable = errors.New("destination unavailable")

// outage reports whether err should abort the ingest instead of being
// charged to rows.
func outage(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrDestinationUnavailable) {
		return err
	}
	return nil
}

type Upserter struct {
	writer     Writer
	batchSize  int
	batchDelay time.Duration
}

func NewUpserter(writer Writer, batchSize int, batchDelay time.Duration) *Upserter {
	if batchSize < 1 {
		batchSize = config.DefaultUpsertBatchSize
	}
	return &Upserter{writer: writer, batchSize: batchSize, batchDelay: batchDelay}
}

// Ingest normalizes rows and upserts them batch by batch. A failing batch is
// retried row by row so one bad row only costs itself.
func (u *Upserter) Ingest(ctx context.Context, org string, rows []export.Row) (Counts, error) {
	records, skipped := Normalize(org, rows)
	counts := Counts{Processed: len(rows), Skipped: skipped}

	for i, batch := range SplitIntoBatches(records, u.batchSize) {
		if i > 0 && u.batchDelay > 0 {
			select {
			case <-time.After(u.batchDelay):
			case <-ctx.Done():
				return counts, ctx.Err()
			}
		}

		inserted, updated, err := u.writer.UpsertBatch(ctx, batch)
		if err == nil {
			counts.Inserted += inserted
			counts.Updated += updated
			continue
		}
		if stop := outage(ctx, err); stop != nil {
			return counts, stop
		}

		log.Warn().
			Err(err).
			Str("organization_id", org).
			Int("batch", i).
			Int("rows", len(batch)).
			Msg("Batch upsert failed, isolating rows")

		if err := u.isolate(ctx, org, batch, &counts); err != nil {
			return counts, err
		}
	}

	metrics.RowsIngested.WithLabelValues("inserted").Add(float64(counts.Inserted))
	metrics.RowsIngested.WithLabelValues("updated").Add(float64(counts.Updated))
	metrics.RowsIngested.WithLabelValues("skipped").Add(float64(counts.Skipped))

	return counts, nil
}

// isolate writes batch one row at a time. Rows that fail on their own are
// skipped no matter how many of them there are.
func (u *Upserter) isolate(ctx context.Context, org string, batch []models.Contribution, counts *Counts) error {
	for _, rec := range batch {
		inserted, updated, err := u.writer.UpsertBatch(ctx, []models.Contribution{rec})
		if err != nil {
			if stop := outage(ctx, err); stop != nil {
				return stop
			}
			rowErr := &RowError{ExternalID: rec.ExternalID, Err: err}
			log.Warn().Err(rowErr).Str("organization_id", org).Msg("Skipping row")
			counts.Skipped++
			continue
		}
		counts.Inserted += inserted
		counts.Updated += updated
	}
	return nil
}

// SplitIntoBatches splits records into consecutive slices of at most size.
func SplitIntoBatches(records []models.Contribution, size int) [][]models.Contribution {
	if size < 1 {
		size = 1
	}
	batches := make([][]models.Contribution, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}
	return batches
}
