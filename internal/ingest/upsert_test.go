package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/joshu-sajeev/backfill/internal/export"
	"github.com/joshu-sajeev/backfill/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter stores records in memory. Any batch containing an id listed in
// reject fails, and every call fails as unavailable once down is set.
type fakeWriter struct {
	stored map[string]models.Contribution
	reject map[string]bool
	down   bool
	calls  []int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{stored: map[string]models.Contribution{}, reject: map[string]bool{}}
}

func (w *fakeWriter) UpsertBatch(_ context.Context, records []models.Contribution) (int, int, error) {
	w.calls = append(w.calls, len(records))
	if w.down {
		return 0, 0, fmt.Errorf("upsert contributions: %w: %w", ErrDestinationUnavailable, errors.New("connection refused"))
	}
	for _, r := range records {
		if w.reject[r.ExternalID] {
			return 0, 0, fmt.Errorf("value too long for %s", r.ExternalID)
		}
	}

	inserted, updated := 0, 0
	for _, r := range records {
		if _, ok := w.stored[r.ExternalID]; ok {
			updated++
		} else {
			inserted++
		}
		w.stored[r.ExternalID] = r
	}
	return inserted, updated, nil
}

// dyingWriter goes down after failAfter calls.
type dyingWriter struct {
	*fakeWriter
	failAfter int
}

func (w *dyingWriter) UpsertBatch(ctx context.Context, records []models.Contribution) (int, int, error) {
	if len(w.calls) >= w.failAfter {
		w.down = true
	}
	return w.fakeWriter.UpsertBatch(ctx, records)
}

func rowsWithIDs(ids ...string) []export.Row {
	rows := make([]export.Row, len(ids))
	for i, id := range ids {
		rows[i] = export.Row{"receipt_id": id}
	}
	return rows
}

func TestUpserter_Ingest(t *testing.T) {
	t.Run("inserts in batches", func(t *testing.T) {
		w := newFakeWriter()
		u := NewUpserter(w, 2, 0)

		counts, err := u.Ingest(context.Background(), "org-1", rowsWithIDs("a", "b", "c", "d", "e"))
		require.NoError(t, err)

		assert.Equal(t, Counts{Processed: 5, Inserted: 5}, counts)
		assert.Equal(t, []int{2, 2, 1}, w.calls)
	})

	t.Run("re-ingesting the same rows updates", func(t *testing.T) {
		w := newFakeWriter()
		u := NewUpserter(w, 100, 0)

		_, err := u.Ingest(context.Background(), "org-1", rowsWithIDs("a", "b"))
		require.NoError(t, err)
		counts, err := u.Ingest(context.Background(), "org-1", rowsWithIDs("a", "b", "c"))
		require.NoError(t, err)

		assert.Equal(t, Counts{Processed: 3, Inserted: 1, Updated: 2}, counts)
		assert.Len(t, w.stored, 3)
	})

	t.Run("bad row is isolated and skipped", func(t *testing.T) {
		w := newFakeWriter()
		w.reject["b"] = true
		u := NewUpserter(w, 3, 0)

		rows := append(rowsWithIDs("a", "b", "c"), export.Row{"email": "no-id@example.com"})
		counts, err := u.Ingest(context.Background(), "org-1", rows)
		require.NoError(t, err)

		assert.Equal(t, Counts{Processed: 4, Inserted: 2, Skipped: 2}, counts)
		assert.Equal(t, []int{3, 1, 1, 1}, w.calls)
	})

	t.Run("single row batch failure is a skipped row", func(t *testing.T) {
		w := newFakeWriter()
		w.reject["a"] = true
		u := NewUpserter(w, 1, 0)

		counts, err := u.Ingest(context.Background(), "org-1", rowsWithIDs("a", "b"))
		require.NoError(t, err)
		assert.Equal(t, Counts{Processed: 2, Inserted: 1, Skipped: 1}, counts)
	})

	t.Run("batch where every row is bad is skipped", func(t *testing.T) {
		w := newFakeWriter()
		w.reject["bad-1"] = true
		w.reject["bad-2"] = true
		u := NewUpserter(w, 100, 0)

		ids := make([]string, 0, 102)
		for i := range 100 {
			ids = append(ids, fmt.Sprintf("good-%d", i))
		}
		ids = append(ids, "bad-1", "bad-2")

		counts, err := u.Ingest(context.Background(), "org-1", rowsWithIDs(ids...))
		require.NoError(t, err)
		assert.Equal(t, Counts{Processed: 102, Inserted: 100, Skipped: 2}, counts)
		assert.Equal(t, []int{100, 2, 1, 1}, w.calls)
	})

	t.Run("destination down fails the ingest", func(t *testing.T) {
		w := newFakeWriter()
		w.down = true
		u := NewUpserter(w, 10, 0)

		counts, err := u.Ingest(context.Background(), "org-1", rowsWithIDs("a", "b", "c"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDestinationUnavailable)
		assert.Zero(t, counts.Skipped)
		assert.Equal(t, []int{3}, w.calls)
	})

	t.Run("destination lost while isolating rows", func(t *testing.T) {
		w := &dyingWriter{fakeWriter: newFakeWriter(), failAfter: 2}
		w.reject["b"] = true
		u := NewUpserter(w, 10, 0)

		counts, err := u.Ingest(context.Background(), "org-1", rowsWithIDs("a", "b", "c"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDestinationUnavailable)
		assert.Equal(t, 1, counts.Inserted)
		assert.Zero(t, counts.Skipped)
	})

	t.Run("cancelled while waiting between batches", func(t *testing.T) {
		w := newFakeWriter()
		u := NewUpserter(w, 1, time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		counts, err := u.Ingest(ctx, "org-1", rowsWithIDs("a", "b"))
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, counts.Inserted)
	})

	t.Run("nothing to write", func(t *testing.T) {
		w := newFakeWriter()
		counts, err := NewUpserter(w, 10, 0).Ingest(context.Background(), "org-1", nil)
		require.NoError(t, err)
		assert.Equal(t, Counts{}, counts)
		assert.Empty(t, w.calls)
	})
}

func TestSplitIntoBatches(t *testing.T) {
	records := make([]models.Contribution, 7)

	tests := []struct {
		name string
		size int
		want []int
	}{
		{"exact fit", 7, []int{7}},
		{"remainder", 3, []int{3, 3, 1}},
		{"size larger than input", 100, []int{7}},
		{"non-positive size", 0, []int{1, 1, 1, 1, 1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := SplitIntoBatches(records, tt.size)
			got := make([]int, len(batches))
			for i, b := range batches {
				got[i] = len(b)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Empty(t, SplitIntoBatches(nil, 5))
}
