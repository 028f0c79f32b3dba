package job

import (
	"fmt"
	"time"

	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/models"
)

const (
	dateLayout = "2006-01-02"
	// maxChunksPerJob caps a single plan; larger ranges need bigger chunk_days.
	maxChunksPerJob = 1000
)

// PlanChunks splits the inclusive day range [start, end] into consecutive
// windows of chunkDays days. The last window is cut short at end.
func PlanChunks(org string, start, end time.Time, chunkDays, maxAttempts int) ([]models.Chunk, error) {
	start = truncateDay(start)
	end = truncateDay(end)

	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s", end.Format(dateLayout), start.Format(dateLayout))
	}
	if chunkDays < 1 {
		chunkDays = config.DefaultChunkDays
	}
	if maxAttempts < 1 {
		maxAttempts = config.DefaultMaxAttempts
	}

	days := int(end.Sub(start).Hours()/24) + 1
	count := (days + chunkDays - 1) / chunkDays
	if count > maxChunksPerJob {
		return nil, fmt.Errorf("range of %d days needs %d chunks, limit is %d", days, count, maxChunksPerJob)
	}

	chunks := make([]models.Chunk, 0, count)
	for i := 0; i < count; i++ {
		from := start.AddDate(0, 0, i*chunkDays)
		to := from.AddDate(0, 0, chunkDays-1)
		if to.After(end) {
			to = end
		}
		chunks = append(chunks, models.Chunk{
			OrganizationID: org,
			ChunkIndex:     i,
			StartDate:      from,
			EndDate:        to,
			Status:         config.ChunkStatusPending,
			MaxAttempts:    maxAttempts,
		})
	}
	return chunks, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
