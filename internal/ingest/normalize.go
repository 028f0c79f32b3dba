// Package ingest turns parsed export rows into contributions and writes them
// idempotently on their natural key.
package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/joshu-sajeev/backfill/internal/export"
	"github.com/joshu-sajeev/backfill/internal/models"
	"gorm.io/datatypes"
)

// naturalIDColumns are tried in order; the first non-empty one wins.
var naturalIDColumns = []string{"receipt_id", "lineitem_id", "id"}

var paidAtLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// NaturalID returns the row's identity within an organization, or "".
func NaturalID(row export.Row) string {
	for _, col := range naturalIDColumns {
		if v := strings.TrimSpace(row[col]); v != "" {
			return v
		}
	}
	return ""
}

// Normalize maps rows to contributions of org. Rows without a natural id are
// skipped, and repeated natural ids keep their first occurrence.
func Normalize(org string, rows []export.Row) ([]models.Contribution, int) {
	out := make([]models.Contribution, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	skipped := 0

	for _, row := range rows {
		id := NaturalID(row)
		if id == "" {
			skipped++
			continue
		}
		if _, dup := seen[id]; dup {
			skipped++
			continue
		}
		seen[id] = struct{}{}

		c := models.Contribution{
			ExternalID:     id,
			OrganizationID: org,
			Email:          first(row, "donor_email", "email"),
			FirstName:      first(row, "donor_first_name", "first_name"),
			LastName:       first(row, "donor_last_name", "last_name"),
			Refcode:        first(row, "reference_code", "refcode"),
			Amount:         parseAmount(first(row, "amount")),
			PaidAt:         parsePaidAt(first(row, "date", "paid_at", "created_at")),
		}
		if raw, err := json.Marshal(row); err == nil {
			c.Raw = datatypes.JSON(raw)
		}
		out = append(out, c)
	}
	return out, skipped
}

func first(row export.Row, cols ...string) string {
	for _, col := range cols {
		if v := strings.TrimSpace(row[col]); v != "" {
			return v
		}
	}
	return ""
}

func parseAmount(s string) *float64 {
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parsePaidAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range paidAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
