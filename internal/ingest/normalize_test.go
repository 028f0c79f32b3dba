package ingest

import (
	"testing"
	"time"

	"github.com/joshu-sajeev/backfill/internal/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaturalID(t *testing.T) {
	tests := []struct {
		name string
		row  export.Row
		want string
	}{
		{"receipt id wins", export.Row{"receipt_id": "r-1", "lineitem_id": "l-1", "id": "1"}, "r-1"},
		{"falls back to lineitem id", export.Row{"receipt_id": " ", "lineitem_id": "l-1"}, "l-1"},
		{"falls back to id", export.Row{"id": "42"}, "42"},
		{"no identity", export.Row{"email": "a@example.com"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NaturalID(tt.row))
		})
	}
}

func TestNormalize(t *testing.T) {
	rows := []export.Row{
		{"receipt_id": "r-1", "donor_email": "a@example.com", "donor_first_name": "Ada", "amount": "$1,250.50", "date": "2024-01-02 15:04:05"},
		{"email": "nobody@example.com"},
		{"receipt_id": "r-1", "donor_email": "dup@example.com"},
		{"receipt_id": "r-2", "amount": "not a number", "paid_at": "yesterday"},
	}

	got, skipped := Normalize("org-1", rows)

	assert.Equal(t, 2, skipped)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "r-1", first.ExternalID)
	assert.Equal(t, "org-1", first.OrganizationID)
	assert.Equal(t, "a@example.com", first.Email)
	assert.Equal(t, "Ada", first.FirstName)
	require.NotNil(t, first.Amount)
	assert.InDelta(t, 1250.50, *first.Amount, 0.001)
	require.NotNil(t, first.PaidAt)
	assert.Equal(t, time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC), *first.PaidAt)
	assert.JSONEq(t, `{"receipt_id":"r-1","donor_email":"a@example.com","donor_first_name":"Ada","amount":"$1,250.50","date":"2024-01-02 15:04:05"}`, string(first.Raw))

	second := got[1]
	assert.Equal(t, "r-2", second.ExternalID)
	assert.Nil(t, second.Amount)
	assert.Nil(t, second.PaidAt)
}
