package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "org-1/job-12/001_20240131_20240229_exp-7.csv", Key("org-1", 12, 1, start, end, "exp-7"))
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Store(context.Background(), "k", []byte("data")))
}
