package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshu-sajeev/backfill/common"
	"github.com/joshu-sajeev/backfill/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "Receipt ID,Donor Email,Amount\nr-1,a@example.com,10.00\nr-2,b@example.com,25.50\n"

// fakeUpstream serves the export protocol. pollsUntilDone status checks
// answer "pending" before the export reports finalStatus.
type fakeUpstream struct {
	createStatus   int
	pollsUntilDone int
	finalStatus    string
	downloadStatus int
	// downloadBody replaces sampleCSV when set.
	downloadBody []byte

	polls   atomic.Int32
	created atomic.Pointer[createRequest]
	server  *httptest.Server
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{
		createStatus:   http.StatusAccepted,
		finalStatus:    statusComplete,
		downloadStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /exports", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body createRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.created.Store(&body)
		w.WriteHeader(f.createStatus)
		if f.createStatus == http.StatusAccepted {
			_ = json.NewEncoder(w).Encode(createResponse{ID: "exp-1"})
		}
	})
	mux.HandleFunc("GET /exports/{id}", func(w http.ResponseWriter, r *http.Request) {
		status := "pending"
		if int(f.polls.Add(1)) > f.pollsUntilDone {
			status = f.finalStatus
		}
		resp := statusResponse{ID: r.PathValue("id"), Status: status}
		if status == statusComplete {
			resp.DownloadURL = f.server.URL + "/files/exp-1.csv"
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /files/exp-1.csv", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			t.Error("download must not send credentials")
		}
		w.WriteHeader(f.downloadStatus)
		if f.downloadStatus != http.StatusOK {
			return
		}
		if f.downloadBody != nil {
			_, _ = w.Write(f.downloadBody)
			return
		}
		_, _ = w.Write([]byte(sampleCSV))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUpstream) creds() credentials.Credentials {
	return credentials.Credentials{
		OrganizationID: "org-1",
		Username:       "user",
		Secret:         "secret",
		BaseURL:        f.server.URL,
	}
}

func testClient(pollAttempts int) *Client {
	return New(Options{
		PollInterval:      time.Millisecond,
		PollAttempts:      pollAttempts,
		RequestsPerMinute: 600000,
		HTTPTimeout:       5 * time.Second,
	})
}

var (
	rangeStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)
)

func TestClient_Fetch(t *testing.T) {
	t.Run("success after polling", func(t *testing.T) {
		up := newFakeUpstream(t)
		up.pollsUntilDone = 2

		exp, err := testClient(5).Fetch(t.Context(), up.creds(), rangeStart, rangeEnd)
		require.NoError(t, err)

		assert.Equal(t, "exp-1", exp.ID)
		assert.Equal(t, []byte(sampleCSV), exp.Raw)
		require.Len(t, exp.Rows, 2)
		assert.Equal(t, "r-1", exp.Rows[0]["receipt_id"])
		assert.Equal(t, "b@example.com", exp.Rows[1]["donor_email"])
		assert.Equal(t, int32(3), up.polls.Load())

		assert.Equal(t, &createRequest{
			CSVType:        "paid_contributions",
			DateRangeStart: "2024-01-01",
			DateRangeEnd:   "2024-01-30",
		}, up.created.Load())
	})

	t.Run("rejected credentials are permanent", func(t *testing.T) {
		up := newFakeUpstream(t)
		creds := up.creds()
		creds.Secret = "wrong"

		_, err := testClient(5).Fetch(t.Context(), creds, rangeStart, rangeEnd)
		require.Error(t, err)

		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, StageCreate, fe.Stage)
		assert.Equal(t, http.StatusUnauthorized, fe.StatusCode)
		assert.True(t, fe.Permanent())
		assert.True(t, common.IsPermanent(err))
	})

	t.Run("server error is transient", func(t *testing.T) {
		up := newFakeUpstream(t)
		up.createStatus = http.StatusServiceUnavailable

		_, err := testClient(5).Fetch(t.Context(), up.creds(), rangeStart, rangeEnd)
		require.Error(t, err)
		assert.False(t, common.IsPermanent(err))
		assert.ErrorIs(t, err, ErrNotAccepted)
	})

	t.Run("poll budget exhausted", func(t *testing.T) {
		up := newFakeUpstream(t)
		up.pollsUntilDone = 100

		_, err := testClient(3).Fetch(t.Context(), up.creds(), rangeStart, rangeEnd)
		require.Error(t, err)

		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.True(t, fe.Timeout())
		assert.Equal(t, "exp-1", fe.ExportID)
		assert.Equal(t, int32(3), up.polls.Load())
		assert.False(t, fe.Permanent())
	})

	t.Run("upstream reports failure", func(t *testing.T) {
		up := newFakeUpstream(t)
		up.finalStatus = statusFailed

		_, err := testClient(3).Fetch(t.Context(), up.creds(), rangeStart, rangeEnd)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExportFailed)
		assert.Equal(t, int32(1), up.polls.Load())
	})

	t.Run("download failure keeps the export id", func(t *testing.T) {
		up := newFakeUpstream(t)
		up.downloadStatus = http.StatusNotFound

		_, err := testClient(3).Fetch(t.Context(), up.creds(), rangeStart, rangeEnd)
		require.Error(t, err)

		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, StageDownload, fe.Stage)
		assert.Equal(t, "exp-1", fe.ExportID)
	})

	t.Run("cancelled context stops polling", func(t *testing.T) {
		up := newFakeUpstream(t)
		up.pollsUntilDone = 1000

		client := New(Options{
			PollInterval:      time.Hour,
			PollAttempts:      3,
			RequestsPerMinute: 600000,
		})

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()

		_, err := client.Fetch(ctx, up.creds(), rangeStart, rangeEnd)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestClient_Fetch_ResponseLimit(t *testing.T) {
	limited := func(maxBytes int64) *Client {
		return New(Options{
			PollInterval:      time.Millisecond,
			PollAttempts:      3,
			RequestsPerMinute: 600000,
			HTTPTimeout:       5 * time.Second,
			MaxResponseBytes:  maxBytes,
		})
	}

	t.Run("oversized download is a permanent failure", func(t *testing.T) {
		up := newFakeUpstream(t)
		up.downloadBody = []byte(sampleCSV + strings.Repeat("r-9,z@example.com,1.00\n", 200))

		_, err := limited(1024).Fetch(t.Context(), up.creds(), rangeStart, rangeEnd)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrResponseTooLarge)

		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, StageDownload, fe.Stage)
		assert.Equal(t, KindPermanent, fe.Kind)
		assert.True(t, common.IsPermanent(err))
	})

	t.Run("oversized create response stops early", func(t *testing.T) {
		up := newFakeUpstream(t)

		_, err := limited(4).Fetch(t.Context(), up.creds(), rangeStart, rangeEnd)
		require.Error(t, err)

		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, StageCreate, fe.Stage)
		assert.ErrorIs(t, err, ErrResponseTooLarge)
		assert.Zero(t, up.polls.Load())
	})

	t.Run("body exactly at the limit is accepted", func(t *testing.T) {
		up := newFakeUpstream(t)
		up.downloadBody = []byte(sampleCSV + strings.Repeat("\n", 1024-len(sampleCSV)))

		exp, err := limited(1024).Fetch(t.Context(), up.creds(), rangeStart, rangeEnd)
		require.NoError(t, err)
		assert.Len(t, exp.Rows, 2)
	})
}

func TestFetchError_Error(t *testing.T) {
	err := &FetchError{Stage: StagePoll, ExportID: "exp-9", StatusCode: 500, Err: ErrNotAccepted}
	assert.Equal(t, "export poll failed (export exp-9): status 500: export request not accepted", err.Error())
}
