// Package export drives the upstream asynchronous CSV export protocol:
// create an export, poll until it is ready, then download and parse it.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/joshu-sajeev/backfill/internal/credentials"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const dateLayout = "2006-01-02"

// defaultMaxResponseBytes caps any single upstream body, CSV included.
const defaultMaxResponseBytes = 256 << 20

const (
	statusComplete = "complete"
	statusFailed   = "failed"
)

type Options struct {
	PollInterval      time.Duration
	PollAttempts      int
	RequestsPerMinute int
	HTTPTimeout       time.Duration
	// MaxResponseBytes bounds every response body read into memory.
	MaxResponseBytes int64
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client is safe for concurrent use. All requests share one rate limiter.
type Client struct {
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	pollAttempts int
	maxBytes     int64
}

// Export is a downloaded and parsed upstream export.
type Export struct {
	ID   string
	Rows []Row
	Raw  []byte
}

type createRequest struct {
	CSVType        string `json:"csv_type"`
	DateRangeStart string `json:"date_range_start"`
	DateRangeEnd   string `json:"date_range_end"`
}

type createResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.HTTPTimeout}
	}

	rpm := opts.RequestsPerMinute
	if rpm < 1 {
		rpm = 60
	}

	maxBytes := opts.MaxResponseBytes
	if maxBytes < 1 {
		maxBytes = defaultMaxResponseBytes
	}

	log.Info().
		Int("requests_per_minute", rpm).
		Dur("poll_interval", opts.PollInterval).
		Int("poll_attempts", opts.PollAttempts).
		Int64("max_response_bytes", maxBytes).
		Msg("Initializing export client")

	return &Client{
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
		maxBytes:     maxBytes,
	}
}

// Fetch runs create, poll and download for the inclusive date range
// [start, end]. It never retries; every failure is a *FetchError.
func (c *Client) Fetch(ctx context.Context, creds credentials.Credentials, start, end time.Time) (*Export, error) {
	id, err := c.create(ctx, creds, start, end)
	if err != nil {
		return nil, err
	}

	url, err := c.poll(ctx, creds, id)
	if err != nil {
		return nil, err
	}

	raw, err := c.download(ctx, id, url)
	if err != nil {
		return nil, err
	}

	rows, err := ParseCSV(raw)
	if err != nil {
		return nil, &FetchError{Stage: StageParse, Kind: KindTransient, ExportID: id, Err: err}
	}

	log.Debug().
		Str("organization_id", creds.OrganizationID).
		Str("export_id", id).
		Int("rows", len(rows)).
		Int("bytes", len(raw)).
		Msg("Export downloaded")

	return &Export{ID: id, Rows: rows, Raw: raw}, nil
}

func (c *Client) create(ctx context.Context, creds credentials.Credentials, start, end time.Time) (string, error) {
	body, err := json.Marshal(createRequest{
		CSVType:        "paid_contributions",
		DateRangeStart: start.Format(dateLayout),
		DateRangeEnd:   end.Format(dateLayout),
	})
	if err != nil {
		return "", &FetchError{Stage: StageCreate, Kind: KindPermanent, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.BaseURL+"/exports", bytes.NewReader(body))
	if err != nil {
		return "", &FetchError{Stage: StageCreate, Kind: KindPermanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(creds.Username, creds.Secret)

	code, respBody, err := c.do(req)
	if err != nil {
		return "", &FetchError{Stage: StageCreate, Kind: readKind(err), Err: err}
	}
	if code != http.StatusAccepted {
		return "", statusError(StageCreate, "", code, respBody)
	}

	var resp createResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.ID == "" {
		return "", &FetchError{
			Stage:      StageCreate,
			Kind:       KindTransient,
			StatusCode: code,
			Err:        fmt.Errorf("%w: missing export id", ErrNotAccepted),
		}
	}
	return resp.ID, nil
}

// poll waits pollInterval before each status check, pollAttempts times.
func (c *Client) poll(ctx context.Context, creds credentials.Credentials, id string) (string, error) {
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return "", &FetchError{Stage: StagePoll, Kind: KindTransient, ExportID: id, Err: ctx.Err()}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, creds.BaseURL+"/exports/"+id, nil)
		if err != nil {
			return "", &FetchError{Stage: StagePoll, Kind: KindPermanent, ExportID: id, Err: err}
		}
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth(creds.Username, creds.Secret)

		code, body, err := c.do(req)
		if err != nil {
			return "", &FetchError{Stage: StagePoll, Kind: readKind(err), ExportID: id, Err: err}
		}
		if code != http.StatusOK {
			return "", statusError(StagePoll, id, code, body)
		}

		var status statusResponse
		if err := json.Unmarshal(body, &status); err != nil {
			return "", &FetchError{Stage: StagePoll, Kind: KindTransient, ExportID: id, StatusCode: code, Err: err}
		}

		log.Debug().
			Str("export_id", id).
			Int("attempt", attempt).
			Str("status", status.Status).
			Msg("Polled export status")

		switch status.Status {
		case statusComplete:
			if status.DownloadURL == "" {
				return "", &FetchError{Stage: StagePoll, Kind: KindTransient, ExportID: id, Err: fmt.Errorf("%w: complete without download url", ErrExportFailed)}
			}
			return status.DownloadURL, nil
		case statusFailed:
			return "", &FetchError{Stage: StagePoll, Kind: KindTransient, ExportID: id, Err: ErrExportFailed}
		}
	}

	return "", &FetchError{Stage: StagePoll, Kind: KindTransient, ExportID: id, Err: ErrPollTimeout}
}

func (c *Client) download(ctx context.Context, id, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Stage: StageDownload, Kind: KindTransient, ExportID: id, Err: err}
	}

	code, body, err := c.do(req)
	if err != nil {
		return nil, &FetchError{Stage: StageDownload, Kind: readKind(err), ExportID: id, Err: err}
	}
	if code != http.StatusOK {
		return nil, statusError(StageDownload, id, code, body)
	}
	return body, nil
}

// do waits for the rate limiter, sends req and reads the body, up to
// maxBytes.
func (c *Client) do(req *http.Request) (int, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > c.maxBytes {
		return resp.StatusCode, nil, fmt.Errorf("%w: content length %d > %d", ErrResponseTooLarge, resp.ContentLength, c.maxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBytes {
		return resp.StatusCode, nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBytes)
	}
	return resp.StatusCode, body, nil
}

func readKind(err error) Kind {
	if errors.Is(err, ErrResponseTooLarge) {
		return KindPermanent
	}
	return KindTransient
}
