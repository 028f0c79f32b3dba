package export

import (
	"errors"
	"fmt"
	"net/http"
)

type Stage string

const (
	StageCreate   Stage = "create"
	StagePoll     Stage = "poll"
	StageDownload Stage = "download"
	StageParse    Stage = "parse"
)

type Kind string

const (
	// KindTransient failures may succeed on a later attempt of the chunk.
	KindTransient Kind = "transient"
	// KindPermanent failures need an operator, e.g. rejected credentials.
	KindPermanent Kind = "permanent"
)

var (
	ErrPollTimeout  = errors.New("export did not complete in time")
	ErrExportFailed = errors.New("upstream reported export failure")
	ErrNotAccepted  = errors.New("export request not accepted")
	// ErrResponseTooLarge is permanent: the same range yields the same body.
	ErrResponseTooLarge = errors.New("upstream response exceeds size limit")
)

// FetchError is the single error type returned by Client.Fetch.
type FetchError struct {
	Stage      Stage
	Kind       Kind
	StatusCode int
	ExportID   string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("export %s failed", e.Stage)
	if e.ExportID != "" {
		msg += fmt.Sprintf(" (export %s)", e.ExportID)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Permanent() bool {
	return e.Kind == KindPermanent
}

// Timeout reports whether the export never completed within the poll budget.
func (e *FetchError) Timeout() bool {
	return errors.Is(e.Err, ErrPollTimeout)
}

// kindForStatus classifies an unexpected upstream status code. Only rejected
// credentials are permanent; everything else is left to chunk retries.
func kindForStatus(code int) Kind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindPermanent
	}
	return KindTransient
}

func statusError(stage Stage, exportID string, code int, body []byte) *FetchError {
	var err error = ErrNotAccepted
	if len(body) > 0 {
		err = fmt.Errorf("%w: %s", ErrNotAccepted, truncate(string(body), 200))
	}
	return &FetchError{
		Stage:      stage,
		Kind:       kindForStatus(code),
		StatusCode: code,
		ExportID:   exportID,
		Err:        err,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
