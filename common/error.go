package common

import (
	"errors"
	"fmt"
)

type APIError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

func Errf(status int, format string, args ...any) APIError {
	return APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError creates an APIError with status, message, and optional fields
func NewAPIError(status int, message string, fields map[string]any) APIError {
	return APIError{
		Status:  status,
		Message: message,
		Fields:  fields,
	}
}

// ConfigError marks a failure caused by missing or invalid organization
// configuration. Retrying cannot fix it.
type ConfigError struct {
	Organization string
	Err          error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for organization %s: %v", e.Organization, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Permanent is implemented by errors that know whether a retry could help.
type Permanent interface {
	Permanent() bool
}

func (e *ConfigError) Permanent() bool { return true }

// IsPermanent reports whether err (or anything it wraps) must not be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return true
	}
	var p Permanent
	if errors.As(err, &p) {
		return p.Permanent()
	}
	return false
}
