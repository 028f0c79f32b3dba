// Package credentials resolves the upstream export credentials of an
// organization.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joshu-sajeev/backfill/common"
	"github.com/joshu-sajeev/backfill/internal/models"
)

// ErrNotFound is returned by a Source that has no row for an organization.
var ErrNotFound = errors.New("credentials not found")

// Credentials are what the export client needs to talk to the upstream API
// on behalf of one organization.
type Credentials struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	Username       string `json:"username" validate:"required"`
	Secret         string `json:"secret" validate:"required"`
	BaseURL        string `json:"base_url" validate:"required,url"`
}

// Source is the persistent credentials store.
type Source interface {
	Get(ctx context.Context, organizationID string) (*models.OrganizationCredential, error)
}

// Provider is what the dispatcher reads credentials through.
type Provider interface {
	Get(ctx context.Context, organizationID string) (*Credentials, error)
}

var validate = validator.New()

// Store reads credentials from a Source and validates them.
type Store struct {
	source Source
}

func NewStore(source Source) *Store {
	return &Store{source: source}
}

var _ Provider = (*Store)(nil)

// Get returns a *common.ConfigError when credentials are missing or invalid,
// and a plain error when the source itself failed.
func (s *Store) Get(ctx context.Context, organizationID string) (*Credentials, error) {
	row, err := s.source.Get(ctx, organizationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &common.ConfigError{Organization: organizationID, Err: err}
		}
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	creds := &Credentials{
		OrganizationID: row.OrganizationID,
		Username:       row.Username,
		Secret:         row.Secret,
		BaseURL:        strings.TrimRight(row.BaseURL, "/"),
	}
	if err := Validate(creds); err != nil {
		return nil, &common.ConfigError{Organization: organizationID, Err: err}
	}
	return creds, nil
}

// Validate reports which fields of c are missing or malformed.
func Validate(c *Credentials) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, e := range verrs {
				fields = append(fields, e.Field()+" failed "+e.Tag())
			}
			return fmt.Errorf("invalid credentials: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid credentials: %w", err)
	}
	return nil
}
