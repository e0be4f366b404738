package tenant

import (
	"context"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
)

// CredentialStore serves issue tracker credentials from static configuration.
// Every tenant shares the configured token; an unset token means no tenant
// has credentials and evidence fetching is skipped.
type CredentialStore struct {
	cfg config.SentryConfig
}

// NewCredentialStore creates a config-backed credential store.
func NewCredentialStore(cfg config.SentryConfig) *CredentialStore {
	return &CredentialStore{cfg: cfg}
}

// IssueTrackerCredentials returns the shared credentials, or (nil, nil) when
// none are configured.
func (s *CredentialStore) IssueTrackerCredentials(_ context.Context, _ string) (*evidence.Credentials, error) {
	if !s.cfg.AuthToken.IsSet() {
		return nil, nil
	}
	return &evidence.Credentials{
		Token: s.cfg.AuthToken,
		Org:   s.cfg.Org,
	}, nil
}
