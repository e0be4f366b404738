package evidence

import (
	"context"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// Bundle is structured error evidence pulled from the issue tracker. Any
// field other than IssueID and IssueURL may be empty; partial evidence is
// expected and never fails the pipeline.
type Bundle struct {
	IssueID            string
	IssueURL           string
	ExceptionType      string
	Message            string
	Culprit            string
	StacktraceTopFrame string
	FullStacktrace     string
}

// Credentials are tenant-scoped issue tracker credentials.
type Credentials struct {
	Token config.Secret
	Org   string
}

// CredentialStore resolves issue tracker credentials for a tenant. A nil
// result with nil error means the tenant has no tracker configured, which
// disables evidence fetching without error.
type CredentialStore interface {
	IssueTrackerCredentials(ctx context.Context, tenantID string) (*Credentials, error)
}
