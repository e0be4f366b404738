package remediation

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
)

// Status is a job's lifecycle state. Transitions are monotonic:
// pending -> success or pending -> failed, terminal states are final.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Job tracks one remediation run from submission to terminal state.
type Job struct {
	ID          string
	TenantID    string
	EntityType  entity.Type
	EntityID    string
	Fingerprint string
	Status      Status
	Error       string

	// Result fields, populated on success.
	PRURL   string
	Repo    string
	Summary string

	StartedAt   time.Time
	CompletedAt *time.Time
}

// Request is a remediation submission.
type Request struct {
	TenantID   string
	EntityType entity.Type
	EntityID   string
}

// Fingerprint is the duplicate-detection key for a submission.
func (r Request) Fingerprint() string {
	return fmt.Sprintf("%s:%s:%s", r.TenantID, r.EntityType, r.EntityID)
}

// Result carries the outcome of a successful pipeline run.
type Result struct {
	PRURL   string
	Repo    string
	Summary string
}

// RepositoryReference identifies a GitHub repository. A nil pointer means no
// repository could be resolved for the entity.
type RepositoryReference struct {
	Owner string
	Name  string
}

func (r *RepositoryReference) String() string {
	if r == nil {
		return ""
	}
	return r.Owner + "/" + r.Name
}

// parseRepositoryReference accepts strict "owner/name" values.
func parseRepositoryReference(s string) (*RepositoryReference, bool) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}
	return &RepositoryReference{Owner: parts[0], Name: parts[1]}, true
}
