package remediation

import (
	"context"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
	"github.com/fyrsmithlabs/remedyd/internal/publish"
	"github.com/fyrsmithlabs/remedyd/internal/rca"
)

// EntityStore loads entity snapshots from the monitoring system. A (nil, nil)
// return means the entity does not exist.
type EntityStore interface {
	Entity(ctx context.Context, tenantID string, typ entity.Type, id string) (*entity.Context, error)
}

// EnrichmentWriter pushes remediation state back onto the entity so operators
// see progress in the monitoring console. Write failures never fail a job.
type EnrichmentWriter interface {
	WriteEnrichment(ctx context.Context, tenantID string, typ entity.Type, id string, fields map[string]string) error
}

// EvidenceFetcher gathers issue-tracker evidence for an entity.
type EvidenceFetcher interface {
	Fetch(ctx context.Context, tenantID string, ec *entity.Context) (*evidence.Bundle, error)
}

// ReportGenerator produces an RCA report. Never fails.
type ReportGenerator interface {
	Generate(ctx context.Context, ec *entity.Context, bundle *evidence.Bundle, repo string) *rca.Report
}

// PullRequestPublisher opens a draft PR carrying the report.
type PullRequestPublisher interface {
	Publish(ctx context.Context, req publish.Request) (string, error)
}

// FeatureGate answers per-tenant entitlement questions.
type FeatureGate interface {
	HasAccess(ctx context.Context, tenantID, feature string) bool
	QuotaRemaining(ctx context.Context, tenantID, feature string) bool
}

// FeatureAIRemediation is the feature key gating this pipeline.
const FeatureAIRemediation = "ai_remediation"
