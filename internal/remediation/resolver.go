package remediation

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
)

// repoTagKeys are checked in order on both entity tags and enrichments.
var repoTagKeys = []string{"repo", "github_repo"}

// Resolver maps an entity to the repository a fix would land in.
type Resolver struct {
	serviceMapping map[string]string
	logger         *logging.Logger
}

// NewResolver creates a Resolver. serviceMapping maps service name to
// "owner/name" and may be nil.
func NewResolver(serviceMapping map[string]string, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{serviceMapping: serviceMapping, logger: logger}
}

// Resolve returns the repository for an entity, or nil when none applies.
// Priority: explicit entity tags, then enrichments, then the service mapping.
// Malformed values are skipped, not fatal: a later source may still match.
func (r *Resolver) Resolve(ctx context.Context, ec *entity.Context) *RepositoryReference {
	for _, key := range repoTagKeys {
		if raw, ok := ec.Tag(key); ok {
			if ref, ok := parseRepositoryReference(raw); ok {
				return ref
			}
			r.logger.Warn(ctx, "skipping malformed repository tag",
				zap.String("key", key),
				zap.String("value", raw))
		}
	}

	for _, key := range repoTagKeys {
		if raw, ok := ec.Enrichment(key); ok {
			if ref, ok := parseRepositoryReference(raw); ok {
				return ref
			}
			r.logger.Warn(ctx, "skipping malformed repository enrichment",
				zap.String("key", key),
				zap.String("value", raw))
		}
	}

	for _, service := range ec.Services() {
		raw, ok := r.serviceMapping[service]
		if !ok {
			continue
		}
		if ref, ok := parseRepositoryReference(raw); ok {
			return ref
		}
		r.logger.Warn(ctx, "skipping malformed service mapping entry",
			zap.String("service", service),
			zap.String("value", raw))
	}

	r.logger.Debug(ctx, "no repository resolved for entity",
		zap.String("entity_id", ec.ID))
	return nil
}
