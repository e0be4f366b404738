// Package tenant answers per-tenant entitlement questions: feature access and
// monthly quota, plus tenant-scoped issue tracker credentials.
package tenant

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/remediation"
)

// Gate implements remediation.FeatureGate from static configuration plus the
// job store for usage accounting.
type Gate struct {
	globalEnabled bool
	overrides     map[string]config.TenantOverride
	store         remediation.JobStore
	logger        *logging.Logger
	now           func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger.
func WithGateLogger(logger *logging.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// WithGateClock overrides the clock used for month boundaries.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a feature gate. store is used for quota accounting and may
// not be nil.
func NewGate(cfg config.RemediationConfig, overrides map[string]config.TenantOverride, store remediation.JobStore, opts ...GateOption) *Gate {
	g := &Gate{
		globalEnabled: cfg.Enabled,
		overrides:     overrides,
		store:         store,
		logger:        logging.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HasAccess reports whether the tenant may use the feature. A per-tenant
// override wins; otherwise the global flag decides.
func (g *Gate) HasAccess(_ context.Context, tenantID, feature string) bool {
	if feature != remediation.FeatureAIRemediation {
		return false
	}
	if o, ok := g.overrides[tenantID]; ok && o.RemediationEnabled != nil {
		return *o.RemediationEnabled
	}
	return g.globalEnabled
}

// QuotaRemaining reports whether the tenant has monthly quota left. Tenants
// without a configured quota are unlimited. Usage is the count of jobs that
// completed in the current calendar month (UTC).
func (g *Gate) QuotaRemaining(ctx context.Context, tenantID, feature string) bool {
	if feature != remediation.FeatureAIRemediation {
		return false
	}
	o, ok := g.overrides[tenantID]
	if !ok || o.MonthlyQuota == nil {
		return true
	}

	used, err := g.store.CountCompletedSince(ctx, tenantID, monthStart(g.now()))
	if err != nil {
		// Fail open: a broken counter should not block remediation.
		g.logger.Warn(ctx, "quota lookup failed, allowing request",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return true
	}
	return used < *o.MonthlyQuota
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
