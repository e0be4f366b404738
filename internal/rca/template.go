package rca

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
)

// Fix categories produced by the deterministic rules. The generative path is
// steered toward the same closed set via its system instruction.
const (
	categoryTimeout    = "Timeout / retry configuration"
	categoryNullCheck  = "Null check / defensive programming"
	categoryMemory     = "Memory optimization / leak fix"
	categoryDisk       = "Disk cleanup / storage expansion"
	categoryConnection = "Connection pool / database tuning"
	categoryRollback   = "Rollback / emergency fix"
	categoryDefault    = "Code fix / logic update"
)

// widespreadAlertThreshold is the alert count above which an incident is
// treated as a widespread outage rather than an isolated failure.
const widespreadAlertThreshold = 10

// TemplateGenerator produces reports from keyword rules alone. It is fully
// deterministic: the same entity, evidence and clock yield byte-identical
// markdown.
type TemplateGenerator struct {
	logger *logging.Logger
	now    func() time.Time
}

// TemplateOption configures a TemplateGenerator.
type TemplateOption func(*TemplateGenerator)

// WithTemplateLogger sets the logger.
func WithTemplateLogger(logger *logging.Logger) TemplateOption {
	return func(g *TemplateGenerator) { g.logger = logger }
}

// WithTemplateClock overrides the clock used for report timestamps.
func WithTemplateClock(now func() time.Time) TemplateOption {
	return func(g *TemplateGenerator) { g.now = now }
}

// NewTemplateGenerator returns a generator backed by the deterministic rules.
func NewTemplateGenerator(opts ...TemplateOption) *TemplateGenerator {
	g := &TemplateGenerator{
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate never fails: every input maps to some report.
func (g *TemplateGenerator) Generate(ctx context.Context, ec *entity.Context, bundle *evidence.Bundle, repo string) *Report {
	now := g.now()
	category := determineFixCategory(ec, bundle)
	hypotheses := buildHypotheses(ec, bundle)

	report := &Report{
		Summary:                buildSummary(ec, bundle, category),
		EntityName:             ec.Name(),
		EntityID:               ec.ID,
		Severity:               ec.Severity(),
		Service:                serviceLabel(ec),
		ErrorDescription:       ec.Description(),
		Hypotheses:             hypotheses,
		RecommendedFixCategory: category,
		GeneratedAt:            now,
		Method:                 MethodTemplate,
	}
	if bundle != nil {
		report.IssueID = bundle.IssueID
		report.StacktraceTopFrame = bundle.StacktraceTopFrame
	}
	report.FullReportMarkdown = renderMarkdown(renderInput{
		ec:          ec,
		bundle:      bundle,
		repo:        repo,
		report:      report,
		generatedAt: now,
		methodLabel: "deterministic templates",
	})

	g.logger.Debug(ctx, "generated template report",
		zap.String("entity_id", ec.ID),
		zap.String("fix_category", category),
		zap.Int("hypotheses", len(hypotheses)))
	return report
}

func buildSummary(ec *entity.Context, bundle *evidence.Bundle, category string) string {
	if ec.Type == entity.TypeIncident {
		return fmt.Sprintf("Incident affecting %s with severity %s. Analysis suggests %s as the primary remediation approach.",
			serviceLabel(ec), ec.Severity(), category)
	}
	if bundle != nil && bundle.ExceptionType != "" {
		return fmt.Sprintf("Alert %q triggered by %s in %s. Analysis suggests %s as the primary remediation approach.",
			ec.Name(), bundle.ExceptionType, serviceLabel(ec), category)
	}
	return fmt.Sprintf("Alert %q detected in %s. Analysis suggests %s as the primary remediation approach.",
		ec.Name(), serviceLabel(ec), category)
}

// buildHypotheses assembles the ranked list. The primary failure hypothesis
// always comes first, incident-scale hypotheses follow, and the two generic
// fallbacks close the list in a fixed order.
func buildHypotheses(ec *entity.Context, bundle *evidence.Bundle) []Hypothesis {
	hypotheses := []Hypothesis{primaryHypothesis(ec, bundle)}

	if ec.Type == entity.TypeIncident && ec.Incident != nil {
		if len(ec.Incident.AffectedServices) > 1 {
			hypotheses = append(hypotheses, Hypothesis{
				Likelihood: Likely,
				Description: fmt.Sprintf("Shared infrastructure issue affecting %d services simultaneously",
					len(ec.Incident.AffectedServices)),
				Evidence: fmt.Sprintf("Affected services: %s", strings.Join(ec.Incident.AffectedServices, ", ")),
			})
		}
		if ec.Incident.AlertCount > widespreadAlertThreshold {
			hypotheses = append(hypotheses, Hypothesis{
				Likelihood:  Likely,
				Description: "Widespread issue consistent with a recent deployment or infrastructure change",
				Evidence:    fmt.Sprintf("%d alerts grouped under this incident", ec.Incident.AlertCount),
			})
		}
	}

	hypotheses = append(hypotheses,
		Hypothesis{
			Likelihood:  Possible,
			Description: "Failure in an external dependency or third-party service",
			Evidence:    "Generic fallback; correlate with dependency status pages",
		},
		Hypothesis{
			Likelihood:  Unlikely,
			Description: "Configuration drift or environment difference",
			Evidence:    "Generic fallback; compare configuration against the last known-good state",
		},
	)
	return hypotheses
}

func primaryHypothesis(ec *entity.Context, bundle *evidence.Bundle) Hypothesis {
	if bundle != nil && bundle.ExceptionType != "" {
		return exceptionHypothesis(bundle)
	}
	return descriptionHypothesis(ec)
}

func exceptionHypothesis(bundle *evidence.Bundle) Hypothesis {
	ev := fmt.Sprintf("Exception %s", bundle.ExceptionType)
	if bundle.StacktraceTopFrame != "" {
		ev = fmt.Sprintf("%s at %s", ev, bundle.StacktraceTopFrame)
	}
	lowered := strings.ToLower(bundle.ExceptionType)
	switch {
	case containsAny(lowered, "null", "nil", "none"):
		return Hypothesis{
			Likelihood:  Likely,
			Description: fmt.Sprintf("%s indicates a null or missing value dereferenced in application code", bundle.ExceptionType),
			Evidence:    ev,
		}
	case strings.Contains(lowered, "timeout"):
		return Hypothesis{
			Likelihood:  Likely,
			Description: fmt.Sprintf("%s indicates an operation exceeded its deadline", bundle.ExceptionType),
			Evidence:    ev,
		}
	default:
		return Hypothesis{
			Likelihood:  Likely,
			Description: fmt.Sprintf("%s raised in application code", bundle.ExceptionType),
			Evidence:    ev,
		}
	}
}

func descriptionHypothesis(ec *entity.Context) Hypothesis {
	desc := strings.ToLower(ec.Description())
	ev := fmt.Sprintf("Description: %s", ec.Description())
	switch {
	case containsAny(desc, "timeout", "timed out"):
		return Hypothesis{Likelihood: Likely, Description: "Connection timeout or slow external dependency", Evidence: ev}
	case containsAny(desc, "null", "undefined"):
		return Hypothesis{Likelihood: Likely, Description: "Null or undefined value dereferenced in application code", Evidence: ev}
	case containsAny(desc, "memory", "oom"):
		return Hypothesis{Likelihood: Likely, Description: "Memory exhaustion or leak in the service process", Evidence: ev}
	case containsAny(desc, "disk", "space"):
		return Hypothesis{Likelihood: Likely, Description: "Disk space exhaustion on the host or volume", Evidence: ev}
	case containsAny(desc, "connection", "database"):
		return Hypothesis{Likelihood: Likely, Description: "Database or downstream connection failure", Evidence: ev}
	default:
		return Hypothesis{Likelihood: Possible, Description: "Application logic error or unexpected state", Evidence: ev}
	}
}

// determineFixCategory maps keyword signals to a fix category. Evidence
// exception types are checked before the entity description, and incidents
// with many alerts escalate to a rollback regardless of keywords.
func determineFixCategory(ec *entity.Context, bundle *evidence.Bundle) string {
	if ec.Type == entity.TypeIncident && ec.Incident != nil && ec.Incident.AlertCount > widespreadAlertThreshold {
		return categoryRollback
	}

	signal := strings.ToLower(ec.Description())
	if bundle != nil && bundle.ExceptionType != "" {
		signal = strings.ToLower(bundle.ExceptionType) + " " + signal
	}
	switch {
	case containsAny(signal, "timeout", "timed out"):
		return categoryTimeout
	case containsAny(signal, "null", "undefined", "nil"):
		return categoryNullCheck
	case containsAny(signal, "memory", "oom"):
		return categoryMemory
	case containsAny(signal, "disk", "space"):
		return categoryDisk
	case containsAny(signal, "connection", "database"):
		return categoryConnection
	default:
		return categoryDefault
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
