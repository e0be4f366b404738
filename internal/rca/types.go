package rca

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
)

// Likelihood ranks a hypothesis.
type Likelihood string

const (
	Likely   Likelihood = "Likely"
	Possible Likelihood = "Possible"
	Unlikely Likelihood = "Unlikely"
)

// Hypothesis is a candidate root cause. Order within a report is meaningful:
// the primary failure hypothesis comes first and the list is rendered as
// ranked.
type Hypothesis struct {
	Likelihood  Likelihood `json:"likelihood"`
	Description string     `json:"description"`
	Evidence    string     `json:"evidence,omitempty"`
}

// Method identifies which generation path produced a report.
type Method string

const (
	// MethodGenerative marks reports produced by the model backend.
	MethodGenerative Method = "generative"
	// MethodTemplate marks reports produced by the deterministic rules.
	MethodTemplate Method = "template"
)

// Report is a structured Root Cause Analysis artifact. Exactly one is
// produced per successful remediation job.
type Report struct {
	Summary                string       `json:"summary"`
	EntityName             string       `json:"entity_name"`
	EntityID               string       `json:"entity_id"`
	Severity               string       `json:"severity"`
	Service                string       `json:"service"`
	ErrorDescription       string       `json:"error_description,omitempty"`
	IssueID                string       `json:"issue_id,omitempty"`
	StacktraceTopFrame     string       `json:"stacktrace_top_frame,omitempty"`
	Hypotheses             []Hypothesis `json:"hypotheses"`
	RecommendedFixCategory string       `json:"recommended_fix_category"`
	FullReportMarkdown     string       `json:"full_report_markdown"`
	GeneratedAt            time.Time    `json:"generated_at"`
	Method                 Method       `json:"method"`
}

// serviceLabel renders the service(s) an entity touches for report metadata.
func serviceLabel(ec *entity.Context) string {
	services := ec.Services()
	if len(services) == 0 {
		return "unknown"
	}
	return strings.Join(services, ", ")
}
