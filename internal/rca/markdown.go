package rca

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
)

// renderInput carries everything the markdown renderer needs. The renderer is
// a pure function of this struct: identical inputs yield byte-identical
// output.
type renderInput struct {
	ec       *entity.Context
	bundle   *evidence.Bundle
	repo     string
	report   *Report
	analysis string
	// investigation and longTerm are only populated on the generative path.
	investigation []string
	longTerm      []string
	generatedAt   time.Time
	methodLabel   string
}

func renderMarkdown(in renderInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Root Cause Analysis: %s\n\n", in.report.EntityName)
	fmt.Fprintf(&b, "**Generated**: %s  \n", in.generatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "**Severity**: %s  \n", in.report.Severity)
	fmt.Fprintf(&b, "**Service**: %s  \n", in.report.Service)
	if in.ec.Type == entity.TypeIncident && in.ec.Incident != nil {
		fmt.Fprintf(&b, "**Alert Count**: %d  \n", in.ec.Incident.AlertCount)
	}
	repo := in.repo
	if repo == "" {
		repo = "N/A"
	}
	fmt.Fprintf(&b, "**Repository**: %s  \n", repo)
	b.WriteString("\n---\n\n")

	b.WriteString("## Summary\n\n")
	b.WriteString(in.report.Summary)
	b.WriteString("\n\n")

	if in.analysis != "" {
		b.WriteString("## Root Cause Analysis\n\n")
		b.WriteString(in.analysis)
		b.WriteString("\n\n")
		writeBulletList(&b, "**Investigation steps:**", in.investigation)
		writeBulletList(&b, "**Long-term recommendations:**", in.longTerm)
	}

	b.WriteString("## Evidence\n\n")
	fmt.Fprintf(&b, "- **Description**: %s\n", in.report.ErrorDescription)
	fmt.Fprintf(&b, "- **Severity**: %s\n", in.report.Severity)
	fmt.Fprintf(&b, "- **Service**: %s\n", in.report.Service)
	if in.bundle != nil {
		if in.bundle.IssueID != "" {
			fmt.Fprintf(&b, "- **Tracker Issue**: [%s](%s)\n", in.bundle.IssueID, in.bundle.IssueURL)
		}
		if in.bundle.ExceptionType != "" {
			fmt.Fprintf(&b, "- **Exception Type**: %s\n", in.bundle.ExceptionType)
		}
		if in.bundle.StacktraceTopFrame != "" {
			fmt.Fprintf(&b, "- **Top Stack Frame**: `%s`\n", in.bundle.StacktraceTopFrame)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Root Cause Hypotheses (Ranked by Likelihood)\n\n")
	for i, h := range in.report.Hypotheses {
		fmt.Fprintf(&b, "%d. **%s**: %s\n", i+1, h.Likelihood, h.Description)
		if h.Evidence != "" {
			fmt.Fprintf(&b, "   - *Evidence*: %s\n", h.Evidence)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Recommended Fix Category\n\n")
	fmt.Fprintf(&b, "**%s**\n\n", in.report.RecommendedFixCategory)

	b.WriteString("## Immediate Actions\n\n")
	for _, action := range actionsForCategory(in.report.RecommendedFixCategory) {
		fmt.Fprintf(&b, "- [ ] %s\n", action)
	}
	b.WriteString("\n---\n\n")

	fmt.Fprintf(&b, "*Generated by remedyd using %s.*\n", in.methodLabel)
	return b.String()
}

func writeBulletList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(heading)
	b.WriteString("\n\n")
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// actionsForCategory picks a checklist by keyword-matching the fix category
// string. Earlier keywords win.
func actionsForCategory(category string) []string {
	lowered := strings.ToLower(category)
	switch {
	case strings.Contains(lowered, "rollback"):
		return []string{
			"Identify and roll back the most recent deployment",
			"Open an incident channel and page the on-call engineer",
			"Freeze further deployments until the service is stable",
		}
	case strings.Contains(lowered, "timeout"), strings.Contains(lowered, "retry"):
		return []string{
			"Increase the client timeout and add retry with exponential backoff",
			"Check latency dashboards for the downstream dependency",
			"Verify connection pool sizing against current traffic",
		}
	case strings.Contains(lowered, "null"), strings.Contains(lowered, "defensive"):
		return []string{
			"Add guards for missing values at the failing call site",
			"Add a regression test covering the missing-value path",
			"Audit upstream producers for incomplete payloads",
		}
	case strings.Contains(lowered, "memory"), strings.Contains(lowered, "leak"):
		return []string{
			"Capture a heap profile from an affected instance",
			"Check for unbounded caches and leaked goroutines",
			"Raise the memory limit as a short-term mitigation",
		}
	case strings.Contains(lowered, "disk"), strings.Contains(lowered, "storage"):
		return []string{
			"Clear or rotate logs on the affected volume",
			"Add disk usage alerting before exhaustion",
			"Expand the volume if growth is organic",
		}
	case strings.Contains(lowered, "connection"), strings.Contains(lowered, "database"):
		return []string{
			"Verify database connectivity and credentials",
			"Review connection pool exhaustion metrics",
			"Inspect recent schema or driver changes",
		}
	default:
		return []string{
			"Review the ranked hypotheses against recent changes",
			"Reproduce the failure in a staging environment",
			"Attach findings and follow-up issues to this report",
		}
	}
}
