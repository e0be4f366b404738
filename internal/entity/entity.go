// Package entity models the alerts and incidents being remediated.
//
// Monitoring payloads arrive loosely typed; this package exposes them through
// typed snapshots with optional accessors so downstream stages never probe for
// attributes dynamically. Absence is an explicit (value, ok) result, not a
// missing field.
package entity

import "fmt"

// Type identifies the kind of entity under remediation.
type Type string

const (
	// TypeAlert is a single monitoring alert, keyed by fingerprint.
	TypeAlert Type = "alert"
	// TypeIncident is an aggregate of correlated alerts.
	TypeIncident Type = "incident"
)

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	return t == TypeAlert || t == TypeIncident
}

// Alert is a point-in-time snapshot of a monitoring alert.
type Alert struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Service     string `json:"service"`
	Description string `json:"description"`
	Source      string `json:"source"`
	URL         string `json:"url"`
	Message     string `json:"message"`

	// Repo and GitHubRepo are explicit repository tags in "owner/name" form.
	Repo       string `json:"repo"`
	GitHubRepo string `json:"github_repo"`

	// Payload is the raw provider event, kept for field probing that the
	// typed fields do not cover (issue tracker IDs and the like).
	Payload map[string]any `json:"payload"`
}

// Field returns a raw payload field rendered as a string. Empty values count
// as absent.
func (a *Alert) Field(key string) (string, bool) {
	if a == nil || a.Payload == nil {
		return "", false
	}
	v, ok := a.Payload[key]
	if !ok || v == nil {
		return "", false
	}
	s := fmt.Sprintf("%v", v)
	if s == "" {
		return "", false
	}
	return s, true
}

// Incident is an aggregate of correlated alerts.
type Incident struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Severity         string   `json:"severity"`
	Summary          string   `json:"summary"`
	AffectedServices []string `json:"affected_services"`
	Sources          []string `json:"sources"`
	AlertCount       int      `json:"alert_count"`
}

// Context is the immutable per-job snapshot of the entity under remediation.
// Exactly one of Alert or Incident is set, matching Type. The orchestrator
// owns it exclusively for the job's lifetime.
type Context struct {
	Type        Type
	ID          string
	Alert       *Alert
	Incident    *Incident
	Enrichments map[string]string
}

// Name returns a display name for the entity.
func (c *Context) Name() string {
	switch c.Type {
	case TypeAlert:
		if c.Alert != nil && c.Alert.Name != "" {
			return c.Alert.Name
		}
		return "Unnamed Alert"
	case TypeIncident:
		if c.Incident != nil && c.Incident.Name != "" {
			return c.Incident.Name
		}
		return fmt.Sprintf("Incident #%s", c.ID)
	}
	return c.ID
}

// Severity returns the entity severity, or "unknown".
func (c *Context) Severity() string {
	switch {
	case c.Type == TypeAlert && c.Alert != nil && c.Alert.Severity != "":
		return c.Alert.Severity
	case c.Type == TypeIncident && c.Incident != nil && c.Incident.Severity != "":
		return c.Incident.Severity
	}
	return "unknown"
}

// Description returns the free-text description, or a placeholder.
func (c *Context) Description() string {
	switch {
	case c.Type == TypeAlert && c.Alert != nil && c.Alert.Description != "":
		return c.Alert.Description
	case c.Type == TypeIncident && c.Incident != nil && c.Incident.Summary != "":
		return c.Incident.Summary
	}
	return "No description available"
}

// Tag returns an explicit repository tag from the entity, checking the typed
// fields first and the raw payload second.
func (c *Context) Tag(key string) (string, bool) {
	if c.Type != TypeAlert || c.Alert == nil {
		return "", false
	}
	switch key {
	case "repo":
		if c.Alert.Repo != "" {
			return c.Alert.Repo, true
		}
	case "github_repo":
		if c.Alert.GitHubRepo != "" {
			return c.Alert.GitHubRepo, true
		}
	}
	return c.Alert.Field(key)
}

// Enrichment returns an enrichment value by key.
func (c *Context) Enrichment(key string) (string, bool) {
	v, ok := c.Enrichments[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Services returns the services touched by the entity: the declared service
// for an alert, all affected services for an incident.
func (c *Context) Services() []string {
	switch c.Type {
	case TypeAlert:
		if c.Alert != nil && c.Alert.Service != "" {
			return []string{c.Alert.Service}
		}
	case TypeIncident:
		if c.Incident != nil {
			return c.Incident.AffectedServices
		}
	}
	return nil
}
