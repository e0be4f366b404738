package remediation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
)

func TestResolver_RepoTagWins(t *testing.T) {
	r := NewResolver(map[string]string{"payments": "acme/payments"}, nil)

	ec := &entity.Context{
		Type: entity.TypeAlert,
		ID:   "fp-1",
		Alert: &entity.Alert{
			Service:    "payments",
			Repo:       "acme/checkout",
			GitHubRepo: "acme/other",
		},
		Enrichments: map[string]string{"repo": "acme/enriched"},
	}

	ref := r.Resolve(context.Background(), ec)
	require.NotNil(t, ref)
	assert.Equal(t, "acme/checkout", ref.String())
}

func TestResolver_GitHubRepoTagSecond(t *testing.T) {
	r := NewResolver(nil, nil)

	ec := &entity.Context{
		Type:  entity.TypeAlert,
		ID:    "fp-1",
		Alert: &entity.Alert{GitHubRepo: "acme/other"},
	}

	ref := r.Resolve(context.Background(), ec)
	require.NotNil(t, ref)
	assert.Equal(t, "acme", ref.Owner)
	assert.Equal(t, "other", ref.Name)
}

func TestResolver_EnrichmentFallback(t *testing.T) {
	r := NewResolver(nil, nil)

	ec := &entity.Context{
		Type:        entity.TypeAlert,
		ID:          "fp-1",
		Alert:       &entity.Alert{},
		Enrichments: map[string]string{"github_repo": "acme/enriched"},
	}

	ref := r.Resolve(context.Background(), ec)
	require.NotNil(t, ref)
	assert.Equal(t, "acme/enriched", ref.String())
}

func TestResolver_ServiceMapping(t *testing.T) {
	r := NewResolver(map[string]string{"payments": "acme/payments"}, nil)

	ec := &entity.Context{
		Type:  entity.TypeAlert,
		ID:    "fp-1",
		Alert: &entity.Alert{Service: "payments"},
	}

	ref := r.Resolve(context.Background(), ec)
	require.NotNil(t, ref)
	assert.Equal(t, "acme/payments", ref.String())
}

func TestResolver_IncidentIteratesServices(t *testing.T) {
	r := NewResolver(map[string]string{"inventory": "acme/inventory"}, nil)

	ec := &entity.Context{
		Type: entity.TypeIncident,
		ID:   "inc-1",
		Incident: &entity.Incident{
			AffectedServices: []string{"checkout", "inventory", "payments"},
		},
	}

	ref := r.Resolve(context.Background(), ec)
	require.NotNil(t, ref)
	assert.Equal(t, "acme/inventory", ref.String())
}

func TestResolver_MalformedTagSkipped(t *testing.T) {
	// A malformed explicit tag falls through to the next source.
	r := NewResolver(map[string]string{"payments": "acme/payments"}, nil)

	ec := &entity.Context{
		Type:  entity.TypeAlert,
		ID:    "fp-1",
		Alert: &entity.Alert{Repo: "not-a-repo", Service: "payments"},
	}

	ref := r.Resolve(context.Background(), ec)
	require.NotNil(t, ref)
	assert.Equal(t, "acme/payments", ref.String())
}

func TestResolver_NoMatch(t *testing.T) {
	r := NewResolver(nil, nil)

	ec := &entity.Context{
		Type:  entity.TypeAlert,
		ID:    "fp-1",
		Alert: &entity.Alert{Service: "unmapped"},
	}

	assert.Nil(t, r.Resolve(context.Background(), ec))
}

func TestParseRepositoryReference(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"acme/payments", true},
		{" acme/payments ", true},
		{"acme", false},
		{"acme/", false},
		{"/payments", false},
		{"acme/payments/extra", false},
		{"", false},
	}
	for _, tt := range tests {
		ref, ok := parseRepositoryReference(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if tt.ok {
			assert.Equal(t, "acme/payments", ref.String())
		}
	}
}
