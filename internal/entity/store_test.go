package entity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore()
	store.Put("acme", &Context{
		Type:  TypeAlert,
		ID:    "fp-1",
		Alert: &Alert{Fingerprint: "fp-1", Name: "HighErrorRate"},
	})

	got, err := store.Entity(context.Background(), "acme", TypeAlert, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "HighErrorRate", got.Alert.Name)

	// Unknown entity, tenant or type all miss.
	for _, tc := range []struct {
		tenant string
		typ    Type
		id     string
	}{
		{"acme", TypeAlert, "fp-2"},
		{"other", TypeAlert, "fp-1"},
		{"acme", TypeIncident, "fp-1"},
	} {
		got, err := store.Entity(context.Background(), tc.tenant, tc.typ, tc.id)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestMemoryStore_WriteEnrichment(t *testing.T) {
	store := NewMemoryStore()
	store.Put("acme", &Context{Type: TypeAlert, ID: "fp-1", Alert: &Alert{Fingerprint: "fp-1"}})

	err := store.WriteEnrichment(context.Background(), "acme", TypeAlert, "fp-1", map[string]string{
		"remediation_status": "pending",
	})
	require.NoError(t, err)

	got, err := store.Entity(context.Background(), "acme", TypeAlert, "fp-1")
	require.NoError(t, err)
	v, ok := got.Enrichment("remediation_status")
	require.True(t, ok)
	assert.Equal(t, "pending", v)

	err = store.WriteEnrichment(context.Background(), "acme", TypeAlert, "missing", map[string]string{"k": "v"})
	assert.Error(t, err)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	store.Put("acme", &Context{Type: TypeAlert, ID: "fp-1", Alert: &Alert{Fingerprint: "fp-1"}})

	first, err := store.Entity(context.Background(), "acme", TypeAlert, "fp-1")
	require.NoError(t, err)
	first.Enrichments["tampered"] = "yes"

	second, err := store.Entity(context.Background(), "acme", TypeAlert, "fp-1")
	require.NoError(t, err)
	_, ok := second.Enrichment("tampered")
	assert.False(t, ok)
}

func TestMemoryStore_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"tenants": {
			"acme": {
				"alerts": [
					{"fingerprint": "fp-1", "name": "HighErrorRate", "service": "payments", "repo": "acme/payments"}
				],
				"incidents": [
					{"id": "inc-1", "name": "Checkout outage", "affected_services": ["checkout", "payments"], "alert_count": 12}
				]
			}
		}
	}`), 0o600))

	store := NewMemoryStore()
	require.NoError(t, store.LoadFile(path))

	alert, err := store.Entity(context.Background(), "acme", TypeAlert, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "acme/payments", alert.Alert.Repo)

	incident, err := store.Entity(context.Background(), "acme", TypeIncident, "inc-1")
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, 12, incident.Incident.AlertCount)
}

func TestMemoryStore_LoadFileErrors(t *testing.T) {
	store := NewMemoryStore()
	assert.Error(t, store.LoadFile(filepath.Join(t.TempDir(), "missing.json")))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	assert.Error(t, store.LoadFile(bad))

	noFP := filepath.Join(t.TempDir(), "nofp.json")
	require.NoError(t, os.WriteFile(noFP, []byte(`{"tenants":{"acme":{"alerts":[{"name":"x"}]}}}`), 0o600))
	assert.Error(t, store.LoadFile(noFP))
}
