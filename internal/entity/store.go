package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// MemoryStore holds entity snapshots in memory, keyed by tenant, type and ID.
// It doubles as the enrichment sink: enrichment writes land on the stored
// snapshot. Production installs replace it with a monitoring-system client;
// tests and single-node setups seed it from a JSON file.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*Context
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]*Context)}
}

func storeKey(tenantID string, typ Type, id string) string {
	return tenantID + "/" + string(typ) + "/" + id
}

// Put registers or replaces an entity snapshot for a tenant.
func (s *MemoryStore) Put(tenantID string, ec *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ec.Enrichments == nil {
		ec.Enrichments = make(map[string]string)
	}
	s.entities[storeKey(tenantID, ec.Type, ec.ID)] = ec
}

// Entity returns the snapshot for an entity, or (nil, nil) when unknown.
func (s *MemoryStore) Entity(_ context.Context, tenantID string, typ Type, id string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ec, ok := s.entities[storeKey(tenantID, typ, id)]
	if !ok {
		return nil, nil
	}

	copied := *ec
	copied.Enrichments = make(map[string]string, len(ec.Enrichments))
	for k, v := range ec.Enrichments {
		copied.Enrichments[k] = v
	}
	return &copied, nil
}

// WriteEnrichment merges fields into the stored entity's enrichments.
func (s *MemoryStore) WriteEnrichment(_ context.Context, tenantID string, typ Type, id string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ec, ok := s.entities[storeKey(tenantID, typ, id)]
	if !ok {
		return fmt.Errorf("entity %s/%s not found", typ, id)
	}
	for k, v := range fields {
		ec.Enrichments[k] = v
	}
	return nil
}

// seedFile is the JSON layout for LoadFile.
type seedFile struct {
	Tenants map[string]struct {
		Alerts    []*Alert    `json:"alerts"`
		Incidents []*Incident `json:"incidents"`
	} `json:"tenants"`
}

// LoadFile seeds the store from a JSON fixture. Alerts are keyed by
// fingerprint, incidents by ID.
func (s *MemoryStore) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read entity source: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse entity source: %w", err)
	}

	for tenantID, entities := range seed.Tenants {
		for _, alert := range entities.Alerts {
			if alert.Fingerprint == "" {
				return fmt.Errorf("alert without fingerprint in entity source")
			}
			s.Put(tenantID, &Context{
				Type:  TypeAlert,
				ID:    alert.Fingerprint,
				Alert: alert,
			})
		}
		for _, incident := range entities.Incidents {
			if incident.ID == "" {
				return fmt.Errorf("incident without id in entity source")
			}
			s.Put(tenantID, &Context{
				Type:     TypeIncident,
				ID:       incident.ID,
				Incident: incident,
			})
		}
	}
	return nil
}
