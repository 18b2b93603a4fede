// Package records adapts the monitored record store. The engine treats the
// host store as an external collaborator: this package defines the minimal
// document contract capture and retention need, plus per-entity definitions
// declaring which fields identify a person.
package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"chronicle/pkg/snapshot"
)

// Definition describes one monitored entity type.
type Definition struct {
	// EntityType names the entity, e.g. "customer".
	EntityType string
	// IDField is the snapshot field holding the record identifier.
	// Defaults to "id".
	IDField string
	// IdentifyingFields lists the fields (dotted paths for nested values)
	// that anonymization replaces with the sentinel.
	IdentifyingFields []string
}

// Registry holds entity definitions, at most one per entity type.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds or replaces the definition for an entity type.
func (r *Registry) Register(def Definition) {
	if def.IDField == "" {
		def.IDField = "id"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.EntityType] = def
}

// Get returns the definition for an entity type.
func (r *Registry) Get(entityType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[entityType]
	return def, ok
}

// List returns all definitions sorted by entity type.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out
}

// Stored is one row returned by an eligibility scan.
type Stored struct {
	ID        string
	Doc       snapshot.Snapshot
	UpdatedAt time.Time
}

// Cursor marks a position in an age-ordered scan; the zero value starts from
// the oldest record. Keyset pagination keeps a scan moving forward even when
// earlier rows are neither deleted nor rewritten.
type Cursor struct {
	UpdatedAt time.Time
	ID        string
}

// After returns the cursor positioned at row, for requesting the next page.
func (c Cursor) After(row Stored) Cursor {
	return Cursor{UpdatedAt: row.UpdatedAt, ID: row.ID}
}

// Store is the document contract against the monitored record store.
type Store interface {
	Get(ctx context.Context, entityType, id string) (snapshot.Snapshot, error)
	Put(ctx context.Context, entityType, id string, doc snapshot.Snapshot) error
	Delete(ctx context.Context, entityType, id string) error
	// ListOlderThan returns up to limit records last modified before cutoff
	// and positioned strictly after the cursor in (updated_at, id) order,
	// oldest first, for retention scans.
	ListOlderThan(ctx context.Context, entityType string, cutoff time.Time, after Cursor, limit int) ([]Stored, error)
}
