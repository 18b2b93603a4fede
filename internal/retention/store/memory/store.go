// Package memory provides in-memory retention policy and cleanup ledger
// stores for tests and single-node deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/retention"
	"chronicle/pkg/platform/sentinel"
)

type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]retention.Policy
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]retention.Policy)}
}

func (s *PolicyStore) Upsert(_ context.Context, policy retention.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.EntityType] = policy
	return nil
}

func (s *PolicyStore) Get(_ context.Context, entityType string) (retention.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[entityType]; ok {
		return p, nil
	}
	return retention.Policy{}, sentinel.ErrNotFound
}

func (s *PolicyStore) List(_ context.Context) ([]retention.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]retention.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out, nil
}

func (s *PolicyStore) Delete(_ context.Context, entityType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[entityType]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.policies, entityType)
	return nil
}

func (s *PolicyStore) SetLastRun(_ context.Context, policyID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for entityType, p := range s.policies {
		if p.ID == policyID {
			p.LastRunAt = &at
			s.policies[entityType] = p
			return nil
		}
	}
	return sentinel.ErrNotFound
}

type LedgerStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []retention.LedgerEntry
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

func (s *LedgerStore) Append(_ context.Context, entry retention.LedgerEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	return entry.ID, nil
}

// List returns the most recent entries first.
func (s *LedgerStore) List(_ context.Context, limit int) ([]retention.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]retention.LedgerEntry, len(s.entries))
	copy(out, s.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
