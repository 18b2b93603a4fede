// Package memory provides an in-memory monitored record store. It
// intentionally favors clarity over performance.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chronicle/internal/records"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/snapshot"
)

type entry struct {
	doc       snapshot.Snapshot
	updatedAt time.Time
}

type Store struct {
	mu    sync.RWMutex
	docs  map[string]map[string]entry
	clock func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:  make(map[string]map[string]entry),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, entityType, id string) (snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.docs[entityType][id]; ok {
		return e.doc.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) Put(_ context.Context, entityType, id string, doc snapshot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[entityType] == nil {
		s.docs[entityType] = make(map[string]entry)
	}
	s.docs[entityType][id] = entry{doc: doc.Clone(), updatedAt: s.clock()}
	return nil
}

func (s *Store) Delete(_ context.Context, entityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[entityType][id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.docs[entityType], id)
	return nil
}

func (s *Store) ListOlderThan(_ context.Context, entityType string, cutoff time.Time, after records.Cursor, limit int) ([]records.Stored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []records.Stored
	for id, e := range s.docs[entityType] {
		if !e.updatedAt.Before(cutoff) {
			continue
		}
		if e.updatedAt.Before(after.UpdatedAt) ||
			(e.updatedAt.Equal(after.UpdatedAt) && id <= after.ID) {
			continue
		}
		out = append(out, records.Stored{ID: id, Doc: e.doc.Clone(), UpdatedAt: e.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
