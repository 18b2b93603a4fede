// Package memory provides an in-memory audit store. It keeps the initial
// implementation lightweight and testable while preserving the contract the
// PostgreSQL store honors: monotonic IDs, deterministic ordering, and
// secondary indexes on the two dominant access paths (entity type and record
// identifier).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chronicle/internal/audit"
)

type Store struct {
	mu       sync.RWMutex
	nextID   int64
	all      []*audit.Record
	byEntity map[string][]*audit.Record
	byRecord map[string][]*audit.Record
}

func New() *Store {
	return &Store{
		byEntity: make(map[string][]*audit.Record),
		byRecord: make(map[string][]*audit.Record),
	}
}

// Append stores the record and assigns the next monotonic identifier.
func (s *Store) Append(_ context.Context, record audit.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	record.ID = s.nextID

	stored := &record
	s.all = append(s.all, stored)
	s.byEntity[record.EntityType] = append(s.byEntity[record.EntityType], stored)
	key := recordKey(record.EntityType, record.RecordID)
	s.byRecord[key] = append(s.byRecord[key], stored)
	return record.ID, nil
}

// Query returns matching records ordered by timestamp descending, ties broken
// by ID descending.
func (s *Store) Query(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.candidates(filter)
	matched := make([]audit.Record, 0, len(candidates))
	for _, rec := range candidates {
		if !matches(rec, filter) {
			continue
		}
		matched = append(matched, *rec)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})

	if limit := filter.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// DeleteOlderThan removes records for one entity type with timestamps before
// the cutoff and rebuilds the affected indexes.
func (s *Store) DeleteOlderThan(_ context.Context, entityType string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	kept := s.all[:0]
	for _, rec := range s.all {
		if rec.EntityType == entityType && rec.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	if removed == 0 {
		return 0, nil
	}
	s.all = kept

	s.byEntity = make(map[string][]*audit.Record, len(s.byEntity))
	s.byRecord = make(map[string][]*audit.Record, len(s.byRecord))
	for _, rec := range s.all {
		s.byEntity[rec.EntityType] = append(s.byEntity[rec.EntityType], rec)
		key := recordKey(rec.EntityType, rec.RecordID)
		s.byRecord[key] = append(s.byRecord[key], rec)
	}
	return removed, nil
}

// candidates picks the narrowest index for the filter.
func (s *Store) candidates(filter audit.Filter) []*audit.Record {
	if filter.RecordID != "" && filter.EntityType != "" {
		return s.byRecord[recordKey(filter.EntityType, filter.RecordID)]
	}
	if filter.EntityType != "" {
		return s.byEntity[filter.EntityType]
	}
	return s.all
}

func matches(rec *audit.Record, filter audit.Filter) bool {
	if filter.EntityType != "" && rec.EntityType != filter.EntityType {
		return false
	}
	if filter.RecordID != "" && rec.RecordID != filter.RecordID {
		return false
	}
	if !filter.From.IsZero() && rec.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && rec.Timestamp.After(filter.To) {
		return false
	}
	return true
}

func recordKey(entityType, recordID string) string {
	return entityType + "\x00" + recordID
}
