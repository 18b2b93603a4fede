package audit

import (
	"time"

	"chronicle/pkg/snapshot"
)

// Operation is the kind of mutation an audit record describes.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"

	// OpExported records a fulfilled data-subject export. It is not a
	// mutation of the record, so it carries the current snapshot in After
	// and no diff.
	OpExported Operation = "exported"
)

// Valid reports whether the operation is one of the known kinds.
func (o Operation) Valid() bool {
	switch o {
	case OpCreated, OpUpdated, OpDeleted, OpExported:
		return true
	}
	return false
}

// Correlation carries optional, opaque request-scoped context captured with
// each record. All fields may be empty.
type Correlation struct {
	SessionID   string `json:"session_id,omitempty"`
	Origin      string `json:"origin,omitempty"`
	ClientLabel string `json:"client_label,omitempty"`
}

// Record is one immutable audit entry. Records are never mutated or deleted in
// normal operation; only an explicit retention action on the audit trail
// itself may prune them.
//
// Invariants, enforced by the capture hook before append:
//   - created: Before is nil, After is set, Diff is nil
//   - deleted: Before is set, After is nil, Diff is nil
//   - updated: both snapshots set, Diff non-empty
type Record struct {
	ID          int64              `json:"id"`
	EntityType  string             `json:"entity_type"`
	Operation   Operation          `json:"operation"`
	RecordID    string             `json:"record_id"`
	Before      snapshot.Snapshot  `json:"before,omitempty"`
	After       snapshot.Snapshot  `json:"after,omitempty"`
	Diff        snapshot.FieldDiff `json:"diff,omitempty"`
	Principal   string             `json:"principal"`
	Timestamp   time.Time          `json:"timestamp"`
	Correlation Correlation        `json:"correlation,omitzero"`
}

// Query limits. Every query carries a bound to prevent unbounded scans.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Filter narrows a query. Zero-valued fields are not applied. Limit falls back
// to DefaultQueryLimit and is capped at MaxQueryLimit.
type Filter struct {
	EntityType string
	RecordID   string
	From       time.Time
	To         time.Time
	Limit      int
}

// EffectiveLimit returns the bounded result cap for this filter.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	}
	return f.Limit
}
