package retention

import (
	"time"

	"github.com/google/uuid"
)

// Action is what a sweep does to an eligible record.
type Action string

const (
	// ActionPurge hard-deletes eligible records.
	ActionPurge Action = "purge"
	// ActionAnonymize overwrites identifying fields with the sentinel while
	// preserving the row, so counts and aggregates keep working.
	ActionAnonymize Action = "anonymize"
)

// Valid reports whether the action is one of the known kinds.
func (a Action) Valid() bool {
	return a == ActionPurge || a == ActionAnonymize
}

// Policy is the declarative retention rule for one entity type. At most one
// policy is active per entity type.
type Policy struct {
	ID         uuid.UUID     `json:"id"`
	EntityType string        `json:"entity_type"`
	MaxAge     time.Duration `json:"max_age"`
	Action     Action        `json:"action"`

	// Predicate optionally narrows eligibility beyond the age cutoff. It is
	// a CEL expression over `record`, e.g.
	// `record.status == "closed" && !has(record.legal_hold)`.
	// Validated at upsert time, evaluated per record during sweeps.
	Predicate string `json:"predicate,omitempty"`

	// TargetAuditTrail points the policy at the audit store itself instead
	// of the monitored entity store. Such policies may only purge.
	TargetAuditTrail bool `json:"target_audit_trail,omitempty"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Cutoff computes the eligibility horizon: records last modified before this
// instant have aged past the policy.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.MaxAge)
}

// LedgerEntry is the immutable record of one completed sweep, or of an
// on-demand compliance action. Append-only, written once per sweep per
// policy; a sweep that finds nothing still writes an entry with count zero,
// so an idempotent no-op is observable rather than silent.
type LedgerEntry struct {
	ID         int64     `json:"id"`
	PolicyID   uuid.UUID `json:"policy_id"`
	EntityType string    `json:"entity_type"`
	Action     Action    `json:"action"`
	Affected   int       `json:"affected"`
	Failed     int       `json:"failed,omitempty"`

	// RequestedBy is empty for scheduled sweeps and carries the requesting
	// principal for on-demand compliance operations, proving fulfillment
	// independently of the regular audit trail.
	RequestedBy string    `json:"requested_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Compliance ledger actions. These share the ledger with sweep entries but
// are keyed to a request, not a policy.
const (
	ActionExport          Action = "export"
	ActionAnonymizeSingle Action = "anonymize_record"
)
