// Package capture turns monitored mutations into audit records.
//
// The hook runs synchronously inside the mutating unit of work and is
// fail-closed: if the audit append fails, the error propagates so the
// enclosing business transaction can abort. Losing audit history silently is
// a correctness bug, not a best-effort feature. The hook never retries;
// retry and backoff belong to the caller.
package capture

import (
	"context"
	"log/slog"
	"strconv"

	"chronicle/internal/audit"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/requestcontext"
	"chronicle/pkg/snapshot"
)

// DefaultIDField is the snapshot field the hook resolves the record
// identifier from when the mutation does not name one.
const DefaultIDField = "id"

// Mutation is the plain data contract a monitored store hands to the hook.
type Mutation struct {
	EntityType  string
	Operation   audit.Operation
	Before      snapshot.Snapshot
	After       snapshot.Snapshot
	Principal   string
	Correlation audit.Correlation

	// IDField overrides the snapshot field holding the record identifier.
	IDField string
}

// Appender is the slice of the audit service the hook needs.
type Appender interface {
	Append(ctx context.Context, record audit.Record) (int64, error)
}

// Hook validates mutations, computes diffs, and appends audit records.
type Hook struct {
	auditor Appender
	logger  *slog.Logger
}

// Option configures the Hook.
type Option func(*Hook)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hook) { h.logger = logger }
}

// New constructs a capture hook backed by the given audit appender.
func New(auditor Appender, opts ...Option) *Hook {
	h := &Hook{auditor: auditor}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Capture records one mutation. For updates whose snapshots are structurally
// equal it emits nothing and returns nil: a no-op write must not bloat the
// audit trail. Otherwise it results in exactly one append.
func (h *Hook) Capture(ctx context.Context, m Mutation) error {
	if err := validate(m); err != nil {
		return err
	}

	record := audit.Record{
		EntityType:  m.EntityType,
		Operation:   m.Operation,
		Before:      m.Before,
		After:       m.After,
		Principal:   m.Principal,
		Timestamp:   requestcontext.Now(ctx),
		Correlation: m.Correlation,
	}

	recordID, err := resolveRecordID(m)
	if err != nil {
		return err
	}
	record.RecordID = recordID

	if m.Operation == audit.OpUpdated {
		diff := snapshot.Diff(m.Before, m.After)
		if diff.Empty() {
			if h.logger != nil {
				h.logger.DebugContext(ctx, "skipping no-op update",
					"entity_type", m.EntityType,
					"record_id", recordID,
				)
			}
			return nil
		}
		record.Diff = diff
	}

	if _, err := h.auditor.Append(ctx, record); err != nil {
		// Already coded CodeCaptureFailed by the audit service; the
		// caller must abort its transaction.
		return err
	}
	return nil
}

// validate enforces the operation/snapshot invariants: created has only an
// after snapshot, deleted only a before snapshot, updated both. A violation
// signals a caller bug and is rejected before diffing.
func validate(m Mutation) error {
	if m.EntityType == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "entity type is required")
	}
	if m.Principal == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "acting principal is required")
	}
	switch m.Operation {
	case audit.OpCreated:
		if m.Before != nil || m.After == nil {
			return dErrors.New(dErrors.CodeInvariantViolation,
				"created mutation requires an after snapshot and no before snapshot")
		}
	case audit.OpDeleted:
		if m.Before == nil || m.After != nil {
			return dErrors.New(dErrors.CodeInvariantViolation,
				"deleted mutation requires a before snapshot and no after snapshot")
		}
	case audit.OpUpdated:
		if m.Before == nil || m.After == nil {
			return dErrors.New(dErrors.CodeInvariantViolation,
				"updated mutation requires both snapshots")
		}
	case audit.OpExported:
		if m.After == nil {
			return dErrors.New(dErrors.CodeInvariantViolation,
				"exported mutation requires the current snapshot")
		}
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown operation %q", m.Operation)
	}
	return nil
}

// resolveRecordID extracts a stable string identifier: the after snapshot
// takes priority, falling back to the before snapshot on delete. Monitored
// entities may use heterogeneous key types, so numeric identifiers are
// rendered in string form.
func resolveRecordID(m Mutation) (string, error) {
	field := m.IDField
	if field == "" {
		field = DefaultIDField
	}

	for _, snap := range []snapshot.Snapshot{m.After, m.Before} {
		if snap == nil {
			continue
		}
		raw, ok := snap[field]
		if !ok {
			continue
		}
		if id := stringifyID(raw); id != "" {
			return id, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeInvariantViolation,
		"no record identifier in field %q of either snapshot", field)
}

func stringifyID(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}
