package audit

import (
	"context"
	"time"
)

// Store is the append-only persistence contract for audit records. Append is
// the only mutation entry point in normal operation; DeleteOlderThan exists
// solely for explicit, separately-ledgered retention actions on the audit
// trail itself.
//
// Query results are ordered by timestamp descending, ties broken by ID
// descending, so the newest record is always first and ordering is
// deterministic.
type Store interface {
	Append(ctx context.Context, record Record) (int64, error)
	Query(ctx context.Context, filter Filter) ([]Record, error)
	DeleteOlderThan(ctx context.Context, entityType string, cutoff time.Time) (int64, error)
}
