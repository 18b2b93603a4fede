package retention

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PolicyStore persists retention policies, keyed by entity type.
type PolicyStore interface {
	Upsert(ctx context.Context, policy Policy) error
	Get(ctx context.Context, entityType string) (Policy, error)
	List(ctx context.Context) ([]Policy, error)
	Delete(ctx context.Context, entityType string) error
	SetLastRun(ctx context.Context, policyID uuid.UUID, at time.Time) error
}

// LedgerStore persists the append-only cleanup ledger.
type LedgerStore interface {
	Append(ctx context.Context, entry LedgerEntry) (int64, error)
	List(ctx context.Context, limit int) ([]LedgerEntry, error)
}
