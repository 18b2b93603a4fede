package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/platform/sentinel"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Registry manages the set of active retention policies. Each entity type
// carries at most one policy; re-registering replaces the previous rule
// (last write wins) so operators can tighten or relax retention without a
// separate update call.
type Registry struct {
	policies PolicyStore
	ledger   LedgerStore
	logger   *slog.Logger
	clock    Clock
}

// RegistryOption configures optional Registry dependencies.
type RegistryOption func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger.With("component", "retention_registry")
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// NewRegistry creates a policy registry over the given stores.
func NewRegistry(policies PolicyStore, ledger LedgerStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		policies: policies,
		ledger:   ledger,
		logger:   slog.Default().With("component", "retention_registry"),
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and upserts a policy. A zero-valued ID is assigned; a
// caller-supplied ID that disagrees with the stored policy for the same
// entity type is rejected as a conflict, so two operators cannot silently
// fight over one entity type with different policy identities.
func (r *Registry) Register(ctx context.Context, policy Policy) (Policy, error) {
	if err := r.validate(policy); err != nil {
		return Policy{}, err
	}

	now := r.clock.Now().UTC()
	existing, err := r.policies.Get(ctx, policy.EntityType)
	switch {
	case err == nil:
		if policy.ID != uuid.Nil && policy.ID != existing.ID {
			return Policy{}, dErrors.New(dErrors.CodeConflict,
				"a different policy already governs this entity type")
		}
		policy.ID = existing.ID
		policy.CreatedAt = existing.CreatedAt
		policy.LastRunAt = existing.LastRunAt
	case errors.Is(err, sentinel.ErrNotFound):
		if policy.ID == uuid.Nil {
			policy.ID = uuid.New()
		}
		policy.CreatedAt = now
	default:
		return Policy{}, dErrors.Wrap(err, dErrors.CodeInternal, "load existing policy")
	}
	policy.UpdatedAt = now

	if err := r.policies.Upsert(ctx, policy); err != nil {
		return Policy{}, dErrors.Wrap(err, dErrors.CodeInternal, "store policy")
	}

	r.logger.InfoContext(ctx, "retention policy registered",
		"policy_id", policy.ID,
		"entity_type", policy.EntityType,
		"action", policy.Action,
		"max_age", policy.MaxAge,
	)
	return policy, nil
}

func (r *Registry) validate(policy Policy) error {
	if policy.EntityType == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "entity type is required")
	}
	if policy.MaxAge <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "max age must be positive")
	}
	if !policy.Action.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown retention action")
	}
	if policy.TargetAuditTrail && policy.Action != ActionPurge {
		return dErrors.New(dErrors.CodeInvalidInput,
			"audit trail policies may only purge")
	}
	if _, err := CompilePredicate(policy.Predicate); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid predicate")
	}
	return nil
}

// Get returns the active policy for an entity type.
func (r *Registry) Get(ctx context.Context, entityType string) (Policy, error) {
	policy, err := r.policies.Get(ctx, entityType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Policy{}, dErrors.New(dErrors.CodeNotFound, "no policy for entity type")
		}
		return Policy{}, dErrors.Wrap(err, dErrors.CodeInternal, "load policy")
	}
	return policy, nil
}

// List returns all active policies.
func (r *Registry) List(ctx context.Context) ([]Policy, error) {
	policies, err := r.policies.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list policies")
	}
	return policies, nil
}

// Remove deletes the policy for an entity type. Sweeps already in flight
// finish under the policy they loaded.
func (r *Registry) Remove(ctx context.Context, entityType string) error {
	if err := r.policies.Delete(ctx, entityType); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no policy for entity type")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete policy")
	}
	r.logger.InfoContext(ctx, "retention policy removed", "entity_type", entityType)
	return nil
}

// Ledger returns the most recent cleanup ledger entries, newest first.
func (r *Registry) Ledger(ctx context.Context, limit int) ([]LedgerEntry, error) {
	entries, err := r.ledger.List(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list cleanup ledger")
	}
	return entries, nil
}
