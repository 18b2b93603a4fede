// Package sweeper executes retention policies: it scans monitored stores for
// records that have aged past their policy, applies the policy action, and
// writes a cleanup ledger entry proving the sweep ran.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chronicle/internal/audit"
	"chronicle/internal/compliance"
	"chronicle/internal/records"
	"chronicle/internal/retention"
	"chronicle/internal/retention/lock"
	"chronicle/internal/retention/metrics"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/requestcontext"
)

// SystemPrincipal attributes sweep-driven mutations in the audit trail.
const SystemPrincipal = "system:retention-sweeper"

const (
	defaultBatchSize   = 200
	defaultConcurrency = 4
	defaultLockTTL     = 10 * time.Minute
)

// Config tunes sweep scheduling and pacing.
type Config struct {
	// Interval between scheduled full sweeps.
	Interval time.Duration
	// Budget bounds one policy's sweep. Zero means unbounded. A sweep cut
	// off by its budget resumes from the oldest remaining records next run.
	Budget time.Duration
	// BatchSize is how many records one scan round fetches.
	BatchSize int
	// Concurrency caps how many policies sweep in parallel.
	Concurrency int
	// LockTTL bounds how long a crashed sweeper can hold a policy lock.
	LockTTL time.Duration
}

// Result summarizes one policy's sweep.
type Result struct {
	PolicyID   uuid.UUID        `json:"policy_id"`
	EntityType string           `json:"entity_type"`
	Action     retention.Action `json:"action"`
	Affected   int              `json:"affected"`
	Failed     int              `json:"failed,omitempty"`
	Skipped    bool             `json:"skipped,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Sweeper runs retention policies against the monitored stores.
type Sweeper struct {
	policies retention.PolicyStore
	ledger   retention.LedgerStore
	records  *records.Service
	audit    *audit.Service
	locks    lock.Manager
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    retention.Clock
}

// Option configures optional Sweeper dependencies.
type Option func(*Sweeper)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger.With("component", "retention_sweeper")
	}
}

// WithMetrics attaches sweep metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(clock retention.Clock) Option {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// New creates a sweeper over the given stores and services.
func New(
	policies retention.PolicyStore,
	ledger retention.LedgerStore,
	recordsSvc *records.Service,
	auditSvc *audit.Service,
	locks lock.Manager,
	cfg Config,
	opts ...Option,
) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	s := &Sweeper{
		policies: policies,
		ledger:   ledger,
		records:  recordsSvc,
		audit:    auditSvc,
		locks:    locks,
		cfg:      cfg,
		logger:   slog.Default().With("component", "retention_sweeper"),
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes scheduled sweeps until the context is cancelled. A full sweep
// runs immediately, then on every interval tick.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "retention sweeper started", "interval", interval)
	for {
		if _, err := s.SweepAll(ctx); err != nil {
			s.logger.ErrorContext(ctx, "scheduled sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "retention sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepAll runs every registered policy, in parallel up to the configured
// concurrency. Policies locked by another sweep are skipped, not queued.
func (s *Sweeper) SweepAll(ctx context.Context) ([]Result, error) {
	policies, err := s.policies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	results := make([]Result, len(policies))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, policy := range policies {
		g.Go(func() error {
			results[i] = s.sweepPolicy(ctx, policy)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// SweepOne runs the policy for a single entity type, typically from a manual
// trigger.
func (s *Sweeper) SweepOne(ctx context.Context, entityType string) (Result, error) {
	policy, err := s.policies.Get(ctx, entityType)
	if err != nil {
		return Result{}, err
	}
	return s.sweepPolicy(ctx, policy), nil
}

// sweepPolicy runs one policy under its lock and time budget, and writes a
// ledger entry when the scan completes. An aborted sweep (scan failure,
// budget exceeded) leaves no ledger entry and no last-run update, so the
// next run retries the same horizon.
func (s *Sweeper) sweepPolicy(ctx context.Context, policy retention.Policy) Result {
	result := Result{
		PolicyID:   policy.ID,
		EntityType: policy.EntityType,
		Action:     policy.Action,
	}

	release, err := s.locks.TryAcquire(ctx, policy.EntityType, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, sentinel.ErrLockHeld) {
			s.logger.InfoContext(ctx, "sweep skipped, lock held", "entity_type", policy.EntityType)
			if s.metrics != nil {
				s.metrics.IncrementLockSkipped()
			}
			result.Skipped = true
			return result
		}
		result.Error = err.Error()
		return result
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "lock release failed", "entity_type", policy.EntityType, "error", err)
		}
	}()

	if s.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Budget)
		defer cancel()
	}
	start := s.clock.Now()
	ctx = requestcontext.WithPrincipal(ctx, SystemPrincipal)
	ctx = requestcontext.WithTime(ctx, start)
	if s.metrics != nil {
		defer s.metrics.ObserveSweep(policy.EntityType, time.Now())
	}

	if policy.TargetAuditTrail {
		err = s.sweepAuditTrail(ctx, policy, &result)
	} else {
		err = s.sweepEntityStore(ctx, policy, &result)
	}
	if err != nil {
		result.Error = err.Error()
		s.observeOutcome(policy.EntityType, "error")
		s.logger.ErrorContext(ctx, "sweep aborted",
			"entity_type", policy.EntityType, "affected", result.Affected, "error", err)
		return result
	}

	entry := retention.LedgerEntry{
		PolicyID:   policy.ID,
		EntityType: policy.EntityType,
		Action:     policy.Action,
		Affected:   result.Affected,
		Failed:     result.Failed,
		Timestamp:  s.clock.Now().UTC(),
	}
	if _, err := s.ledger.Append(ctx, entry); err != nil {
		result.Error = err.Error()
		s.observeOutcome(policy.EntityType, "error")
		return result
	}
	if err := s.policies.SetLastRun(ctx, policy.ID, start.UTC()); err != nil {
		s.logger.WarnContext(ctx, "record last run failed", "entity_type", policy.EntityType, "error", err)
	}

	outcome := "ok"
	if result.Failed > 0 {
		outcome = "partial"
	}
	s.observeOutcome(policy.EntityType, outcome)
	s.logger.InfoContext(ctx, "sweep complete",
		"entity_type", policy.EntityType,
		"action", policy.Action,
		"affected", result.Affected,
		"failed", result.Failed,
	)
	return result
}

// sweepAuditTrail prunes the audit store itself. Trail pruning bypasses the
// capture hook: deleting audit records must not generate audit records.
func (s *Sweeper) sweepAuditTrail(ctx context.Context, policy retention.Policy, result *Result) error {
	cutoff := policy.Cutoff(s.clock.Now())
	deleted, err := s.audit.DeleteOlderThan(ctx, policy.EntityType, cutoff)
	if err != nil {
		return fmt.Errorf("prune audit trail: %w", err)
	}
	result.Affected = int(deleted)
	if s.metrics != nil {
		s.metrics.AddPurged(policy.EntityType, result.Affected)
	}
	return nil
}

func (s *Sweeper) sweepEntityStore(ctx context.Context, policy retention.Policy, result *Result) error {
	predicate, err := retention.CompilePredicate(policy.Predicate)
	if err != nil {
		return fmt.Errorf("compile predicate: %w", err)
	}

	def, ok := s.records.Definitions().Get(policy.EntityType)
	if !ok {
		return fmt.Errorf("no definition for entity type %q", policy.EntityType)
	}
	cutoff := policy.Cutoff(s.clock.Now())
	store := s.records.Store()

	// Ineligible records stay in the scan window, so paginate by keyset
	// cursor rather than re-reading the oldest page; the scan is done only
	// once a short page shows the window is exhausted.
	var cursor records.Cursor
	for {
		batch, err := store.ListOlderThan(ctx, policy.EntityType, cutoff, cursor, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("scan %s: %w", policy.EntityType, err)
		}

		for _, row := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}

			eligible, err := predicate.Eval(row.Doc)
			if err != nil {
				s.logger.WarnContext(ctx, "predicate evaluation failed, record skipped",
					"entity_type", policy.EntityType, "record_id", row.ID, "error", err)
				result.Failed++
				continue
			}
			if !eligible {
				continue
			}

			acted, err := s.applyAction(ctx, policy, def, row)
			if err != nil {
				s.logger.WarnContext(ctx, "sweep action failed",
					"entity_type", policy.EntityType, "record_id", row.ID, "error", err)
				result.Failed++
				continue
			}
			if acted {
				result.Affected++
			}
		}

		if len(batch) < s.cfg.BatchSize {
			break
		}
		cursor = cursor.After(batch[len(batch)-1])
	}

	if s.metrics != nil {
		switch policy.Action {
		case retention.ActionPurge:
			s.metrics.AddPurged(policy.EntityType, result.Affected)
		case retention.ActionAnonymize:
			s.metrics.AddAnonymized(policy.EntityType, result.Affected)
		}
		s.metrics.AddFailures(policy.EntityType, result.Failed)
	}
	return nil
}

// applyAction acts on one eligible record through the records service, so
// every purge and anonymization lands in the audit trail under the sweeper
// principal.
func (s *Sweeper) applyAction(ctx context.Context, policy retention.Policy, def records.Definition, row records.Stored) (bool, error) {
	switch policy.Action {
	case retention.ActionPurge:
		if err := s.records.Delete(ctx, policy.EntityType, row.ID); err != nil {
			return false, err
		}
		return true, nil
	case retention.ActionAnonymize:
		redacted, changed := compliance.Anonymize(row.Doc, def.IdentifyingFields)
		if !changed {
			// Already anonymized; nothing to write, nothing to audit.
			return false, nil
		}
		if err := s.records.Update(ctx, policy.EntityType, row.ID, redacted); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown action %q", policy.Action)
	}
}

func (s *Sweeper) observeOutcome(entityType, outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementSweep(entityType, outcome)
	}
}
