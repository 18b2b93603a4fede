package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit"
	auditmemory "chronicle/internal/audit/store/memory"
	"chronicle/internal/capture"
	"chronicle/internal/compliance"
	"chronicle/internal/records"
	recordsmemory "chronicle/internal/records/memory"
	"chronicle/internal/retention"
	"chronicle/internal/retention/lock"
	retentionmemory "chronicle/internal/retention/store/memory"
	"chronicle/pkg/requestcontext"
	"chronicle/pkg/snapshot"
)

// =============================================================================
// Retention Sweeper Test Suite
// =============================================================================
// The sweeper is where policies, the eligibility scan, and the capture hook
// meet; everything here runs against in-memory stores with a pinned clock.

type testClock struct{ at time.Time }

func (c *testClock) Now() time.Time { return c.at }

type SweeperSuite struct {
	suite.Suite
	clock    *testClock
	auditSvc *audit.Service
	records  *records.Service
	policies *retentionmemory.PolicyStore
	ledger   *retentionmemory.LedgerStore
	locks    *lock.InProcess
	sweeper  *Sweeper
	ctx      context.Context
}

func TestSweeperSuite(t *testing.T) {
	suite.Run(t, new(SweeperSuite))
}

func (s *SweeperSuite) SetupTest() {
	s.clock = &testClock{at: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	s.auditSvc = audit.NewService(auditmemory.New())
	hook := capture.New(s.auditSvc)

	defs := records.NewRegistry()
	defs.Register(records.Definition{
		EntityType:        "customer",
		IdentifyingFields: []string{"name", "email"},
	})

	store := recordsmemory.New(recordsmemory.WithClock(func() time.Time { return s.clock.at }))
	s.records = records.NewService(store, defs, hook)

	s.policies = retentionmemory.NewPolicyStore()
	s.ledger = retentionmemory.NewLedgerStore()
	s.locks = lock.NewInProcess()

	s.sweeper = New(s.policies, s.ledger, s.records, s.auditSvc, s.locks,
		Config{BatchSize: 2},
		WithClock(s.clock),
	)
	s.ctx = context.Background()
}

// createAt writes a record whose last-modified instant is now-age.
func (s *SweeperSuite) createAt(age time.Duration, doc snapshot.Snapshot) string {
	sweepTime := s.clock.at
	s.clock.at = sweepTime.Add(-age)
	ctx := requestcontext.WithPrincipal(s.ctx, "seeder")
	ctx = requestcontext.WithTime(ctx, s.clock.at)
	id, err := s.records.Create(ctx, "customer", doc)
	s.Require().NoError(err)
	s.clock.at = sweepTime
	return id
}

func (s *SweeperSuite) registerPolicy(policy retention.Policy) retention.Policy {
	registry := retention.NewRegistry(s.policies, s.ledger, retention.WithClock(s.clock))
	stored, err := registry.Register(s.ctx, policy)
	s.Require().NoError(err)
	return stored
}

const day = 24 * time.Hour

// =============================================================================
// Purge Tests
// =============================================================================

func (s *SweeperSuite) TestPurge() {
	s.registerPolicy(retention.Policy{
		EntityType: "customer",
		MaxAge:     30 * day,
		Action:     retention.ActionPurge,
	})
	oldID := s.createAt(31*day, snapshot.Snapshot{"status": "closed"})
	freshID := s.createAt(29*day, snapshot.Snapshot{"status": "closed"})

	s.Run("only records past the age cutoff are purged", func() {
		results, err := s.sweeper.SweepAll(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(results, 1)
		s.Equal(1, results[0].Affected)
		s.Zero(results[0].Failed)

		_, err = s.records.Get(s.ctx, "customer", oldID)
		s.Error(err)
		_, err = s.records.Get(s.ctx, "customer", freshID)
		s.NoError(err)
	})

	s.Run("the purge itself lands in the audit trail", func() {
		history, err := s.auditSvc.Query(s.ctx, audit.Filter{EntityType: "customer", RecordID: oldID})
		s.Require().NoError(err)
		s.Require().NotEmpty(history)
		s.Equal(audit.OpDeleted, history[0].Operation)
		s.Equal(SystemPrincipal, history[0].Principal)
	})

	s.Run("a ledger entry proves the sweep ran", func() {
		entries, err := s.ledger.List(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(retention.ActionPurge, entries[0].Action)
		s.Equal(1, entries[0].Affected)
		s.Empty(entries[0].RequestedBy)
	})

	s.Run("a second sweep is an observable no-op", func() {
		results, err := s.sweeper.SweepAll(s.ctx)
		s.Require().NoError(err)
		s.Zero(results[0].Affected)

		entries, err := s.ledger.List(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Zero(entries[0].Affected)
	})
}

// =============================================================================
// Predicate Tests
// =============================================================================

func (s *SweeperSuite) TestPredicate() {
	s.registerPolicy(retention.Policy{
		EntityType: "customer",
		MaxAge:     30 * day,
		Action:     retention.ActionPurge,
		Predicate:  `record.status == "closed" && !has(record.legal_hold)`,
	})
	closedID := s.createAt(40*day, snapshot.Snapshot{"status": "closed"})
	openID := s.createAt(40*day, snapshot.Snapshot{"status": "open"})
	heldID := s.createAt(40*day, snapshot.Snapshot{"status": "closed", "legal_hold": true})

	results, err := s.sweeper.SweepAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, results[0].Affected)

	_, err = s.records.Get(s.ctx, "customer", closedID)
	s.Error(err)
	_, err = s.records.Get(s.ctx, "customer", openID)
	s.NoError(err)
	_, err = s.records.Get(s.ctx, "customer", heldID)
	s.NoError(err)
}

func (s *SweeperSuite) TestScanAdvancesPastIneligibleBatches() {
	// The two oldest records fill a whole batch but fail the predicate; the
	// scan must page past them to reach the eligible record behind.
	s.registerPolicy(retention.Policy{
		EntityType: "customer",
		MaxAge:     30 * day,
		Action:     retention.ActionPurge,
		Predicate:  `record.status == "closed"`,
	})
	openA := s.createAt(50*day, snapshot.Snapshot{"status": "open"})
	openB := s.createAt(49*day, snapshot.Snapshot{"status": "open"})
	closedID := s.createAt(48*day, snapshot.Snapshot{"status": "closed"})

	results, err := s.sweeper.SweepAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal(1, results[0].Affected)
	s.Zero(results[0].Failed)

	_, err = s.records.Get(s.ctx, "customer", closedID)
	s.Error(err)
	_, err = s.records.Get(s.ctx, "customer", openA)
	s.NoError(err)
	_, err = s.records.Get(s.ctx, "customer", openB)
	s.NoError(err)
}

// =============================================================================
// Partial Failure Tests
// =============================================================================

func (s *SweeperSuite) TestPartialFailure() {
	s.registerPolicy(retention.Policy{
		EntityType: "customer",
		MaxAge:     30 * day,
		Action:     retention.ActionPurge,
		Predicate:  `record.status == "closed"`,
	})
	// Predicate evaluation fails for the record missing the field; the
	// sweep continues and reports it separately.
	s.createAt(40*day, snapshot.Snapshot{"name": "no-status"})
	s.createAt(40*day, snapshot.Snapshot{"status": "closed"})

	results, err := s.sweeper.SweepAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, results[0].Affected)
	s.Equal(1, results[0].Failed)
	s.Empty(results[0].Error)

	entries, err := s.ledger.List(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(1, entries[0].Affected)
	s.Equal(1, entries[0].Failed)
}

// =============================================================================
// Anonymize Tests
// =============================================================================

func (s *SweeperSuite) TestAnonymize() {
	s.registerPolicy(retention.Policy{
		EntityType: "customer",
		MaxAge:     30 * day,
		Action:     retention.ActionAnonymize,
	})
	id := s.createAt(40*day, snapshot.Snapshot{
		"name":        "alice",
		"email":       "alice@example.com",
		"order_count": float64(12),
	})

	s.Run("identifying fields are replaced, the rest survives", func() {
		results, err := s.sweeper.SweepAll(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, results[0].Affected)

		doc, err := s.records.Get(s.ctx, "customer", id)
		s.Require().NoError(err)
		s.Equal(compliance.Sentinel, doc["name"])
		s.Equal(compliance.Sentinel, doc["email"])
		s.Equal(float64(12), doc["order_count"])
	})

	s.Run("the redaction is an audited update", func() {
		history, err := s.auditSvc.Query(s.ctx, audit.Filter{EntityType: "customer", RecordID: id})
		s.Require().NoError(err)
		s.Require().NotEmpty(history)
		s.Equal(audit.OpUpdated, history[0].Operation)
		s.Equal(SystemPrincipal, history[0].Principal)
		s.Equal("alice@example.com", history[0].Diff["email"].Old)
		s.Equal(compliance.Sentinel, history[0].Diff["email"].New)
	})

	s.Run("anonymization is idempotent across sweeps", func() {
		// Age the anonymized record past the cutoff again.
		s.clock.at = s.clock.at.Add(40 * day)
		results, err := s.sweeper.SweepAll(s.ctx)
		s.Require().NoError(err)
		s.Zero(results[0].Affected)
	})
}

// =============================================================================
// Audit Trail Pruning Tests
// =============================================================================

func (s *SweeperSuite) TestAuditTrailPruning() {
	s.registerPolicy(retention.Policy{
		EntityType:       "customer",
		MaxAge:           30 * day,
		Action:           retention.ActionPurge,
		TargetAuditTrail: true,
	})
	// Two appends from long ago, one recent.
	s.createAt(45*day, snapshot.Snapshot{"status": "a"})
	s.createAt(44*day, snapshot.Snapshot{"status": "b"})
	s.createAt(1*day, snapshot.Snapshot{"status": "c"})

	results, err := s.sweeper.SweepAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, results[0].Affected)

	remaining, err := s.auditSvc.Query(s.ctx, audit.Filter{EntityType: "customer"})
	s.Require().NoError(err)
	s.Len(remaining, 1)
}

// =============================================================================
// Locking Tests
// =============================================================================

func (s *SweeperSuite) TestLocking() {
	s.registerPolicy(retention.Policy{
		EntityType: "customer",
		MaxAge:     30 * day,
		Action:     retention.ActionPurge,
	})
	s.createAt(40*day, snapshot.Snapshot{"status": "closed"})

	release, err := s.locks.TryAcquire(s.ctx, "customer", time.Minute)
	s.Require().NoError(err)

	s.Run("a held lock skips the sweep without a ledger entry", func() {
		results, err := s.sweeper.SweepAll(s.ctx)
		s.Require().NoError(err)
		s.True(results[0].Skipped)

		entries, err := s.ledger.List(s.ctx, 10)
		s.Require().NoError(err)
		s.Empty(entries)
	})

	s.Run("after release the sweep proceeds", func() {
		s.Require().NoError(release(s.ctx))
		results, err := s.sweeper.SweepAll(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, results[0].Affected)
	})
}

// =============================================================================
// Manual Trigger Tests
// =============================================================================

func (s *SweeperSuite) TestSweepOne() {
	s.registerPolicy(retention.Policy{
		EntityType: "customer",
		MaxAge:     30 * day,
		Action:     retention.ActionPurge,
	})
	s.createAt(40*day, snapshot.Snapshot{"status": "closed"})

	s.Run("sweeps the named entity type", func() {
		result, err := s.sweeper.SweepOne(s.ctx, "customer")
		s.Require().NoError(err)
		s.Equal(1, result.Affected)
	})

	s.Run("unknown entity type errors", func() {
		_, err := s.sweeper.SweepOne(s.ctx, "ghost")
		s.Error(err)
	})
}
