package compliance_test

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
	retentionmemory "chronicle/internal/retention/store/memory"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/requestcontext"
	"chronicle/pkg/snapshot"
)

// =============================================================================
// Compliance Service Test Suite
// =============================================================================

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type ComplianceSuite struct {
	suite.Suite
	auditSvc *audit.Service
	records  *records.Service
	ledger   *retentionmemory.LedgerStore
	service  *compliance.Service
	ctx      context.Context
	now      time.Time
}

func TestComplianceSuite(t *testing.T) {
	suite.Run(t, new(ComplianceSuite))
}

func (s *ComplianceSuite) SetupTest() {
	s.now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	s.auditSvc = audit.NewService(auditmemory.New())
	hook := capture.New(s.auditSvc)

	defs := records.NewRegistry()
	defs.Register(records.Definition{
		EntityType:        "customer",
		IdentifyingFields: []string{"name", "email"},
	})
	defs.Register(records.Definition{EntityType: "note"})

	s.records = records.NewService(recordsmemory.New(), defs, hook)
	s.ledger = retentionmemory.NewLedgerStore()
	s.service = compliance.NewService(s.records, s.auditSvc, hook, s.ledger,
		compliance.WithClock(fixedClock{at: s.now}))

	s.ctx = requestcontext.WithPrincipal(context.Background(), "dpo@corp")
}

func (s *ComplianceSuite) seedCustomer() string {
	id, err := s.records.Create(s.ctx, "customer", snapshot.Snapshot{
		"name":        "alice",
		"email":       "alice@example.com",
		"order_count": float64(12),
	})
	s.Require().NoError(err)
	s.Require().NoError(s.records.Update(s.ctx, "customer", id, snapshot.Snapshot{
		"name":        "alice",
		"email":       "alice@new.example.com",
		"order_count": float64(13),
	}))
	return id
}

// =============================================================================
// Export Tests
// =============================================================================

func (s *ComplianceSuite) TestExport() {
	id := s.seedCustomer()

	s.Run("bundles the snapshot with its full history", func() {
		export, err := s.service.ExportRecord(s.ctx, "customer", id)
		s.Require().NoError(err)

		s.Equal("customer", export.EntityType)
		s.Equal(id, export.RecordID)
		s.Equal("alice@new.example.com", export.Record["email"])
		s.Equal(s.now, export.ExportedAt)

		// Create + update; the export capture lands after the query.
		s.Require().Len(export.History, 2)
		s.Equal(audit.OpUpdated, export.History[0].Operation)
		s.Equal(audit.OpCreated, export.History[1].Operation)
	})

	s.Run("the export itself is captured in the trail", func() {
		history, err := s.auditSvc.Query(s.ctx, audit.Filter{EntityType: "customer", RecordID: id})
		s.Require().NoError(err)
		s.Equal(audit.OpExported, history[0].Operation)
		s.Equal("dpo@corp", history[0].Principal)
	})

	s.Run("a ledger entry names the requester", func() {
		entries, err := s.ledger.List(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("export", string(entries[0].Action))
		s.Equal("dpo@corp", entries[0].RequestedBy)
	})

	s.Run("missing record maps to not found", func() {
		_, err := s.service.ExportRecord(s.ctx, "customer", "ghost")
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("anonymous callers are rejected", func() {
		_, err := s.service.ExportRecord(context.Background(), "customer", id)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})
}

// =============================================================================
// Anonymize Tests
// =============================================================================

func (s *ComplianceSuite) TestAnonymize() {
	id := s.seedCustomer()

	s.Run("identifying fields replaced, aggregates preserved", func() {
		result, err := s.service.AnonymizeRecord(s.ctx, "customer", id)
		s.Require().NoError(err)
		s.True(result.Changed)

		doc, err := s.records.Get(s.ctx, "customer", id)
		s.Require().NoError(err)
		s.Equal(compliance.Sentinel, doc["name"])
		s.Equal(compliance.Sentinel, doc["email"])
		s.Equal(float64(13), doc["order_count"])
	})

	s.Run("the redaction is an audited update by the requester", func() {
		history, err := s.auditSvc.Query(s.ctx, audit.Filter{EntityType: "customer", RecordID: id})
		s.Require().NoError(err)
		s.Equal(audit.OpUpdated, history[0].Operation)
		s.Equal("dpo@corp", history[0].Principal)
		s.Equal(compliance.Sentinel, history[0].Diff["email"].New)
	})

	s.Run("repeating the request changes nothing", func() {
		before, err := s.auditSvc.Query(s.ctx, audit.Filter{EntityType: "customer", RecordID: id})
		s.Require().NoError(err)

		result, err := s.service.AnonymizeRecord(s.ctx, "customer", id)
		s.Require().NoError(err)
		s.False(result.Changed)

		after, err := s.auditSvc.Query(s.ctx, audit.Filter{EntityType: "customer", RecordID: id})
		s.Require().NoError(err)
		s.Len(after, len(before))
	})

	s.Run("every request lands in the ledger", func() {
		entries, err := s.ledger.List(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal("anonymize_record", string(entries[0].Action))
		s.Zero(entries[0].Affected)
		s.Equal(1, entries[1].Affected)
	})

	s.Run("entity types without identifying fields are rejected", func() {
		noteID, err := s.records.Create(s.ctx, "note", snapshot.Snapshot{"text": "hi"})
		s.Require().NoError(err)

		_, err = s.service.AnonymizeRecord(s.ctx, "note", noteID)
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("missing record maps to not found", func() {
		_, err := s.service.AnonymizeRecord(s.ctx, "customer", "ghost")
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Anonymizer Tests
// =============================================================================

func (s *ComplianceSuite) TestAnonymizeFunc() {
	s.Run("dotted paths reach nested fields", func() {
		doc := snapshot.Snapshot{
			"contact": map[string]any{"email": "a@example.com", "city": "Oslo"},
		}
		out, changed := compliance.Anonymize(doc, []string{"contact.email"})
		s.True(changed)
		contact := out["contact"].(map[string]any)
		s.Equal(compliance.Sentinel, contact["email"])
		s.Equal("Oslo", contact["city"])
	})

	s.Run("absent fields are skipped, not created", func() {
		out, changed := compliance.Anonymize(snapshot.Snapshot{"a": 1}, []string{"email"})
		s.False(changed)
		_, present := out["email"]
		s.False(present)
	})

	s.Run("the input document is not mutated", func() {
		doc := snapshot.Snapshot{"email": "a@example.com"}
		_, changed := compliance.Anonymize(doc, []string{"email"})
		s.True(changed)
		s.Equal("a@example.com", doc["email"])
	})
}
