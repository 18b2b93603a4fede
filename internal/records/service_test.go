package records_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit"
	auditmemory "chronicle/internal/audit/store/memory"
	"chronicle/internal/capture"
	"chronicle/internal/records"
	recordsmemory "chronicle/internal/records/memory"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/requestcontext"
	"chronicle/pkg/snapshot"
)

// =============================================================================
// Records Service Test Suite
// =============================================================================
// The records service is the seam where mutations, the capture hook, and the
// audit trail meet; these tests exercise the whole chain against in-memory
// stores.

type failingAuditStore struct {
	audit.Store
	fail bool
}

func (f *failingAuditStore) Append(ctx context.Context, record audit.Record) (int64, error) {
	if f.fail {
		return 0, errors.New("sink down")
	}
	return f.Store.Append(ctx, record)
}

type ServiceSuite struct {
	suite.Suite
	auditStore *failingAuditStore
	auditSvc   *audit.Service
	service    *records.Service
	ctx        context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.auditStore = &failingAuditStore{Store: auditmemory.New()}
	s.auditSvc = audit.NewService(s.auditStore)
	hook := capture.New(s.auditSvc)

	defs := records.NewRegistry()
	defs.Register(records.Definition{EntityType: "customer", IdentifyingFields: []string{"email"}})

	s.service = records.NewService(recordsmemory.New(), defs, hook)
	s.ctx = requestcontext.WithPrincipal(context.Background(), "u1")
}

func (s *ServiceSuite) history(recordID string) []audit.Record {
	records, err := s.auditSvc.Query(context.Background(), audit.Filter{
		EntityType: "customer",
		RecordID:   recordID,
	})
	s.Require().NoError(err)
	return records
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func (s *ServiceSuite) TestLifecycle() {
	s.Run("create, update, delete leave three records newest first", func() {
		id, err := s.service.Create(s.ctx, "customer", snapshot.Snapshot{"name": "alice", "status": "open"})
		s.Require().NoError(err)
		s.NotEmpty(id)

		s.Require().NoError(s.service.Update(s.ctx, "customer", id, snapshot.Snapshot{"name": "alice", "status": "closed"}))
		s.Require().NoError(s.service.Delete(s.ctx, "customer", id))

		history := s.history(id)
		s.Require().Len(history, 3)
		s.Equal(audit.OpDeleted, history[0].Operation)
		s.Equal(audit.OpUpdated, history[1].Operation)
		s.Equal(audit.OpCreated, history[2].Operation)

		s.Equal("open", history[1].Diff["status"].Old)
		s.Equal("closed", history[1].Diff["status"].New)
		for _, rec := range history {
			s.Equal("u1", rec.Principal)
		}
	})

	s.Run("caller-supplied id is preserved", func() {
		id, err := s.service.Create(s.ctx, "customer", snapshot.Snapshot{"id": "c42", "name": "bob"})
		s.Require().NoError(err)
		s.Equal("c42", id)
	})

	s.Run("no-op update adds nothing to the trail", func() {
		id, err := s.service.Create(s.ctx, "customer", snapshot.Snapshot{"name": "carol"})
		s.Require().NoError(err)
		s.Require().Len(s.history(id), 1)

		doc, err := s.service.Get(s.ctx, "customer", id)
		s.Require().NoError(err)
		s.Require().NoError(s.service.Update(s.ctx, "customer", id, doc))
		s.Len(s.history(id), 1)
	})

	s.Run("unknown entity type is rejected", func() {
		_, err := s.service.Create(s.ctx, "unknown", snapshot.Snapshot{"x": 1})
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("missing record maps to not found", func() {
		err := s.service.Update(s.ctx, "customer", "nope", snapshot.Snapshot{"x": 1})
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Capture Failure Tests
// =============================================================================

func (s *ServiceSuite) TestCaptureFailure() {
	s.Run("failed capture aborts a create and undoes the write", func() {
		s.auditStore.fail = true
		id, err := s.service.Create(s.ctx, "customer", snapshot.Snapshot{"id": "c1", "name": "alice"})
		s.True(dErrors.Is(err, dErrors.CodeCaptureFailed))
		s.Empty(id)

		s.auditStore.fail = false
		_, err = s.service.Get(s.ctx, "customer", "c1")
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("failed capture restores the previous version on update", func() {
		id, err := s.service.Create(s.ctx, "customer", snapshot.Snapshot{"status": "open"})
		s.Require().NoError(err)

		s.auditStore.fail = true
		err = s.service.Update(s.ctx, "customer", id, snapshot.Snapshot{"status": "closed"})
		s.True(dErrors.Is(err, dErrors.CodeCaptureFailed))

		s.auditStore.fail = false
		doc, err := s.service.Get(s.ctx, "customer", id)
		s.Require().NoError(err)
		s.Equal("open", doc["status"])
	})

	s.Run("failed capture restores the record on delete", func() {
		id, err := s.service.Create(s.ctx, "customer", snapshot.Snapshot{"status": "open"})
		s.Require().NoError(err)

		s.auditStore.fail = true
		err = s.service.Delete(s.ctx, "customer", id)
		s.True(dErrors.Is(err, dErrors.CodeCaptureFailed))

		s.auditStore.fail = false
		_, err = s.service.Get(s.ctx, "customer", id)
		s.NoError(err)
	})
}
