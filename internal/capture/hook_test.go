package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/snapshot"
)

// =============================================================================
// Capture Hook Test Suite
// =============================================================================

type fakeAppender struct {
	records []audit.Record
	err     error
}

func (f *fakeAppender) Append(_ context.Context, record audit.Record) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.records = append(f.records, record)
	return int64(len(f.records)), nil
}

type HookSuite struct {
	suite.Suite
	appender *fakeAppender
	hook     *Hook
}

func TestHookSuite(t *testing.T) {
	suite.Run(t, new(HookSuite))
}

func (s *HookSuite) SetupTest() {
	s.appender = &fakeAppender{}
	s.hook = New(s.appender)
}

func (s *HookSuite) capture(m Mutation) error {
	return s.hook.Capture(context.Background(), m)
}

// =============================================================================
// Invariant Tests
// =============================================================================

func (s *HookSuite) TestValidation() {
	after := snapshot.Snapshot{"id": "r1", "name": "alice"}

	s.Run("entity type is required", func() {
		err := s.capture(Mutation{Operation: audit.OpCreated, After: after, Principal: "u1"})
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("principal is required", func() {
		err := s.capture(Mutation{EntityType: "customer", Operation: audit.OpCreated, After: after})
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("created must not carry a before snapshot", func() {
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpCreated,
			Before: after, After: after, Principal: "u1",
		})
		s.True(dErrors.Is(err, dErrors.CodeInvariantViolation))
	})

	s.Run("deleted must not carry an after snapshot", func() {
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpDeleted,
			Before: after, After: after, Principal: "u1",
		})
		s.True(dErrors.Is(err, dErrors.CodeInvariantViolation))
	})

	s.Run("updated requires both snapshots", func() {
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpUpdated,
			After: after, Principal: "u1",
		})
		s.True(dErrors.Is(err, dErrors.CodeInvariantViolation))
	})

	s.Run("unknown operation is rejected", func() {
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.Operation("merged"),
			After: after, Principal: "u1",
		})
		s.Error(err)
	})
}

// =============================================================================
// Capture Tests
// =============================================================================

func (s *HookSuite) TestCapture() {
	s.Run("created appends a record with the after snapshot", func() {
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpCreated,
			After:     snapshot.Snapshot{"id": "r1", "name": "alice"},
			Principal: "u1",
		})
		s.Require().NoError(err)
		s.Require().Len(s.appender.records, 1)

		record := s.appender.records[0]
		s.Equal("r1", record.RecordID)
		s.Equal(audit.OpCreated, record.Operation)
		s.Nil(record.Before)
		s.Nil(record.Diff)
	})

	s.Run("updated appends a record with a field diff", func() {
		s.SetupTest()
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpUpdated,
			Before:    snapshot.Snapshot{"id": "r1", "status": "open"},
			After:     snapshot.Snapshot{"id": "r1", "status": "closed"},
			Principal: "u1",
		})
		s.Require().NoError(err)
		s.Require().Len(s.appender.records, 1)

		diff := s.appender.records[0].Diff
		s.Len(diff, 1)
		s.Equal("open", diff["status"].Old)
		s.Equal("closed", diff["status"].New)
	})

	s.Run("no-op update appends nothing", func() {
		s.SetupTest()
		doc := snapshot.Snapshot{"id": "r1", "status": "open"}
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpUpdated,
			Before: doc, After: doc.Clone(), Principal: "u1",
		})
		s.NoError(err)
		s.Empty(s.appender.records)
	})

	s.Run("deleted resolves the record id from the before snapshot", func() {
		s.SetupTest()
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpDeleted,
			Before:    snapshot.Snapshot{"id": "r9"},
			Principal: "u1",
		})
		s.Require().NoError(err)
		s.Equal("r9", s.appender.records[0].RecordID)
	})

	s.Run("numeric identifiers are stringified", func() {
		s.SetupTest()
		err := s.capture(Mutation{
			EntityType: "orders", Operation: audit.OpCreated,
			After:     snapshot.Snapshot{"id": float64(42)},
			Principal: "u1",
		})
		s.Require().NoError(err)
		s.Equal("42", s.appender.records[0].RecordID)
	})

	s.Run("custom id field", func() {
		s.SetupTest()
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpCreated,
			After:     snapshot.Snapshot{"customer_id": "c7"},
			Principal: "u1",
			IDField:   "customer_id",
		})
		s.Require().NoError(err)
		s.Equal("c7", s.appender.records[0].RecordID)
	})

	s.Run("missing identifier is rejected", func() {
		s.SetupTest()
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpCreated,
			After:     snapshot.Snapshot{"name": "alice"},
			Principal: "u1",
		})
		s.Error(err)
	})
}

// =============================================================================
// Failure Propagation Tests
// =============================================================================

func (s *HookSuite) TestAppendFailure() {
	s.Run("append failure propagates to the caller", func() {
		s.appender.err = dErrors.Wrap(errors.New("sink down"), dErrors.CodeCaptureFailed, "append audit record")
		err := s.capture(Mutation{
			EntityType: "customer", Operation: audit.OpCreated,
			After:     snapshot.Snapshot{"id": "r1"},
			Principal: "u1",
		})
		s.True(dErrors.Is(err, dErrors.CodeCaptureFailed))
	})
}
