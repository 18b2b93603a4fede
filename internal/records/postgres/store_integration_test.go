//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/records"
	"chronicle/internal/records/postgres"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/snapshot"
	"chronicle/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	ctx      context.Context
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetPostgres(s.T())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.store = postgres.New(s.postgres.DB, postgres.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "monitored_records"))
}

func (s *PostgresStoreSuite) TestPutGetDelete() {
	doc := snapshot.Snapshot{"status": "open", "total": float64(99)}
	s.Require().NoError(s.store.Put(s.ctx, "orders", "o-1", doc))

	got, err := s.store.Get(s.ctx, "orders", "o-1")
	s.Require().NoError(err)
	s.Equal("open", got["status"])
	s.Equal(float64(99), got["total"])

	// Upsert replaces the document wholesale.
	s.Require().NoError(s.store.Put(s.ctx, "orders", "o-1", snapshot.Snapshot{"status": "closed"}))
	got, err = s.store.Get(s.ctx, "orders", "o-1")
	s.Require().NoError(err)
	s.Equal("closed", got["status"])
	_, present := got["total"]
	s.False(present)

	s.Require().NoError(s.store.Delete(s.ctx, "orders", "o-1"))
	_, err = s.store.Get(s.ctx, "orders", "o-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(s.ctx, "orders", "o-1"), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRecordIDsAreScopedByEntityType() {
	s.Require().NoError(s.store.Put(s.ctx, "orders", "1", snapshot.Snapshot{"kind": "order"}))
	s.Require().NoError(s.store.Put(s.ctx, "customers", "1", snapshot.Snapshot{"kind": "customer"}))

	got, err := s.store.Get(s.ctx, "customers", "1")
	s.Require().NoError(err)
	s.Equal("customer", got["kind"])

	s.Require().NoError(s.store.Delete(s.ctx, "orders", "1"))
	_, err = s.store.Get(s.ctx, "customers", "1")
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestListOlderThan() {
	write := func(id string, age time.Duration) {
		saved := s.now
		s.now = saved.Add(-age)
		s.Require().NoError(s.store.Put(s.ctx, "orders", id, snapshot.Snapshot{"id": id}))
		s.now = saved
	}
	write("ancient", 72*time.Hour)
	write("old", 48*time.Hour)
	write("fresh", time.Hour)

	cutoff := s.now.Add(-24 * time.Hour)
	eligible, err := s.store.ListOlderThan(s.ctx, "orders", cutoff, records.Cursor{}, 10)
	s.Require().NoError(err)
	s.Require().Len(eligible, 2)

	// Oldest first, so repeated batches drain the backlog in order.
	s.Equal("ancient", eligible[0].ID)
	s.Equal("old", eligible[1].ID)
	s.Equal("old", eligible[1].Doc["id"])
	s.True(eligible[0].UpdatedAt.Before(eligible[1].UpdatedAt))

	// Keyset paging: a cursor at the first page's tail yields the next
	// record, not the same one again.
	first, err := s.store.ListOlderThan(s.ctx, "orders", cutoff, records.Cursor{}, 1)
	s.Require().NoError(err)
	s.Require().Len(first, 1)
	s.Equal("ancient", first[0].ID)

	second, err := s.store.ListOlderThan(s.ctx, "orders", cutoff, records.Cursor{}.After(first[0]), 1)
	s.Require().NoError(err)
	s.Require().Len(second, 1)
	s.Equal("old", second[0].ID)

	third, err := s.store.ListOlderThan(s.ctx, "orders", cutoff, records.Cursor{}.After(second[0]), 1)
	s.Require().NoError(err)
	s.Empty(third)
}
