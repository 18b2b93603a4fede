// Package postgres persists monitored records as JSONB documents. This is the
// reference host-store adapter; production deployments typically implement
// records.Store against their own schema instead.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chronicle/internal/records"
	"chronicle/pkg/platform/sentinel"
	txcontext "chronicle/pkg/platform/tx"
	"chronicle/pkg/snapshot"
)

type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Get(ctx context.Context, entityType, id string) (snapshot.Snapshot, error) {
	var raw []byte
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT doc FROM monitored_records
		WHERE entity_type = $1 AND record_id = $2
	`, entityType, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	var doc snapshot.Snapshot
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal record doc: %w", err)
	}
	return doc, nil
}

func (s *Store) Put(ctx context.Context, entityType, id string, doc snapshot.Snapshot) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal record doc: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO monitored_records (entity_type, record_id, doc, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, record_id) DO UPDATE SET
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`, entityType, id, raw, s.clock())
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM monitored_records
		WHERE entity_type = $1 AND record_id = $2
	`, entityType, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("count deleted records: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) ListOlderThan(ctx context.Context, entityType string, cutoff time.Time, after records.Cursor, limit int) ([]records.Stored, error) {
	// Keyset pagination over (updated_at, record_id). The zero cursor sorts
	// before any real timestamp, so the predicate also covers the first page.
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, doc, updated_at FROM monitored_records
		WHERE entity_type = $1 AND updated_at < $2
		  AND (updated_at, record_id) > ($3, $4)
		ORDER BY updated_at, record_id
		LIMIT $5
	`, entityType, cutoff, after.UpdatedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible records: %w", err)
	}
	defer rows.Close()

	var out []records.Stored
	for rows.Next() {
		var (
			stored records.Stored
			raw    []byte
		)
		if err := rows.Scan(&stored.ID, &raw, &stored.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan eligible record: %w", err)
		}
		if err := json.Unmarshal(raw, &stored.Doc); err != nil {
			return nil, fmt.Errorf("unmarshal record doc: %w", err)
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible records: %w", err)
	}
	return out, nil
}
