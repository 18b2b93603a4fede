// Package postgres persists audit records in PostgreSQL.
//
// Append writes the record and, in the same transaction, an outbox row. The
// outbox relay publishes rows to Kafka so downstream consumers (SIEM,
// long-term archival) observe the same append-only trail the query API serves.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chronicle/internal/audit"
	txcontext "chronicle/pkg/platform/tx"
	"chronicle/pkg/snapshot"
)

type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer joins the caller's transaction when one is in context, so the audit
// append commits or aborts with the business mutation it records.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Append inserts the audit record plus its outbox row and returns the
// store-assigned monotonic identifier.
func (s *Store) Append(ctx context.Context, record audit.Record) (int64, error) {
	beforeJSON, err := marshalNullable(record.Before)
	if err != nil {
		return 0, fmt.Errorf("marshal before snapshot: %w", err)
	}
	afterJSON, err := marshalNullable(record.After)
	if err != nil {
		return 0, fmt.Errorf("marshal after snapshot: %w", err)
	}
	var diffJSON []byte
	if !record.Diff.Empty() {
		if diffJSON, err = json.Marshal(record.Diff); err != nil {
			return 0, fmt.Errorf("marshal diff: %w", err)
		}
	}

	exec := s.execer(ctx)
	query := `
		INSERT INTO audit_records (
			entity_type, operation, record_id, before, after, diff,
			principal, timestamp, session_id, origin, client_label
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	var id int64
	err = exec.QueryRowContext(ctx, query,
		record.EntityType,
		string(record.Operation),
		record.RecordID,
		beforeJSON,
		afterJSON,
		diffJSON,
		record.Principal,
		record.Timestamp,
		record.Correlation.SessionID,
		record.Correlation.Origin,
		record.Correlation.ClientLabel,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit record: %w", err)
	}

	record.ID = id
	payload, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_outbox (audit_id, payload, created_at)
		VALUES ($1, $2, $3)
	`, id, payload, time.Now())
	if err != nil {
		return 0, fmt.Errorf("insert outbox entry: %w", err)
	}
	return id, nil
}

// Query returns matching records ordered newest first. The filter's optional
// predicates are assembled with a statement builder rather than string
// concatenation.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	q := builder.
		Select(
			"id", "entity_type", "operation", "record_id",
			"before", "after", "diff",
			"principal", "timestamp", "session_id", "origin", "client_label",
		).
		From("audit_records").
		OrderBy("timestamp DESC", "id DESC").
		Limit(uint64(filter.EffectiveLimit()))

	if filter.EntityType != "" {
		q = q.Where(sq.Eq{"entity_type": filter.EntityType})
	}
	if filter.RecordID != "" {
		q = q.Where(sq.Eq{"record_id": filter.RecordID})
	}
	if !filter.From.IsZero() {
		q = q.Where(sq.GtOrEq{"timestamp": filter.From})
	}
	if !filter.To.IsZero() {
		q = q.Where(sq.LtOrEq{"timestamp": filter.To})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DeleteOlderThan prunes one entity type's records past the cutoff. Used only
// by ledgered retention actions against the audit trail itself.
func (s *Store) DeleteOlderThan(ctx context.Context, entityType string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM audit_records
		WHERE entity_type = $1 AND timestamp < $2
	`, entityType, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted audit records: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var records []audit.Record
	for rows.Next() {
		var (
			rec       audit.Record
			operation string
			before    []byte
			after     []byte
			diff      []byte
		)
		err := rows.Scan(
			&rec.ID,
			&rec.EntityType,
			&operation,
			&rec.RecordID,
			&before,
			&after,
			&diff,
			&rec.Principal,
			&rec.Timestamp,
			&rec.Correlation.SessionID,
			&rec.Correlation.Origin,
			&rec.Correlation.ClientLabel,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Operation = audit.Operation(operation)
		if rec.Before, err = unmarshalNullable(before); err != nil {
			return nil, fmt.Errorf("unmarshal before snapshot: %w", err)
		}
		if rec.After, err = unmarshalNullable(after); err != nil {
			return nil, fmt.Errorf("unmarshal after snapshot: %w", err)
		}
		if len(diff) > 0 {
			if err := json.Unmarshal(diff, &rec.Diff); err != nil {
				return nil, fmt.Errorf("unmarshal diff: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

func marshalNullable(snap snapshot.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, nil
	}
	return json.Marshal(snap)
}

func unmarshalNullable(raw []byte) (snapshot.Snapshot, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}
