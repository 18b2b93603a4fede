// Package postgres persists retention policies and the cleanup ledger.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/retention"
	"chronicle/pkg/platform/sentinel"
)

type PolicyStore struct {
	db *sql.DB
}

func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

func (s *PolicyStore) Upsert(ctx context.Context, policy retention.Policy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_policies (
			id, entity_type, max_age_seconds, action, predicate,
			target_audit_trail, last_run_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_type) DO UPDATE SET
			max_age_seconds = EXCLUDED.max_age_seconds,
			action = EXCLUDED.action,
			predicate = EXCLUDED.predicate,
			target_audit_trail = EXCLUDED.target_audit_trail,
			updated_at = EXCLUDED.updated_at
	`,
		policy.ID,
		policy.EntityType,
		int64(policy.MaxAge.Seconds()),
		string(policy.Action),
		policy.Predicate,
		policy.TargetAuditTrail,
		policy.LastRunAt,
		policy.CreatedAt,
		policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert retention policy: %w", err)
	}
	return nil
}

func (s *PolicyStore) Get(ctx context.Context, entityType string) (retention.Policy, error) {
	row := s.db.QueryRowContext(ctx, selectPolicy+` WHERE entity_type = $1`, entityType)
	policy, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return retention.Policy{}, sentinel.ErrNotFound
		}
		return retention.Policy{}, fmt.Errorf("get retention policy: %w", err)
	}
	return policy, nil
}

func (s *PolicyStore) List(ctx context.Context) ([]retention.Policy, error) {
	rows, err := s.db.QueryContext(ctx, selectPolicy+` ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()

	var policies []retention.Policy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retention policy: %w", err)
		}
		policies = append(policies, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retention policies: %w", err)
	}
	return policies, nil
}

func (s *PolicyStore) Delete(ctx context.Context, entityType string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM retention_policies WHERE entity_type = $1`, entityType)
	if err != nil {
		return fmt.Errorf("delete retention policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("count deleted policies: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PolicyStore) SetLastRun(ctx context.Context, policyID uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retention_policies SET last_run_at = $1 WHERE id = $2
	`, at, policyID)
	if err != nil {
		return fmt.Errorf("set policy last run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("count updated policies: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const selectPolicy = `
	SELECT id, entity_type, max_age_seconds, action, predicate,
	       target_audit_trail, last_run_at, created_at, updated_at
	FROM retention_policies`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (retention.Policy, error) {
	var (
		policy        retention.Policy
		maxAgeSeconds int64
		action        string
		lastRun       sql.NullTime
	)
	err := row.Scan(
		&policy.ID,
		&policy.EntityType,
		&maxAgeSeconds,
		&action,
		&policy.Predicate,
		&policy.TargetAuditTrail,
		&lastRun,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)
	if err != nil {
		return retention.Policy{}, err
	}
	policy.MaxAge = time.Duration(maxAgeSeconds) * time.Second
	policy.Action = retention.Action(action)
	if lastRun.Valid {
		policy.LastRunAt = &lastRun.Time
	}
	return policy, nil
}

type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Append(ctx context.Context, entry retention.LedgerEntry) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cleanup_ledger (
			policy_id, entity_type, action, affected, failed, requested_by, timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		entry.PolicyID,
		entry.EntityType,
		string(entry.Action),
		entry.Affected,
		entry.Failed,
		entry.RequestedBy,
		entry.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append cleanup ledger entry: %w", err)
	}
	return id, nil
}

func (s *LedgerStore) List(ctx context.Context, limit int) ([]retention.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, policy_id, entity_type, action, affected, failed, requested_by, timestamp
		FROM cleanup_ledger
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list cleanup ledger: %w", err)
	}
	defer rows.Close()

	var entries []retention.LedgerEntry
	for rows.Next() {
		var (
			entry  retention.LedgerEntry
			action string
		)
		err := rows.Scan(
			&entry.ID,
			&entry.PolicyID,
			&entry.EntityType,
			&action,
			&entry.Affected,
			&entry.Failed,
			&entry.RequestedBy,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cleanup ledger entry: %w", err)
		}
		entry.Action = retention.Action(action)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cleanup ledger: %w", err)
	}
	return entries, nil
}
