// Package outbox relays committed audit records to Kafka. Rows are written in
// the same transaction as the audit append, so the relay can publish at
// leisure without ever observing a record whose mutation later aborted.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Publisher is the transport the relay delivers payloads to.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Relay polls the outbox table and publishes pending rows in ID order.
type Relay struct {
	db        *sql.DB
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// New constructs a relay. interval is how often the outbox is polled;
// batchSize bounds one drain pass.
func New(db *sql.DB, publisher Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{db: db, publisher: publisher, logger: logger, interval: interval, batchSize: batchSize}
}

// Run drains the outbox on each tick until the context is cancelled.
// Cancellation is the normal shutdown path, not an error.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

type pendingRow struct {
	id      int64
	payload []byte
}

// drain publishes up to batchSize pending rows. A publish failure stops the
// pass; the row stays pending and is retried on the next tick.
func (r *Relay) drain(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, r.batchSize)
	if err != nil {
		return fmt.Errorf("select pending outbox rows: %w", err)
	}
	var pending []pendingRow
	for rows.Next() {
		var row pendingRow
		if err := rows.Scan(&row.id, &row.payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox rows: %w", err)
	}

	for _, row := range pending {
		key := entityTypeOf(row.payload)
		if err := r.publisher.Publish(ctx, key, row.payload); err != nil {
			return fmt.Errorf("publish outbox row %d: %w", row.id, err)
		}
		if _, err := r.db.ExecContext(ctx, `
			UPDATE audit_outbox SET published_at = $1 WHERE id = $2
		`, time.Now(), row.id); err != nil {
			return fmt.Errorf("mark outbox row %d published: %w", row.id, err)
		}
	}
	return nil
}

// entityTypeOf extracts the partition key from a payload. A malformed payload
// falls back to an empty key rather than blocking the outbox.
func entityTypeOf(payload []byte) string {
	var probe struct {
		EntityType string `json:"entity_type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.EntityType
}
