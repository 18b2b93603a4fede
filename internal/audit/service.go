package audit

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chronicle/internal/audit/metrics"
	dErrors "chronicle/pkg/domain-errors"
)

// Service fronts the audit store. It is append-only and uses the store
// contract for persistence so tests can swap sinks easily.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the audit service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tracer: otel.Tracer("chronicle/audit"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append persists one audit record and returns its store-assigned identifier.
// A failed append is a CaptureFailure: it propagates so the enclosing mutation
// can abort, and is never silently swallowed.
func (s *Service) Append(ctx context.Context, record Record) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "audit.Append",
		trace.WithAttributes(
			attribute.String("entity_type", record.EntityType),
			attribute.String("operation", string(record.Operation)),
		))
	defer span.End()

	start := time.Now()
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	id, err := s.store.Append(ctx, record)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncrementAppendFailures()
		}
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "audit append failed",
				"entity_type", record.EntityType,
				"operation", record.Operation,
				"record_id", record.RecordID,
				"error", err,
			)
		}
		return 0, dErrors.Wrap(err, dErrors.CodeCaptureFailed, "audit append failed")
	}

	if s.metrics != nil {
		s.metrics.IncrementAppended(string(record.Operation))
		s.metrics.ObserveAppend(start)
	}
	return id, nil
}

// Query returns matching records, newest first, bounded by the filter's
// effective limit.
func (s *Service) Query(ctx context.Context, filter Filter) ([]Record, error) {
	ctx, span := s.tracer.Start(ctx, "audit.Query")
	defer span.End()

	start := time.Now()
	records, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit query failed")
	}
	if s.metrics != nil {
		s.metrics.ObserveQuery(start)
	}
	return records, nil
}

// DeleteOlderThan prunes audit records for one entity type past the cutoff.
// Only the retention sweeper calls this, and every call is ledgered: the audit
// trail shrinks under no other circumstance.
func (s *Service) DeleteOlderThan(ctx context.Context, entityType string, cutoff time.Time) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "audit.DeleteOlderThan",
		trace.WithAttributes(attribute.String("entity_type", entityType)))
	defer span.End()

	n, err := s.store.DeleteOlderThan(ctx, entityType, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "audit retention delete failed")
	}
	if s.logger != nil && n > 0 {
		s.logger.InfoContext(ctx, "pruned audit records",
			"entity_type", entityType,
			"cutoff", cutoff,
			"count", n,
		)
	}
	return n, nil
}
