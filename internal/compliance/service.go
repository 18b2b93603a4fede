package compliance

import (
	"context"
	"log/slog"
	"time"

	"chronicle/internal/audit"
	"chronicle/internal/capture"
	"chronicle/internal/records"
	"chronicle/internal/retention"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/requestcontext"
	"chronicle/pkg/snapshot"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Export is the subject-access bundle for one record: its current snapshot
// and its complete audit history.
type Export struct {
	EntityType string            `json:"entity_type"`
	RecordID   string            `json:"record_id"`
	Record     snapshot.Snapshot `json:"record"`
	History    []audit.Record    `json:"history"`
	ExportedAt time.Time         `json:"exported_at"`
}

// AnonymizeResult reports what a single-record anonymization changed.
type AnonymizeResult struct {
	EntityType string   `json:"entity_type"`
	RecordID   string   `json:"record_id"`
	Fields     []string `json:"fields"`
	Changed    bool     `json:"changed"`
}

// Service implements on-demand compliance operations. Every operation lands
// in the cleanup ledger with the requesting principal, so fulfillment of a
// subject request can be proven without trawling the audit trail.
type Service struct {
	records *records.Service
	auditor *audit.Service
	hook    *capture.Hook
	ledger  retention.LedgerStore
	logger  *slog.Logger
	clock   Clock
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With("component", "compliance")
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService creates the compliance service.
func NewService(
	recordsSvc *records.Service,
	auditor *audit.Service,
	hook *capture.Hook,
	ledger retention.LedgerStore,
	opts ...Option,
) *Service {
	s := &Service{
		records: recordsSvc,
		auditor: auditor,
		hook:    hook,
		ledger:  ledger,
		logger:  slog.Default().With("component", "compliance"),
		clock:   realClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportRecord assembles the current snapshot and full audit history of one
// record. The export itself is captured in the audit trail, so later reviews
// can see that the data left the system, and a ledger entry names who asked.
func (s *Service) ExportRecord(ctx context.Context, entityType, id string) (Export, error) {
	principal := requestcontext.Principal(ctx)
	if principal == "" {
		return Export{}, dErrors.New(dErrors.CodeUnauthorized, "a requesting principal is required")
	}

	doc, err := s.records.Get(ctx, entityType, id)
	if err != nil {
		return Export{}, err
	}

	history, err := s.auditor.Query(ctx, audit.Filter{
		EntityType: entityType,
		RecordID:   id,
		Limit:      audit.MaxQueryLimit,
	})
	if err != nil {
		return Export{}, err
	}

	def, _ := s.records.Definitions().Get(entityType)
	if err := s.hook.Capture(ctx, capture.Mutation{
		EntityType:  entityType,
		Operation:   audit.OpExported,
		After:       doc,
		Principal:   principal,
		Correlation: requestCorrelation(ctx),
		IDField:     def.IDField,
	}); err != nil {
		return Export{}, err
	}

	now := s.clock.Now().UTC()
	if _, err := s.ledger.Append(ctx, retention.LedgerEntry{
		EntityType:  entityType,
		Action:      retention.ActionExport,
		Affected:    1,
		RequestedBy: principal,
		Timestamp:   now,
	}); err != nil {
		return Export{}, dErrors.Wrap(err, dErrors.CodeInternal, "record export in ledger")
	}

	s.logger.InfoContext(ctx, "record exported",
		"entity_type", entityType, "record_id", id, "history_len", len(history), "requested_by", principal)
	return Export{
		EntityType: entityType,
		RecordID:   id,
		Record:     doc,
		History:    history,
		ExportedAt: now,
	}, nil
}

// AnonymizeRecord overwrites the record's identifying fields with the
// sentinel. The rewrite goes through the monitored store, so the audit trail
// shows the redaction as a regular update diff under the requesting
// principal. Re-running on an already anonymized record changes nothing and
// reports Changed false.
func (s *Service) AnonymizeRecord(ctx context.Context, entityType, id string) (AnonymizeResult, error) {
	principal := requestcontext.Principal(ctx)
	if principal == "" {
		return AnonymizeResult{}, dErrors.New(dErrors.CodeUnauthorized, "a requesting principal is required")
	}

	def, ok := s.records.Definitions().Get(entityType)
	if !ok {
		return AnonymizeResult{}, dErrors.Newf(dErrors.CodeNotFound, "unknown entity type %q", entityType)
	}
	if len(def.IdentifyingFields) == 0 {
		return AnonymizeResult{}, dErrors.New(dErrors.CodeInvalidInput,
			"entity type declares no identifying fields")
	}

	doc, err := s.records.Get(ctx, entityType, id)
	if err != nil {
		return AnonymizeResult{}, err
	}

	result := AnonymizeResult{
		EntityType: entityType,
		RecordID:   id,
		Fields:     def.IdentifyingFields,
	}
	redacted, changed := Anonymize(doc, def.IdentifyingFields)
	if changed {
		if err := s.records.Update(ctx, entityType, id, redacted); err != nil {
			return AnonymizeResult{}, err
		}
		result.Changed = true
	}

	affected := 0
	if result.Changed {
		affected = 1
	}
	if _, err := s.ledger.Append(ctx, retention.LedgerEntry{
		EntityType:  entityType,
		Action:      retention.ActionAnonymizeSingle,
		Affected:    affected,
		RequestedBy: principal,
		Timestamp:   s.clock.Now().UTC(),
	}); err != nil {
		return AnonymizeResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "record anonymization in ledger")
	}

	s.logger.InfoContext(ctx, "record anonymized",
		"entity_type", entityType, "record_id", id, "changed", result.Changed, "requested_by", principal)
	return result, nil
}

func requestCorrelation(ctx context.Context) audit.Correlation {
	return audit.Correlation{
		SessionID:   requestcontext.SessionID(ctx),
		Origin:      requestcontext.ClientIP(ctx),
		ClientLabel: requestcontext.ClientLabel(ctx),
	}
}
