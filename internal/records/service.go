package records

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"chronicle/internal/audit"
	"chronicle/internal/capture"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/platform/sentinel"
	txcontext "chronicle/pkg/platform/tx"
	"chronicle/pkg/requestcontext"
	"chronicle/pkg/snapshot"
)

// Service wraps every monitored mutation with the capture hook inside one
// unit of work. When a database handle is configured, the write and its audit
// append share a transaction; a failed capture aborts the write. Without one
// (in-memory store), the service compensates by restoring the prior state.
type Service struct {
	store  Store
	defs   *Registry
	hook   *capture.Hook
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithDB enables transactional units of work over the given handle.
func WithDB(db *sql.DB) Option {
	return func(s *Service) { s.db = db }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs the monitored record service.
func NewService(store Store, defs *Registry, hook *capture.Hook, opts ...Option) *Service {
	s := &Service{store: store, defs: defs, hook: hook}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new record and captures the mutation. The identifier is
// taken from the document's ID field, or generated when absent.
func (s *Service) Create(ctx context.Context, entityType string, doc snapshot.Snapshot) (string, error) {
	def, err := s.definition(entityType)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "document is required")
	}

	doc = doc.Clone()
	id, ok := doc[def.IDField].(string)
	if !ok || id == "" {
		id = uuid.New().String()
		doc[def.IDField] = id
	}

	err = s.inUnitOfWork(ctx, func(ctx context.Context) error {
		if err := s.store.Put(ctx, entityType, id, doc); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "store record")
		}
		captureErr := s.hook.Capture(ctx, capture.Mutation{
			EntityType:  entityType,
			Operation:   audit.OpCreated,
			After:       doc,
			Principal:   requestcontext.Principal(ctx),
			Correlation: correlationFrom(ctx),
			IDField:     def.IDField,
		})
		if captureErr != nil && s.db == nil {
			// No shared transaction to roll back; undo the write so the
			// store and the audit trail stay consistent.
			if undoErr := s.store.Delete(ctx, entityType, id); undoErr != nil {
				s.logf(ctx, "compensating delete failed", "entity_type", entityType, "record_id", id, "error", undoErr)
			}
		}
		return captureErr
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update overwrites an existing record and captures the field-level diff. An
// update whose snapshots are equal writes the store but, by the capture
// contract, adds nothing to the audit trail.
func (s *Service) Update(ctx context.Context, entityType, id string, doc snapshot.Snapshot) error {
	def, err := s.definition(entityType)
	if err != nil {
		return err
	}
	if doc == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "document is required")
	}

	return s.inUnitOfWork(ctx, func(ctx context.Context) error {
		before, err := s.store.Get(ctx, entityType, id)
		if err != nil {
			return s.notFoundOr(err, "load record")
		}

		doc := doc.Clone()
		doc[def.IDField] = id

		if err := s.store.Put(ctx, entityType, id, doc); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "store record")
		}
		captureErr := s.hook.Capture(ctx, capture.Mutation{
			EntityType:  entityType,
			Operation:   audit.OpUpdated,
			Before:      before,
			After:       doc,
			Principal:   requestcontext.Principal(ctx),
			Correlation: correlationFrom(ctx),
			IDField:     def.IDField,
		})
		if captureErr != nil && s.db == nil {
			if undoErr := s.store.Put(ctx, entityType, id, before); undoErr != nil {
				s.logf(ctx, "compensating restore failed", "entity_type", entityType, "record_id", id, "error", undoErr)
			}
		}
		return captureErr
	})
}

// Delete removes a record and captures the deletion with its final snapshot.
func (s *Service) Delete(ctx context.Context, entityType, id string) error {
	def, err := s.definition(entityType)
	if err != nil {
		return err
	}

	return s.inUnitOfWork(ctx, func(ctx context.Context) error {
		before, err := s.store.Get(ctx, entityType, id)
		if err != nil {
			return s.notFoundOr(err, "load record")
		}
		if err := s.store.Delete(ctx, entityType, id); err != nil {
			return s.notFoundOr(err, "delete record")
		}
		captureErr := s.hook.Capture(ctx, capture.Mutation{
			EntityType:  entityType,
			Operation:   audit.OpDeleted,
			Before:      before,
			Principal:   requestcontext.Principal(ctx),
			Correlation: correlationFrom(ctx),
			IDField:     def.IDField,
		})
		if captureErr != nil && s.db == nil {
			if undoErr := s.store.Put(ctx, entityType, id, before); undoErr != nil {
				s.logf(ctx, "compensating restore failed", "entity_type", entityType, "record_id", id, "error", undoErr)
			}
		}
		return captureErr
	})
}

// Get returns a record's current snapshot.
func (s *Service) Get(ctx context.Context, entityType, id string) (snapshot.Snapshot, error) {
	if _, err := s.definition(entityType); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, entityType, id)
	if err != nil {
		return nil, s.notFoundOr(err, "load record")
	}
	return doc, nil
}

// Store exposes the underlying document store for retention scans.
func (s *Service) Store() Store { return s.store }

// Definitions exposes the entity definition registry.
func (s *Service) Definitions() *Registry { return s.defs }

func (s *Service) definition(entityType string) (Definition, error) {
	def, ok := s.defs.Get(entityType)
	if !ok {
		return Definition{}, dErrors.Newf(dErrors.CodeNotFound, "unknown entity type %q", entityType)
	}
	return def, nil
}

// inUnitOfWork runs fn inside a SQL transaction when a handle is configured,
// placing the transaction in context so the store and the audit append join it.
func (s *Service) inUnitOfWork(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin unit of work")
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit unit of work")
	}
	return nil
}

func (s *Service) notFoundOr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "record not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) logf(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, msg, args...)
	}
}

// correlationFrom assembles the audit correlation context from request-scoped
// values. All fields are optional.
func correlationFrom(ctx context.Context) audit.Correlation {
	return audit.Correlation{
		SessionID:   requestcontext.SessionID(ctx),
		Origin:      requestcontext.ClientIP(ctx),
		ClientLabel: requestcontext.ClientLabel(ctx),
	}
}
