// Package handler exposes retention policy management, the cleanup ledger,
// and manual sweep triggers. All routes here sit behind the admin token.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chronicle/internal/retention"
	"chronicle/internal/retention/sweeper"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/requestcontext"
)

// Registry defines the interface for policy management.
type Registry interface {
	Register(ctx context.Context, policy retention.Policy) (retention.Policy, error)
	Get(ctx context.Context, entityType string) (retention.Policy, error)
	List(ctx context.Context) ([]retention.Policy, error)
	Remove(ctx context.Context, entityType string) error
	Ledger(ctx context.Context, limit int) ([]retention.LedgerEntry, error)
}

// Sweeper defines the interface for manual sweep triggers.
type Sweeper interface {
	SweepAll(ctx context.Context) ([]sweeper.Result, error)
	SweepOne(ctx context.Context, entityType string) (sweeper.Result, error)
}

// Handler wires retention endpoints to the registry and sweeper.
type Handler struct {
	registry Registry
	sweeper  Sweeper
	logger   *slog.Logger
}

// New constructs a retention handler with its dependencies.
func New(registry Registry, sweeper Sweeper, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, sweeper: sweeper, logger: logger}
}

// Register mounts retention endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/retention/policies", h.HandleList)
	r.Put("/retention/policies/{entityType}", h.HandleUpsert)
	r.Get("/retention/policies/{entityType}", h.HandleGet)
	r.Delete("/retention/policies/{entityType}", h.HandleDelete)
	r.Post("/retention/sweep", h.HandleSweepAll)
	r.Post("/retention/sweep/{entityType}", h.HandleSweepOne)
	r.Get("/retention/ledger", h.HandleLedger)
}

// policyRequest is the wire form of a policy upsert.
type policyRequest struct {
	ID               string `json:"id,omitempty"`
	MaxAge           string `json:"max_age"`
	Action           string `json:"action"`
	Predicate        string `json:"predicate,omitempty"`
	TargetAuditTrail bool   `json:"target_audit_trail,omitempty"`
}

// HandleUpsert handles PUT /retention/policies/{entityType} requests.
func (h *Handler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	entityType := chi.URLParam(r, "entityType")

	req, ok := httputil.DecodeAndPrepare[policyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	policy, err := req.toPolicy(entityType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	stored, err := h.registry.Register(ctx, policy)
	if err != nil {
		h.logger.ErrorContext(ctx, "policy upsert failed",
			"request_id", requestID,
			"entity_type", entityType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stored)
}

func (req policyRequest) toPolicy(entityType string) (retention.Policy, error) {
	policy := retention.Policy{
		EntityType:       entityType,
		Action:           retention.Action(req.Action),
		Predicate:        req.Predicate,
		TargetAuditTrail: req.TargetAuditTrail,
	}
	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			return retention.Policy{}, dErrors.New(dErrors.CodeBadRequest, "id must be a UUID")
		}
		policy.ID = id
	}
	if req.MaxAge != "" {
		maxAge, err := time.ParseDuration(req.MaxAge)
		if err != nil {
			return retention.Policy{}, dErrors.New(dErrors.CodeBadRequest, `max_age must be a duration like "720h"`)
		}
		policy.MaxAge = maxAge
	}
	return policy, nil
}

// HandleGet handles GET /retention/policies/{entityType} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	policy, err := h.registry.Get(r.Context(), chi.URLParam(r, "entityType"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

// HandleList handles GET /retention/policies requests.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	policies, err := h.registry.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

// HandleDelete handles DELETE /retention/policies/{entityType} requests.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Remove(r.Context(), chi.URLParam(r, "entityType")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSweepAll handles POST /retention/sweep requests.
func (h *Handler) HandleSweepAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	results, err := h.sweeper.SweepAll(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual sweep failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "sweep failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

// HandleSweepOne handles POST /retention/sweep/{entityType} requests.
func (h *Handler) HandleSweepOne(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType := chi.URLParam(r, "entityType")

	result, err := h.sweeper.SweepOne(ctx, entityType)
	if err != nil {
		httputil.WriteError(w, notFoundOrInternal(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleLedger handles GET /retention/ledger requests.
func (h *Handler) HandleLedger(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := h.registry.Ledger(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func notFoundOrInternal(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "no policy for entity type")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "sweep failed")
}
