// Package handler exposes on-demand compliance endpoints: subject data
// export and single-record anonymization.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chronicle/internal/compliance"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/requestcontext"
)

// Service defines the interface for compliance operations.
type Service interface {
	ExportRecord(ctx context.Context, entityType, id string) (compliance.Export, error)
	AnonymizeRecord(ctx context.Context, entityType, id string) (compliance.AnonymizeResult, error)
}

// Handler wires compliance endpoints to the compliance service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a compliance handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts compliance endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/compliance/export/{entityType}/{id}", h.HandleExport)
	r.Post("/compliance/anonymize/{entityType}/{id}", h.HandleAnonymize)
}

// HandleExport handles POST /compliance/export/{entityType}/{id} requests.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType := chi.URLParam(r, "entityType")
	id := chi.URLParam(r, "id")

	export, err := h.service.ExportRecord(ctx, entityType, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "export failed",
			"request_id", requestcontext.RequestID(ctx),
			"entity_type", entityType,
			"record_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, export)
}

// HandleAnonymize handles POST /compliance/anonymize/{entityType}/{id} requests.
func (h *Handler) HandleAnonymize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType := chi.URLParam(r, "entityType")
	id := chi.URLParam(r, "id")

	result, err := h.service.AnonymizeRecord(ctx, entityType, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "anonymization failed",
			"request_id", requestcontext.RequestID(ctx),
			"entity_type", entityType,
			"record_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
