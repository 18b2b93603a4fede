// Package handler exposes CRUD endpoints for monitored records. Every
// mutation that goes through here lands in the audit trail via the capture
// hook inside the records service.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chronicle/internal/records"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/requestcontext"
	"chronicle/pkg/snapshot"
)

// Service defines the interface for monitored record operations.
type Service interface {
	Create(ctx context.Context, entityType string, doc snapshot.Snapshot) (string, error)
	Get(ctx context.Context, entityType, id string) (snapshot.Snapshot, error)
	Update(ctx context.Context, entityType, id string, doc snapshot.Snapshot) error
	Delete(ctx context.Context, entityType, id string) error
	Definitions() *records.Registry
}

// Handler wires record endpoints to the records service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a records handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts record endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/entities", h.HandleListDefinitions)
	r.Post("/entities/{entityType}/records", h.HandleCreate)
	r.Get("/entities/{entityType}/records/{id}", h.HandleGet)
	r.Put("/entities/{entityType}/records/{id}", h.HandleUpdate)
	r.Delete("/entities/{entityType}/records/{id}", h.HandleDelete)
}

// HandleListDefinitions handles GET /entities requests.
func (h *Handler) HandleListDefinitions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entities": h.service.Definitions().List(),
	})
}

// HandleCreate handles POST /entities/{entityType}/records requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	entityType := chi.URLParam(r, "entityType")

	doc, ok := httputil.DecodeAndPrepare[snapshot.Snapshot](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	id, err := h.service.Create(ctx, entityType, doc)
	if err != nil {
		h.logger.ErrorContext(ctx, "record create failed",
			"request_id", requestID,
			"entity_type", entityType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// HandleGet handles GET /entities/{entityType}/records/{id} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType := chi.URLParam(r, "entityType")
	id := chi.URLParam(r, "id")

	doc, err := h.service.Get(ctx, entityType, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

// HandleUpdate handles PUT /entities/{entityType}/records/{id} requests.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	entityType := chi.URLParam(r, "entityType")
	id := chi.URLParam(r, "id")

	doc, ok := httputil.DecodeAndPrepare[snapshot.Snapshot](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.Update(ctx, entityType, id, doc); err != nil {
		h.logger.ErrorContext(ctx, "record update failed",
			"request_id", requestID,
			"entity_type", entityType,
			"record_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete handles DELETE /entities/{entityType}/records/{id} requests.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	entityType := chi.URLParam(r, "entityType")
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(ctx, entityType, id); err != nil {
		h.logger.ErrorContext(ctx, "record delete failed",
			"request_id", requestID,
			"entity_type", entityType,
			"record_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
