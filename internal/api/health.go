package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mrlongruoi/echo-desk/internal/store"
)

// HealthHandler reports service and database health.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// RegisterHealth mounts the readiness endpoint.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Ready)
}

// Ready answers 200 when the database responds, 503 otherwise.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
