// Package api provides HTTP handlers for the support-desk API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mrlongruoi/echo-desk/internal/apperr"
	"github.com/mrlongruoi/echo-desk/internal/conversation"
	"github.com/mrlongruoi/echo-desk/internal/ingest"
)

// Handler provides common handler dependencies.
type Handler struct {
	convs           *conversation.Service
	files           *ingest.Service
	messagePageSize int
}

// NewHandler creates a new Handler.
func NewHandler(convs *conversation.Service, files *ingest.Service, messagePageSize int) *Handler {
	if messagePageSize <= 0 {
		messagePageSize = 20
	}
	return &Handler{
		convs:           convs,
		files:           files,
		messagePageSize: messagePageSize,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// WriteAppError writes a structured caller-facing error.
func WriteAppError(w http.ResponseWriter, appErr *apperr.Error) {
	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperr.CodeUnauthorized:
		status = http.StatusUnauthorized
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeBadRequest:
		status = http.StatusBadRequest
	}
	JSON(w, status, appErr)
}

// Error maps any error to a response: structured errors keep their code and
// message, everything else becomes a generic 500 with the detail kept in the
// server log only.
func Error(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.FromError(err); ok {
		WriteAppError(w, appErr)
		return
	}
	slog.Error("request failed", "error", err)
	JSON(w, http.StatusInternalServerError, map[string]string{
		"code":    "INTERNAL",
		"message": "something went wrong",
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	return nil
}

// pageSize returns the requested page size clamped to the configured bound.
func (h *Handler) pageSize(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || n <= 0 || n > h.messagePageSize {
		return h.messagePageSize
	}
	return n
}
