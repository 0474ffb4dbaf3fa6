package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mrlongruoi/echo-desk/internal/apperr"
)

// maxUploadBytes bounds knowledge-base uploads.
const maxUploadBytes = 10 << 20

// AddFile ingests a multipart upload into the organization's knowledge base.
// Responds 201 for a new entry and 200 when the content already existed.
func (h *Handler) AddFile(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		Error(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		Error(w, apperr.BadRequest("invalid multipart upload"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, apperr.BadRequest("missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		Error(w, apperr.BadRequest("unreadable file upload"))
		return
	}

	result, err := h.files.AddFile(r.Context(), op.OrgID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		Error(w, err)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	JSON(w, status, result)
}

// ListFiles returns the organization's knowledge-base entries.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		Error(w, err)
		return
	}

	entries, err := h.files.ListFiles(r.Context(), op.OrgID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// DeleteFile removes an entry and its blob.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		Error(w, err)
		return
	}

	if err := h.files.DeleteFile(r.Context(), op.OrgID, chi.URLParam(r, "entryID")); err != nil {
		Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
