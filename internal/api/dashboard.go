package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mrlongruoi/echo-desk/internal/apperr"
	"github.com/mrlongruoi/echo-desk/internal/domain"
	"github.com/mrlongruoi/echo-desk/internal/identity"
	"github.com/mrlongruoi/echo-desk/internal/orgdir"
)

// RegisterDashboardRoutes mounts the operator-facing surface. The router
// group is expected to carry identity.OperatorMiddleware, so an operator is
// always present here.
func (h *Handler) RegisterDashboardRoutes(r chi.Router) {
	r.Get("/conversations", h.ListOrgConversations)
	r.Get("/conversations/{conversationID}", h.GetOrgConversation)
	r.Patch("/conversations/{conversationID}/status", h.UpdateConversationStatus)
	r.Post("/conversations/{conversationID}/messages", h.CreateOperatorMessage)
	r.Get("/threads/{threadID}/messages", h.ListThreadMessages)
	r.Post("/files", h.AddFile)
	r.Get("/files", h.ListFiles)
	r.Delete("/files/{entryID}", h.DeleteFile)
}

func operator(r *http.Request) (*orgdir.Identity, error) {
	op := identity.OperatorFromContext(r.Context())
	if op == nil {
		return nil, apperr.Unauthorized("identity not found")
	}
	return op, nil
}

// ListOrgConversations lists the organization's conversations, optionally
// filtered by status.
func (h *Handler) ListOrgConversations(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		Error(w, err)
		return
	}

	status := domain.ConversationStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	page, err := h.convs.ListForOrg(r.Context(), op.OrgID, status, limit, offset)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"conversations": page.Conversations,
		"has_more":      page.HasMore,
	})
}

// GetOrgConversation returns one conversation on the operator path.
func (h *Handler) GetOrgConversation(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		Error(w, err)
		return
	}

	conv, err := h.convs.GetForOrg(r.Context(), op.OrgID, chi.URLParam(r, "conversationID"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, conv)
}

// UpdateConversationStatus applies the operator's status toggle.
func (h *Handler) UpdateConversationStatus(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		Error(w, err)
		return
	}

	var req struct {
		Status domain.ConversationStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	conv, err := h.convs.UpdateStatus(r.Context(), op.OrgID, chi.URLParam(r, "conversationID"), req.Status)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, conv)
}

// CreateOperatorMessage appends an operator reply.
func (h *Handler) CreateOperatorMessage(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		Error(w, err)
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	msg, err := h.convs.CreateOperatorMessage(r.Context(), op.OrgID, op.Name, chi.URLParam(r, "conversationID"), req.Prompt)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// ListThreadMessages returns one page of messages by thread id.
func (h *Handler) ListThreadMessages(w http.ResponseWriter, r *http.Request) {
	op, err := operator(r)
	if err != nil {
		Error(w, err)
		return
	}

	threadID := chi.URLParam(r, "threadID")
	cursor := r.URL.Query().Get("cursor")

	page, err := h.convs.ListOperatorMessages(r.Context(), op.OrgID, threadID, cursor, h.pageSize(r))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, page)
}
