package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mrlongruoi/echo-desk/internal/identity"
)

// RegisterWidgetRoutes mounts the public visitor-facing surface. The router
// group is expected to carry identity.VisitorMiddleware.
func (h *Handler) RegisterWidgetRoutes(r chi.Router) {
	r.Post("/organizations/validate", h.ValidateOrganization)
	r.Post("/sessions", h.CreateContactSession)
	r.Post("/sessions/validate", h.ValidateContactSession)
	r.Post("/conversations", h.CreateConversation)
	r.Get("/conversations", h.ListVisitorConversations)
	r.Get("/conversations/{conversationID}", h.GetVisitorConversation)
	r.Post("/conversations/{conversationID}/messages", h.CreateVisitorMessage)
	r.Get("/conversations/{conversationID}/messages", h.ListVisitorMessages)
}

// ValidateOrganization answers the widget's pre-auth embed check.
func (h *Handler) ValidateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string `json:"organization_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	valid, reason, err := h.convs.ValidateOrganization(r.Context(), req.OrganizationID)
	if err != nil {
		Error(w, err)
		return
	}

	resp := map[string]any{"valid": valid}
	if reason != "" {
		resp["reason"] = reason
	}
	JSON(w, http.StatusOK, resp)
}

// CreateContactSession issues a new visitor session.
func (h *Handler) CreateContactSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string `json:"organization_id"`
		Name           string `json:"name"`
		Email          string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	session, err := h.convs.CreateContactSession(r.Context(), req.OrganizationID, req.Name, req.Email)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, session)
}

// ValidateContactSession checks the caller's session without side effects.
func (h *Handler) ValidateContactSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ContactSessionIDFromContext(r.Context())
	if sessionID == "" {
		var req struct {
			ContactSessionID string `json:"contact_session_id"`
		}
		if err := decodeJSON(r, &req); err == nil {
			sessionID = req.ContactSessionID
		}
	}

	valid, reason, err := h.convs.ValidateSession(r.Context(), sessionID)
	if err != nil {
		Error(w, err)
		return
	}

	resp := map[string]any{"valid": valid}
	if reason != "" {
		resp["reason"] = reason
	}
	JSON(w, http.StatusOK, resp)
}

// CreateConversation starts a new conversation for the caller's session.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ContactSessionIDFromContext(r.Context())

	conv, err := h.convs.Create(r.Context(), sessionID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, conv)
}

// GetVisitorConversation returns the visitor projection of one conversation.
func (h *Handler) GetVisitorConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ContactSessionIDFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	view, err := h.convs.GetOne(r.Context(), sessionID, conversationID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// ListVisitorConversations returns the session's conversations.
func (h *Handler) ListVisitorConversations(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ContactSessionIDFromContext(r.Context())

	convs, err := h.convs.ListForSession(r.Context(), sessionID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// CreateVisitorMessage appends a visitor prompt and triggers the agent.
func (h *Handler) CreateVisitorMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ContactSessionIDFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	msg, err := h.convs.CreateVisitorMessage(r.Context(), sessionID, conversationID, req.Prompt)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// ListVisitorMessages returns one page of the conversation's messages.
func (h *Handler) ListVisitorMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ContactSessionIDFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")
	cursor := r.URL.Query().Get("cursor")

	page, err := h.convs.ListVisitorMessages(r.Context(), sessionID, conversationID, cursor, h.pageSize(r))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, page)
}
