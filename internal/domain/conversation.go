// Package domain contains core domain types for the support-desk backend.
package domain

import (
	"time"
)

// ConversationStatus is the lifecycle state of a support conversation.
type ConversationStatus string

const (
	// StatusUnresolved is the initial state of every conversation.
	StatusUnresolved ConversationStatus = "unresolved"
	// StatusEscalated means a human operator has gotten involved, or the
	// agent decided the visitor needs one.
	StatusEscalated ConversationStatus = "escalated"
	// StatusResolved closes the conversation for new messages until an
	// operator reopens it.
	StatusResolved ConversationStatus = "resolved"
)

// Valid reports whether s is one of the three known statuses.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusUnresolved, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

// Conversation ties one anonymous contact session to one message thread
// within one organization. OrganizationID and ThreadID are immutable after
// creation; only Status (and Revision alongside it) changes.
type Conversation struct {
	ID               string             `json:"id"`
	OrganizationID   string             `json:"organization_id"`
	ContactSessionID string             `json:"contact_session_id"`
	Status           ConversationStatus `json:"status"`
	ThreadID         string             `json:"thread_id"`
	Revision         int64              `json:"revision"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// CanTransition reports whether moving from the current status to next is a
// legal operator-or-agent transition. The graph is:
//
//	unresolved ⇄ resolved
//	unresolved → escalated
//	escalated  ⇄ resolved
//
// Self-transitions are allowed and treated as no-ops by callers.
func (c *Conversation) CanTransition(next ConversationStatus) bool {
	if !next.Valid() {
		return false
	}
	if c.Status == next {
		return true
	}
	switch c.Status {
	case StatusUnresolved:
		return next == StatusEscalated || next == StatusResolved
	case StatusEscalated:
		return next == StatusResolved
	case StatusResolved:
		// Manual reopen. Reopening goes back to unresolved, never straight
		// to escalated.
		return next == StatusUnresolved
	}
	return false
}

// AcceptsMessages reports whether new chat messages may be appended. Resolved
// conversations reject message creation on every path.
func (c *Conversation) AcceptsMessages() bool {
	return c.Status != StatusResolved
}
