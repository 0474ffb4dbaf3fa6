// Package events fans conversation updates out to connected clients. The
// hosted platform the dashboard and widget were built against pushes record
// changes to subscribers; this hub plus the websocket handler is that push
// channel.
package events

import (
	"log/slog"
	"sync"

	"github.com/mrlongruoi/echo-desk/internal/domain"
)

// Type labels what changed.
type Type string

const (
	TypeConversationUpdated Type = "conversation.updated"
	TypeMessageCreated      Type = "message.created"
)

// Event is one live update. Message is nil for pure status changes.
type Event struct {
	Type         Type                 `json:"type"`
	Conversation *domain.Conversation `json:"conversation"`
	Message      *domain.Message      `json:"message,omitempty"`
}

const subscriberBuffer = 16

// Hub is an in-process topic broadcaster. Topics are per-organization (for
// the dashboard) and per-conversation (for the widget).
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[chan Event]struct{}),
		logger: logger,
	}
}

// OrgTopic is the dashboard topic for an organization.
func OrgTopic(orgID string) string { return "org:" + orgID }

// ConversationTopic is the widget topic for one conversation.
func ConversationTopic(conversationID string) string { return "conv:" + conversationID }

// Subscribe registers a subscriber on a topic. The returned cancel func must
// be called exactly once; afterwards the channel is closed.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan Event]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[topic]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, topic)
			}
		}
		h.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

func (h *Hub) broadcast(topic string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[topic] {
		select {
		case ch <- ev:
		default:
			// A stalled subscriber misses the update; clients reconcile by
			// refetching, so dropping beats blocking the request path.
			h.logger.Debug("dropped event for slow subscriber", "topic", topic, "type", ev.Type)
		}
	}
}

// PublishConversation announces a conversation change on both its topics.
func (h *Hub) PublishConversation(conv *domain.Conversation) {
	ev := Event{Type: TypeConversationUpdated, Conversation: conv}
	h.broadcast(OrgTopic(conv.OrganizationID), ev)
	h.broadcast(ConversationTopic(conv.ID), ev)
}

// PublishMessage announces a new message on both the conversation's topics.
func (h *Hub) PublishMessage(conv *domain.Conversation, msg *domain.Message) {
	ev := Event{Type: TypeMessageCreated, Conversation: conv, Message: msg}
	h.broadcast(OrgTopic(conv.OrganizationID), ev)
	h.broadcast(ConversationTopic(conv.ID), ev)
}
