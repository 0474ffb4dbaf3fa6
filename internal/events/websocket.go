package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/mrlongruoi/echo-desk/internal/apperr"
	"github.com/mrlongruoi/echo-desk/internal/conversation"
	"github.com/mrlongruoi/echo-desk/internal/identity"
)

const writeTimeout = 10 * time.Second

// WebSocketHandler upgrades widget and dashboard clients onto hub topics.
// Authorization happens before the upgrade, on the same paths the plain HTTP
// operations use.
type WebSocketHandler struct {
	hub            *Hub
	convs          *conversation.Service
	allowedOrigins []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates the live-update handler.
func NewWebSocketHandler(hub *Hub, convs *conversation.Service, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		hub:            hub,
		convs:          convs,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

func (h *WebSocketHandler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range h.allowedOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		opts.OriginPatterns = append(opts.OriginPatterns, o)
	}
	return opts
}

// ServeWidget streams updates for one conversation to its visitor. The
// session must own the conversation, checked exactly like a getOne.
func (h *WebSocketHandler) ServeWidget(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ContactSessionIDFromContext(r.Context())
	conversationID := r.URL.Query().Get("conversation_id")

	if _, err := h.convs.GetOne(r.Context(), sessionID, conversationID); err != nil {
		status := http.StatusInternalServerError
		if appErr, ok := apperr.FromError(err); ok {
			switch appErr.Code {
			case apperr.CodeUnauthorized:
				status = http.StatusUnauthorized
			case apperr.CodeNotFound:
				status = http.StatusNotFound
			case apperr.CodeBadRequest:
				status = http.StatusBadRequest
			}
		}
		http.Error(w, "cannot subscribe", status)
		return
	}

	h.serve(w, r, ConversationTopic(conversationID))
}

// ServeDashboard streams all updates for the operator's organization. The
// operator middleware has already resolved the identity.
func (h *WebSocketHandler) ServeDashboard(w http.ResponseWriter, r *http.Request) {
	operator := identity.OperatorFromContext(r.Context())
	if operator == nil {
		http.Error(w, "cannot subscribe", http.StatusUnauthorized)
		return
	}

	h.serve(w, r, OrgTopic(operator.OrgID))
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.logger.Debug("websocket accept failed", "topic", topic, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	// CloseRead discards inbound frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	ch, cancel := h.hub.Subscribe(topic)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("websocket write failed", "topic", topic, "error", err)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
