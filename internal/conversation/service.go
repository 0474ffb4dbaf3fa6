// Package conversation implements the conversation lifecycle: who may read
// and write a conversation, and which status transitions are legal. All
// authorization and state checks live here, not in the HTTP handlers.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mrlongruoi/echo-desk/internal/agent"
	"github.com/mrlongruoi/echo-desk/internal/apperr"
	"github.com/mrlongruoi/echo-desk/internal/domain"
	"github.com/mrlongruoi/echo-desk/internal/orgdir"
	"github.com/mrlongruoi/echo-desk/internal/store"
)

const greetingMessage = "Hello, how can I help you today?"

// Replier generates the agent's reply to a visitor prompt. Implemented by
// agent.Runner; a nil Replier disables inference (messages still persist).
type Replier interface {
	Reply(ctx context.Context, orgID, threadID, prompt string) (*domain.Message, error)
}

// Publisher fans live updates out to connected widget and dashboard clients.
type Publisher interface {
	PublishConversation(conv *domain.Conversation)
	PublishMessage(conv *domain.Conversation, msg *domain.Message)
}

// View is the visitor-facing projection of a conversation.
type View struct {
	ID       string                    `json:"id"`
	Status   domain.ConversationStatus `json:"status"`
	ThreadID string                    `json:"thread_id"`
}

// Service is the conversation lifecycle guard.
type Service struct {
	repo       store.Repository
	gateway    *agent.Gateway
	replier    Replier
	publisher  Publisher
	resolver   orgdir.Resolver
	sessionTTL time.Duration
	logger     *slog.Logger
}

// Config holds service dependencies.
type Config struct {
	Repo       store.Repository
	Gateway    *agent.Gateway
	Replier    Replier
	Publisher  Publisher
	Resolver   orgdir.Resolver
	SessionTTL time.Duration
	Logger     *slog.Logger
}

// NewService creates the lifecycle guard.
func NewService(cfg Config) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		repo:       cfg.Repo,
		gateway:    cfg.Gateway,
		replier:    cfg.Replier,
		publisher:  cfg.Publisher,
		resolver:   cfg.Resolver,
		sessionTTL: cfg.SessionTTL,
		logger:     cfg.Logger,
	}
}

// SetReplier installs the inference backend. The replier's tool registry is
// built from this service, so it cannot exist before the service does.
func (s *Service) SetReplier(r Replier) {
	s.replier = r
}

// validSession fetches a contact session and enforces expiry. An expired
// session is indistinguishable from a missing one.
func (s *Service) validSession(ctx context.Context, sessionID string) (*domain.ContactSession, error) {
	if sessionID == "" {
		return nil, apperr.Unauthorized("invalid session")
	}
	session, err := s.repo.GetContactSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get contact session: %w", err)
	}
	if session == nil || session.Expired(time.Now()) {
		return nil, apperr.Unauthorized("invalid session")
	}
	return session, nil
}

// ValidateSession implements the widget's pre-flight session check. It never
// errors for a bad session, only reports it.
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (bool, string, error) {
	_, err := s.validSession(ctx, sessionID)
	if err != nil {
		if _, ok := apperr.FromError(err); ok {
			return false, "session missing or expired", nil
		}
		return false, "", err
	}
	return true, "", nil
}

// visitorConversation authorizes a visitor-path access: valid session, the
// conversation exists, and it belongs to that session.
func (s *Service) visitorConversation(ctx context.Context, sessionID, conversationID string) (*domain.Conversation, error) {
	session, err := s.validSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation not found")
	}
	if conv.ContactSessionID != session.ID {
		return nil, apperr.Unauthorized("incorrect session")
	}
	return conv, nil
}

// orgConversation authorizes an operator-path access by conversation id.
func (s *Service) orgConversation(ctx context.Context, orgID, conversationID string) (*domain.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation not found")
	}
	if conv.OrganizationID != orgID {
		return nil, apperr.Unauthorized("invalid organization id")
	}
	return conv, nil
}

// Create starts a new conversation for a valid contact session: a fresh
// thread, the greeting message, then the record itself with status
// unresolved.
func (s *Service) Create(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	session, err := s.validSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	threadID, err := s.gateway.CreateThread(ctx, session.OrganizationID)
	if err != nil {
		return nil, err
	}

	if _, err := s.gateway.SaveMessage(ctx, threadID, domain.ActorAgent, "", greetingMessage); err != nil {
		return nil, err
	}

	now := time.Now()
	conv := &domain.Conversation{
		ID:               uuid.NewString(),
		OrganizationID:   session.OrganizationID,
		ContactSessionID: session.ID,
		Status:           domain.StatusUnresolved,
		ThreadID:         threadID,
		Revision:         1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	s.publish(conv, nil)
	return conv, nil
}

// GetOne returns the visitor-facing view of a conversation.
func (s *Service) GetOne(ctx context.Context, sessionID, conversationID string) (*View, error) {
	conv, err := s.visitorConversation(ctx, sessionID, conversationID)
	if err != nil {
		return nil, err
	}
	return &View{ID: conv.ID, Status: conv.Status, ThreadID: conv.ThreadID}, nil
}

// ListForSession returns all conversations a contact session created.
func (s *Service) ListForSession(ctx context.Context, sessionID string) ([]*domain.Conversation, error) {
	session, err := s.validSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListConversationsBySession(ctx, session.ID)
}

// ListForOrg returns one page of an organization's conversations, optionally
// filtered by status.
func (s *Service) ListForOrg(ctx context.Context, orgID string, status domain.ConversationStatus, limit, offset int) (*store.ConversationPage, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.BadRequest("unknown status filter")
	}
	return s.repo.ListConversations(ctx, orgID, status, limit, offset)
}

// GetForOrg returns a conversation on the operator path.
func (s *Service) GetForOrg(ctx context.Context, orgID, conversationID string) (*domain.Conversation, error) {
	return s.orgConversation(ctx, orgID, conversationID)
}

// CreateVisitorMessage appends a visitor prompt and triggers agent inference.
// A resolved conversation rejects the write with BAD_REQUEST before anything
// is persisted. The prompt stays committed even when inference fails.
func (s *Service) CreateVisitorMessage(ctx context.Context, sessionID, conversationID, prompt string) (*domain.Message, error) {
	if prompt == "" {
		return nil, apperr.BadRequest("prompt cannot be empty")
	}

	conv, err := s.visitorConversation(ctx, sessionID, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.AcceptsMessages() {
		return nil, apperr.BadRequest("conversation has been resolved")
	}

	msg, err := s.gateway.SaveMessage(ctx, conv.ThreadID, domain.ActorVisitor, "", prompt)
	if err != nil {
		return nil, err
	}
	s.publish(conv, msg)

	if s.replier != nil {
		reply, err := s.replier.Reply(ctx, conv.OrganizationID, conv.ThreadID, prompt)
		if err != nil {
			// The visitor's message is already committed; inference failure
			// surfaces as a generic failure without rolling it back.
			return nil, fmt.Errorf("agent reply: %w", err)
		}
		if reply != nil {
			// Inference may have transitioned the conversation via tools.
			fresh, err := s.repo.GetConversation(ctx, conv.ID)
			if err == nil && fresh != nil {
				conv = fresh
			}
			s.publish(conv, reply)
		}
	}
	return msg, nil
}

// CreateOperatorMessage appends an operator reply. Sending a reply to an
// unresolved conversation escalates it: an operator is now involved. A
// resolved conversation rejects the write with BAD_REQUEST.
func (s *Service) CreateOperatorMessage(ctx context.Context, orgID, operatorName, conversationID, prompt string) (*domain.Message, error) {
	if prompt == "" {
		return nil, apperr.BadRequest("prompt cannot be empty")
	}

	conv, err := s.orgConversation(ctx, orgID, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.AcceptsMessages() {
		return nil, apperr.BadRequest("conversation has been resolved")
	}

	if conv.Status == domain.StatusUnresolved {
		if err := s.setStatus(ctx, conv, domain.StatusEscalated); err != nil {
			return nil, err
		}
	}

	msg, err := s.gateway.SaveMessage(ctx, conv.ThreadID, domain.ActorOperator, operatorName, prompt)
	if err != nil {
		return nil, err
	}

	s.publish(conv, msg)
	return msg, nil
}

// ListVisitorMessages returns one page of a conversation's messages on the
// visitor path.
func (s *Service) ListVisitorMessages(ctx context.Context, sessionID, conversationID, cursor string, pageSize int) (*agent.Page, error) {
	conv, err := s.visitorConversation(ctx, sessionID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.gateway.ListMessages(ctx, conv.ThreadID, cursor, pageSize)
}

// ListOperatorMessages returns one page of a thread's messages on the
// operator path, resolving the conversation through the thread index.
func (s *Service) ListOperatorMessages(ctx context.Context, orgID, threadID, cursor string, pageSize int) (*agent.Page, error) {
	conv, err := s.repo.GetConversationByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("get conversation by thread: %w", err)
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation not found")
	}
	if conv.OrganizationID != orgID {
		return nil, apperr.Unauthorized("invalid organization id")
	}
	return s.gateway.ListMessages(ctx, conv.ThreadID, cursor, pageSize)
}

// UpdateStatus applies the operator's three-way status toggle.
func (s *Service) UpdateStatus(ctx context.Context, orgID, conversationID string, next domain.ConversationStatus) (*domain.Conversation, error) {
	if !next.Valid() {
		return nil, apperr.BadRequest("unknown status")
	}

	conv, err := s.orgConversation(ctx, orgID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == next {
		return conv, nil
	}
	if !conv.CanTransition(next) {
		return nil, apperr.BadRequest(fmt.Sprintf("cannot move conversation from %s to %s", conv.Status, next))
	}

	if err := s.setStatus(ctx, conv, next); err != nil {
		return nil, err
	}

	s.publish(conv, nil)
	return conv, nil
}

// setStatus patches the status with an optimistic revision check, re-reading
// and retrying once when a concurrent writer interleaved. conv is updated in
// place on success.
func (s *Service) setStatus(ctx context.Context, conv *domain.Conversation, next domain.ConversationStatus) error {
	err := s.repo.UpdateConversationStatus(ctx, conv.ID, next, conv.Revision)
	if errors.Is(err, store.ErrRevisionConflict) {
		fresh, readErr := s.repo.GetConversation(ctx, conv.ID)
		if readErr != nil {
			return fmt.Errorf("re-read after revision conflict: %w", readErr)
		}
		if fresh == nil {
			return apperr.NotFound("conversation not found")
		}
		if fresh.Status == next {
			*conv = *fresh
			return nil
		}
		if !fresh.CanTransition(next) {
			return apperr.BadRequest(fmt.Sprintf("cannot move conversation from %s to %s", fresh.Status, next))
		}
		*conv = *fresh
		err = s.repo.UpdateConversationStatus(ctx, conv.ID, next, conv.Revision)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	conv.Status = next
	conv.Revision++
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *Service) publish(conv *domain.Conversation, msg *domain.Message) {
	if s.publisher == nil {
		return
	}
	if msg != nil {
		s.publisher.PublishMessage(conv, msg)
		return
	}
	s.publisher.PublishConversation(conv)
}
