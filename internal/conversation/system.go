package conversation

import (
	"context"
	"fmt"

	"github.com/mrlongruoi/echo-desk/internal/apperr"
	"github.com/mrlongruoi/echo-desk/internal/domain"
)

const (
	resolvedNotice  = "The conversation has been resolved."
	escalatedNotice = "The conversation has been escalated to a human operator."
)

// SystemAPI is the privileged lifecycle surface for the trusted agent
// runtime. It bypasses session and organization checks, so it is constructed
// only here and handed to the agent tool registry at wiring time; it is never
// registered on an HTTP route.
type SystemAPI struct {
	svc *Service
}

// System returns the privileged entry point.
func (s *Service) System() *SystemAPI {
	return &SystemAPI{svc: s}
}

func (a *SystemAPI) conversationByThread(ctx context.Context, threadID string) (*domain.Conversation, error) {
	conv, err := a.svc.repo.GetConversationByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("get conversation by thread: %w", err)
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation not found")
	}
	return conv, nil
}

// ResolveByThread marks a conversation resolved and appends the system
// confirmation message. The two writes are one logical unit from the caller's
// perspective; if the append fails after the status patch, the conversation
// stays resolved without the notice. That degraded state is logged loudly,
// never swallowed.
func (a *SystemAPI) ResolveByThread(ctx context.Context, threadID string) error {
	conv, err := a.conversationByThread(ctx, threadID)
	if err != nil {
		return err
	}

	if conv.Status != domain.StatusResolved {
		if err := a.svc.setStatus(ctx, conv, domain.StatusResolved); err != nil {
			return err
		}
	}

	msg, err := a.svc.gateway.SaveMessage(ctx, threadID, domain.ActorSystem, "", resolvedNotice)
	if err != nil {
		a.svc.logger.Error("conversation resolved but confirmation message failed",
			"conversation_id", conv.ID, "thread_id", threadID, "error", err)
		a.svc.publish(conv, nil)
		return nil
	}

	a.svc.publish(conv, msg)
	return nil
}

// EscalateByThread marks a conversation escalated and appends the system
// notice. Escalating a resolved conversation is illegal; escalating an
// already escalated one is a no-op.
func (a *SystemAPI) EscalateByThread(ctx context.Context, threadID string) error {
	conv, err := a.conversationByThread(ctx, threadID)
	if err != nil {
		return err
	}
	if conv.Status == domain.StatusResolved {
		return apperr.BadRequest("conversation has been resolved")
	}

	if conv.Status == domain.StatusUnresolved {
		if err := a.svc.setStatus(ctx, conv, domain.StatusEscalated); err != nil {
			return err
		}
	}

	msg, err := a.svc.gateway.SaveMessage(ctx, threadID, domain.ActorSystem, "", escalatedNotice)
	if err != nil {
		a.svc.logger.Error("conversation escalated but notice message failed",
			"conversation_id", conv.ID, "thread_id", threadID, "error", err)
		a.svc.publish(conv, nil)
		return nil
	}

	a.svc.publish(conv, msg)
	return nil
}
