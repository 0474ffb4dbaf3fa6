package domain

import "time"

// MessageActor identifies who authored a message. The wire role sent to the
// LLM collapses operator/agent/system to "assistant", but authorization and
// display logic need the distinction, so it stays explicit here.
type MessageActor string

const (
	// ActorVisitor is the anonymous website visitor chatting in the widget.
	ActorVisitor MessageActor = "visitor"
	// ActorOperator is a human operator replying from the dashboard.
	ActorOperator MessageActor = "operator"
	// ActorAgent is the AI support agent.
	ActorAgent MessageActor = "agent"
	// ActorSystem marks lifecycle announcements (resolution, escalation).
	ActorSystem MessageActor = "system"
)

// Role returns the chat-completion wire role for the actor.
func (a MessageActor) Role() string {
	if a == ActorVisitor {
		return "user"
	}
	return "assistant"
}

// Message is a single turn in a conversation's thread. Ordering within a
// thread is owned by the thread store; consumers only append.
type Message struct {
	ID         string       `json:"id"`
	ThreadID   string       `json:"thread_id"`
	Actor      MessageActor `json:"actor"`
	AuthorName string       `json:"author_name,omitempty"`
	Content    string       `json:"content"`
	CreatedAt  time.Time    `json:"created_at"`
}
