// Package agent implements the AI support agent: the thread-store gateway,
// the OpenAI-compatible inference client, and the system-privileged tools the
// model may invoke against the conversation lifecycle.
package agent

import (
	"context"

	"github.com/mrlongruoi/echo-desk/internal/domain"
)

// LoadState describes a message page for infinite-scroll clients. The values
// are a wire contract and must be preserved verbatim.
type LoadState string

const (
	LoadStateCanLoadMore      LoadState = "CanLoadMore"
	LoadStateLoadingMore      LoadState = "LoadingMore"
	LoadStateExhausted        LoadState = "Exhausted"
	LoadStateLoadingFirstPage LoadState = "LoadingFirstPage"
)

// Page is one page of thread messages plus the pagination descriptor the
// widget and dashboard scroll implementations consume.
type Page struct {
	Messages       []*domain.Message `json:"messages"`
	ContinueCursor string            `json:"continue_cursor,omitempty"`
	IsDone         bool              `json:"is_done"`
	LoadState      LoadState         `json:"load_state"`
}

// ChatMessage is one turn in a chat-completion request.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is a provider-agnostic inference request.
type ChatRequest struct {
	Messages    []ChatMessage
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// ChatResponse is a provider-agnostic inference result. Either Content or
// ToolCalls (or both) may be set.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider is the interface to a hosted chat-completion API.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Tool is one capability the agent may invoke during inference. Tools run
// with system privilege; they are reachable only from the inference runner,
// never from a client request.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

type contextKey int

const threadIDKey contextKey = iota

// WithThreadID returns a context carrying the thread the agent is currently
// replying on. Tools read it instead of trusting model-supplied arguments.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey, threadID)
}

// ThreadIDFromContext extracts the current thread id, if any.
func ThreadIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(threadIDKey).(string); ok {
		return v
	}
	return ""
}
