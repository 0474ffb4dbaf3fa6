package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// LifecycleController is the system-privileged lifecycle surface the tools
// act on. It is implemented inside the conversation package and handed to the
// registry at wiring time; no HTTP route reaches it.
type LifecycleController interface {
	// ResolveByThread marks the conversation for a thread resolved and
	// appends the system confirmation message.
	ResolveByThread(ctx context.Context, threadID string) error

	// EscalateByThread marks the conversation for a thread escalated and
	// appends the system notice.
	EscalateByThread(ctx context.Context, threadID string) error
}

// Registry holds the tools available to the agent and executes them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
}

// Get returns the tool with the given name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute runs a tool by name.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, args)
}

// Definitions returns tool definitions in chat-completion format.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func emptyParameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// ResolveTool closes the current conversation when the visitor signals the
// issue is settled.
type ResolveTool struct {
	lifecycle LifecycleController
}

// NewResolveTool creates the resolve tool.
func NewResolveTool(lifecycle LifecycleController) *ResolveTool {
	return &ResolveTool{lifecycle: lifecycle}
}

func (t *ResolveTool) Name() string { return "resolveConversation" }

func (t *ResolveTool) Description() string {
	return "Resolve the conversation when the user indicates their issue is settled or says goodbye."
}

func (t *ResolveTool) Parameters() map[string]any { return emptyParameters() }

// Execute resolves the conversation on the thread carried by ctx.
func (t *ResolveTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	threadID := ThreadIDFromContext(ctx)
	if threadID == "" {
		return "missing thread id", nil
	}
	if err := t.lifecycle.ResolveByThread(ctx, threadID); err != nil {
		return "", fmt.Errorf("resolve conversation: %w", err)
	}
	return "The conversation has been resolved.", nil
}

// EscalateTool flags the current conversation for a human operator when the
// visitor is frustrated or explicitly asks for one.
type EscalateTool struct {
	lifecycle LifecycleController
}

// NewEscalateTool creates the escalate tool.
func NewEscalateTool(lifecycle LifecycleController) *EscalateTool {
	return &EscalateTool{lifecycle: lifecycle}
}

func (t *EscalateTool) Name() string { return "escalateConversation" }

func (t *EscalateTool) Description() string {
	return "Escalate the conversation to a human operator when the user expresses frustration or requests a human explicitly."
}

func (t *EscalateTool) Parameters() map[string]any { return emptyParameters() }

// Execute escalates the conversation on the thread carried by ctx.
func (t *EscalateTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	threadID := ThreadIDFromContext(ctx)
	if threadID == "" {
		return "missing thread id", nil
	}
	if err := t.lifecycle.EscalateByThread(ctx, threadID); err != nil {
		return "", fmt.Errorf("escalate conversation: %w", err)
	}
	return "The conversation has been escalated to a human operator.", nil
}
