package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrlongruoi/echo-desk/internal/domain"
	"github.com/mrlongruoi/echo-desk/internal/store"
)

// scriptedProvider plays back a fixed sequence of responses, one per Chat call.
type scriptedProvider struct {
	responses []*ChatResponse
	requests  []ChatRequest
	err       error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &ChatResponse{}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

type recordingLifecycle struct {
	resolved  []string
	escalated []string
}

func (l *recordingLifecycle) ResolveByThread(ctx context.Context, threadID string) error {
	l.resolved = append(l.resolved, threadID)
	return nil
}

func (l *recordingLifecycle) EscalateByThread(ctx context.Context, threadID string) error {
	l.escalated = append(l.escalated, threadID)
	return nil
}

type staticSearcher struct {
	block string
	err   error
}

func (s *staticSearcher) SearchContext(ctx context.Context, namespace, query string) (string, error) {
	return s.block, s.err
}

func newRunnerEnv(t *testing.T, provider Provider, searcher ContextSearcher) (*Runner, *Gateway, *recordingLifecycle, string) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	gateway := NewGateway(repo)
	lifecycle := &recordingLifecycle{}
	registry := NewRegistry(nil)
	registry.Register(NewResolveTool(lifecycle))
	registry.Register(NewEscalateTool(lifecycle))

	runner := NewRunner(RunnerConfig{
		Gateway:  gateway,
		Provider: provider,
		Registry: registry,
		Searcher: searcher,
	})

	threadID, err := gateway.CreateThread(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := gateway.SaveMessage(context.Background(), threadID, domain.ActorVisitor, "", "I want a refund"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	return runner, gateway, lifecycle, threadID
}

func TestRunnerReplyPlain(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{
		{Content: "Refunds take 3 to 5 days."},
	}}
	runner, gateway, _, threadID := newRunnerEnv(t, provider, nil)

	msg, err := runner.Reply(context.Background(), "org-1", threadID, "I want a refund")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if msg == nil || msg.Actor != domain.ActorAgent || msg.Content != "Refunds take 3 to 5 days." {
		t.Fatalf("unexpected reply: %+v", msg)
	}

	// The reply is persisted on the thread.
	msgs, err := gateway.Recent(context.Background(), threadID, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if msgs[len(msgs)-1].Content != "Refunds take 3 to 5 days." {
		t.Error("reply not persisted")
	}

	// The request carried the system instructions and the tools.
	req := provider.requests[0]
	if req.Messages[0].Role != "system" {
		t.Errorf("first message role = %s, want system", req.Messages[0].Role)
	}
	if len(req.Tools) != 2 {
		t.Errorf("got %d tool definitions, want 2", len(req.Tools))
	}
	// Thread history maps actors onto chat roles.
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "I want a refund" {
		t.Errorf("history tail = %s %q", last.Role, last.Content)
	}
}

func TestRunnerReplyWithToolCall(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call-1", Name: "resolveConversation"}}},
		{Content: "Glad I could help. Goodbye!"},
	}}
	runner, _, lifecycle, threadID := newRunnerEnv(t, provider, nil)

	msg, err := runner.Reply(context.Background(), "org-1", threadID, "thanks, all good")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if msg == nil || msg.Content != "Glad I could help. Goodbye!" {
		t.Fatalf("unexpected reply: %+v", msg)
	}

	// The tool acted on the thread carried by the context, not an argument.
	if len(lifecycle.resolved) != 1 || lifecycle.resolved[0] != threadID {
		t.Errorf("resolved threads = %v, want [%s]", lifecycle.resolved, threadID)
	}

	// The second request replays the assistant tool call and its result.
	second := provider.requests[1]
	var sawToolResult bool
	for _, m := range second.Messages {
		if m.Role == "tool" && m.ToolCallID == "call-1" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Error("tool result missing from follow-up request")
	}
}

func TestRunnerReplyEscalateTool(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call-1", Name: "escalateConversation"}}},
		{Content: "A human operator will join shortly."},
	}}
	runner, _, lifecycle, threadID := newRunnerEnv(t, provider, nil)

	if _, err := runner.Reply(context.Background(), "org-1", threadID, "let me talk to a person"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(lifecycle.escalated) != 1 || lifecycle.escalated[0] != threadID {
		t.Errorf("escalated threads = %v, want [%s]", lifecycle.escalated, threadID)
	}
}

func TestRunnerReplyEmptyContent(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{{}}}
	runner, _, _, threadID := newRunnerEnv(t, provider, nil)

	msg, err := runner.Reply(context.Background(), "org-1", threadID, "hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message for empty content, got %+v", msg)
	}
}

func TestRunnerReplyProviderError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("rate limited")}
	runner, _, _, threadID := newRunnerEnv(t, provider, nil)

	if _, err := runner.Reply(context.Background(), "org-1", threadID, "hello"); err == nil {
		t.Fatal("expected provider error to surface")
	}
}

func TestRunnerReplyToolTurnLimit(t *testing.T) {
	// The model keeps calling tools forever; the runner gives up quietly.
	loop := make([]*ChatResponse, maxToolTurns+2)
	for i := range loop {
		loop[i] = &ChatResponse{ToolCalls: []ToolCall{{ID: "x", Name: "resolveConversation"}}}
	}
	provider := &scriptedProvider{responses: loop}
	runner, _, _, threadID := newRunnerEnv(t, provider, nil)

	msg, err := runner.Reply(context.Background(), "org-1", threadID, "hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message at turn limit, got %+v", msg)
	}
	if len(provider.requests) != maxToolTurns {
		t.Errorf("provider called %d times, want %d", len(provider.requests), maxToolTurns)
	}
}

func TestRunnerReplyInjectsKnowledge(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{{Content: "Per the policy, 30 days."}}}
	searcher := &staticSearcher{block: "## Relevant knowledge\n\nRefunds within 30 days."}
	runner, _, _, threadID := newRunnerEnv(t, provider, searcher)

	if _, err := runner.Reply(context.Background(), "org-1", threadID, "refund?"); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	system := provider.requests[0].Messages[0].Content
	if !strings.Contains(system, "Refunds within 30 days.") {
		t.Errorf("system prompt missing knowledge block:\n%s", system)
	}
}

func TestRunnerReplySearchFailureIsBestEffort(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{{Content: "Answering anyway."}}}
	searcher := &staticSearcher{err: errors.New("index offline")}
	runner, _, _, threadID := newRunnerEnv(t, provider, searcher)

	msg, err := runner.Reply(context.Background(), "org-1", threadID, "refund?")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if msg == nil || msg.Content != "Answering anyway." {
		t.Errorf("unexpected reply: %+v", msg)
	}
}

func TestToolsWithoutThreadContext(t *testing.T) {
	lifecycle := &recordingLifecycle{}
	resolve := NewResolveTool(lifecycle)

	result, err := resolve.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "missing thread id" {
		t.Errorf("result = %q, want missing thread id", result)
	}
	if len(lifecycle.resolved) != 0 {
		t.Error("tool acted without a thread in context")
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	registry := NewRegistry(nil)
	if _, err := registry.Execute(context.Background(), "unknown", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}
