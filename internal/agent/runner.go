package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mrlongruoi/echo-desk/internal/domain"
)

const defaultInstructions = `You are a customer support agent. Use "resolveConversation" tool when user expresses finalization of the conversation. Use "escalateConversation" tool when user expresses frustration or requests a human explicitly.`

const (
	maxToolTurns    = 4
	historyMessages = 20
)

// ContextSearcher supplies knowledge-base grounding for a prompt. Implemented
// by the ingest service.
type ContextSearcher interface {
	SearchContext(ctx context.Context, namespace, query string) (string, error)
}

// Runner drives one inference round for a thread: assemble context, call the
// provider, execute tool calls, persist the reply.
type Runner struct {
	gateway      *Gateway
	provider     Provider
	registry     *Registry
	searcher     ContextSearcher
	instructions string
	logger       *slog.Logger
}

// RunnerConfig holds runner dependencies.
type RunnerConfig struct {
	Gateway      *Gateway
	Provider     Provider
	Registry     *Registry
	Searcher     ContextSearcher
	Instructions string
	Logger       *slog.Logger
}

// NewRunner creates an inference runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Instructions == "" {
		cfg.Instructions = defaultInstructions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		gateway:      cfg.Gateway,
		provider:     cfg.Provider,
		registry:     cfg.Registry,
		searcher:     cfg.Searcher,
		instructions: cfg.Instructions,
		logger:       cfg.Logger,
	}
}

// Reply generates and persists the agent's reply to the latest visitor prompt
// on a thread. orgID scopes the knowledge-base search; prompt is the text the
// visitor just sent (already persisted by the caller).
func (r *Runner) Reply(ctx context.Context, orgID, threadID, prompt string) (*domain.Message, error) {
	ctx = WithThreadID(ctx, threadID)

	history, err := r.gateway.Recent(ctx, threadID, historyMessages)
	if err != nil {
		return nil, fmt.Errorf("load thread history: %w", err)
	}

	system := r.instructions
	if r.searcher != nil {
		kb, err := r.searcher.SearchContext(ctx, orgID, prompt)
		if err != nil {
			// Grounding is best effort; answer without it rather than fail
			// the visitor's message.
			r.logger.Warn("knowledge search failed", "org_id", orgID, "error", err)
		} else if kb != "" {
			system += "\n\n" + kb
		}
	}

	msgs := make([]ChatMessage, 0, len(history)+1)
	msgs = append(msgs, ChatMessage{Role: "system", Content: system})
	for _, m := range history {
		msgs = append(msgs, ChatMessage{Role: m.Actor.Role(), Content: m.Content})
	}

	tools := r.registry.Definitions()

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := r.provider.Chat(ctx, ChatRequest{Messages: msgs, Tools: tools})
		if err != nil {
			return nil, fmt.Errorf("inference: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				return nil, nil
			}
			saved, err := r.gateway.SaveMessage(ctx, threadID, domain.ActorAgent, "", resp.Content)
			if err != nil {
				return nil, fmt.Errorf("persist agent reply: %w", err)
			}
			return saved, nil
		}

		msgs = append(msgs, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result, err := r.registry.Execute(ctx, tc.Name, tc.Arguments)
			if err != nil {
				r.logger.Error("tool execution failed", "tool", tc.Name, "thread_id", threadID, "error", err)
				result = "tool failed: " + err.Error()
			}
			msgs = append(msgs, ChatMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}
	}

	r.logger.Warn("inference exceeded tool turn limit", "thread_id", threadID, "turns", maxToolTurns)
	return nil, nil
}
