package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mrlongruoi/echo-desk/internal/domain"
	"github.com/mrlongruoi/echo-desk/internal/store"
)

// Gateway is the thin wrapper over the message-thread store. It owns thread
// and message ids; ordering within a thread belongs to the store.
type Gateway struct {
	repo store.Repository
}

// NewGateway creates a thread gateway.
func NewGateway(repo store.Repository) *Gateway {
	return &Gateway{repo: repo}
}

// CreateThread creates a new thread owned by ownerKey (the organization id)
// and returns its id.
func (g *Gateway) CreateThread(ctx context.Context, ownerKey string) (string, error) {
	threadID := uuid.NewString()
	if err := g.repo.CreateThread(ctx, threadID, ownerKey); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return threadID, nil
}

// SaveMessage appends a message to a thread and returns the stored record.
func (g *Gateway) SaveMessage(ctx context.Context, threadID string, actor domain.MessageActor, authorName, content string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:         uuid.NewString(),
		ThreadID:   threadID,
		Actor:      actor,
		AuthorName: authorName,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	if err := g.repo.AppendThreadMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// ListMessages returns one page of a thread's messages, newest first, with
// the load-state descriptor infinite-scroll clients expect.
func (g *Gateway) ListMessages(ctx context.Context, threadID, cursor string, pageSize int) (*Page, error) {
	stored, err := g.repo.ListThreadMessages(ctx, threadID, cursor, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	page := &Page{
		Messages:       stored.Messages,
		ContinueCursor: stored.ContinueCursor,
		IsDone:         stored.IsDone,
		LoadState:      LoadStateCanLoadMore,
	}
	if stored.IsDone {
		page.LoadState = LoadStateExhausted
	}
	return page, nil
}

// Recent returns the last n messages in chronological order for prompt
// assembly.
func (g *Gateway) Recent(ctx context.Context, threadID string, n int) ([]*domain.Message, error) {
	return g.repo.RecentThreadMessages(ctx, threadID, n)
}
