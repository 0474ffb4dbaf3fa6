// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/mrlongruoi/echo-desk/internal/domain"
)

// ErrRevisionConflict is returned when an optimistic status update loses the
// race against a concurrent writer.
var ErrRevisionConflict = errors.New("conversation revision conflict")

// ConversationPage is one page of a dashboard conversation listing.
type ConversationPage struct {
	Conversations []*domain.Conversation
	HasMore       bool
}

// MessagePage is one page of a thread's messages, newest first. ContinueCursor
// is opaque to callers and empty once the page is exhausted.
type MessagePage struct {
	Messages       []*domain.Message
	ContinueCursor string
	IsDone         bool
}

// Repository defines the interface for persisting conversations, contact
// sessions, message threads, and knowledge-base entries.
type Repository interface {
	// CreateConversation inserts a new conversation record.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation retrieves a conversation by id. Returns (nil, nil)
	// when absent.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// GetConversationByThread retrieves a conversation via the secondary
	// index on thread id. Returns (nil, nil) when absent.
	GetConversationByThread(ctx context.Context, threadID string) (*domain.Conversation, error)

	// ListConversations returns conversations for an organization, newest
	// first, optionally filtered by status (empty status means all).
	ListConversations(ctx context.Context, orgID string, status domain.ConversationStatus, limit, offset int) (*ConversationPage, error)

	// ListConversationsBySession returns all conversations created by one
	// contact session, newest first.
	ListConversationsBySession(ctx context.Context, sessionID string) ([]*domain.Conversation, error)

	// UpdateConversationStatus patches the status of a conversation iff its
	// revision still matches expectedRevision. Returns ErrRevisionConflict
	// when a concurrent writer got there first.
	UpdateConversationStatus(ctx context.Context, id string, status domain.ConversationStatus, expectedRevision int64) error

	// CreateContactSession inserts a new contact session.
	CreateContactSession(ctx context.Context, session *domain.ContactSession) error

	// GetContactSession retrieves a contact session by id. Returns (nil, nil)
	// when absent. Expiry is NOT enforced here; callers check it on every
	// read path.
	GetContactSession(ctx context.Context, id string) (*domain.ContactSession, error)

	// CreateThread inserts a new message thread owned by ownerKey.
	CreateThread(ctx context.Context, threadID, ownerKey string) error

	// AppendThreadMessage appends a message to its thread. Ordering within a
	// thread is assigned here and is monotonic.
	AppendThreadMessage(ctx context.Context, msg *domain.Message) error

	// ListThreadMessages returns one page of a thread's messages, newest
	// first. cursor is an opaque continue cursor from a previous page, or
	// empty for the first page.
	ListThreadMessages(ctx context.Context, threadID, cursor string, pageSize int) (*MessagePage, error)

	// RecentThreadMessages returns the last n messages of a thread in
	// chronological order, for prompt assembly.
	RecentThreadMessages(ctx context.Context, threadID string, n int) ([]*domain.Message, error)

	// InsertEntry inserts a knowledge-base entry.
	InsertEntry(ctx context.Context, entry *domain.Entry) error

	// GetEntry retrieves an entry by id. Returns (nil, nil) when absent.
	GetEntry(ctx context.Context, id string) (*domain.Entry, error)

	// GetEntryByHash retrieves the entry with the given content hash inside a
	// namespace. Returns (nil, nil) when absent.
	GetEntryByHash(ctx context.Context, namespace, contentHash string) (*domain.Entry, error)

	// ListEntries returns all entries in a namespace, newest first.
	ListEntries(ctx context.Context, namespace string) ([]*domain.Entry, error)

	// DeleteEntry removes an entry record.
	DeleteEntry(ctx context.Context, id string) error

	// SearchEntries returns up to topK entries in a namespace matching the
	// query terms, best match first.
	SearchEntries(ctx context.Context, namespace, query string, topK int) ([]*domain.Entry, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
