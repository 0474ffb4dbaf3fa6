package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mrlongruoi/echo-desk/internal/domain"
	"github.com/mrlongruoi/echo-desk/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		contact_session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		thread_id TEXT NOT NULL UNIQUE,
		revision INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_org ON conversations(organization_id, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(contact_session_id, created_at);

	CREATE TABLE IF NOT EXISTS contact_sessions (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT,
		email TEXT,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		owner_key TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS thread_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		thread_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		author_name TEXT,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_thread_messages_thread ON thread_messages(thread_id, seq);

	CREATE TABLE IF NOT EXISTS kb_entries (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		uploaded_by TEXT NOT NULL,
		storage_ref TEXT,
		text_content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(namespace, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_kb_entries_namespace ON kb_entries(namespace, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const conversationColumns = `id, organization_id, contact_session_id, status, thread_id, revision, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var conv domain.Conversation
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(
		&conv.ID, &conv.OrganizationID, &conv.ContactSessionID,
		&status, &conv.ThreadID, &conv.Revision, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	conv.Status = domain.ConversationStatus(status)
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	return &conv, nil
}

// CreateConversation inserts a new conversation record.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
	INSERT INTO conversations (id, organization_id, contact_session_id, status, thread_id, revision, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.OrganizationID, conv.ContactSessionID,
		string(conv.Status), conv.ThreadID, conv.Revision,
		conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// GetConversationByThread retrieves a conversation by its thread id.
func (s *SQLiteStore) GetConversationByThread(ctx context.Context, threadID string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE thread_id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, threadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// ListConversations returns conversations for an organization, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, orgID string, status domain.ConversationStatus, limit, offset int) (*ConversationPage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE organization_id = ?`
	args := []any{orgID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit+1, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer closeRows(rows, "conversations")

	var convs []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	page := &ConversationPage{Conversations: convs}
	if len(convs) > limit {
		page.Conversations = convs[:limit]
		page.HasMore = true
	}
	return page, nil
}

// ListConversationsBySession returns conversations created by one contact session.
func (s *SQLiteStore) ListConversationsBySession(ctx context.Context, sessionID string) ([]*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE contact_session_id = ? ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session conversations: %w", err)
	}
	defer closeRows(rows, "session conversations")

	var convs []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session conversations: %w", err)
	}
	return convs, nil
}

// UpdateConversationStatus patches status with an optimistic revision check.
// Retries once on SQLite concurrency errors before giving up.
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id string, status domain.ConversationStatus, expectedRevision int64) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.updateConversationStatusOnce(ctx, id, status, expectedRevision)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		slog.Debug("status update hit SQLITE_BUSY, retrying", "conversation_id", id, "attempt", attempt+1)
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func (s *SQLiteStore) updateConversationStatusOnce(ctx context.Context, id string, status domain.ConversationStatus, expectedRevision int64) error {
	query := `UPDATE conversations SET status = ?, revision = revision + 1, updated_at = ? WHERE id = ? AND revision = ?`

	result, err := s.db.ExecContext(ctx, query, string(status), time.Now().Unix(), id, expectedRevision)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateConversationStatus affected 0 rows", "conversation_id", id, "expected_revision", expectedRevision)
		return ErrRevisionConflict
	}
	return nil
}

// CreateContactSession inserts a new contact session.
func (s *SQLiteStore) CreateContactSession(ctx context.Context, session *domain.ContactSession) error {
	query := `
	INSERT INTO contact_sessions (id, organization_id, name, email, expires_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	var name, email any
	if session.Name != "" {
		name = session.Name
	}
	if session.Email != "" {
		email = session.Email
	}

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.OrganizationID, name, email,
		session.ExpiresAt.Unix(), session.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert contact session: %w", err)
	}
	return nil
}

// GetContactSession retrieves a contact session by id.
func (s *SQLiteStore) GetContactSession(ctx context.Context, id string) (*domain.ContactSession, error) {
	query := `SELECT id, organization_id, name, email, expires_at, created_at FROM contact_sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var session domain.ContactSession
	var name, email sql.NullString
	var expiresAt, createdAt int64

	err := row.Scan(&session.ID, &session.OrganizationID, &name, &email, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact session row: %w", err)
	}

	session.Name = name.String
	session.Email = email.String
	session.ExpiresAt = time.Unix(expiresAt, 0)
	session.CreatedAt = time.Unix(createdAt, 0)
	return &session, nil
}

// CreateThread inserts a new message thread.
func (s *SQLiteStore) CreateThread(ctx context.Context, threadID, ownerKey string) error {
	query := `INSERT INTO threads (id, owner_key, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, threadID, ownerKey, time.Now().Unix()); err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// AppendThreadMessage appends a message to its thread.
func (s *SQLiteStore) AppendThreadMessage(ctx context.Context, msg *domain.Message) error {
	query := `
	INSERT INTO thread_messages (id, thread_id, actor, author_name, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	var authorName any
	if msg.AuthorName != "" {
		authorName = msg.AuthorName
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ThreadID, string(msg.Actor), authorName,
		msg.Content, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert thread message: %w", err)
	}
	return nil
}

func scanMessage(rows *sql.Rows) (*domain.Message, int64, error) {
	var msg domain.Message
	var seq, createdAt int64
	var actor string
	var authorName sql.NullString

	if err := rows.Scan(&seq, &msg.ID, &msg.ThreadID, &actor, &authorName, &msg.Content, &createdAt); err != nil {
		return nil, 0, err
	}

	msg.Actor = domain.MessageActor(actor)
	msg.AuthorName = authorName.String
	msg.CreatedAt = time.Unix(createdAt, 0)
	return &msg, seq, nil
}

// ListThreadMessages returns one page of a thread's messages, newest first.
// The continue cursor is the sequence number of the oldest message on the
// page; passing it back fetches the next older page.
func (s *SQLiteStore) ListThreadMessages(ctx context.Context, threadID, cursor string, pageSize int) (*MessagePage, error) {
	if pageSize <= 0 {
		pageSize = 20
	}

	query := `
		SELECT seq, id, thread_id, actor, author_name, content, created_at
		FROM thread_messages WHERE thread_id = ?`
	args := []any{threadID}
	if cursor != "" {
		before, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse message cursor %q: %w", cursor, err)
		}
		query += ` AND seq < ?`
		args = append(args, before)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query thread messages: %w", err)
	}
	defer closeRows(rows, "thread messages")

	var msgs []*domain.Message
	var seqs []int64
	for rows.Next() {
		msg, seq, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread message row: %w", err)
		}
		msgs = append(msgs, msg)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread messages: %w", err)
	}

	page := &MessagePage{Messages: msgs, IsDone: true}
	if len(msgs) > pageSize {
		// The extra peeked row proves an older page exists. The cursor is the
		// sequence of the oldest row actually returned.
		page.Messages = msgs[:pageSize]
		page.IsDone = false
		page.ContinueCursor = strconv.FormatInt(seqs[pageSize-1], 10)
	}
	return page, nil
}

// RecentThreadMessages returns the last n messages in chronological order.
func (s *SQLiteStore) RecentThreadMessages(ctx context.Context, threadID string, n int) ([]*domain.Message, error) {
	if n <= 0 {
		n = 20
	}

	query := `
		SELECT seq, id, thread_id, actor, author_name, content, created_at
		FROM thread_messages WHERE thread_id = ?
		ORDER BY seq DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, threadID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer closeRows(rows, "recent messages")

	var msgs []*domain.Message
	for rows.Next() {
		msg, _, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

const entryColumns = `id, namespace, key, filename, mime_type, size, content_hash, uploaded_by, storage_ref, text_content, created_at`

func scanEntry(row interface{ Scan(...any) error }) (*domain.Entry, error) {
	var entry domain.Entry
	var storageRef sql.NullString
	var createdAt int64

	err := row.Scan(
		&entry.ID, &entry.Namespace, &entry.Key, &entry.Filename,
		&entry.MimeType, &entry.Size, &entry.ContentHash, &entry.UploadedBy,
		&storageRef, &entry.Text, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	entry.StorageRef = storageRef.String
	entry.CreatedAt = time.Unix(createdAt, 0)
	return &entry, nil
}

// InsertEntry inserts a knowledge-base entry.
func (s *SQLiteStore) InsertEntry(ctx context.Context, entry *domain.Entry) error {
	query := `
	INSERT INTO kb_entries (id, namespace, key, filename, mime_type, size, content_hash, uploaded_by, storage_ref, text_content, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var storageRef any
	if entry.StorageRef != "" {
		storageRef = entry.StorageRef
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Namespace, entry.Key, entry.Filename,
		entry.MimeType, entry.Size, entry.ContentHash, entry.UploadedBy,
		storageRef, entry.Text, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by id.
func (s *SQLiteStore) GetEntry(ctx context.Context, id string) (*domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM kb_entries WHERE id = ?`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry row: %w", err)
	}
	return entry, nil
}

// GetEntryByHash retrieves the entry with a content hash inside a namespace.
func (s *SQLiteStore) GetEntryByHash(ctx context.Context, namespace, contentHash string) (*domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM kb_entries WHERE namespace = ? AND content_hash = ?`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, namespace, contentHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry row: %w", err)
	}
	return entry, nil
}

// ListEntries returns all entries in a namespace, newest first.
func (s *SQLiteStore) ListEntries(ctx context.Context, namespace string) ([]*domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM kb_entries WHERE namespace = ? ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer closeRows(rows, "entries")

	var entries []*domain.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// DeleteEntry removes an entry record.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kb_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// SearchEntries returns up to topK entries matching the query terms, best
// match first. Matching is keyword containment over the extracted text and
// filename; good enough to ground agent answers in uploaded documents.
func (s *SQLiteStore) SearchEntries(ctx context.Context, namespace, query string, topK int) ([]*domain.Entry, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	clauses := make([]string, 0, len(terms))
	args := []any{namespace}
	for _, term := range terms {
		clauses = append(clauses, `(instr(lower(text_content), ?) > 0 OR instr(lower(filename), ?) > 0)`)
		args = append(args, term, term)
	}

	sqlQuery := `SELECT ` + entryColumns + ` FROM kb_entries WHERE namespace = ? AND (` +
		strings.Join(clauses, " OR ") + `)`

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer closeRows(rows, "entry search")

	type scored struct {
		entry *domain.Entry
		score int
	}
	var results []scored
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		text := strings.ToLower(entry.Text)
		name := strings.ToLower(entry.Filename)
		score := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				score++
			}
			if strings.Contains(name, term) {
				score += 2
			}
		}
		results = append(results, scored{entry: entry, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry search: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > topK {
		results = results[:topK]
	}

	entries := make([]*domain.Entry, 0, len(results))
	for _, r := range results {
		entries = append(entries, r.entry)
	}
	return entries, nil
}

// searchTerms lowercases and splits a query, dropping short stop-ish words.
func searchTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,!?"'()[]{}:;`)
		if len(f) < 3 {
			continue
		}
		terms = append(terms, f)
		if len(terms) == 8 {
			break
		}
	}
	return terms
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
