package ingest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mrlongruoi/echo-desk/internal/apperr"
	"github.com/mrlongruoi/echo-desk/internal/domain"
	"github.com/mrlongruoi/echo-desk/internal/store"
	"github.com/zeebo/blake3"
)

const searchTopK = 3

// AddResult reports the outcome of an AddFile call. Created is false when an
// entry with the same content hash already existed in the namespace; the
// returned Entry is then the pre-existing one.
type AddResult struct {
	Entry   *domain.Entry `json:"entry"`
	Created bool          `json:"created"`
}

// Service is the ingestion pipeline: store blob, extract text, add the
// entry, clean up duplicates.
type Service struct {
	repo   store.Repository
	blobs  *BlobStore
	logger *slog.Logger
}

// NewService creates the ingestion service.
func NewService(repo store.Repository, blobs *BlobStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, blobs: blobs, logger: logger}
}

// ContentHash returns the hex BLAKE3 digest of the raw upload bytes.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AddFile ingests an upload into the organization's namespace. When the
// content hash already exists there, the freshly stored blob is deleted and
// the existing entry is returned with Created=false. That blob cleanup is
// this service's responsibility, not the store's.
func (s *Service) AddFile(ctx context.Context, orgID, filename, declaredMime string, data []byte) (*AddResult, error) {
	if len(data) == 0 {
		return nil, apperr.BadRequest("file is empty")
	}

	mimeType := GuessMimeType(filename, declaredMime, data)

	storageRef, err := s.blobs.Store(data)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	text, err := ExtractText(mimeType, data)
	if err != nil {
		s.cleanupBlob(storageRef, "extraction rejected upload")
		if errors.Is(err, ErrUnsupportedType) {
			return nil, apperr.BadRequest("unsupported file type: " + mimeType)
		}
		return nil, fmt.Errorf("extract text: %w", err)
	}

	contentHash := ContentHash(data)

	existing, err := s.repo.GetEntryByHash(ctx, orgID, contentHash)
	if err != nil {
		s.cleanupBlob(storageRef, "hash lookup failed")
		return nil, fmt.Errorf("lookup content hash: %w", err)
	}
	if existing != nil {
		s.logger.Debug("entry already exists, skipping upload", "namespace", orgID, "filename", filename)
		s.cleanupBlob(storageRef, "duplicate content")
		return &AddResult{Entry: existing, Created: false}, nil
	}

	entry := &domain.Entry{
		ID:          uuid.NewString(),
		Namespace:   orgID,
		Key:         filename,
		Filename:    filename,
		MimeType:    mimeType,
		Size:        int64(len(data)),
		ContentHash: contentHash,
		UploadedBy:  orgID,
		StorageRef:  storageRef,
		Text:        text,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.InsertEntry(ctx, entry); err != nil {
		// A concurrent upload of the same bytes may have won the unique
		// constraint race; fall back to the dedup path.
		if dup, lookupErr := s.repo.GetEntryByHash(ctx, orgID, contentHash); lookupErr == nil && dup != nil {
			s.cleanupBlob(storageRef, "lost insert race to duplicate")
			return &AddResult{Entry: dup, Created: false}, nil
		}
		s.cleanupBlob(storageRef, "entry insert failed")
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	return &AddResult{Entry: entry, Created: true}, nil
}

// DeleteFile removes an entry and its backing blob. Only the organization
// that uploaded an entry may delete it.
func (s *Service) DeleteFile(ctx context.Context, orgID, entryID string) error {
	entry, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("get entry: %w", err)
	}
	if entry == nil {
		return apperr.NotFound("entry not found")
	}
	if entry.UploadedBy != orgID {
		return apperr.Unauthorized("invalid organization id")
	}

	if entry.StorageRef != "" {
		if err := s.blobs.Delete(entry.StorageRef); err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
	}
	if err := s.repo.DeleteEntry(ctx, entryID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// ListFiles returns all entries in the organization's namespace.
func (s *Service) ListFiles(ctx context.Context, orgID string) ([]*domain.Entry, error) {
	return s.repo.ListEntries(ctx, orgID)
}

// SearchContext builds a prompt-injection block from the namespace entries
// matching the query. Empty when nothing matches.
func (s *Service) SearchContext(ctx context.Context, namespace, query string) (string, error) {
	entries, err := s.repo.SearchEntries(ctx, namespace, query, searchTopK)
	if err != nil {
		return "", fmt.Errorf("search entries: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Relevant knowledge\n\n")
	for i, e := range entries {
		sb.WriteString("### Source: " + e.Filename + "\n")
		sb.WriteString(truncate(e.Text, 2000))
		if i < len(entries)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// cleanupBlob removes a blob that must not outlive a failed or deduplicated
// ingestion. Failures are logged, never propagated.
func (s *Service) cleanupBlob(ref, reason string) {
	if err := s.blobs.Delete(ref); err != nil {
		s.logger.Warn("blob cleanup failed", "storage_ref", ref, "reason", reason, "error", err)
	}
}
