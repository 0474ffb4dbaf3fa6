// Package ingest turns uploaded files into searchable knowledge-base entries:
// blob storage, text extraction, dedup by content hash, and the keyword
// search that grounds agent replies.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobStore persists raw uploaded bytes on disk, one file per opaque
// storage ref.
type BlobStore struct {
	dir string
}

// NewBlobStore creates the backing directory if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

func (b *BlobStore) path(ref string) (string, error) {
	// Refs are uuids we minted ourselves, but never trust them as paths.
	if ref == "" || strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return "", fmt.Errorf("invalid storage ref %q", ref)
	}
	return filepath.Join(b.dir, ref), nil
}

// Store writes data and returns its storage ref.
func (b *BlobStore) Store(data []byte) (string, error) {
	ref := uuid.NewString()
	path, err := b.path(ref)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return ref, nil
}

// Read returns the bytes behind a storage ref.
func (b *BlobStore) Read(ref string) ([]byte, error) {
	path, err := b.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete removes a blob. Deleting a missing blob is not an error; cleanup
// paths must be idempotent.
func (b *BlobStore) Delete(ref string) error {
	path, err := b.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
