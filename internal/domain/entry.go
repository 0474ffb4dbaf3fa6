package domain

import "time"

// Entry is one ingested knowledge-base document within an organization's
// namespace. ContentHash deduplicates re-uploads of identical bytes;
// StorageRef points at the backing blob, when one was kept.
type Entry struct {
	ID          string    `json:"id"`
	Namespace   string    `json:"namespace"`
	Key         string    `json:"key"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
	UploadedBy  string    `json:"uploaded_by"`
	StorageRef  string    `json:"storage_ref,omitempty"`
	Text        string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
