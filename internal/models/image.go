package models

import "time"

// Image is the stored metadata for one uploaded image. The payload lives
// in the blob store under BlobRef; the row is only written after the blob
// write succeeds. An image belongs to exactly one session for its lifetime.
type Image struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	BlobRef     string    `json:"blob_ref"`
	CreatedAt   time.Time `json:"created_at"`
}
