package models

import "time"

// Backend identifies where a published asset lives.
type Backend string

const (
	BackendLocal       Backend = "local"
	BackendObjectStore Backend = "object-store"
)

// StoredAsset represents a published asset stored in the database.
type StoredAsset struct {
	ID            string    `json:"id"`
	Scene         string    `json:"scene"`
	Backend       Backend   `json:"backend"`
	RelativePath  string    `json:"relative_path"`
	AbsolutePath  string    `json:"-"`
	URL           string    `json:"url"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	MimeType      string    `json:"mime_type"`
	Hash          string    `json:"hash,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TempFile is a file the ingress pipeline wrote into the temp store.
type TempFile struct {
	Field        string `json:"field"`
	OriginalName string `json:"original_name"`
	Path         string `json:"path"` // public web path under the temp mount
	RelativePath string `json:"relative_path"`
	SizeBytes    int64  `json:"size_bytes"`
	MimeType     string `json:"mime_type"`
	Compressed   bool   `json:"compressed"`
}
