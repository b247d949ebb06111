package blob

import (
	"io"
	"time"
)

// Well-known attribute headers persisted alongside each blob.
const (
	HeaderBlobName    = "blob-name"
	HeaderContentType = "content-type"
	HeaderCreatedBy   = "created-by"
	HeaderRepoName    = "repo-name"

	headerDeleted       = "deleted"
	headerDeletedReason = "deleted-reason"
	headerCompression   = "compression"
)

// Metrics are computed by the store while streaming content in.
type Metrics struct {
	Size      int64     `json:"size"`
	SHA1      string    `json:"sha1"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Hashes returns the digest map keyed by algorithm name.
func (m Metrics) Hashes() map[string]string {
	return map[string]string{
		"sha1":   m.SHA1,
		"sha256": m.SHA256,
	}
}

// Blob is a handle to stored content: an opaque id plus the headers supplied
// at creation and the metrics computed during the write.
type Blob struct {
	ID      string            `json:"id"`
	Headers map[string]string `json:"headers"`
	Metrics Metrics           `json:"metrics"`
}

// Store is the blob store contract consumed by the storage transaction
// layer. Delete is soft: the bytes stay readable until DeleteHard (normally
// driven by the maintenance sweep) reclaims them.
type Store interface {
	// Name identifies this store in blob references.
	Name() string

	// Create streams content in, hashing as it writes, and returns the
	// new blob handle.
	Create(reader io.Reader, headers map[string]string) (*Blob, error)

	// Get returns the blob handle, including soft-deleted blobs.
	Get(id string) (*Blob, error)

	// Open returns the content stream.
	Open(id string) (io.ReadCloser, error)

	// Exists reports whether a live (not soft-deleted) blob exists.
	Exists(id string) (bool, error)

	// Delete soft-deletes the blob, recording the reason.
	Delete(id, reason string) error

	// DeleteHard removes the blob and its attributes immediately.
	DeleteHard(id string) error

	// Attributes returns the stored header map.
	Attributes(id string) (map[string]string, error)

	// LiveIDs lists ids of all blobs not soft-deleted.
	LiveIDs() ([]string, error)

	// DeletedIDs lists ids of soft-deleted blobs awaiting compaction.
	DeletedIDs() ([]string, error)
}
