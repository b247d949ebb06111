package models

import "time"

// EntityMetadata is embedded by every persisted entity. ID is assigned by the
// document store on first save; Version is the optimistic-concurrency counter
// checked on every update.
type EntityMetadata struct {
	ID      int64 `json:"id"`
	Version int64 `json:"-"`
}

// HasID reports whether the entity has been persisted at least once.
func (m *EntityMetadata) HasID() bool {
	return m.ID != 0
}

// lastAccessedInterval is the minimum interval between persisted rewrites of
// an asset's last-accessed timestamp, bounding write amplification from
// read traffic.
const lastAccessedInterval = time.Minute

// Bucket scopes all components and assets belonging to one repository.
// RepositoryName is unique across the store.
type Bucket struct {
	EntityMetadata
	RepositoryName string     `json:"repository_name"`
	Attributes     Attributes `json:"attributes,omitempty"`
}

// Component is a logical artifact version identified by (bucket, group,
// name, version). It may own zero or more assets.
type Component struct {
	EntityMetadata
	BucketID     int64      `json:"-"`
	Format       string     `json:"format"`
	Group        string     `json:"group,omitempty"`
	Name         string     `json:"name"`
	CoordVersion string     `json:"version,omitempty"`
	LastUpdated  time.Time  `json:"last_updated"`
	Attributes   Attributes `json:"attributes,omitempty"`
}

// Asset is a single file's metadata. ComponentID is nil for standalone
// assets (repository metadata indexes and the like). BlobRef points at the
// content in the blob store; at most one asset may hold a given ref.
type Asset struct {
	EntityMetadata
	BucketID       int64      `json:"-"`
	ComponentID    *int64     `json:"component_id,omitempty"`
	Format         string     `json:"format"`
	Name           string     `json:"name"`
	Size           int64      `json:"size,omitempty"`
	ContentType    string     `json:"content_type,omitempty"`
	BlobRef        *BlobRef   `json:"blob_ref,omitempty"`
	LastUpdated    time.Time  `json:"last_updated"`
	LastDownloaded time.Time  `json:"last_downloaded,omitempty"`
	LastAccessed   time.Time  `json:"last_accessed,omitempty"`
	Attributes     Attributes `json:"attributes,omitempty"`
}

// Standalone reports whether the asset is owned by a component.
func (a *Asset) Standalone() bool {
	return a.ComponentID == nil
}

// MarkAccessed updates the last-accessed timestamp if the throttle interval
// has elapsed, and reports whether the asset needs to be rewritten.
func (a *Asset) MarkAccessed(now time.Time) bool {
	if now.Sub(a.LastAccessed) < lastAccessedInterval {
		return false
	}
	a.LastAccessed = now
	return true
}

// MarkDownloaded records a download; same persistence contract as
// MarkAccessed.
func (a *Asset) MarkDownloaded(now time.Time) bool {
	if now.Sub(a.LastDownloaded) < lastAccessedInterval {
		return false
	}
	a.LastDownloaded = now
	return true
}
