package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidBlobRef is returned when a stored blob reference cannot be parsed.
var ErrInvalidBlobRef = errors.New("invalid blob reference")

// BlobRef identifies a blob within a named blob store. The string form is
// "store@id" and is what gets persisted on asset rows.
type BlobRef struct {
	Store string `json:"store"`
	ID    string `json:"id"`
}

// NewBlobRef builds a reference to blob id in the named store.
func NewBlobRef(store, id string) *BlobRef {
	return &BlobRef{Store: store, ID: id}
}

// ParseBlobRef parses the persisted "store@id" form.
func ParseBlobRef(raw string) (*BlobRef, error) {
	store, id, ok := strings.Cut(raw, "@")
	if !ok || store == "" || id == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBlobRef, raw)
	}
	return &BlobRef{Store: store, ID: id}, nil
}

// String returns the persisted form.
func (r *BlobRef) String() string {
	return r.Store + "@" + r.ID
}

// Equal compares two references, treating nil as unequal to everything.
func (r *BlobRef) Equal(other *BlobRef) bool {
	if r == nil || other == nil {
		return false
	}
	return r.Store == other.Store && r.ID == other.ID
}
