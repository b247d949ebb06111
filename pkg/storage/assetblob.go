package storage

import (
	"repofs/pkg/blob"
)

// AssetBlob is a blob staged inside a transaction, waiting to be attached
// to an asset. Until the transaction commits the underlying blob is owned
// by the transaction; rollback deletes it.
type AssetBlob struct {
	handle         *blob.Blob
	contentType    string
	hashesVerified bool
	attached       bool
	duplicate      *blob.Blob

	// createdID is the blob actually written by this transaction. It is
	// kept separately from the effective blob so a deduplicated newcomer
	// is still cleaned up as an orphan at commit.
	createdID string
}

func newAssetBlob(created *blob.Blob, contentType string, hashesVerified bool) *AssetBlob {
	return &AssetBlob{
		handle:         created,
		contentType:    contentType,
		hashesVerified: hashesVerified,
		createdID:      created.ID,
	}
}

// Blob is the effective blob: the original when this staged blob turned out
// to be a duplicate, otherwise the newly created one.
func (ab *AssetBlob) Blob() *blob.Blob {
	if ab.duplicate != nil {
		return ab.duplicate
	}
	return ab.handle
}

// ContentType is the confirmed content type of the staged content.
func (ab *AssetBlob) ContentType() string {
	return ab.contentType
}

// Hashes returns the digest set of the effective blob, keyed by algorithm.
func (ab *AssetBlob) Hashes() map[string]string {
	return ab.Blob().Metrics.Hashes()
}

// HashesVerified reports whether the digests were computed by the store
// while streaming, as opposed to being asserted by a remote peer.
func (ab *AssetBlob) HashesVerified() bool {
	return ab.hashesVerified
}

// IsDuplicate reports whether attaching redirected to an existing blob.
func (ab *AssetBlob) IsDuplicate() bool {
	return ab.duplicate != nil
}

// IsAttached reports whether this staged blob was consumed by an attach.
func (ab *AssetBlob) IsAttached() bool {
	return ab.attached
}

func (ab *AssetBlob) setDuplicate(existing *blob.Blob) {
	ab.duplicate = existing
}

func (ab *AssetBlob) markAttached() {
	if ab.attached {
		panic("storage: asset blob attached twice")
	}
	ab.attached = true
}
