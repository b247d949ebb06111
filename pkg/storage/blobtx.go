package storage

import (
	"fmt"
	"io"

	"repofs/pkg/blob"
	"repofs/pkg/log"
	"repofs/pkg/models"
)

// pendingDeletion is a soft delete deferred to commit time.
type pendingDeletion struct {
	ref    *models.BlobRef
	reason string
}

// BlobTx stages blob side effects alongside a document transaction. Blob
// writes happen eagerly (content must stream somewhere), but become
// permanent only when the document transaction commits: rollback deletes
// every blob this transaction created, and requested deletions are applied
// only after commit.
type BlobTx struct {
	store     blob.Store
	validator *blob.ContentValidator
	created   []*AssetBlob
	deletions []pendingDeletion
}

func newBlobTx(store blob.Store, validator *blob.ContentValidator) *BlobTx {
	return &BlobTx{store: store, validator: validator}
}

// Create streams content into the blob store, confirming the declared
// content type first. The returned AssetBlob is owned by the transaction
// until it is attached to an asset.
func (bt *BlobTx) Create(reader io.Reader, headers map[string]string) (*AssetBlob, error) {
	declared := headers[blob.HeaderContentType]
	confirmed, replay, err := bt.validator.Confirm(reader, declared)
	if err != nil {
		return nil, err
	}
	headers[blob.HeaderContentType] = confirmed

	created, err := bt.store.Create(replay, headers)
	if err != nil {
		return nil, err
	}
	assetBlob := newAssetBlob(created, confirmed, true)
	bt.created = append(bt.created, assetBlob)
	return assetBlob, nil
}

// Adopt stages an already-stored blob, for replication where content
// arrives by reference rather than by stream. Its digests are taken on
// trust until verified.
func (bt *BlobTx) Adopt(ref *models.BlobRef, contentType string) (*AssetBlob, error) {
	if ref.Store != bt.store.Name() {
		return nil, fmt.Errorf("%w: blob %s belongs to store %q", blob.ErrBlobStore, ref.ID, ref.Store)
	}
	existing, err := bt.store.Get(ref.ID)
	if err != nil {
		return nil, err
	}
	// Adopted blobs are not deleted on rollback: this transaction did not
	// create them.
	return newAssetBlob(existing, contentType, false), nil
}

// RequestDeletion queues a soft delete to run after the document commit.
func (bt *BlobTx) RequestDeletion(ref *models.BlobRef, reason string) {
	bt.deletions = append(bt.deletions, pendingDeletion{ref: ref, reason: reason})
}

// Commit applies the staged side effects: soft-deletes queued blobs and
// cleans up created blobs that never got attached (or were deduplicated
// away). The document transaction is already durable at this point, so
// failures here are logged and swallowed — a missed soft delete leaves an
// orphan for the sweeper, never an inconsistency.
func (bt *BlobTx) Commit() {
	for _, del := range bt.deletions {
		if err := bt.store.Delete(del.ref.ID, del.reason); err != nil {
			log.Warn().Err(err).Str("blob", del.ref.ID).Msg("deferred blob deletion failed")
		}
	}
	for _, staged := range bt.created {
		if staged.attached && !staged.IsDuplicate() {
			continue
		}
		reason := "unattached"
		if staged.IsDuplicate() {
			reason = "duplicate"
		}
		if err := bt.store.Delete(staged.createdID, reason); err != nil {
			log.Warn().Err(err).Str("blob", staged.createdID).Msg("orphan blob cleanup failed")
		}
	}
	bt.created = nil
	bt.deletions = nil
}

// Rollback discards the staged deletions and deletes every blob created in
// this transaction, leaving the blob store as it was.
func (bt *BlobTx) Rollback() {
	for _, staged := range bt.created {
		if err := bt.store.Delete(staged.createdID, "transaction rolled back"); err != nil {
			log.Warn().Err(err).Str("blob", staged.createdID).Msg("rollback blob cleanup failed")
		}
	}
	bt.created = nil
	bt.deletions = nil
}
