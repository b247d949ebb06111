package storage

import (
	"errors"
	"fmt"

	"repofs/pkg/blob"
	"repofs/pkg/models"
)

// AttachBlob binds a staged blob to the asset, deduplicating against the
// asset's current content. When the staged content matches what is already
// stored the attach redirects to the existing blob and the newcomer is
// cleaned up as an orphan at commit; otherwise the old blob is queued for
// deletion as superseded. The asset must still be saved afterwards.
func (t *Tx) AttachBlob(asset *models.Asset, assetBlob *AssetBlob) error {
	t.requireState(stateActive, "attachBlob")

	policy := t.storage.policy(asset)
	if asset.BlobRef == nil {
		if err := policy.CheckCreateAllowed(asset.Name); err != nil {
			return err
		}
	} else {
		// Updates pass the policy gate even when the content turns out
		// to be identical: a deny-policy repository rejects the write,
		// it does not silently absorb it.
		if err := policy.CheckUpdateAllowed(asset.Name); err != nil {
			return err
		}
		existing, err := t.storage.blobs.Get(asset.BlobRef.ID)
		switch {
		case err == nil:
			if sameContent(existing, assetBlob) {
				assetBlob.setDuplicate(existing)
			} else {
				t.blobTx.RequestDeletion(asset.BlobRef, "superseded")
			}
		case errors.As(err, &blob.NotFoundError{}):
			return fmt.Errorf("%w: asset %d references missing blob %s", ErrInconsistency, asset.ID, asset.BlobRef.ID)
		default:
			return err
		}
	}

	effective := assetBlob.Blob()
	asset.Size = effective.Metrics.Size
	asset.ContentType = assetBlob.ContentType()
	asset.BlobRef = models.NewBlobRef(t.storage.blobs.Name(), effective.ID)

	checksums := asset.Attributes.Child("checksum")
	for algorithm, digest := range assetBlob.Hashes() {
		checksums.Set(algorithm, digest)
	}

	assetBlob.markAttached()
	return nil
}

// BlobInUse reports whether any asset references the blob. Maintenance
// jobs use it to tell orphans from owned content.
func (t *Tx) BlobInUse(ref *models.BlobRef) (bool, error) {
	t.requireState(stateActive, "blobInUse")
	var count int64
	err := t.doc.QueryRow(`SELECT COUNT(*) FROM assets WHERE blob_ref = ?`, ref.String()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// sameContent decides whether the staged blob carries the same bytes as the
// stored one. Verified digest sets are compared in full; unverified ones
// fall back to the store-computed SHA-1.
func sameContent(existing *blob.Blob, staged *AssetBlob) bool {
	if staged.HashesVerified() {
		stagedHashes := staged.Hashes()
		existingHashes := existing.Metrics.Hashes()
		if len(stagedHashes) != len(existingHashes) {
			return false
		}
		for algorithm, digest := range stagedHashes {
			if existingHashes[algorithm] != digest {
				return false
			}
		}
		return true
	}
	return existing.Metrics.SHA1 == staged.Blob().Metrics.SHA1 && staged.Blob().Metrics.SHA1 != ""
}
