package storage

import (
	"time"

	"repofs/pkg/db"
	"repofs/pkg/models"
)

// ChangedAsset is one entry of the replication feed: an asset together
// with the repository it lives in.
type ChangedAsset struct {
	RepositoryName string
	Asset          *models.Asset
}

// AssetsChangedSince returns assets whose metadata changed after the given
// instant, oldest first, capped at limit. Peers poll this to pull changes.
func (t *Tx) AssetsChangedSince(since time.Time, limit int) ([]*ChangedAsset, error) {
	t.requireState(stateActive, "assetsChangedSince")
	if limit <= 0 {
		limit = 100
	}

	assets, err := t.queryAssets(
		`SELECT `+assetColumns+` FROM assets WHERE last_updated > ? ORDER BY last_updated, id LIMIT ?`,
		db.FormatTime(since), limit,
	)
	if err != nil {
		return nil, err
	}

	changed := make([]*ChangedAsset, 0, len(assets))
	for _, asset := range assets {
		repoName, err := t.repositoryName(asset.BucketID)
		if err != nil {
			return nil, err
		}
		changed = append(changed, &ChangedAsset{RepositoryName: repoName, Asset: asset})
	}
	return changed, nil
}
