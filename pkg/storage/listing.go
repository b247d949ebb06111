package storage

import (
	"repofs/pkg/browse"
	"repofs/pkg/models"
)

// BrowseNodesByPath lists the visible children of a browse path inside this
// transaction.
func (t *Tx) BrowseNodesByPath(bucket *models.Bucket, path []string, maxNodes int, filter browse.Filter) ([]*models.BrowseNode, error) {
	t.requireState(stateActive, "browseNodesByPath")
	return t.storage.browse.GetByPath(t.doc, bucket.RepositoryName, path, maxNodes, filter)
}

// BrowseNodeByPath resolves one exact browse path.
func (t *Tx) BrowseNodeByPath(bucket *models.Bucket, path []string) (*models.BrowseNode, error) {
	t.requireState(stateActive, "browseNodeByPath")
	return t.storage.browse.GetNodeByPath(t.doc, bucket.RepositoryName, path)
}
