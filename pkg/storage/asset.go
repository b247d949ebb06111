package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"repofs/pkg/browse"
	"repofs/pkg/db"
	"repofs/pkg/deconflict"
	"repofs/pkg/models"
)

const assetColumns = `id, bucket_id, component_id, format, name, size, content_type, blob_ref,
	last_updated, last_downloaded, last_accessed, attributes, rec_version`

// CreateAsset returns a new in-memory standalone asset attached to the
// bucket.
func (t *Tx) CreateAsset(bucket *models.Bucket, format string) *models.Asset {
	t.requireState(stateActive, "createAsset")
	return &models.Asset{
		BucketID:   bucket.ID,
		Format:     format,
		Attributes: models.Attributes{},
	}
}

// CreateAssetWithComponent returns a new in-memory asset owned by the
// component, inheriting its format.
func (t *Tx) CreateAssetWithComponent(bucket *models.Bucket, component *models.Component) *models.Asset {
	t.requireState(stateActive, "createAssetWithComponent")
	componentID := component.ID
	return &models.Asset{
		BucketID:    bucket.ID,
		ComponentID: &componentID,
		Format:      component.Format,
		Attributes:  models.Attributes{},
	}
}

// SaveAsset inserts the asset on first save, otherwise updates it under the
// optimistic version guard, consulting the deconfliction resolver when the
// guard is lost.
func (t *Tx) SaveAsset(asset *models.Asset) error {
	t.requireState(stateActive, "saveAsset")
	if asset.BucketID == 0 || asset.Name == "" || asset.Format == "" {
		return fmt.Errorf("%w: asset requires bucket, name and format", db.ErrDatabase)
	}

	asset.LastUpdated = t.storage.now()
	attrs, err := models.EncodeAttributes(asset.Attributes)
	if err != nil {
		return fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}

	if !asset.HasID() {
		res, err := t.doc.Exec(
			`INSERT INTO assets
			 (bucket_id, component_id, format, name, size, content_type, blob_ref,
			  last_updated, last_downloaded, last_accessed, attributes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			asset.BucketID, asset.ComponentID, asset.Format, asset.Name, asset.Size,
			nullable(asset.ContentType), blobRefColumn(asset.BlobRef),
			db.FormatTime(asset.LastUpdated), nullTime(asset.LastDownloaded), nullTime(asset.LastAccessed), attrs,
		)
		if err != nil {
			return err
		}
		if asset.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("%w: %w", db.ErrDatabase, err)
		}
		asset.Version = 1

		repoName, err := t.repositoryName(asset.BucketID)
		if err != nil {
			return err
		}
		path := assetPath(asset)
		return t.storage.browse.CreateAssetNode(t.doc, repoName, path, asset.ID, path[len(path)-1])
	}

	err = t.updateAsset(asset, asset.Version, attrs)
	if errors.Is(err, db.ErrVersionConflict) {
		return t.deconflictAsset(asset)
	}
	if err != nil {
		return err
	}
	asset.Version++
	return nil
}

func (t *Tx) updateAsset(asset *models.Asset, guardVersion int64, attrs string) error {
	return t.doc.UpdateVersioned(
		"assets",
		`component_id = ?, size = ?, content_type = ?, blob_ref = ?,
		 last_updated = ?, last_downloaded = ?, last_accessed = ?, attributes = ?`,
		asset.ID, guardVersion,
		asset.ComponentID, asset.Size, nullable(asset.ContentType), blobRefColumn(asset.BlobRef),
		db.FormatTime(asset.LastUpdated), nullTime(asset.LastDownloaded), nullTime(asset.LastAccessed), attrs,
	)
}

// deconflictAsset reconciles a lost version guard with the stored row and
// re-applies the merged update when the resolution permits.
func (t *Tx) deconflictAsset(asset *models.Asset) error {
	stored, err := t.FindAssetByID(asset.ID)
	if err != nil {
		return err
	}

	incoming := &deconflict.Record{
		BlobRef:        asset.BlobRef,
		Attributes:     asset.Attributes,
		LastUpdated:    asset.LastUpdated,
		LastDownloaded: asset.LastDownloaded,
	}
	disposition := t.storage.resolver.Resolve(&deconflict.Record{
		BlobRef:        stored.BlobRef,
		Attributes:     stored.Attributes,
		LastUpdated:    stored.LastUpdated,
		LastDownloaded: stored.LastDownloaded,
	}, incoming)
	if disposition == deconflict.Deny {
		return fmt.Errorf("%w: asset %d", db.ErrVersionConflict, asset.ID)
	}

	// The resolver may have pulled stored values into the incoming copy.
	asset.LastUpdated = incoming.LastUpdated
	asset.LastDownloaded = incoming.LastDownloaded

	attrs, err := models.EncodeAttributes(asset.Attributes)
	if err != nil {
		return fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	if err := t.updateAsset(asset, stored.Version, attrs); err != nil {
		return err
	}
	asset.Version = stored.Version + 1
	return nil
}

// MaybeTouchLastAccessed records read traffic against the asset, persisting
// at most once per throttle interval. The write is unguarded: losing a race
// on a bookkeeping timestamp is harmless, conflicting on it is not.
func (t *Tx) MaybeTouchLastAccessed(asset *models.Asset) (bool, error) {
	t.requireState(stateActive, "maybeTouchLastAccessed")
	if !asset.MarkAccessed(t.storage.now()) {
		return false, nil
	}
	_, err := t.doc.Exec(`UPDATE assets SET last_accessed = ? WHERE id = ?`, db.FormatTime(asset.LastAccessed), asset.ID)
	return err == nil, err
}

// FindAssetByID looks an asset up by id.
func (t *Tx) FindAssetByID(id int64) (*models.Asset, error) {
	t.requireState(stateActive, "findAssetByID")
	row := t.doc.QueryRow(`SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	return scanAsset(row)
}

// FindAsset looks an asset up by its natural key: (bucket, component, name)
// for owned assets, (bucket, name) with nil component for standalone ones.
func (t *Tx) FindAsset(bucket *models.Bucket, component *models.Component, name string) (*models.Asset, error) {
	t.requireState(stateActive, "findAsset")
	var row *sql.Row
	if component == nil {
		row = t.doc.QueryRow(
			`SELECT `+assetColumns+` FROM assets WHERE bucket_id = ? AND component_id IS NULL AND name = ?`,
			bucket.ID, name,
		)
	} else {
		row = t.doc.QueryRow(
			`SELECT `+assetColumns+` FROM assets WHERE bucket_id = ? AND component_id = ? AND name = ?`,
			bucket.ID, component.ID, name,
		)
	}
	return scanAsset(row)
}

// BrowseAssets lists assets in the bucket matching the query.
func (t *Tx) BrowseAssets(bucket *models.Bucket, query *Query) ([]*models.Asset, error) {
	t.requireState(stateActive, "browseAssets")
	if query == nil {
		query = NewQuery()
	}
	clause, args := query.build(bucket.ID)
	return t.queryAssets(`SELECT `+assetColumns+` FROM assets WHERE `+clause, args...)
}

// BrowseAssetsByComponent lists the assets owned by the component.
func (t *Tx) BrowseAssetsByComponent(component *models.Component) ([]*models.Asset, error) {
	t.requireState(stateActive, "browseAssetsByComponent")
	return t.queryAssets(
		`SELECT `+assetColumns+` FROM assets WHERE component_id = ? ORDER BY name`,
		component.ID,
	)
}

func (t *Tx) queryAssets(stmt string, args ...interface{}) ([]*models.Asset, error) {
	rows, err := t.doc.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var assets []*models.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return assets, nil
}

// CountAssets counts assets in the bucket matching the query.
func (t *Tx) CountAssets(bucket *models.Bucket, query *Query) (int64, error) {
	t.requireState(stateActive, "countAssets")
	if query == nil {
		query = NewQuery()
	}
	clause, args := query.build(bucket.ID)

	var count int64
	err := t.doc.QueryRow(`SELECT COUNT(*) FROM assets WHERE `+clause, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return count, nil
}

// DeleteAsset removes the asset, queueing its blob for deletion unless
// deleteBlob is false (replication scenarios where content stays shared).
func (t *Tx) DeleteAsset(asset *models.Asset, deleteBlob bool) error {
	t.requireState(stateActive, "deleteAsset")

	policy := t.storage.policy(asset)
	if err := policy.CheckDeleteAllowed(asset.Name); err != nil {
		return err
	}

	if _, err := t.doc.Exec(`DELETE FROM assets WHERE id = ?`, asset.ID); err != nil {
		return err
	}
	if deleteBlob && asset.BlobRef != nil {
		t.blobTx.RequestDeletion(asset.BlobRef, "asset deleted")
	}

	repoName, err := t.repositoryName(asset.BucketID)
	if err != nil {
		return err
	}
	if err := t.removeAssetNode(repoName, asset.ID); err != nil {
		return err
	}
	return t.repointTwinNode(repoName, asset)
}

// repointTwinNode hands a browse path over to its surviving twin. Owned and
// standalone assets are separate uniqueness namespaces, so two assets may
// share a name; the node references one of them at a time.
func (t *Tx) repointTwinNode(repoName string, removed *models.Asset) error {
	twins, err := t.queryAssets(
		`SELECT `+assetColumns+` FROM assets WHERE bucket_id = ? AND name = ? AND id != ? LIMIT 1`,
		removed.BucketID, removed.Name, removed.ID,
	)
	if err != nil || len(twins) == 0 {
		return err
	}
	path := assetPath(twins[0])
	return t.storage.browse.CreateAssetNode(t.doc, repoName, path, twins[0].ID, path[len(path)-1])
}

func (t *Tx) removeAssetNode(repoName string, assetID int64) error {
	err := t.storage.browse.DeleteAssetNode(t.doc, repoName, assetID)
	if errors.Is(err, browse.ErrNodeNotFound) {
		return nil
	}
	return err
}

func (t *Tx) removeComponentNode(repoName string, componentID int64) error {
	err := t.storage.browse.DeleteComponentNode(t.doc, repoName, componentID)
	if errors.Is(err, browse.ErrNodeNotFound) {
		return nil
	}
	return err
}

func scanAsset(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Asset, error) {
	asset := &models.Asset{}
	var (
		componentID    sql.NullInt64
		contentType    sql.NullString
		blobRef        sql.NullString
		lastUpdated    string
		lastDownloaded sql.NullString
		lastAccessed   sql.NullString
		attrs          string
	)
	err := scanner.Scan(
		&asset.ID, &asset.BucketID, &componentID, &asset.Format, &asset.Name,
		&asset.Size, &contentType, &blobRef,
		&lastUpdated, &lastDownloaded, &lastAccessed, &attrs, &asset.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: asset", db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}

	if componentID.Valid {
		asset.ComponentID = &componentID.Int64
	}
	if contentType.Valid {
		asset.ContentType = contentType.String
	}
	if blobRef.Valid {
		if asset.BlobRef, err = models.ParseBlobRef(blobRef.String); err != nil {
			return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
		}
	}
	if asset.LastUpdated, err = db.ParseTime(lastUpdated); err != nil {
		return nil, err
	}
	if lastDownloaded.Valid {
		if asset.LastDownloaded, err = db.ParseTime(lastDownloaded.String); err != nil {
			return nil, err
		}
	}
	if lastAccessed.Valid {
		if asset.LastAccessed, err = db.ParseTime(lastAccessed.String); err != nil {
			return nil, err
		}
	}
	if asset.Attributes, err = models.DecodeAttributes(attrs); err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return asset, nil
}

// assetPath is the browse-tree location of an asset: its name split into
// path segments.
func assetPath(asset *models.Asset) []string {
	return strings.Split(strings.Trim(asset.Name, "/"), "/")
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func blobRefColumn(ref *models.BlobRef) interface{} {
	if ref == nil {
		return nil
	}
	return ref.String()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return db.FormatTime(t)
}
