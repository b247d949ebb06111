package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"repofs/pkg/db"
	"repofs/pkg/deconflict"
	"repofs/pkg/models"
)

const componentColumns = `id, bucket_id, format, group_name, name, coord_version, last_updated, attributes, rec_version`

// CreateComponent returns a new in-memory component attached to the bucket.
// It gets persistent identity on first SaveComponent.
func (t *Tx) CreateComponent(bucket *models.Bucket, format string) *models.Component {
	t.requireState(stateActive, "createComponent")
	return &models.Component{
		BucketID:   bucket.ID,
		Format:     format,
		Attributes: models.Attributes{},
	}
}

// SaveComponent inserts the component on first save, otherwise updates its
// mutable fields under the optimistic version guard, consulting the
// deconfliction resolver when the guard is lost.
func (t *Tx) SaveComponent(component *models.Component) error {
	t.requireState(stateActive, "saveComponent")
	if component.BucketID == 0 || component.Name == "" || component.Format == "" {
		return fmt.Errorf("%w: component requires bucket, name and format", db.ErrDatabase)
	}

	component.LastUpdated = t.storage.now()
	attrs, err := models.EncodeAttributes(component.Attributes)
	if err != nil {
		return fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}

	if !component.HasID() {
		res, err := t.doc.Exec(
			`INSERT INTO components (bucket_id, format, group_name, name, coord_version, last_updated, attributes)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			component.BucketID, component.Format, component.Group, component.Name,
			component.CoordVersion, db.FormatTime(component.LastUpdated), attrs,
		)
		if err != nil {
			return err
		}
		if component.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("%w: %w", db.ErrDatabase, err)
		}
		component.Version = 1

		repoName, err := t.repositoryName(component.BucketID)
		if err != nil {
			return err
		}
		return t.storage.browse.CreateComponentNode(t.doc, repoName, componentPath(component), component.ID)
	}

	err = t.doc.UpdateVersioned(
		"components", "last_updated = ?, attributes = ?",
		component.ID, component.Version, db.FormatTime(component.LastUpdated), attrs,
	)
	if errors.Is(err, db.ErrVersionConflict) {
		return t.deconflictComponent(component)
	}
	if err != nil {
		return err
	}
	component.Version++
	return nil
}

// deconflictComponent reconciles a lost version guard against the stored
// row and, when resolution permits, re-applies the update at the stored
// version.
func (t *Tx) deconflictComponent(component *models.Component) error {
	stored, err := t.FindComponentByID(component.ID)
	if err != nil {
		return err
	}

	incoming := &deconflict.Record{Attributes: component.Attributes, LastUpdated: component.LastUpdated}
	disposition := t.storage.resolver.Resolve(
		&deconflict.Record{Attributes: stored.Attributes, LastUpdated: stored.LastUpdated},
		incoming,
	)
	if disposition == deconflict.Deny {
		return fmt.Errorf("%w: component %d", db.ErrVersionConflict, component.ID)
	}
	component.LastUpdated = incoming.LastUpdated

	attrs, err := models.EncodeAttributes(component.Attributes)
	if err != nil {
		return fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	err = t.doc.UpdateVersioned(
		"components", "last_updated = ?, attributes = ?",
		component.ID, stored.Version, db.FormatTime(component.LastUpdated), attrs,
	)
	if err != nil {
		return err
	}
	component.Version = stored.Version + 1
	return nil
}

// FindComponentByID looks a component up by id.
func (t *Tx) FindComponentByID(id int64) (*models.Component, error) {
	t.requireState(stateActive, "findComponentByID")
	row := t.doc.QueryRow(`SELECT `+componentColumns+` FROM components WHERE id = ?`, id)
	return scanComponent(row)
}

// FindComponent looks a component up by its natural key.
func (t *Tx) FindComponent(bucket *models.Bucket, group, name, coordVersion string) (*models.Component, error) {
	t.requireState(stateActive, "findComponent")
	row := t.doc.QueryRow(
		`SELECT `+componentColumns+` FROM components
		 WHERE bucket_id = ? AND group_name = ? AND name = ? AND coord_version = ?`,
		bucket.ID, group, name, coordVersion,
	)
	return scanComponent(row)
}

// BrowseComponents lists components in the bucket matching the query.
func (t *Tx) BrowseComponents(bucket *models.Bucket, query *Query) ([]*models.Component, error) {
	t.requireState(stateActive, "browseComponents")
	if query == nil {
		query = NewQuery()
	}
	clause, args := query.build(bucket.ID)

	rows, err := t.doc.Query(`SELECT `+componentColumns+` FROM components WHERE `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var components []*models.Component
	for rows.Next() {
		component, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		components = append(components, component)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return components, nil
}

// CountComponents counts components in the bucket matching the query.
func (t *Tx) CountComponents(bucket *models.Bucket, query *Query) (int64, error) {
	t.requireState(stateActive, "countComponents")
	if query == nil {
		query = NewQuery()
	}
	clause, args := query.build(bucket.ID)

	var count int64
	err := t.doc.QueryRow(`SELECT COUNT(*) FROM components WHERE `+clause, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return count, nil
}

// DeleteComponent removes the component, cascading over its assets.
// deleteBlobs false skips queueing blob deletions, for replication
// scenarios where another node owns the content.
func (t *Tx) DeleteComponent(component *models.Component, deleteBlobs bool) error {
	t.requireState(stateActive, "deleteComponent")

	assets, err := t.BrowseAssetsByComponent(component)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if err := t.DeleteAsset(asset, deleteBlobs); err != nil {
			return err
		}
	}

	if _, err := t.doc.Exec(`DELETE FROM components WHERE id = ?`, component.ID); err != nil {
		return err
	}

	repoName, err := t.repositoryName(component.BucketID)
	if err != nil {
		return err
	}
	return t.removeComponentNode(repoName, component.ID)
}

// MoveComponent reassigns the component and its assets to another bucket,
// relocating their browse nodes. Blobs stay where they are; only metadata
// moves.
func (t *Tx) MoveComponent(component *models.Component, destination *models.Bucket) error {
	t.requireState(stateActive, "moveComponent")

	sourceRepo, err := t.repositoryName(component.BucketID)
	if err != nil {
		return err
	}

	assets, err := t.BrowseAssetsByComponent(component)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if err := t.removeAssetNode(sourceRepo, asset.ID); err != nil {
			return err
		}
		if _, err := t.doc.Exec(`UPDATE assets SET bucket_id = ? WHERE id = ?`, destination.ID, asset.ID); err != nil {
			return err
		}
		path := assetPath(asset)
		if err := t.storage.browse.CreateAssetNode(t.doc, destination.RepositoryName, path, asset.ID, path[len(path)-1]); err != nil {
			return err
		}
		if err := t.repointTwinNode(sourceRepo, asset); err != nil {
			return err
		}
	}

	if err := t.removeComponentNode(sourceRepo, component.ID); err != nil {
		return err
	}
	err = t.doc.UpdateVersioned("components", "bucket_id = ?", component.ID, component.Version, destination.ID)
	if err != nil {
		return err
	}
	component.Version++
	component.BucketID = destination.ID
	return t.storage.browse.CreateComponentNode(t.doc, destination.RepositoryName, componentPath(component), component.ID)
}

func scanComponent(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Component, error) {
	component := &models.Component{}
	var (
		lastUpdated string
		attrs       string
	)
	err := scanner.Scan(
		&component.ID, &component.BucketID, &component.Format, &component.Group,
		&component.Name, &component.CoordVersion, &lastUpdated,
		&attrs, &component.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: component", db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	if component.LastUpdated, err = db.ParseTime(lastUpdated); err != nil {
		return nil, err
	}
	if component.Attributes, err = models.DecodeAttributes(attrs); err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return component, nil
}

// componentPath is the browse-tree location of a component:
// group segments, then name, then version.
func componentPath(component *models.Component) []string {
	var segments []string
	if component.Group != "" {
		segments = strings.Split(strings.Trim(component.Group, "/"), "/")
	}
	segments = append(segments, component.Name)
	if component.CoordVersion != "" {
		segments = append(segments, component.CoordVersion)
	}
	return segments
}
