package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"repofs/pkg/db"
	"repofs/pkg/models"
)

// CreateBucket persists a new bucket for the named repository.
func (t *Tx) CreateBucket(repositoryName string) (*models.Bucket, error) {
	t.requireState(stateActive, "createBucket")
	if repositoryName == "" {
		return nil, fmt.Errorf("%w: bucket requires a repository name", db.ErrDatabase)
	}

	bucket := &models.Bucket{RepositoryName: repositoryName, Attributes: models.Attributes{}}

	attrs, err := models.EncodeAttributes(bucket.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	res, err := t.doc.Exec(
		`INSERT INTO buckets (repository_name, attributes) VALUES (?, ?)`,
		repositoryName, attrs,
	)
	if err != nil {
		return nil, err
	}
	bucket.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	bucket.Version = 1
	t.bucketNames[bucket.ID] = repositoryName
	return bucket, nil
}

// FindBucket looks a bucket up by repository name.
func (t *Tx) FindBucket(repositoryName string) (*models.Bucket, error) {
	t.requireState(stateActive, "findBucket")

	bucket := &models.Bucket{}
	var attrs string
	err := t.doc.QueryRow(
		`SELECT id, repository_name, attributes, rec_version FROM buckets WHERE repository_name = ?`,
		repositoryName,
	).Scan(&bucket.ID, &bucket.RepositoryName, &attrs, &bucket.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bucket %q", db.ErrNotFound, repositoryName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	if bucket.Attributes, err = models.DecodeAttributes(attrs); err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return bucket, nil
}

// ListBuckets returns all buckets ordered by repository name.
func (t *Tx) ListBuckets() ([]*models.Bucket, error) {
	t.requireState(stateActive, "listBuckets")

	rows, err := t.doc.Query(`SELECT id, repository_name, attributes, rec_version FROM buckets ORDER BY repository_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var buckets []*models.Bucket
	for rows.Next() {
		bucket := &models.Bucket{}
		var attrs string
		if err := rows.Scan(&bucket.ID, &bucket.RepositoryName, &attrs, &bucket.Version); err != nil {
			return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
		}
		if bucket.Attributes, err = models.DecodeAttributes(attrs); err != nil {
			return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
		}
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return buckets, nil
}

// FindBucketByID looks a bucket up by id.
func (t *Tx) FindBucketByID(id int64) (*models.Bucket, error) {
	t.requireState(stateActive, "findBucketByID")

	bucket := &models.Bucket{}
	var attrs string
	err := t.doc.QueryRow(
		`SELECT id, repository_name, attributes, rec_version FROM buckets WHERE id = ?`,
		id,
	).Scan(&bucket.ID, &bucket.RepositoryName, &attrs, &bucket.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bucket %d", db.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	if bucket.Attributes, err = models.DecodeAttributes(attrs); err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return bucket, nil
}

// SaveBucket updates a bucket's attributes under the optimistic version
// guard.
func (t *Tx) SaveBucket(bucket *models.Bucket) error {
	t.requireState(stateActive, "saveBucket")

	attrs, err := models.EncodeAttributes(bucket.Attributes)
	if err != nil {
		return fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	if err := t.doc.UpdateVersioned("buckets", "attributes = ?", bucket.ID, bucket.Version, attrs); err != nil {
		return err
	}
	bucket.Version++
	return nil
}

// DeleteBucket removes the bucket and everything it owns: components with
// their assets, standalone assets, their blobs, and the bucket's rows in
// the browse index. Blob deletions are queued soft deletes applied at
// commit.
func (t *Tx) DeleteBucket(bucket *models.Bucket) error {
	t.requireState(stateActive, "deleteBucket")

	components, err := t.BrowseComponents(bucket, nil)
	if err != nil {
		return err
	}
	for _, component := range components {
		if err := t.DeleteComponent(component, true); err != nil {
			return err
		}
	}
	standalone, err := t.BrowseAssets(bucket, NewQuery().Where("component_id IS NULL"))
	if err != nil {
		return err
	}
	for _, asset := range standalone {
		if err := t.DeleteAsset(asset, true); err != nil {
			return err
		}
	}

	if _, err := t.doc.Exec(`DELETE FROM browse_nodes WHERE repository_name = ?`, bucket.RepositoryName); err != nil {
		return err
	}
	if _, err := t.doc.Exec(`DELETE FROM buckets WHERE id = ?`, bucket.ID); err != nil {
		return err
	}
	delete(t.bucketNames, bucket.ID)
	return nil
}
