// Package browse maintains the materialized path hierarchy used for
// permission-filtered repository listing. One node exists per attached
// component or asset path; intermediate folders are synthesized at read
// time from subtree scans, so the index stays proportional to content.
package browse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"repofs/pkg/db"
	"repofs/pkg/log"
	"repofs/pkg/models"
)

// DefaultDeleteBatchSize bounds single-transaction cost of repository-wide
// node deletion.
const DefaultDeleteBatchSize = 1000

// Store reads and writes browse nodes. Node mutations participate in the
// caller's document transaction; repository-wide deletion manages its own
// batched transactions.
type Store struct {
	database *db.DB
}

// NewStore creates a browse node store over the shared document database.
func NewStore(database *db.DB) *Store {
	return &Store{database: database}
}

// CreateComponentNode attaches componentID at the given path, creating the
// node or merging into an existing folder/asset node at that path.
func (s *Store) CreateComponentNode(tx *db.Tx, repoName string, path []string, componentID int64) error {
	return s.upsertNode(tx, repoName, path, &componentID, nil, "")
}

// CreateAssetNode attaches assetID at the given path. assetName feeds the
// lowercase search column.
func (s *Store) CreateAssetNode(tx *db.Tx, repoName string, path []string, assetID int64, assetName string) error {
	return s.upsertNode(tx, repoName, path, nil, &assetID, strings.ToLower(assetName))
}

func (s *Store) upsertNode(tx *db.Tx, repoName string, path []string, componentID, assetID *int64, lowercase string) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty path", db.ErrDatabase)
	}
	parentPath := models.JoinPathSegments(path[:len(path)-1])
	name := path[len(path)-1]

	existing, err := s.nodeAtPath(tx, repoName, parentPath, name)
	if err != nil && !errors.Is(err, ErrNodeNotFound) {
		return err
	}

	if existing == nil {
		node := &models.BrowseNode{
			RepositoryName:     repoName,
			ParentPath:         parentPath,
			Name:               name,
			ComponentID:        componentID,
			AssetID:            assetID,
			AssetNameLowercase: lowercase,
		}
		node.Leaf = node.HasAsset() && !node.HasComponent()

		_, err := tx.Exec(
			`INSERT INTO browse_nodes
			 (repository_name, parent_path, name, component_id, asset_id, asset_name_lowercase, leaf)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			repoName, parentPath, name, componentID, assetID, node.AssetNameLowercase, node.Leaf,
		)
		if errors.Is(err, db.ErrUniqueViolation) {
			// Lost a create race for the same path; the caller's retry
			// will merge into the established node.
			return fmt.Errorf("%w: %s%s", ErrNodeCollision, parentPath, name)
		}
		return err
	}

	// Merge into the established node, refusing to displace a different
	// reference.
	if componentID != nil {
		if existing.ComponentID != nil && *existing.ComponentID != *componentID {
			return fmt.Errorf("%w: component already attached at %s%s", ErrNodeCollision, parentPath, name)
		}
		existing.ComponentID = componentID
	}
	if assetID != nil {
		// Owned and standalone assets live in separate uniqueness
		// namespaces, so two distinct assets may legally share a path.
		// The established reference stays; the path is already listed.
		if existing.AssetID == nil {
			existing.AssetID = assetID
			existing.AssetNameLowercase = lowercase
		}
	}
	existing.Leaf = existing.HasAsset() && !existing.HasComponent()

	_, err = tx.Exec(
		`UPDATE browse_nodes SET component_id = ?, asset_id = ?, asset_name_lowercase = ?, leaf = ? WHERE id = ?`,
		existing.ComponentID, existing.AssetID, existing.AssetNameLowercase, existing.Leaf, existing.ID,
	)
	return err
}

// DeleteComponentNode removes the component reference from its node,
// demoting the node or deleting it when nothing else is attached.
func (s *Store) DeleteComponentNode(tx *db.Tx, repoName string, componentID int64) error {
	node, err := s.nodeByRef(tx, repoName, "component_id", componentID)
	if err != nil {
		return err
	}
	node.ComponentID = nil
	return s.demoteOrDelete(tx, node)
}

// DeleteAssetNode removes the asset reference from its node.
func (s *Store) DeleteAssetNode(tx *db.Tx, repoName string, assetID int64) error {
	node, err := s.nodeByRef(tx, repoName, "asset_id", assetID)
	if err != nil {
		return err
	}
	node.AssetID = nil
	node.AssetNameLowercase = ""
	return s.demoteOrDelete(tx, node)
}

func (s *Store) demoteOrDelete(tx *db.Tx, node *models.BrowseNode) error {
	if node.Empty() {
		_, err := tx.Exec(`DELETE FROM browse_nodes WHERE id = ?`, node.ID)
		return err
	}
	node.Leaf = node.HasAsset() && !node.HasComponent()
	_, err := tx.Exec(
		`UPDATE browse_nodes SET component_id = ?, asset_id = ?, asset_name_lowercase = ?, leaf = ? WHERE id = ?`,
		node.ComponentID, node.AssetID, node.AssetNameLowercase, node.Leaf, node.ID,
	)
	return err
}

// DeleteByRepository removes all nodes of a repository in bounded batches,
// checking for cancellation between batches. Returns the number deleted.
func (s *Store) DeleteByRepository(ctx context.Context, repoName string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultDeleteBatchSize
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		tx, err := s.database.Begin(ctx)
		if err != nil {
			return total, err
		}

		res, err := tx.Exec(
			`DELETE FROM browse_nodes WHERE id IN
			 (SELECT id FROM browse_nodes WHERE repository_name = ? LIMIT ?)`,
			repoName, batchSize,
		)
		if err != nil {
			_ = tx.Rollback()
			return total, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return total, fmt.Errorf("%w: %w", db.ErrDatabase, err)
		}
		if err := tx.Commit(); err != nil {
			return total, err
		}

		total += int(affected)
		if int(affected) < batchSize {
			break
		}
	}

	log.Debug().Str("repository", repoName).Int("deleted", total).Msg("Browse nodes deleted")
	return total, nil
}

const nodeColumns = `id, repository_name, parent_path, name, component_id, asset_id, asset_name_lowercase, leaf`

func scanNode(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.BrowseNode, error) {
	var (
		node        models.BrowseNode
		componentID sql.NullInt64
		assetID     sql.NullInt64
	)
	err := scanner.Scan(
		&node.ID, &node.RepositoryName, &node.ParentPath, &node.Name,
		&componentID, &assetID, &node.AssetNameLowercase, &node.Leaf,
	)
	if err != nil {
		return nil, err
	}
	if componentID.Valid {
		node.ComponentID = &componentID.Int64
	}
	if assetID.Valid {
		node.AssetID = &assetID.Int64
	}
	return &node, nil
}

func (s *Store) nodeAtPath(tx *db.Tx, repoName, parentPath, name string) (*models.BrowseNode, error) {
	row := tx.QueryRow(
		`SELECT `+nodeColumns+` FROM browse_nodes
		 WHERE repository_name = ? AND parent_path = ? AND name = ?`,
		repoName, parentPath, name,
	)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s%s", ErrNodeNotFound, parentPath, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return node, nil
}

func (s *Store) nodeByRef(tx *db.Tx, repoName, column string, id int64) (*models.BrowseNode, error) {
	row := tx.QueryRow(
		fmt.Sprintf(`SELECT %s FROM browse_nodes WHERE repository_name = ? AND %s = ?`, nodeColumns, column),
		repoName, id,
	)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s=%d", ErrNodeNotFound, column, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return node, nil
}
