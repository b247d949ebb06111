package browse

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"repofs/pkg/db"
	"repofs/pkg/models"
)

// DefaultMaxNodes caps a listing when the caller does not say otherwise.
const DefaultMaxNodes = 100

// Filter is the opaque visibility predicate applied to asset-bearing nodes:
// permission checks, keyword search, or both. A nil filter admits everything.
type Filter func(node *models.BrowseNode) bool

// GetByPath lists the visible children of a path without materializing the
// subtree. Cost is proportional to the number of visible children returned:
// direct children come from one query, deeper content from a sequence of
// lexicographic range scans bounded by incrementing the scan floor past
// each consumed child.
func (s *Store) GetByPath(tx *db.Tx, repoName string, path []string, maxNodes int, filter Filter) ([]*models.BrowseNode, error) {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	if filter == nil {
		filter = func(*models.BrowseNode) bool { return true }
	}

	basePath := models.JoinPathSegments(path)

	allChildren, visibleChildren, err := s.directChildren(tx, repoName, basePath, filter)
	if err != nil {
		return nil, err
	}

	var (
		results  []*models.BrowseNode
		consumed = map[string]bool{}
		// The trailing "/" of the base becomes "0" ('/'+1), bounding the
		// range scan to this subtree.
		upper = basePath[:len(basePath)-1] + "0"
		lower = basePath
	)

	for len(results) < maxNodes {
		hit, err := s.firstVisibleDescendant(tx, repoName, lower, upper, filter)
		if err != nil {
			return nil, err
		}
		if hit == nil {
			break
		}

		// The path segment immediately after the base names the child
		// folder this subtree lives under.
		rest := hit.ParentPath[len(basePath):]
		childName := rest[:strings.Index(rest, "/")]

		if node, ok := allChildren[childName]; ok {
			// Established node: richer, may carry component/asset refs.
			results = append(results, node)
		} else {
			results = append(results, &models.BrowseNode{
				RepositoryName: repoName,
				ParentPath:     basePath,
				Name:           childName,
			})
		}
		consumed[childName] = true

		// Skip the rest of this child's subtree: "0" sorts after "/".
		lower = basePath + childName + "0"
	}

	// Direct children the subtree scan cannot reach: nodes carrying a
	// visible asset have no deeper content, and component-only nodes
	// (a demoted version folder, say) carry no asset for the scan to hit.
	// Append both explicitly.
	for _, node := range visibleChildren {
		if len(results) >= maxNodes {
			break
		}
		if !consumed[node.Name] && (node.HasAsset() || node.HasComponent()) {
			results = append(results, node)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return CompareNodes(results[i], results[j]) < 0
	})
	return results, nil
}

// directChildren returns all nodes exactly one level below basePath, plus
// the subset that is visible per the listing rule: asset passes the filter,
// or no asset is attached at all.
func (s *Store) directChildren(tx *db.Tx, repoName, basePath string, filter Filter) (map[string]*models.BrowseNode, []*models.BrowseNode, error) {
	rows, err := tx.Query(
		`SELECT `+nodeColumns+` FROM browse_nodes
		 WHERE repository_name = ? AND parent_path = ? ORDER BY name`,
		repoName, basePath,
	)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	all := map[string]*models.BrowseNode{}
	var visible []*models.BrowseNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
		}
		all[node.Name] = node
		if !node.HasAsset() || filter(node) {
			visible = append(visible, node)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return all, visible, nil
}

// firstVisibleDescendant scans asset-bearing nodes strictly deeper than
// lower and below upper, in path order, returning the first one the filter
// admits.
func (s *Store) firstVisibleDescendant(tx *db.Tx, repoName, lower, upper string, filter Filter) (*models.BrowseNode, error) {
	rows, err := tx.Query(
		`SELECT `+nodeColumns+` FROM browse_nodes
		 WHERE repository_name = ? AND parent_path > ? AND parent_path < ? AND asset_id IS NOT NULL
		 ORDER BY parent_path, name`,
		repoName, lower, upper,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
		}
		if filter(node) {
			return node, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrDatabase, err)
	}
	return nil, nil
}

// GetNodeByPath fetches the single node at the exact path, if any.
func (s *Store) GetNodeByPath(tx *db.Tx, repoName string, path []string) (*models.BrowseNode, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrNodeNotFound)
	}
	parentPath := models.JoinPathSegments(path[:len(path)-1])
	node, err := s.nodeAtPath(tx, repoName, parentPath, path[len(path)-1])
	if errors.Is(err, ErrNodeNotFound) {
		return nil, err
	}
	return node, err
}
