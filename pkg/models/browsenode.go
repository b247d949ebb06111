package models

import "strings"

// BrowseNode is one path segment in the materialized browse tree. A node may
// simultaneously be a folder, a component and an asset depending on what has
// been attached at its path; (RepositoryName, ParentPath, Name) is unique.
type BrowseNode struct {
	EntityMetadata
	RepositoryName     string `json:"repository_name"`
	ParentPath         string `json:"parent_path"`
	Name               string `json:"name"`
	ComponentID        *int64 `json:"component_id,omitempty"`
	AssetID            *int64 `json:"asset_id,omitempty"`
	AssetNameLowercase string `json:"asset_name_lowercase,omitempty"`
	Leaf               bool   `json:"leaf"`
}

// Path returns the full path of this node, parent path plus name.
func (n *BrowseNode) Path() string {
	return n.ParentPath + n.Name
}

// HasComponent reports whether a component is attached at this path.
func (n *BrowseNode) HasComponent() bool {
	return n.ComponentID != nil
}

// HasAsset reports whether an asset is attached at this path.
func (n *BrowseNode) HasAsset() bool {
	return n.AssetID != nil
}

// Empty reports whether the node carries neither reference; empty nodes are
// deleted rather than kept as bare folders.
func (n *BrowseNode) Empty() bool {
	return n.ComponentID == nil && n.AssetID == nil
}

// JoinPathSegments renders path segments into the stored parent-path form:
// segments joined by "/" with a trailing "/" so that child paths sort
// immediately after their parent in a raw string scan.
func JoinPathSegments(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/") + "/"
}
