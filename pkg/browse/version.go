package browse

import (
	"strings"

	goversion "github.com/hashicorp/go-version"

	"repofs/pkg/models"
)

// Display groups in listing order.
const (
	rankComponent = iota
	rankFolder
	rankLeaf
)

func rank(node *models.BrowseNode) int {
	switch {
	case node.HasComponent():
		return rankComponent
	case !node.Leaf:
		return rankFolder
	default:
		return rankLeaf
	}
}

// CompareNodes orders listing results: components before folders before
// leaf assets; components version-aware by name, everything else
// case-insensitively lexical.
func CompareNodes(a, b *models.BrowseNode) int {
	if ra, rb := rank(a), rank(b); ra != rb {
		return ra - rb
	}
	if rank(a) == rankComponent {
		return compareVersionish(a.Name, b.Name)
	}
	return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}

// compareVersionish compares two names as versions when both parse,
// falling back to case-insensitive lexical order.
func compareVersionish(a, b string) int {
	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
