// Package deconflict reconciles two versions of the same logical record
// written without one observing the other: a local writer that exhausted its
// optimistic retries, or an incoming replicated write. Resolution is
// field-level; the incoming record is mutated in place so that the writer's
// next attempt carries the merged values.
package deconflict

import (
	"time"

	"repofs/pkg/models"
)

// Disposition is the outcome of resolving two conflicting records.
type Disposition int

const (
	// Ignore: the records are equivalent, no action needed.
	Ignore Disposition = iota
	// Allow: take the incoming record as-is.
	Allow
	// Merge: keep stored values for some fields; they have been copied
	// into the incoming record so its next write attempt succeeds.
	Merge
	// Deny: irreconcilable, the caller must resolve.
	Deny
)

// String returns the disposition name.
func (d Disposition) String() string {
	switch d {
	case Ignore:
		return "IGNORE"
	case Allow:
		return "ALLOW"
	case Merge:
		return "MERGE"
	case Deny:
		return "DENY"
	default:
		return "UNKNOWN"
	}
}

// Attribute layout the rules operate on. Cache and content children are
// format bookkeeping written by proxy-repository logic.
const (
	cacheChild    = "cache"
	contentChild  = "content"
	keyCacheToken = "cache_token"
	keyVerified   = "last_verified"
	keyModified   = "last_modified"
	keyETag       = "etag"

	// TokenInvalidated marks a cache entry as force-expired. It always
	// wins a merge so an invalidation is never lost to a concurrent
	// refresh.
	TokenInvalidated = "invalidated"
)

// Record is the field-set view of a stored entity that the resolver
// understands. Both assets and components project into it.
type Record struct {
	BlobRef        *models.BlobRef
	Attributes     models.Attributes
	LastUpdated    time.Time
	LastDownloaded time.Time
}

// Resolver applies the ordered rule chain. Rules touching specific
// attributes run before the blunt last-write-wins timestamp rules so that
// field semantics (an invalidated cache token winning, say) are not
// overridden by recency.
type Resolver struct{}

// NewResolver returns the standard resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

type rule func(stored, incoming *Record) Disposition

// Resolve reconciles stored and incoming, mutating incoming with any merged
// values, and returns the combined disposition.
func (r *Resolver) Resolve(stored, incoming *Record) Disposition {
	rules := []rule{
		resolveContentIdentity,
		resolveCacheAttributes,
		resolveContentAttributes,
		resolveTimestamps,
	}

	result := Ignore
	for _, apply := range rules {
		switch apply(stored, incoming) {
		case Deny:
			return Deny
		case Merge:
			result = Merge
		case Allow:
			if result == Ignore {
				result = Allow
			}
		case Ignore:
		}
	}
	return result
}

// resolveContentIdentity denies when the two sides point at different
// content. Metadata fields can be merged; divergent bytes cannot.
func resolveContentIdentity(stored, incoming *Record) Disposition {
	if stored.BlobRef == nil || incoming.BlobRef == nil {
		return Ignore
	}
	if stored.BlobRef.Equal(incoming.BlobRef) {
		return Ignore
	}
	return Deny
}

// resolveCacheAttributes reconciles the cache child map. An "invalidated"
// token beats everything; otherwise a present token beats an absent one;
// otherwise the later last-verified side wins.
func resolveCacheAttributes(stored, incoming *Record) Disposition {
	storedHas := stored.Attributes.HasChild(cacheChild)
	incomingHas := incoming.Attributes.HasChild(cacheChild)

	switch {
	case !storedHas && !incomingHas:
		return Ignore
	case !incomingHas:
		// The side lacking cache info inherits the other's.
		setChild(incoming.Attributes, cacheChild, stored.Attributes.Child(cacheChild))
		return Merge
	case !storedHas:
		return Allow
	}

	storedCache := stored.Attributes.Child(cacheChild)
	incomingCache := incoming.Attributes.Child(cacheChild)

	storedToken := storedCache.GetString(keyCacheToken)
	incomingToken := incomingCache.GetString(keyCacheToken)

	switch {
	case storedToken == incomingToken:
		// Fall through to last-verified comparison below.
	case storedToken == TokenInvalidated:
		incomingCache.Set(keyCacheToken, storedToken)
		return Merge
	case incomingToken == TokenInvalidated:
		return Allow
	case incomingToken == "" && storedToken != "":
		incomingCache.Set(keyCacheToken, storedToken)
		return Merge
	case storedToken == "" && incomingToken != "":
		return Allow
	}

	if parseTime(storedCache.GetString(keyVerified)).After(parseTime(incomingCache.GetString(keyVerified))) {
		setChild(incoming.Attributes, cacheChild, storedCache)
		return Merge
	}
	return Allow
}

// resolveContentAttributes reconciles last-modified bookkeeping: inherit
// when one side is missing, otherwise the later timestamp wins.
func resolveContentAttributes(stored, incoming *Record) Disposition {
	storedHas := stored.Attributes.HasChild(contentChild)
	incomingHas := incoming.Attributes.HasChild(contentChild)

	switch {
	case !storedHas && !incomingHas:
		return Ignore
	case !incomingHas:
		setChild(incoming.Attributes, contentChild, stored.Attributes.Child(contentChild))
		return Merge
	case !storedHas:
		return Allow
	}

	storedContent := stored.Attributes.Child(contentChild)
	incomingContent := incoming.Attributes.Child(contentChild)

	if parseTime(storedContent.GetString(keyModified)).After(parseTime(incomingContent.GetString(keyModified))) {
		setChild(incoming.Attributes, contentChild, storedContent)
		return Merge
	}
	return Allow
}

// resolveTimestamps takes the later value for the bookkeeping timestamps.
func resolveTimestamps(stored, incoming *Record) Disposition {
	result := Ignore
	if stored.LastDownloaded.After(incoming.LastDownloaded) {
		incoming.LastDownloaded = stored.LastDownloaded
		result = Merge
	}
	if stored.LastUpdated.After(incoming.LastUpdated) {
		incoming.LastUpdated = stored.LastUpdated
		result = Merge
	}
	return result
}

func setChild(attrs models.Attributes, key string, child models.Attributes) {
	attrs.Set(key, child.Clone())
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
