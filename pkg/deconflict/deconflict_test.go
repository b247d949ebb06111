package deconflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"repofs/pkg/models"
)

// DeconflictTestSuite tests the field-level merge rules.
type DeconflictTestSuite struct {
	suite.Suite
	resolver *Resolver
}

func (s *DeconflictTestSuite) SetupTest() {
	s.resolver = NewResolver()
}

func record(attrs models.Attributes) *Record {
	if attrs == nil {
		attrs = models.Attributes{}
	}
	return &Record{Attributes: attrs}
}

func cacheAttrs(token, verified string) models.Attributes {
	cache := models.Attributes{}
	if token != "" {
		cache.Set(keyCacheToken, token)
	}
	if verified != "" {
		cache.Set(keyVerified, verified)
	}
	return models.Attributes{cacheChild: cache}
}

func (s *DeconflictTestSuite) TestEquivalentRecordsIgnored() {
	stored := record(nil)
	incoming := record(nil)
	s.Equal(Ignore, s.resolver.Resolve(stored, incoming))
}

func (s *DeconflictTestSuite) TestDivergentBlobsDenied() {
	stored := record(nil)
	stored.BlobRef = models.NewBlobRef("default", "aaa")
	incoming := record(nil)
	incoming.BlobRef = models.NewBlobRef("default", "bbb")

	s.Equal(Deny, s.resolver.Resolve(stored, incoming))
}

func (s *DeconflictTestSuite) TestSameBlobNotDenied() {
	stored := record(nil)
	stored.BlobRef = models.NewBlobRef("default", "aaa")
	incoming := record(nil)
	incoming.BlobRef = models.NewBlobRef("default", "aaa")

	s.NotEqual(Deny, s.resolver.Resolve(stored, incoming))
}

func (s *DeconflictTestSuite) TestInvalidatedTokenWinsFromStoredSide() {
	stored := record(cacheAttrs(TokenInvalidated, ""))
	incoming := record(cacheAttrs("fresh-token", ""))

	s.Equal(Merge, s.resolver.Resolve(stored, incoming))
	s.Equal(TokenInvalidated, incoming.Attributes.Child(cacheChild).GetString(keyCacheToken))
}

func (s *DeconflictTestSuite) TestInvalidatedTokenWinsFromIncomingSide() {
	stored := record(cacheAttrs("fresh-token", ""))
	incoming := record(cacheAttrs(TokenInvalidated, ""))

	s.Equal(Allow, s.resolver.Resolve(stored, incoming))
	s.Equal(TokenInvalidated, incoming.Attributes.Child(cacheChild).GetString(keyCacheToken))
}

func (s *DeconflictTestSuite) TestMissingCacheInfoInherited() {
	stored := record(cacheAttrs("token-a", "2026-08-01T10:00:00Z"))
	incoming := record(nil)

	s.Equal(Merge, s.resolver.Resolve(stored, incoming))
	s.Equal("token-a", incoming.Attributes.Child(cacheChild).GetString(keyCacheToken))
}

func (s *DeconflictTestSuite) TestPresentTokenBeatsAbsent() {
	stored := record(cacheAttrs("token-a", ""))
	incoming := record(models.Attributes{cacheChild: models.Attributes{}})

	s.Equal(Merge, s.resolver.Resolve(stored, incoming))
	s.Equal("token-a", incoming.Attributes.Child(cacheChild).GetString(keyCacheToken))
}

func (s *DeconflictTestSuite) TestLaterVerifiedWins() {
	stored := record(cacheAttrs("token-old", "2026-08-02T10:00:00Z"))
	incoming := record(cacheAttrs("token-old", "2026-08-01T10:00:00Z"))

	s.Equal(Merge, s.resolver.Resolve(stored, incoming))
	s.Equal("2026-08-02T10:00:00Z", incoming.Attributes.Child(cacheChild).GetString(keyVerified))
}

func (s *DeconflictTestSuite) TestEarlierVerifiedLoses() {
	stored := record(cacheAttrs("token-old", "2026-08-01T10:00:00Z"))
	incoming := record(cacheAttrs("token-old", "2026-08-02T10:00:00Z"))

	s.Equal(Allow, s.resolver.Resolve(stored, incoming))
	s.Equal("2026-08-02T10:00:00Z", incoming.Attributes.Child(cacheChild).GetString(keyVerified))
}

func (s *DeconflictTestSuite) TestSpecificRulesBeatTimestampRule() {
	// Incoming is more recently updated, but the stored invalidation must
	// still survive the merge: ordering matters.
	stored := record(cacheAttrs(TokenInvalidated, ""))
	stored.LastUpdated = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	incoming := record(cacheAttrs("fresh", ""))
	incoming.LastUpdated = time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	s.Equal(Merge, s.resolver.Resolve(stored, incoming))
	s.Equal(TokenInvalidated, incoming.Attributes.Child(cacheChild).GetString(keyCacheToken))
}

func (s *DeconflictTestSuite) TestContentAttributesLaterModifiedWins() {
	stored := record(models.Attributes{contentChild: models.Attributes{
		keyModified: "2026-08-20T00:00:00Z",
		keyETag:     "v2",
	}})
	incoming := record(models.Attributes{contentChild: models.Attributes{
		keyModified: "2026-08-10T00:00:00Z",
		keyETag:     "v1",
	}})

	s.Equal(Merge, s.resolver.Resolve(stored, incoming))
	s.Equal("v2", incoming.Attributes.Child(contentChild).GetString(keyETag))
}

func (s *DeconflictTestSuite) TestContentAttributesInherited() {
	stored := record(models.Attributes{contentChild: models.Attributes{keyETag: "v1"}})
	incoming := record(nil)

	s.Equal(Merge, s.resolver.Resolve(stored, incoming))
	s.Equal("v1", incoming.Attributes.Child(contentChild).GetString(keyETag))
}

func (s *DeconflictTestSuite) TestBookkeepingTimestampsLastWriteWins() {
	early := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

	stored := record(nil)
	stored.LastDownloaded = late
	stored.LastUpdated = early
	incoming := record(nil)
	incoming.LastDownloaded = early
	incoming.LastUpdated = late

	s.Equal(Merge, s.resolver.Resolve(stored, incoming))
	s.Equal(late, incoming.LastDownloaded)
	s.Equal(late, incoming.LastUpdated)
}

func (s *DeconflictTestSuite) TestDeterminismAcrossSides() {
	// The invalidated token must survive no matter which side is "stored".
	attrsA := cacheAttrs(TokenInvalidated, "")
	attrsB := cacheAttrs("other", "")

	first := record(attrsA.Clone())
	second := record(attrsB.Clone())
	s.resolver.Resolve(first, second)
	s.Equal(TokenInvalidated, second.Attributes.Child(cacheChild).GetString(keyCacheToken))

	flippedStored := record(attrsB.Clone())
	flippedIncoming := record(attrsA.Clone())
	s.resolver.Resolve(flippedStored, flippedIncoming)
	s.Equal(TokenInvalidated, flippedIncoming.Attributes.Child(cacheChild).GetString(keyCacheToken))
}

func (s *DeconflictTestSuite) TestDispositionString() {
	s.Equal("IGNORE", Ignore.String())
	s.Equal("ALLOW", Allow.String())
	s.Equal("MERGE", Merge.String())
	s.Equal("DENY", Deny.String())
}

func TestDeconflictTestSuite(t *testing.T) {
	suite.Run(t, new(DeconflictTestSuite))
}
