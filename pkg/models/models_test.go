package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ModelsTestSuite tests the entity model invariant accessors.
type ModelsTestSuite struct {
	suite.Suite
}

func (s *ModelsTestSuite) TestAttributesChild() {
	attrs := Attributes{}
	child := attrs.Child("maven2")
	child.Set("extension", "jar")

	s.True(attrs.HasChild("maven2"))
	s.Equal("jar", attrs.Child("maven2").GetString("extension"))
	s.False(attrs.HasChild("npm"))
}

func (s *ModelsTestSuite) TestAttributesChildAfterDecode() {
	raw, err := EncodeAttributes(Attributes{"cache": Attributes{"token": "abc"}})
	s.Require().NoError(err)

	decoded, err := DecodeAttributes(raw)
	s.Require().NoError(err)

	// Decoded children come back as map[string]interface{} and must still
	// be reachable through Child.
	s.Equal("abc", decoded.Child("cache").GetString("token"))
}

func (s *ModelsTestSuite) TestAttributesEncodeEmpty() {
	raw, err := EncodeAttributes(Attributes{})
	s.Require().NoError(err)
	s.Empty(raw)

	decoded, err := DecodeAttributes("")
	s.Require().NoError(err)
	s.Empty(decoded)
}

func (s *ModelsTestSuite) TestAttributesClone() {
	attrs := Attributes{"content": Attributes{"last_modified": "x"}}
	clone := attrs.Clone()
	clone.Child("content").Set("last_modified", "y")

	s.Equal("x", attrs.Child("content").GetString("last_modified"))
	s.Equal("y", clone.Child("content").GetString("last_modified"))
}

func (s *ModelsTestSuite) TestAttributesGetInt64() {
	attrs := Attributes{"size": float64(42), "count": int64(7)}

	size, ok := attrs.GetInt64("size")
	s.True(ok)
	s.Equal(int64(42), size)

	count, ok := attrs.GetInt64("count")
	s.True(ok)
	s.Equal(int64(7), count)

	_, ok = attrs.GetInt64("missing")
	s.False(ok)
}

func (s *ModelsTestSuite) TestBlobRefRoundTrip() {
	ref := NewBlobRef("default", "4c7a36fb")
	s.Equal("default@4c7a36fb", ref.String())

	parsed, err := ParseBlobRef(ref.String())
	s.Require().NoError(err)
	s.True(ref.Equal(parsed))
}

func (s *ModelsTestSuite) TestBlobRefParseInvalid() {
	for _, raw := range []string{"", "noseparator", "@id", "store@"} {
		_, err := ParseBlobRef(raw)
		s.Error(err, "raw=%q", raw)
		s.True(errors.Is(err, ErrInvalidBlobRef))
	}
}

func (s *ModelsTestSuite) TestBlobRefEqualNil() {
	ref := NewBlobRef("default", "x")
	s.False(ref.Equal(nil))
	var nilRef *BlobRef
	s.False(nilRef.Equal(ref))
}

func (s *ModelsTestSuite) TestWritePolicyAllow() {
	s.NoError(WritePolicyAllow.CheckCreateAllowed("a"))
	s.NoError(WritePolicyAllow.CheckUpdateAllowed("a"))
	s.NoError(WritePolicyAllow.CheckDeleteAllowed("a"))
}

func (s *ModelsTestSuite) TestWritePolicyAllowOnce() {
	s.NoError(WritePolicyAllowOnce.CheckCreateAllowed("a"))
	s.NoError(WritePolicyAllowOnce.CheckDeleteAllowed("a"))

	err := WritePolicyAllowOnce.CheckUpdateAllowed("libs/foo-1.0.jar")
	s.Error(err)
	s.True(errors.Is(err, ErrWritePolicy))
	s.Contains(err.Error(), "foo-1.0.jar")
}

func (s *ModelsTestSuite) TestWritePolicyDeny() {
	s.Error(WritePolicyDeny.CheckCreateAllowed("a"))
	s.Error(WritePolicyDeny.CheckUpdateAllowed("a"))
	s.Error(WritePolicyDeny.CheckDeleteAllowed("a"))
}

func (s *ModelsTestSuite) TestAssetMarkAccessedThrottle() {
	now := time.Now()
	asset := &Asset{LastAccessed: now}

	s.False(asset.MarkAccessed(now.Add(30 * time.Second)))
	s.Equal(now, asset.LastAccessed)

	later := now.Add(2 * time.Minute)
	s.True(asset.MarkAccessed(later))
	s.Equal(later, asset.LastAccessed)
}

func (s *ModelsTestSuite) TestAssetStandalone() {
	asset := &Asset{}
	s.True(asset.Standalone())

	componentID := int64(9)
	asset.ComponentID = &componentID
	s.False(asset.Standalone())
}

func (s *ModelsTestSuite) TestBrowseNodeAccessors() {
	node := &BrowseNode{ParentPath: "/org/acme/", Name: "widget"}
	s.Equal("/org/acme/widget", node.Path())
	s.True(node.Empty())

	id := int64(3)
	node.ComponentID = &id
	s.True(node.HasComponent())
	s.False(node.HasAsset())
	s.False(node.Empty())
}

func (s *ModelsTestSuite) TestJoinPathSegments() {
	s.Equal("/", JoinPathSegments(nil))
	s.Equal("/lib/", JoinPathSegments([]string{"lib"}))
	s.Equal("/org/acme/widget/", JoinPathSegments([]string{"org", "acme", "widget"}))
}

func TestModelsTestSuite(t *testing.T) {
	suite.Run(t, new(ModelsTestSuite))
}
