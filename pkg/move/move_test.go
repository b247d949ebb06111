package move

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"repofs/pkg/blob"
	"repofs/pkg/db"
	"repofs/pkg/models"
	"repofs/pkg/storage"
)

// permissiveDirector allows every move and records the hook calls.
type permissiveDirector struct {
	before int
	after  int
}

func (d *permissiveDirector) AllowMoveTo(*models.Bucket) bool   { return true }
func (d *permissiveDirector) AllowMoveFrom(*models.Bucket) bool { return true }

func (d *permissiveDirector) BeforeMove(context.Context, *storage.Tx, *models.Component) error {
	d.before++
	return nil
}

func (d *permissiveDirector) AfterMove(context.Context, *storage.Tx, *models.Component, *models.Bucket) error {
	d.after++
	return nil
}

// frozenDirector refuses to release components from any bucket.
type frozenDirector struct {
	permissiveDirector
}

func (d *frozenDirector) AllowMoveFrom(*models.Bucket) bool { return false }

type MoveTestSuite struct {
	suite.Suite
	storage *storage.Storage
}

func (s *MoveTestSuite) SetupTest() {
	dir := s.T().TempDir()
	database, err := db.Open(filepath.Join(dir, "metadata.db"))
	s.Require().NoError(err)
	blobs, err := blob.NewFileStore("default", filepath.Join(dir, "blobs"))
	s.Require().NoError(err)
	s.storage = storage.New(database, blobs)
}

func (s *MoveTestSuite) TearDownTest() {
	if s.storage != nil {
		s.NoError(s.storage.Close())
	}
}

func (s *MoveTestSuite) seed() (componentID int64) {
	tx := s.storage.Transaction()
	defer tx.Close()
	s.Require().NoError(tx.Begin(context.Background()))

	staging, err := tx.CreateBucket("maven-staging")
	s.Require().NoError(err)
	_, err = tx.CreateBucket("maven-releases")
	s.Require().NoError(err)

	component := tx.CreateComponent(staging, "maven2")
	component.Group = "org/acme"
	component.Name = "app"
	component.CoordVersion = "1.0"
	s.Require().NoError(tx.SaveComponent(component))

	asset := tx.CreateAssetWithComponent(staging, component)
	asset.Name = "org/acme/app/1.0/app-1.0.jar"
	s.Require().NoError(tx.SaveAsset(asset))

	s.Require().NoError(tx.Commit())
	return component.ID
}

func (s *MoveTestSuite) TestMoveRelocatesComponentAndAssets() {
	componentID := s.seed()

	registry := NewRegistry()
	director := &permissiveDirector{}
	registry.Register("maven2", director)
	mover := NewMover(s.storage, registry)

	s.Require().NoError(mover.Move(context.Background(), componentID, "maven-releases"))
	s.Equal(1, director.before)
	s.Equal(1, director.after)

	tx := s.storage.Transaction()
	defer tx.Close()
	s.Require().NoError(tx.Begin(context.Background()))

	releases, err := tx.FindBucket("maven-releases")
	s.Require().NoError(err)
	component, err := tx.FindComponentByID(componentID)
	s.Require().NoError(err)
	s.Equal(releases.ID, component.BucketID)

	assets, err := tx.BrowseAssetsByComponent(component)
	s.Require().NoError(err)
	s.Require().Len(assets, 1)
	s.Equal(releases.ID, assets[0].BucketID)

	// The browse tree followed the component.
	staging, err := tx.FindBucket("maven-staging")
	s.Require().NoError(err)
	nodes, err := tx.BrowseNodesByPath(staging, nil, 0, nil)
	s.Require().NoError(err)
	s.Empty(nodes)
	nodes, err = tx.BrowseNodesByPath(releases, nil, 0, nil)
	s.Require().NoError(err)
	s.Require().Len(nodes, 1)
	s.Equal("org", nodes[0].Name)
}

func (s *MoveTestSuite) TestUnregisteredFormatDisallowed() {
	componentID := s.seed()
	mover := NewMover(s.storage, NewRegistry())
	err := mover.Move(context.Background(), componentID, "maven-releases")
	s.ErrorIs(err, ErrMoveNotAllowed)
}

func (s *MoveTestSuite) TestDirectorVetoesSource() {
	componentID := s.seed()
	registry := NewRegistry()
	registry.Register("maven2", &frozenDirector{})
	mover := NewMover(s.storage, registry)
	err := mover.Move(context.Background(), componentID, "maven-releases")
	s.ErrorIs(err, ErrMoveNotAllowed)
}

func (s *MoveTestSuite) TestMoveToCurrentBucketIsNoop() {
	componentID := s.seed()
	registry := NewRegistry()
	director := &permissiveDirector{}
	registry.Register("maven2", director)
	mover := NewMover(s.storage, registry)

	s.Require().NoError(mover.Move(context.Background(), componentID, "maven-staging"))
	s.Zero(director.before)
}

func TestMoveTestSuite(t *testing.T) {
	suite.Run(t, new(MoveTestSuite))
}
