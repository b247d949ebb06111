package maintenance

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"repofs/pkg/blob"
	"repofs/pkg/db"
	"repofs/pkg/storage"
)

type SweeperTestSuite struct {
	suite.Suite
	storage *storage.Storage
	blobs   *blob.FileStore
}

func (s *SweeperTestSuite) SetupTest() {
	dir := s.T().TempDir()
	database, err := db.Open(filepath.Join(dir, "metadata.db"))
	s.Require().NoError(err)
	s.blobs, err = blob.NewFileStore("default", filepath.Join(dir, "blobs"))
	s.Require().NoError(err)
	s.storage = storage.New(database, s.blobs)
}

func (s *SweeperTestSuite) TearDownTest() {
	if s.storage != nil {
		s.NoError(s.storage.Close())
	}
}

// seed uploads one referenced asset and plants one orphan blob that no
// asset points at.
func (s *SweeperTestSuite) seed() (referenced, orphan string) {
	tx := s.storage.Transaction()
	defer tx.Close()
	s.Require().NoError(tx.Begin(context.Background()))

	bucket, err := tx.CreateBucket("raw-hosted")
	s.Require().NoError(err)
	asset := tx.CreateAsset(bucket, "raw")
	asset.Name = "kept.txt"
	assetBlob, err := tx.BlobTx().Create(strings.NewReader("kept"), map[string]string{
		blob.HeaderContentType: "text/plain",
	})
	s.Require().NoError(err)
	s.Require().NoError(tx.AttachBlob(asset, assetBlob))
	s.Require().NoError(tx.SaveAsset(asset))
	s.Require().NoError(tx.Commit())

	stray, err := s.blobs.Create(strings.NewReader("stray"), map[string]string{
		blob.HeaderContentType: "text/plain",
	})
	s.Require().NoError(err)
	return asset.BlobRef.ID, stray.ID
}

func (s *SweeperTestSuite) TestSweepSoftDeletesOrphans() {
	referenced, orphan := s.seed()

	result, err := NewSweeper(s.storage, WithBatchSize(1)).Run(context.Background())
	s.Require().NoError(err)
	s.Equal(2, result.Scanned)
	s.Equal(1, result.Swept)

	live, err := s.blobs.LiveIDs()
	s.Require().NoError(err)
	s.Equal([]string{referenced}, live)

	deleted, err := s.blobs.DeletedIDs()
	s.Require().NoError(err)
	s.Equal([]string{orphan}, deleted)
}

func (s *SweeperTestSuite) TestSweepIsIdempotent() {
	s.seed()

	sweeper := NewSweeper(s.storage)
	_, err := sweeper.Run(context.Background())
	s.Require().NoError(err)

	result, err := sweeper.Run(context.Background())
	s.Require().NoError(err)
	s.Zero(result.Swept)
}

func (s *SweeperTestSuite) TestPurgeRemovesAgedTombstones() {
	_, orphan := s.seed()
	s.Require().NoError(s.blobs.Delete(orphan, "test"))

	// Clock far in the future: every tombstone is past retention.
	future := func() time.Time { return time.Now().Add(48 * time.Hour) }
	result, err := NewSweeper(s.storage, WithRetention(time.Hour), WithClock(future)).Run(context.Background())
	s.Require().NoError(err)
	s.Equal(1, result.Purged)

	exists, err := s.blobs.Exists(orphan)
	s.Require().NoError(err)
	s.False(exists)

	deleted, err := s.blobs.DeletedIDs()
	s.Require().NoError(err)
	s.Empty(deleted)
}

func (s *SweeperTestSuite) TestFreshTombstonesSurvivePurge() {
	_, orphan := s.seed()
	s.Require().NoError(s.blobs.Delete(orphan, "test"))

	result, err := NewSweeper(s.storage, WithRetention(time.Hour)).Run(context.Background())
	s.Require().NoError(err)
	s.Zero(result.Purged)

	deleted, err := s.blobs.DeletedIDs()
	s.Require().NoError(err)
	s.Equal([]string{orphan}, deleted)
}

func (s *SweeperTestSuite) TestCancelledContextStopsSweep() {
	s.seed()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSweeper(s.storage).Run(ctx)
	s.ErrorIs(err, context.Canceled)
}

func TestSweeperTestSuite(t *testing.T) {
	suite.Run(t, new(SweeperTestSuite))
}
