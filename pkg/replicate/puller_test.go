package replicate

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"repofs/pkg/blob"
	"repofs/pkg/db"
	"repofs/pkg/models"
	"repofs/pkg/server"
	"repofs/pkg/storage"
)

// node is one repository node under test: its storage plus an HTTP server
// in front of it.
type node struct {
	storage *storage.Storage
	http    *httptest.Server
}

// PullerTestSuite replicates between two real nodes over HTTP.
type PullerTestSuite struct {
	suite.Suite
	source *node
	dest   *node
}

func (s *PullerTestSuite) newNode(name string) *node {
	dir := s.T().TempDir()
	return s.newNodeAt(dir, name, filepath.Join(dir, "blobs"))
}

func (s *PullerTestSuite) newNodeAt(dir, storeName, blobDir string) *node {
	database, err := db.Open(filepath.Join(dir, "metadata.db"))
	s.Require().NoError(err)
	blobs, err := blob.NewFileStore(storeName, blobDir)
	s.Require().NoError(err)

	store := storage.New(database, blobs)
	srv := server.New(store, dir, "test")
	return &node{
		storage: store,
		http:    httptest.NewServer(srv.Handler()),
	}
}

func (s *PullerTestSuite) SetupTest() {
	s.source = s.newNode("source")
	s.dest = s.newNode("dest")
}

func (s *PullerTestSuite) TearDownTest() {
	for _, n := range []*node{s.source, s.dest} {
		if n == nil {
			continue
		}
		n.http.Close()
		s.NoError(n.storage.Close())
	}
}

func (s *PullerTestSuite) upload(n *node, repo, name, content string) {
	req, err := http.NewRequest(http.MethodPost, n.http.URL+"/repositories", strings.NewReader(`{"name":"`+repo+`"}`))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.Require().NoError(resp.Body.Close())

	req, err = http.NewRequest(http.MethodPut, n.http.URL+"/repositories/"+repo+"/content/"+name, strings.NewReader(content))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "text/plain")
	resp, err = http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.Require().NoError(resp.Body.Close())
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
}

func (s *PullerTestSuite) findAsset(n *node, repo, name string) *models.Asset {
	var asset *models.Asset
	tx := n.storage.Transaction()
	defer tx.Close()
	s.Require().NoError(tx.Begin(context.Background()))
	bucket, err := tx.FindBucket(repo)
	s.Require().NoError(err)
	asset, err = tx.FindAsset(bucket, nil, name)
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())
	return asset
}

func (s *PullerTestSuite) TestPullReplicatesAssetAndContent() {
	s.upload(s.source, "raw-hosted", "docs/readme.txt", "replicated bytes")

	peers := NewPeerManager([]string{s.source.http.URL}, time.Minute, time.Second)
	puller := NewPuller(s.dest.storage, peers, time.Minute)

	applied, err := puller.PullPeer(context.Background(), s.source.http.URL)
	s.Require().NoError(err)
	s.Equal(1, applied)

	asset := s.findAsset(s.dest, "raw-hosted", "docs/readme.txt")
	s.Equal(int64(len("replicated bytes")), asset.Size)

	sourceAsset := s.findAsset(s.source, "raw-hosted", "docs/readme.txt")
	sourceSHA1 := sourceAsset.Attributes.Child("checksum").GetString("sha1")
	s.NotEmpty(sourceSHA1)
	s.Equal(sourceSHA1, asset.Attributes.Child("checksum").GetString("sha1"))

	reader, err := s.dest.storage.BlobStore().Open(asset.BlobRef.ID)
	s.Require().NoError(err)
	defer func() { s.NoError(reader.Close()) }()
	content, err := io.ReadAll(reader)
	s.Require().NoError(err)
	s.Equal("replicated bytes", string(content))
}

func (s *PullerTestSuite) TestPullIsIncremental() {
	s.upload(s.source, "raw-hosted", "a.txt", "first")

	peers := NewPeerManager([]string{s.source.http.URL}, time.Minute, time.Second)
	puller := NewPuller(s.dest.storage, peers, time.Minute)

	applied, err := puller.PullPeer(context.Background(), s.source.http.URL)
	s.Require().NoError(err)
	s.Equal(1, applied)

	// Nothing new: the checkpoint filters the already-applied record.
	applied, err = puller.PullPeer(context.Background(), s.source.http.URL)
	s.Require().NoError(err)
	s.Zero(applied)

	s.upload(s.source, "raw-hosted", "b.txt", "second")
	applied, err = puller.PullPeer(context.Background(), s.source.http.URL)
	s.Require().NoError(err)
	s.Equal(1, applied)
}

func (s *PullerTestSuite) TestRepullSameContentKeepsOneBlob() {
	s.upload(s.source, "raw-hosted", "a.txt", "stable content")

	peers := NewPeerManager([]string{s.source.http.URL}, time.Minute, time.Second)
	puller := NewPuller(s.dest.storage, peers, time.Minute)

	_, err := puller.PullPeer(context.Background(), s.source.http.URL)
	s.Require().NoError(err)

	// Forget the checkpoint: the same record is pulled again, but the
	// checksum matches so the content does not transfer twice.
	puller.checkpoints = map[string]time.Time{}
	_, err = puller.PullPeer(context.Background(), s.source.http.URL)
	s.Require().NoError(err)

	live, err := s.dest.storage.BlobStore().LiveIDs()
	s.Require().NoError(err)
	s.Len(live, 1)
}

func (s *PullerTestSuite) TestPullAdoptsBlobFromSharedStore() {
	// Nodes backed by one blob store replicate by reference: the blob is
	// already local, so the destination adopts it instead of streaming a
	// second copy.
	sharedBlobs := filepath.Join(s.T().TempDir(), "blobs")
	source := s.newNodeAt(s.T().TempDir(), "shared", sharedBlobs)
	dest := s.newNodeAt(s.T().TempDir(), "shared", sharedBlobs)
	defer func() {
		for _, n := range []*node{source, dest} {
			n.http.Close()
			s.NoError(n.storage.Close())
		}
	}()

	s.upload(source, "raw-hosted", "docs/readme.txt", "shared bytes")

	puller := NewPuller(dest.storage, NewPeerManager(nil, time.Minute, time.Second), time.Minute)
	applied, err := puller.PullPeer(context.Background(), source.http.URL)
	s.Require().NoError(err)
	s.Equal(1, applied)

	sourceAsset := s.findAsset(source, "raw-hosted", "docs/readme.txt")
	destAsset := s.findAsset(dest, "raw-hosted", "docs/readme.txt")
	s.Equal(sourceAsset.BlobRef.ID, destAsset.BlobRef.ID)

	live, err := dest.storage.BlobStore().LiveIDs()
	s.Require().NoError(err)
	s.Len(live, 1)
}

func (s *PullerTestSuite) TestOfflinePeerSkipped() {
	peers := NewPeerManager([]string{"http://127.0.0.1:1"}, time.Minute, 100*time.Millisecond)
	for i := 0; i < maxConsecutiveFailures; i++ {
		peers.MarkFailure("http://127.0.0.1:1")
	}
	s.Empty(peers.Online())
}

func TestPullerTestSuite(t *testing.T) {
	suite.Run(t, new(PullerTestSuite))
}
