package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"repofs/pkg/blob"
	"repofs/pkg/db"
	"repofs/pkg/log"
	"repofs/pkg/models"
	"repofs/pkg/server"
	"repofs/pkg/storage"
)

const (
	defaultPullInterval = 30 * time.Second
	defaultPullLimit    = 100
	retryMax            = 3
	retryWaitMin        = 500 * time.Millisecond
	retryWaitMax        = 5 * time.Second
)

// Puller polls peers' change feeds and applies the records to the local
// storage. Each peer has its own checkpoint: the latest change timestamp
// already applied from it.
type Puller struct {
	storage  *storage.Storage
	peers    *PeerManager
	client   *retryablehttp.Client
	interval time.Duration

	mu          sync.Mutex
	checkpoints map[string]time.Time
}

func NewPuller(s *storage.Storage, peers *PeerManager, interval time.Duration) *Puller {
	if interval <= 0 {
		interval = defaultPullInterval
	}

	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.Logger = nil

	return &Puller{
		storage:     s,
		peers:       peers,
		client:      client,
		interval:    interval,
		checkpoints: map[string]time.Time{},
	}
}

// Run polls until the context is cancelled.
func (p *Puller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.PullAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PullAll performs one pull round against every online peer.
func (p *Puller) PullAll(ctx context.Context) {
	for _, peer := range p.peers.Online() {
		applied, err := p.PullPeer(ctx, peer)
		if err != nil {
			log.Warn().Err(err).Str("peer", peer).Msg("Pull round failed")
			p.peers.MarkFailure(peer)
			continue
		}
		p.peers.MarkSuccess(peer)
		if applied > 0 {
			log.Info().Str("peer", peer).Int("applied", applied).Msg("Pulled changes from peer")
		}
	}
}

// PullPeer fetches and applies the peer's changes past our checkpoint. It
// returns how many records were applied.
func (p *Puller) PullPeer(ctx context.Context, peer string) (int, error) {
	p.mu.Lock()
	since := p.checkpoints[peer]
	p.mu.Unlock()

	records, err := p.fetchChanges(ctx, peer, since)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, record := range records {
		if err := p.applyRecord(ctx, peer, record); err != nil {
			return applied, err
		}
		applied++
		if record.LastUpdated.After(since) {
			since = record.LastUpdated
		}
	}

	p.mu.Lock()
	p.checkpoints[peer] = since
	p.mu.Unlock()
	return applied, nil
}

func (p *Puller) fetchChanges(ctx context.Context, peer string, since time.Time) ([]server.ChangeRecord, error) {
	target := fmt.Sprintf("%s/replication/changes?limit=%d", peer, defaultPullLimit)
	if !since.IsZero() {
		target += "&since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned status %d", resp.StatusCode)
	}

	var records []server.ChangeRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding change feed: %w", err)
	}
	return records, nil
}

// applyRecord upserts one replicated asset. Content transfers only when
// the local copy is missing or differs by checksum; pure metadata changes
// go through the regular save path where the deconfliction rules reconcile
// concurrent local edits.
func (p *Puller) applyRecord(ctx context.Context, peer string, record server.ChangeRecord) error {
	// Single attempt: a pulled content stream cannot be replayed. The
	// next pull round retries naturally.
	return storage.RetryLoop(ctx, p.storage, 1, func(tx *storage.Tx) error {
		bucket, err := tx.FindBucket(record.Repository)
		if errors.Is(err, db.ErrNotFound) {
			bucket, err = tx.CreateBucket(record.Repository)
		}
		if err != nil {
			return err
		}

		asset, err := tx.FindAsset(bucket, nil, record.Name)
		if errors.Is(err, db.ErrNotFound) {
			asset = tx.CreateAsset(bucket, "raw")
			asset.Name = record.Name
		} else if err != nil {
			return err
		}

		if p.needsContent(asset, record) {
			if err := p.acquireContent(ctx, tx, peer, asset, record); err != nil {
				return err
			}
		}

		for key, value := range record.Attributes {
			asset.Attributes.Set(key, value)
		}
		if record.LastDownloaded != nil {
			asset.LastDownloaded = *record.LastDownloaded
		}
		return tx.SaveAsset(asset)
	})
}

// needsContent reports whether the record's content differs from what the
// local asset already holds, judged by the replicated sha1.
func (p *Puller) needsContent(asset *models.Asset, record server.ChangeRecord) bool {
	if record.BlobRef == "" {
		return false
	}
	if asset.BlobRef == nil {
		return true
	}
	localSHA1 := asset.Attributes.Child("checksum").GetString("sha1")
	remoteSHA1 := record.Attributes.Child("checksum").GetString("sha1")
	if localSHA1 == "" || remoteSHA1 == "" {
		return true
	}
	return localSHA1 != remoteSHA1
}

// acquireContent attaches the record's content: by reference when the blob
// already sits in the local store (nodes sharing one blob store), otherwise
// by streaming it from the peer.
func (p *Puller) acquireContent(ctx context.Context, tx *storage.Tx, peer string, asset *models.Asset, record server.ChangeRecord) error {
	if ref, err := models.ParseBlobRef(record.BlobRef); err == nil {
		if adopted, err := tx.BlobTx().Adopt(ref, record.ContentType); err == nil {
			return tx.AttachBlob(asset, adopted)
		}
	}
	return p.transferContent(ctx, tx, peer, asset, record)
}

func (p *Puller) transferContent(ctx context.Context, tx *storage.Tx, peer string, asset *models.Asset, record server.ChangeRecord) error {
	target := fmt.Sprintf("%s/repositories/%s/content/%s", peer, record.Repository, record.Name)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer returned status %d for content %s", resp.StatusCode, record.Name)
	}

	assetBlob, err := tx.BlobTx().Create(resp.Body, map[string]string{
		blob.HeaderBlobName:    record.Name,
		blob.HeaderContentType: record.ContentType,
		blob.HeaderRepoName:    record.Repository,
		blob.HeaderCreatedBy:   peer,
	})
	if err != nil {
		return err
	}
	return tx.AttachBlob(asset, assetBlob)
}
