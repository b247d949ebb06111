package storage

import (
	"context"
	"errors"
	"time"

	"repofs/pkg/log"
	"repofs/pkg/models"
)

const (
	cursorBuffer   = 64
	cursorPageSize = 500

	// DefaultCursorTimeout bounds both sides of the cursor channel: a
	// producer that cannot hand off a page and a consumer that finds the
	// channel dry both give up after this long.
	DefaultCursorTimeout = 30 * time.Second
)

// AssetCursor streams the assets of a bucket without holding one long read
// transaction open: a producer goroutine reads keyset-paginated pages in
// short transactions and hands rows over a bounded channel.
type AssetCursor struct {
	out     chan *models.Asset
	errCh   chan error
	cancel  context.CancelFunc
	timeout time.Duration
	err     error
	done    bool
}

// StreamAssets starts a cursor over all assets of the bucket. The caller
// must drain it with Next until exhaustion or call Close.
func (s *Storage) StreamAssets(ctx context.Context, bucket *models.Bucket, timeout time.Duration) *AssetCursor {
	if timeout <= 0 {
		timeout = DefaultCursorTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	cursor := &AssetCursor{
		out:     make(chan *models.Asset, cursorBuffer),
		errCh:   make(chan error, 1),
		cancel:  cancel,
		timeout: timeout,
	}
	go cursor.produce(ctx, s, bucket)
	return cursor
}

func (c *AssetCursor) produce(ctx context.Context, storage *Storage, bucket *models.Bucket) {
	defer close(c.out)

	var afterID int64
	for {
		page, err := readAssetPage(ctx, storage, bucket, afterID)
		if err != nil {
			c.errCh <- err
			return
		}
		for _, asset := range page {
			select {
			case c.out <- asset:
			case <-time.After(c.timeout):
				c.errCh <- ErrCursorTimeout
				return
			case <-ctx.Done():
				c.errCh <- ctx.Err()
				return
			}
		}
		if len(page) < cursorPageSize {
			return
		}
		afterID = page[len(page)-1].ID
	}
}

func readAssetPage(ctx context.Context, storage *Storage, bucket *models.Bucket, afterID int64) ([]*models.Asset, error) {
	tx := storage.Transaction()
	defer tx.Close()

	if err := tx.Begin(ctx); err != nil {
		return nil, err
	}
	page, err := tx.queryAssets(
		`SELECT `+assetColumns+` FROM assets WHERE bucket_id = ? AND id > ? ORDER BY id LIMIT ?`,
		bucket.ID, afterID, cursorPageSize,
	)
	if err != nil {
		return nil, err
	}
	return page, tx.Commit()
}

// Next returns the next asset. It returns (nil, nil) when the stream is
// exhausted and ErrCursorTimeout when the producer goes quiet for longer
// than the cursor timeout.
func (c *AssetCursor) Next() (*models.Asset, error) {
	if c.done {
		return nil, c.err
	}
	select {
	case asset, ok := <-c.out:
		if !ok {
			c.finish(nil)
			return nil, c.err
		}
		return asset, nil
	case <-time.After(c.timeout):
		c.finish(ErrCursorTimeout)
		return nil, c.err
	}
}

func (c *AssetCursor) finish(err error) {
	c.done = true
	c.cancel()
	select {
	case produced := <-c.errCh:
		if produced != nil {
			err = produced
		}
	default:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.err = err
		log.Debug().Err(err).Msg("asset cursor closed with error")
	}
}

// Close abandons the stream; safe to call after exhaustion.
func (c *AssetCursor) Close() {
	if !c.done {
		c.finish(nil)
	}
}
