// Package maintenance holds the out-of-band jobs that keep the blob store
// honest: orphaned blobs are swallowed failures by design, and this is
// where they get cleaned up.
package maintenance

import (
	"context"
	"time"

	"repofs/pkg/log"
	"repofs/pkg/models"
	"repofs/pkg/storage"
)

// DefaultBatchSize bounds how many blobs one sweep transaction inspects.
const DefaultBatchSize = 100

// Result summarizes one sweeper run.
type Result struct {
	Scanned int
	Swept   int
	Purged  int
}

// Sweeper finds blobs no asset references and soft-deletes them, and hard
// deletes soft-deleted blobs once they age past the retention window.
type Sweeper struct {
	storage   *storage.Storage
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithBatchSize overrides the per-transaction inspection batch.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		s.batchSize = n
	}
}

// WithRetention sets how long a soft-deleted blob survives before the
// sweeper hard-deletes it. Zero disables purging.
func WithRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		s.retention = d
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

func NewSweeper(s *storage.Storage, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		storage:   s,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	return sweeper
}

// Run performs one full sweep. Reference checks happen in short read
// transactions, one per batch, with a cancellation check between batches
// so a shutdown never waits on a long scan.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var result Result

	live, err := s.storage.BlobStore().LiveIDs()
	if err != nil {
		return result, err
	}

	for start := 0; start < len(live); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := start + s.batchSize
		if end > len(live) {
			end = len(live)
		}
		orphans, err := s.findOrphans(ctx, live[start:end])
		if err != nil {
			return result, err
		}
		result.Scanned += end - start

		for _, id := range orphans {
			if err := s.storage.BlobStore().Delete(id, "orphaned"); err != nil {
				log.Warn().Err(err).Str("blob", id).Msg("orphan sweep failed to delete blob")
				continue
			}
			result.Swept++
		}
	}

	if s.retention > 0 {
		purged, err := s.purgeExpired(ctx)
		result.Purged = purged
		if err != nil {
			return result, err
		}
	}

	log.Info().
		Int("scanned", result.Scanned).
		Int("swept", result.Swept).
		Int("purged", result.Purged).
		Msg("blob sweep finished")
	return result, nil
}

func (s *Sweeper) findOrphans(ctx context.Context, ids []string) ([]string, error) {
	tx := s.storage.Transaction()
	defer tx.Close()
	if err := tx.Begin(ctx); err != nil {
		return nil, err
	}

	storeName := s.storage.BlobStore().Name()
	var orphans []string
	for _, id := range ids {
		inUse, err := tx.BlobInUse(models.NewBlobRef(storeName, id))
		if err != nil {
			return nil, err
		}
		if !inUse {
			orphans = append(orphans, id)
		}
	}
	return orphans, tx.Commit()
}

// purgeExpired hard-deletes soft-deleted blobs older than the retention
// window, using the blob's creation time as the age proxy: deletion
// timestamps are not tracked, and a blob old enough to have been created
// before the window has been dead at least as long as its tombstone.
func (s *Sweeper) purgeExpired(ctx context.Context) (int, error) {
	deleted, err := s.storage.BlobStore().DeletedIDs()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.retention)
	purged := 0
	for _, id := range deleted {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		blobHandle, err := s.storage.BlobStore().Get(id)
		if err != nil {
			log.Warn().Err(err).Str("blob", id).Msg("purge could not read blob record")
			continue
		}
		if blobHandle.Metrics.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.storage.BlobStore().DeleteHard(id); err != nil {
			log.Warn().Err(err).Str("blob", id).Msg("purge failed to remove blob")
			continue
		}
		purged++
	}
	return purged, nil
}
