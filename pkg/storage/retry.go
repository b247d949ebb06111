package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"repofs/pkg/browse"
	"repofs/pkg/db"
	"repofs/pkg/log"
)

// DefaultMaxAttempts bounds the optimistic retry loop.
const DefaultMaxAttempts = 8

// retryable reports whether a failed unit of work is worth re-running in a
// fresh transaction.
func retryable(err error) bool {
	return db.IsRetryable(err) || errors.Is(err, browse.ErrNodeCollision)
}

// RetryLoop runs the unit of work in its own transaction, retrying with
// jittered backoff when it fails on a version conflict or a browse-node
// collision. Each attempt sees a fresh transaction; the unit of work must
// re-read whatever state it depends on. Non-retryable errors propagate
// unchanged; exhausting the budget returns ErrRetryDenied wrapping the
// last conflict.
func RetryLoop(ctx context.Context, storage *Storage, maxAttempts int, unitOfWork func(tx *Tx) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(rand.Int63n(int64(10*time.Millisecond))) * time.Duration(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := runOnce(ctx, storage, unitOfWork)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		log.Debug().Err(err).Int("attempt", attempt+1).Msg("retrying conflicted unit of work")
		lastErr = err
	}
	return fmt.Errorf("%w: %w", ErrRetryDenied, lastErr)
}

func runOnce(ctx context.Context, storage *Storage, unitOfWork func(tx *Tx) error) (err error) {
	tx := storage.Transaction()
	defer tx.Close()

	if err = tx.Begin(ctx); err != nil {
		return err
	}
	if err = unitOfWork(tx); err != nil {
		return err
	}
	return tx.Commit()
}
