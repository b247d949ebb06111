package storage

import (
	"context"
	"fmt"

	"repofs/pkg/db"
	"repofs/pkg/log"
)

type txState int

const (
	stateOpen txState = iota
	stateActive
	stateClosed
)

func (s txState) String() string {
	switch s {
	case stateOpen:
		return "OPEN"
	case stateActive:
		return "ACTIVE"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Tx is one unit of work against both stores. Lifecycle:
// OPEN -> Begin -> ACTIVE -> Commit/Rollback -> OPEN -> ... -> Close -> CLOSED.
// Using a transaction outside ACTIVE is a programming error and panics; it
// is never retried.
type Tx struct {
	storage *Storage
	state   txState
	doc     *db.Tx
	blobTx  *BlobTx

	// repository names resolved during this unit of work
	bucketNames map[int64]string
}

// Transaction returns a new transaction in OPEN state.
func (s *Storage) Transaction() *Tx {
	return &Tx{storage: s, state: stateOpen}
}

func (t *Tx) requireState(want txState, op string) {
	if t.state != want {
		panic(fmt.Sprintf("storage tx: %s requires %s state, got %s", op, want, t.state))
	}
}

// Begin opens the underlying document transaction and a fresh blob
// transaction.
func (t *Tx) Begin(ctx context.Context) error {
	t.requireState(stateOpen, "begin")

	doc, err := t.storage.database.Begin(ctx)
	if err != nil {
		return err
	}
	t.doc = doc
	t.blobTx = newBlobTx(t.storage.blobs, t.storage.validator)
	t.bucketNames = map[int64]string{}
	t.state = stateActive
	return nil
}

// Commit commits the document transaction first; only once metadata is
// durable are blob side effects applied. Blob failures in that second phase
// are logged and swallowed — metadata is the source of truth and the
// out-of-band sweep picks up the leftovers.
func (t *Tx) Commit() error {
	t.requireState(stateActive, "commit")

	if err := t.doc.Commit(); err != nil {
		// Metadata did not land; the caller rolls back, which also
		// discards any blobs created during this attempt.
		return err
	}

	t.blobTx.Commit()
	t.doc = nil
	t.blobTx = nil
	t.state = stateOpen
	return nil
}

// Rollback reverses both sides: document rollback, then unconditional
// deletion of every blob created during this transaction, since no durable
// metadata references them.
func (t *Tx) Rollback() error {
	t.requireState(stateActive, "rollback")

	err := t.doc.Rollback()
	t.blobTx.Rollback()
	t.doc = nil
	t.blobTx = nil
	t.state = stateOpen
	return err
}

// Close terminates the transaction. An ACTIVE transaction is rolled back
// first.
func (t *Tx) Close() {
	if t.state == stateActive {
		if err := t.Rollback(); err != nil {
			log.Warn().Err(err).Msg("Rollback on close failed")
		}
	}
	t.state = stateClosed
}

// BlobTx exposes the blob lifecycle manager for this unit of work.
func (t *Tx) BlobTx() *BlobTx {
	t.requireState(stateActive, "blobTx")
	return t.blobTx
}

// repositoryName resolves and caches a bucket's repository name.
func (t *Tx) repositoryName(bucketID int64) (string, error) {
	if name, ok := t.bucketNames[bucketID]; ok {
		return name, nil
	}
	var name string
	err := t.doc.QueryRow(`SELECT repository_name FROM buckets WHERE id = ?`, bucketID).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("%w: bucket %d: %w", db.ErrNotFound, bucketID, err)
	}
	t.bucketNames[bucketID] = name
	return name, nil
}
