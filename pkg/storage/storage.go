// Package storage is the transactional façade over the document store and
// the blob store: entity CRUD, write-policy enforcement, blob attachment
// with de-duplication, orphan cleanup, and the optimistic retry contract.
package storage

import (
	"time"

	"repofs/pkg/blob"
	"repofs/pkg/browse"
	"repofs/pkg/db"
	"repofs/pkg/deconflict"
	"repofs/pkg/models"
)

// WritePolicySelector resolves the effective write policy for one asset.
// Formats plug in their own rules here: release artifacts immutable once
// written, metadata indexes always overwritable.
type WritePolicySelector func(asset *models.Asset) models.WritePolicy

// Storage owns the long-lived handles shared by all transactions. The
// owning process injects them and calls Close on shutdown.
type Storage struct {
	database  *db.DB
	blobs     blob.Store
	browse    *browse.Store
	validator *blob.ContentValidator
	policy    WritePolicySelector
	resolver  *deconflict.Resolver
	now       func() time.Time
}

// Option configures Storage.
type Option func(*Storage)

// WithWritePolicySelector installs the per-asset policy resolver.
func WithWritePolicySelector(selector WritePolicySelector) Option {
	return func(s *Storage) {
		s.policy = selector
	}
}

// WithContentValidator installs the content-type confirmation used on blob
// creation.
func WithContentValidator(validator *blob.ContentValidator) Option {
	return func(s *Storage) {
		s.validator = validator
	}
}

// WithResolver installs the deconfliction resolver consulted on version
// conflicts.
func WithResolver(resolver *deconflict.Resolver) Option {
	return func(s *Storage) {
		s.resolver = resolver
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

// New wires the façade over its two stores.
func New(database *db.DB, blobs blob.Store, opts ...Option) *Storage {
	s := &Storage{
		database:  database,
		blobs:     blobs,
		browse:    browse.NewStore(database),
		validator: blob.NewContentValidator(false),
		policy:    func(*models.Asset) models.WritePolicy { return models.WritePolicyAllow },
		resolver:  deconflict.NewResolver(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BlobStore exposes the underlying blob store for maintenance jobs.
func (s *Storage) BlobStore() blob.Store {
	return s.blobs
}

// BrowseStore exposes the browse index shared with this storage.
func (s *Storage) BrowseStore() *browse.Store {
	return s.browse
}

// Close releases the document store handle.
func (s *Storage) Close() error {
	return s.database.Close()
}
