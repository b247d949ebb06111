// Package move coordinates cross-repository component moves. Formats hook
// into the flow through a Director: they can veto a move in either
// direction and run format-specific fixups around it. An unregistered
// format cannot be moved.
package move

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"repofs/pkg/models"
	"repofs/pkg/storage"
)

// ErrMoveNotAllowed is returned when no director accepts the move.
var ErrMoveNotAllowed = errors.New("move not allowed")

// Director lets a format veto or augment moves of its components.
type Director interface {
	// AllowMoveTo reports whether components may move into the bucket.
	AllowMoveTo(destination *models.Bucket) bool
	// AllowMoveFrom reports whether components may move out of the bucket.
	AllowMoveFrom(source *models.Bucket) bool
	// BeforeMove runs inside the move transaction before any rows change.
	BeforeMove(ctx context.Context, tx *storage.Tx, component *models.Component) error
	// AfterMove runs inside the move transaction after the component and
	// its assets have been reassigned.
	AfterMove(ctx context.Context, tx *storage.Tx, component *models.Component, destination *models.Bucket) error
}

// Registry maps formats to their directors. The zero value disallows all
// moves.
type Registry struct {
	mu        sync.RWMutex
	directors map[string]Director
}

func NewRegistry() *Registry {
	return &Registry{directors: map[string]Director{}}
}

// Register installs the director for a format, replacing any previous one.
func (r *Registry) Register(format string, director Director) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directors[format] = director
}

// Lookup returns the director for the format, or nil.
func (r *Registry) Lookup(format string) Director {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.directors[format]
}

// Mover executes moves against a storage façade.
type Mover struct {
	storage  *storage.Storage
	registry *Registry
}

func NewMover(s *storage.Storage, registry *Registry) *Mover {
	return &Mover{storage: s, registry: registry}
}

// Move relocates the component and all of its assets from their current
// bucket into the destination bucket, keeping blobs in place. The whole
// move is one retryable unit of work.
func (m *Mover) Move(ctx context.Context, componentID int64, destinationRepo string) error {
	return storage.RetryLoop(ctx, m.storage, 0, func(tx *storage.Tx) error {
		component, err := tx.FindComponentByID(componentID)
		if err != nil {
			return err
		}
		destination, err := tx.FindBucket(destinationRepo)
		if err != nil {
			return err
		}
		if component.BucketID == destination.ID {
			return nil
		}

		director := m.registry.Lookup(component.Format)
		if director == nil {
			return fmt.Errorf("%w: no director for format %q", ErrMoveNotAllowed, component.Format)
		}
		source, err := tx.FindBucketByID(component.BucketID)
		if err != nil {
			return err
		}
		if !director.AllowMoveFrom(source) {
			return fmt.Errorf("%w: format %q does not release from %q", ErrMoveNotAllowed, component.Format, source.RepositoryName)
		}
		if !director.AllowMoveTo(destination) {
			return fmt.Errorf("%w: format %q does not accept into %q", ErrMoveNotAllowed, component.Format, destinationRepo)
		}

		if err := director.BeforeMove(ctx, tx, component); err != nil {
			return err
		}
		if err := tx.MoveComponent(component, destination); err != nil {
			return err
		}
		return director.AfterMove(ctx, tx, component, destination)
	})
}
