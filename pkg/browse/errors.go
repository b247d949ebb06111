package browse

import "errors"

var (
	// ErrNodeCollision is returned when a node at the target path already
	// carries a different component or asset. It indicates an out-of-order
	// delete/create race, not corruption; callers retry the whole
	// operation rather than overwrite.
	ErrNodeCollision = errors.New("browse node collision")

	// ErrNodeNotFound is returned when no node matches the reference.
	ErrNodeNotFound = errors.New("browse node not found")
)
