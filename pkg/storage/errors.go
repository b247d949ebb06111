package storage

import "errors"

var (
	// ErrRetryDenied is returned when a unit of work kept hitting version
	// conflicts and the bounded retry budget ran out. Terminal: the
	// transient conflict has become a fatal error.
	ErrRetryDenied = errors.New("retry denied: conflict retry limit exceeded")

	// ErrInconsistency is returned when the document store and blob store
	// have drifted: metadata references content that is not there. Fatal,
	// never retried.
	ErrInconsistency = errors.New("storage inconsistency")

	// ErrCursorTimeout is returned when a streaming browse stalls: either
	// the backend stopped producing or the consumer stopped draining.
	ErrCursorTimeout = errors.New("cursor deadline exceeded")
)
