package db

import (
	"errors"
	"strings"
)

var (
	// ErrDatabase is returned when a database operation fails.
	ErrDatabase = errors.New("database error")

	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an update loses the optimistic
	// version check: another writer committed a newer version of the row.
	// Callers retry the whole unit of work.
	ErrVersionConflict = errors.New("record version conflict")

	// ErrUniqueViolation is returned when an insert breaks a uniqueness
	// constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// IsRetryable reports whether err is a transient conflict worth re-running
// the transaction for.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// isUniqueConstraint detects the sqlite unique-violation error. The driver
// exposes no typed error for it, so the message is matched.
func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
