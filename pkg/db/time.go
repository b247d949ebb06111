package db

import (
	"fmt"
	"time"
)

// TimeLayout is the canonical column form for DATETIME values: UTC with a
// fixed-width nanosecond fraction. Binding and storing through one layout
// keeps text comparison and ORDER BY aligned with chronological order; the
// driver's own time.Time conversion does not guarantee that.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t for storage or for a comparison parameter.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a value written by FormatTime back out of a column.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time column %q: %w", ErrDatabase, s, err)
	}
	return t, nil
}
