package storage

import (
	"fmt"
	"strings"
)

// Query is a structured where-clause for the browse/count escape hatches:
// conjunctive fragments with positional parameters plus an ordering/limit
// suffix. Queries are always bucket-scoped by the adapter that runs them.
type Query struct {
	where  []string
	params []interface{}
	order  string
	limit  int
}

// NewQuery returns an empty query matching everything in the bucket.
func NewQuery() *Query {
	return &Query{}
}

// Where appends a SQL fragment with its positional parameters. Fragments
// are AND-ed together.
func (q *Query) Where(fragment string, params ...interface{}) *Query {
	q.where = append(q.where, fragment)
	q.params = append(q.params, params...)
	return q
}

// Eq is shorthand for an equality predicate.
func (q *Query) Eq(column string, value interface{}) *Query {
	return q.Where(column+" = ?", value)
}

// OrderBy sets the ordering column.
func (q *Query) OrderBy(column string, ascending bool) *Query {
	direction := "ASC"
	if !ascending {
		direction = "DESC"
	}
	q.order = column + " " + direction
	return q
}

// Limit caps the result count; zero means unlimited.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// build renders the clause after the mandatory bucket predicate.
func (q *Query) build(bucketID int64) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("bucket_id = ?")
	args := append([]interface{}{bucketID}, q.params...)

	for _, fragment := range q.where {
		sb.WriteString(" AND ")
		sb.WriteString(fragment)
	}
	if q.order != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.order)
	}
	if q.limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.limit))
	}
	return sb.String(), args
}
