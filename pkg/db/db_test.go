package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// DBTestSuite tests the document-store plumbing.
type DBTestSuite struct {
	suite.Suite
	db *DB
}

func (s *DBTestSuite) SetupTest() {
	var err error
	s.db, err = Open(filepath.Join(s.T().TempDir(), "test.db"))
	s.Require().NoError(err)
}

func (s *DBTestSuite) TearDownTest() {
	if s.db != nil {
		s.NoError(s.db.Close())
	}
}

func (s *DBTestSuite) TestOpenInvalidPath() {
	_, err := Open("/nonexistent/path/to/db.sqlite")
	s.Error(err)
}

func (s *DBTestSuite) TestInsertAndQuery() {
	tx, err := s.db.Begin(context.Background())
	s.Require().NoError(err)

	res, err := tx.Exec(`INSERT INTO buckets (repository_name) VALUES (?)`, "maven-releases")
	s.Require().NoError(err)
	id, err := res.LastInsertId()
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())

	tx, err = s.db.Begin(context.Background())
	s.Require().NoError(err)
	defer func() { s.NoError(tx.Rollback()) }()

	var name string
	s.Require().NoError(tx.QueryRow(`SELECT repository_name FROM buckets WHERE id = ?`, id).Scan(&name))
	s.Equal("maven-releases", name)
}

func (s *DBTestSuite) TestUniqueViolation() {
	tx, err := s.db.Begin(context.Background())
	s.Require().NoError(err)
	defer func() { s.NoError(tx.Rollback()) }()

	_, err = tx.Exec(`INSERT INTO buckets (repository_name) VALUES (?)`, "raw-hosted")
	s.Require().NoError(err)

	_, err = tx.Exec(`INSERT INTO buckets (repository_name) VALUES (?)`, "raw-hosted")
	s.Error(err)
	s.True(errors.Is(err, ErrUniqueViolation))
}

// insertComponent seeds a bucket and one component row beneath it,
// returning the component id.
func (s *DBTestSuite) insertComponent(ctx context.Context, lastUpdated time.Time) int64 {
	tx, err := s.db.Begin(ctx)
	s.Require().NoError(err)
	res, err := tx.Exec(`INSERT INTO buckets (repository_name) VALUES (?)`, "maven-releases")
	s.Require().NoError(err)
	bucketID, err := res.LastInsertId()
	s.Require().NoError(err)
	res, err = tx.Exec(
		`INSERT INTO components (bucket_id, format, name, last_updated) VALUES (?, 'maven2', 'widget', ?)`,
		bucketID, FormatTime(lastUpdated),
	)
	s.Require().NoError(err)
	id, err := res.LastInsertId()
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())
	return id
}

func (s *DBTestSuite) TestUpdateVersionedHappyPath() {
	ctx := context.Background()
	id := s.insertComponent(ctx, time.Now())

	tx, err := s.db.Begin(ctx)
	s.Require().NoError(err)
	s.Require().NoError(tx.UpdateVersioned("components", "name = ?", id, 1, "gadget"))
	s.Require().NoError(tx.Commit())

	tx, err = s.db.Begin(ctx)
	s.Require().NoError(err)
	defer func() { s.NoError(tx.Rollback()) }()

	var (
		name    string
		version int64
	)
	s.Require().NoError(tx.QueryRow(`SELECT name, rec_version FROM components WHERE id = ?`, id).Scan(&name, &version))
	s.Equal("gadget", name)
	s.Equal(int64(2), version)
}

func (s *DBTestSuite) TestUpdateVersionedConflict() {
	ctx := context.Background()
	id := s.insertComponent(ctx, time.Now())

	// Stale version loses the guard.
	tx, err := s.db.Begin(ctx)
	s.Require().NoError(err)
	defer func() { s.NoError(tx.Rollback()) }()

	err = tx.UpdateVersioned("components", "name = ?", id, 99, "gadget")
	s.Error(err)
	s.True(errors.Is(err, ErrVersionConflict))
	s.True(IsRetryable(err))
}

func (s *DBTestSuite) TestUpdateVersionedMissingRow() {
	tx, err := s.db.Begin(context.Background())
	s.Require().NoError(err)
	defer func() { s.NoError(tx.Rollback()) }()

	err = tx.UpdateVersioned("components", "name = ?", 12345, 1, "gadget")
	s.Error(err)
	s.True(errors.Is(err, ErrNotFound))
	s.False(IsRetryable(err))
}

func (s *DBTestSuite) TestTimeColumnsCompareChronologically() {
	ctx := context.Background()
	stamp := time.Now()
	s.insertComponent(ctx, stamp)

	tx, err := s.db.Begin(ctx)
	s.Require().NoError(err)
	defer func() { s.NoError(tx.Rollback()) }()

	// A checkpoint equal to the stored instant must exclude the row; one
	// a nanosecond earlier must include it. Text comparison only works if
	// the stored and the bound form agree.
	var count int
	s.Require().NoError(tx.QueryRow(
		`SELECT COUNT(*) FROM components WHERE last_updated > ?`, FormatTime(stamp),
	).Scan(&count))
	s.Zero(count)

	s.Require().NoError(tx.QueryRow(
		`SELECT COUNT(*) FROM components WHERE last_updated > ?`, FormatTime(stamp.Add(-time.Nanosecond)),
	).Scan(&count))
	s.Equal(1, count)
}

func (s *DBTestSuite) TestFormatTimeRoundTrip() {
	stamp := time.Date(2026, 8, 30, 7, 20, 48, 123456789, time.FixedZone("CEST", 2*3600))
	parsed, err := ParseTime(FormatTime(stamp))
	s.Require().NoError(err)
	s.True(parsed.Equal(stamp))
	s.Equal(time.UTC, parsed.Location())

	// Fixed-width fractions keep lexicographic and chronological order
	// aligned even when the fraction ends in zeros.
	whole := time.Date(2026, 8, 30, 7, 20, 48, 0, time.UTC)
	half := whole.Add(500 * time.Millisecond)
	s.Less(FormatTime(whole), FormatTime(half))
}

func (s *DBTestSuite) TestRollbackDiscardsWrites() {
	ctx := context.Background()

	tx, err := s.db.Begin(ctx)
	s.Require().NoError(err)
	_, err = tx.Exec(`INSERT INTO buckets (repository_name) VALUES (?)`, "scratch")
	s.Require().NoError(err)
	s.Require().NoError(tx.Rollback())

	tx, err = s.db.Begin(ctx)
	s.Require().NoError(err)
	defer func() { s.NoError(tx.Rollback()) }()

	var count int
	s.Require().NoError(tx.QueryRow(`SELECT COUNT(*) FROM buckets`).Scan(&count))
	s.Zero(count)
}

func (s *DBTestSuite) TestRollbackAfterCommitIsNoop() {
	tx, err := s.db.Begin(context.Background())
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())
	s.NoError(tx.Rollback())
}

func TestDBTestSuite(t *testing.T) {
	suite.Run(t, new(DBTestSuite))
}
