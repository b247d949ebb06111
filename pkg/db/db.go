package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB is the document store: a sqlite database holding the entity tables.
// All access goes through transactions obtained from Begin.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string) (*DB, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabase, err)
	}

	ctx := context.Background()

	// sqlite allows one writer; a second connection would see lock errors
	// instead of queueing behind the first.
	database.SetMaxOpenConns(1)

	if _, err := database.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable foreign keys: %w", ErrDatabase, err)
	}

	if _, err := database.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrDatabase, err)
	}

	if _, err := database.ExecContext(ctx, Schema); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %w", ErrDatabase, err)
	}

	return &DB{sql: database}, nil
}

// Begin starts a document transaction.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", ErrDatabase, err)
	}
	return &Tx{tx: tx, ctx: ctx}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Tx is one document transaction. Entity adapters issue their statements
// through it; StorageTx owns commit and rollback.
type Tx struct {
	tx   *sql.Tx
	ctx  context.Context
	done bool
}

// Exec runs a statement, translating unique violations into
// ErrUniqueViolation.
func (t *Tx) Exec(query string, args ...interface{}) (sql.Result, error) {
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	return res, nil
}

// QueryRow runs a single-row query.
func (t *Tx) QueryRow(query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, query, args...)
}

// Query runs a multi-row query.
func (t *Tx) Query(query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	return rows, nil
}

// UpdateVersioned runs an update guarded by the row's optimistic version.
// The statement must target exactly one row by id and must not touch the
// rec_version column itself; the guard and increment are appended here.
// A lost guard on an existing row reports ErrVersionConflict.
func (t *Tx) UpdateVersioned(table, setClause string, id, version int64, args ...interface{}) error {
	stmt := fmt.Sprintf(
		"UPDATE %s SET %s, rec_version = rec_version + 1 WHERE id = ? AND rec_version = ?",
		table, setClause,
	)
	args = append(args, id, version)

	res, err := t.Exec(stmt, args...)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = t.QueryRow(fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = ?)", table), id).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	if exists {
		return fmt.Errorf("%w: %s id=%d expected version %d", ErrVersionConflict, table, id, version)
	}
	return fmt.Errorf("%w: %s id=%d", ErrNotFound, table, id)
}

// Commit commits the document transaction.
func (t *Tx) Commit() error {
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit failed: %w", ErrDatabase, err)
	}
	return nil
}

// Rollback aborts the document transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("%w: rollback failed: %w", ErrDatabase, err)
	}
	return nil
}
