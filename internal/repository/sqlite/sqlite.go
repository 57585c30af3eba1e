// Package sqlite implements the user store and the video catalog on SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure-Go translation of SQLite: no CGo, no C toolchain, and
// cross-compiling the server stays a plain `go build`.
//
// CONCURRENCY MODEL:
// SQLite allows one writer at a time. Rather than letting database/sql open
// several connections that then fight over the write lock (SQLITE_BUSY),
// the pool is capped at ONE connection. Every request queues on that
// connection, and every multi-statement mutation runs in a transaction on
// it. The result is strictly serialised writes: N concurrent CreateVideo
// calls produce exactly N rows, and a like never loses an update.
//
// The single connection also keeps ":memory:" databases alive for the
// whole test; each new connection to ":memory:" would be a fresh, empty DB.
//
// SCHEMA:
// Tables are created by goose from the SQL files embedded under migrations/.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB owns the connection and implements both repository.UserRepository
// and repository.VideoRepository.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and migrates it to the
// latest schema. Use ":memory:" for a throwaway database.
func New(ctx context.Context, dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// PRAGMAs are per connection; with a pool of one they apply to everything.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // readers don't block the writer
		"PRAGMA foreign_keys=ON",    // off by default in SQLite
		"PRAGMA busy_timeout=5000",  // wait for other processes instead of failing
		"PRAGMA synchronous=NORMAL", // safe with WAL, far fewer fsyncs
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func migrate(ctx context.Context, conn *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: opening embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, fsys)
	if err != nil {
		return fmt.Errorf("sqlite: creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction and commits if fn returns nil.
//
// Inside fn, ALWAYS query through tx. The pool has one connection and tx
// is holding it, so a stray db.conn.QueryContext would wait forever.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so read helpers can run
// inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// constraintMessage returns the driver message of a constraint failure.
// The low byte of an extended result code is the primary code, so this
// works whether or not extended codes are reported.
func constraintMessage(err error) (string, bool) {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return "", false
	}
	return se.Error(), true
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure
// on "table.column" (any column when column is empty).
func isUniqueViolation(err error, column string) bool {
	msg, ok := constraintMessage(err)
	if !ok {
		return false
	}
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "PRIMARY KEY") {
		return false
	}
	return column == "" || strings.Contains(msg, column)
}

func isForeignKeyViolation(err error) bool {
	msg, ok := constraintMessage(err)
	return ok && strings.Contains(msg, "FOREIGN KEY constraint failed")
}
