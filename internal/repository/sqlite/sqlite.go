// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code, so the server builds anywhere Go builds.
//
// UNIQUENESS IS THE STORE'S JOB:
// Two concurrent registrations for "alice" both pass the service's "is the
// name free?" check. Only one INSERT can win the UNIQUE index; the other gets
// a constraint error, which we roll back and report as apperror.ErrConflict.
// There is no application-level lock anywhere.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/sakif/pong-backend/internal/apperror"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the SQLite database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/pong.db" → file-based database (persistent)
//   - ":memory:"     → in-memory database (tests)
//
// PRAGMAS IN THE DSN:
// SQLite pragmas like foreign_keys are per-connection, and sql.DB is a pool.
// Running "PRAGMA foreign_keys=ON" once would only configure whichever
// connection happened to run it. Passing them as _pragma DSN parameters makes
// the driver apply them to every connection it opens.
func New(dbPath string) (*DB, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a brand-new, empty database.
	// Pin the pool to one connection so all queries see the same tables.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. CREATE ... IF NOT EXISTS makes it safe to run
// on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			username       TEXT NOT NULL UNIQUE,
			display_name   TEXT NOT NULL UNIQUE,
			password_hash  TEXT NOT NULL DEFAULT '',
			avatar_url     TEXT,
			oauth_provider TEXT,
			oauth_id       TEXT,
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_oauth ON users(oauth_provider, oauth_id);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// Sessions reference users; deleting a user logs them out everywhere.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at INTEGER NOT NULL, -- unix milliseconds
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	return nil
}

// withTx runs fn inside a transaction. Any error from fn rolls the
// transaction back; constraint errors are translated to apperror.ErrConflict.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if conflict := constraintConflict(err); conflict != nil {
			return conflict
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if conflict := constraintConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// constraintConflict maps a UNIQUE violation on the users table to a
// Conflict error naming the offending column. Returns nil for anything else.
func constraintConflict(err error) *apperror.AppError {
	if !isConstraintError(err) {
		return nil
	}

	// The driver's message names the column:
	//   "constraint failed: UNIQUE constraint failed: users.username (2067)"
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.username"):
		return apperror.Conflict("username", "Username already exists")
	case strings.Contains(msg, "users.display_name"):
		return apperror.Conflict("display_name", "Display name already exists")
	case strings.Contains(msg, "users.oauth_provider"), strings.Contains(msg, "users.oauth_id"):
		return apperror.Conflict("oauth_id", "OAuth account already linked")
	default:
		return apperror.Conflict("", "Resource already exists")
	}
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// toMillis stores session times as integers so expiry comparisons in SQL
// are numeric instead of depending on the driver's time text format.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// nullIfEmpty stores optional text columns as NULL so sparse UNIQUE indexes
// never see two empty strings.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
