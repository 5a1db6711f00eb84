// Package db opens the SQLite store that holds terminal session records.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// migrations are applied in order; PRAGMA user_version records how many
// have run. Append only.
var migrations = []string{
	`CREATE TABLE terminal_sessions (
		id             TEXT PRIMARY KEY,
		shell          TEXT NOT NULL,
		pid            INTEGER,
		workspace_root TEXT NOT NULL,
		cwd            TEXT,
		status         TEXT NOT NULL DEFAULT 'running',
		exit_code      INTEGER,
		recording_path TEXT,
		preview_line   TEXT,
		remote_addr    TEXT,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_terminal_sessions_status ON terminal_sessions(status);
	CREATE INDEX idx_terminal_sessions_created_at ON terminal_sessions(created_at);`,
}

// SchemaVersion is the user_version of a fully migrated database.
func SchemaVersion() int { return len(migrations) }

// Open opens the database file at path, creating its directory, and
// migrates it. The caller owns the returned handle.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// _busy_timeout and _journal_mode are applied by the driver to every
	// pooled connection.
	conn, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := Migrate(context.Background(), conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// OpenMemory returns a fresh migrated in-memory database, for tests.
func OpenMemory() (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection would otherwise see its own empty database.
	conn.SetMaxOpenConns(1)

	if err := Migrate(context.Background(), conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate applies the migrations conn has not seen yet, each in its own
// transaction.
func Migrate(ctx context.Context, conn *sql.DB) error {
	var version int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
