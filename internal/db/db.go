// Package db provides database connection management and operations.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "punchsync.db"

// DB wraps the sql.DB with punchsync-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database in dataDir.
// The database is opened with:
// - WAL mode so the UI can read while a drain writes
// - a busy timeout instead of immediate SQLITE_BUSY
// - Foreign key constraints enabled
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return open(filepath.Join(dataDir, FileName), true)
}

// OpenMemory opens a private in-memory database, used by tests and dry runs.
func OpenMemory() (*DB, error) {
	return open(":memory:", false)
}

func open(dsn string, wal bool) (*DB, error) {
	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer. Also keeps an in-memory database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	if wal {
		pragmas = append([]string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{db}, nil
}

// OpenMigrated opens dataDir and applies all embedded migrations.
func OpenMigrated(dataDir string) (*DB, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, err
	}
	if err := Migrate(database.DB); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Migrate brings the schema up to date.
func Migrate(db *sql.DB) error {
	migrator := NewMigrator(db, Migrations())
	if err := migrator.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
