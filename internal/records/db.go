// Package records holds each user's structured history in a SQLite database
// inside that user's storage unit. Tables carry no user column: the file is
// the scope.
package records

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	_ "modernc.org/sqlite"
)

// sqliteHeader opens every well-formed SQLite database file.
var sqliteHeader = []byte("SQLite format 3\x00")

// DB wraps the connection to one user's database.
type DB struct {
	*sql.DB
	Path string
}

// Open opens (or creates) the database at path with owner-only permissions,
// configures pragmas, and runs migrations.
func Open(ctx context.Context, path string, mode os.FileMode) (*DB, error) {
	// Create the file ourselves so it never exists with umask permissions.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, mode)
	if err != nil {
		return nil, fmt.Errorf("create db file: %w", err)
	}
	f.Close()
	if err := os.Chmod(path, mode); err != nil {
		return nil, fmt.Errorf("chmod db file: %w", err)
	}

	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	// Fold the WAL into the main file so the database is complete on disk
	// as soon as it is provisioned.
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for testing.
func OpenMemory() (*DB, error) {
	return open(context.Background(), ":memory:")
}

func open(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection per user database: pragmas stick, an in-memory database
	// stays a single database, and writers queue instead of hitting SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// IsDatabase reports whether path holds a SQLite database. It only reads the
// file header; nothing is opened or created.
func IsDatabase(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(header, sqliteHeader), nil
}
