// Package localdb is the client's durable local cache: named JSON blobs in a
// single-table sqlite database under the user's data directory.
package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gosuda/airactl/internal/domain"
)

// Fixed blob names used by the stores that persist through localdb.
const (
	BlobMessages = "messages"
	BlobHistory  = "history"
)

type DB struct {
	db *sql.DB
}

// Open creates (if needed) and opens the blob database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("localdb.Open: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localdb.Open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("localdb.Open: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("localdb.Open: create table: %w", err)
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Put stores value under name, replacing any previous blob.
func (d *DB) Put(ctx context.Context, name string, value []byte) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO blobs (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("localdb.Put %q: %w", name, err)
	}
	return nil
}

// Get returns the blob stored under name, or domain.ErrNotFound.
func (d *DB) Get(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, "SELECT value FROM blobs WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("localdb.Get %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localdb.Get %q: %w", name, err)
	}
	return value, nil
}

// Delete removes the blob stored under name. Deleting an absent blob is not
// an error.
func (d *DB) Delete(ctx context.Context, name string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM blobs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("localdb.Delete %q: %w", name, err)
	}
	return nil
}
