package persistence

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"marketwatch/pkg/errors"
)

// SQLiteSlot stores the document as one row of a local key-value table
type SQLiteSlot struct {
	db  *sql.DB
	key string
}

// NewSQLiteSlot opens or creates the database at path
func NewSQLiteSlot(ctx context.Context, path, key string) (*SQLiteSlot, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create data directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(1) // single writer

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to set WAL mode")
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv_slots (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create kv_slots table")
	}

	return &SQLiteSlot{db: db, key: key}, nil
}

// Load reads the document
func (s *SQLiteSlot) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_slots WHERE key = ?`, s.key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "sqlite key %s", s.key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.key)
	}
	return data, nil
}

// Save upserts the document
func (s *SQLiteSlot) Save(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_slots (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key, data, time.Now().UnixNano(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", s.key)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteSlot) Close() error {
	return s.db.Close()
}
