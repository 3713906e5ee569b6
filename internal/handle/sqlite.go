// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package handle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const dbFile = "handles.db"

// SQLiteStore spills bytes to a SQLite database in a private temporary
// directory, keeping large batches out of process memory. The directory is
// removed on Close, so nothing survives the session.
type SQLiteStore struct {
	db  *sql.DB
	dir string

	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore creates the session database under parent (the system temp
// directory when empty).
func NewSQLiteStore(parent string) (*SQLiteStore, error) {
	dir, err := os.MkdirTemp(parent, "heicjpg-*")
	if err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, dbFile)+"?_journal_mode=WAL&_synchronous=OFF")
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; parallel conversions queue here instead of
	// failing with "database is locked".
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dir: dir}
	if err := s.createSchema(); err != nil {
		db.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		handle TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		created_at TEXT NOT NULL
	)`)
	return err
}

// Dir returns the directory holding the session database.
func (s *SQLiteStore) Dir() string { return s.dir }

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SQLiteStore) Put(ctx context.Context, data []byte) (Handle, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	h, err := newHandle()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blobs (handle, data, created_at) VALUES (?, ?, ?)`,
		string(h), data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("storing blob: %w", err)
	}
	return h, nil
}

func (s *SQLiteStore) Open(ctx context.Context, h Handle) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE handle = ?`, string(h)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", h, err)
	}
	return data, nil
}

func (s *SQLiteStore) Release(ctx context.Context, h Handle) error {
	if s.isClosed() {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE handle = ?`, string(h))
	if err != nil {
		return fmt.Errorf("releasing blob %s: %w", h, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("releasing blob %s: %w", h, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Len() int {
	if s.isClosed() {
		return 0
	}
	var n int
	if err := s.db.QueryRow(`SELECT count(*) FROM blobs`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close closes the database and deletes its directory.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.db.Close()
	if rmErr := os.RemoveAll(s.dir); rmErr != nil && err == nil {
		err = fmt.Errorf("removing store directory: %w", rmErr)
	}
	return err
}
