// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package handle keeps converted image bytes behind opaque, process-local
// identifiers. A handle stays valid until it is released or its store is
// closed; nothing outlives the session.
package handle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pdiddy/heicjpg/pkg/types"
)

// ErrNotFound is returned when a handle is unknown or already released.
var ErrNotFound = errors.New("handle not found")

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("handle store closed")

// Handle is an opaque reference to stored bytes.
type Handle string

// Store holds the bytes behind handles.
type Store interface {
	// Put stores data and returns a fresh handle for it.
	Put(ctx context.Context, data []byte) (Handle, error)

	// Open returns the bytes behind h.
	Open(ctx context.Context, h Handle) ([]byte, error)

	// Release frees the bytes behind h. Releasing an unknown handle
	// returns ErrNotFound.
	Release(ctx context.Context, h Handle) error

	// Len returns the number of live handles.
	Len() int

	// Close releases everything and frees the store's resources.
	Close() error
}

// newHandle returns a time-ordered random identifier.
func newHandle() (Handle, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating handle: %w", err)
	}
	return Handle(id.String()), nil
}

// New builds the store selected by cfg.Backend.
func New(cfg types.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case types.StoreMemory, "":
		return NewMemoryStore(), nil
	case types.StoreSQLite:
		return NewSQLiteStore(cfg.TempDir)
	default:
		return nil, fmt.Errorf("unknown store backend %q: use %s or %s",
			cfg.Backend, types.StoreMemory, types.StoreSQLite)
	}
}
