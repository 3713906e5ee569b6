// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package handle

import (
	"context"
	"sync"
)

// MemoryStore keeps bytes in a map.
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[Handle][]byte
	closed bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[Handle][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, data []byte) (Handle, error) {
	h, err := newHandle()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.blobs[h] = append([]byte(nil), data...)
	return h, nil
}

func (m *MemoryStore) Open(_ context.Context, h Handle) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.blobs[h]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *MemoryStore) Release(_ context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.blobs[h]; !ok {
		return ErrNotFound
	}
	delete(m.blobs, h)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = nil
	m.closed = true
	return nil
}
