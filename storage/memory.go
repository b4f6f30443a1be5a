package storage

import (
	"context"
	"sync"

	"github.com/Swind/go-runtime-bridge/core"
)

// Memory is a map-backed delegate. It is safe for concurrent use and loses
// everything on Shutdown.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

var (
	_ core.Storage         = (*Memory)(nil)
	_ core.StorageDelegate = (*Memory)(nil)
)

// NewMemory creates an empty in-memory delegate.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Storage returns the delegate itself.
func (m *Memory) Storage() core.Storage { return m }

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[key] = cp
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

// Shutdown drops the data. Later calls fail with ErrClosed.
func (m *Memory) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
