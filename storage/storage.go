// Package storage provides the persistent key-value delegates a runtime is
// initialized with.
//
// A delegate owns its store: the lifecycle opens it before the runtime is
// initialized and shuts it down after the runtime stops. Keys are flat
// strings; values are opaque bytes, with GetValue/SetValue for typed values
// encoded as msgpack.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Swind/go-runtime-bridge/core"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// ErrClosed is returned by operations on a delegate after Shutdown.
var ErrClosed = errors.New("storage: closed")

// Options selects and configures a delegate.
type Options struct {
	// Path is the badger directory. Empty with InMemory false selects the
	// plain map-backed delegate.
	Path string

	// InMemory runs badger without disk persistence.
	InMemory bool

	Logger core.Logger
}

// Open returns the delegate described by opts.
func Open(opts Options) (core.StorageDelegate, error) {
	if opts.Path == "" && !opts.InMemory {
		return NewMemory(), nil
	}
	db, err := OpenBadger(BadgerOptions{Dir: opts.Path, InMemory: opts.InMemory, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Opener adapts Open to the lifecycle's storage hook. The path given at
// Start overrides opts.Path when non-empty.
func Opener(opts Options) core.StorageOpener {
	return func(path string) (core.StorageDelegate, error) {
		o := opts
		if path != "" {
			o.Path = path
		}
		return Open(o)
	}
}

// GetValue reads key and decodes it into T.
func GetValue[T any](ctx context.Context, s core.Storage, key string) (T, error) {
	var v T
	data, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return v, nil
}

// SetValue encodes v and stores it under key.
func SetValue[T any](ctx context.Context, s core.Storage, key string, v T) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
