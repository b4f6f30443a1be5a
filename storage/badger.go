package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Swind/go-runtime-bridge/core"
	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a delegate backed by BadgerDB v4.
type Badger struct {
	db *badger.DB

	closeOnce sync.Once
	closeErr  error
}

var (
	_ core.Storage         = (*Badger)(nil)
	_ core.StorageDelegate = (*Badger)(nil)
)

// BadgerOptions configures the BadgerDB delegate.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB in memory-only mode (no disk persistence).
	InMemory bool

	// Logger receives badger warnings and errors. nil silences debug/info
	// and uses the default logger for the rest.
	Logger core.Logger
}

// OpenBadger opens (or creates) the BadgerDB store.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("storage: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger at %q: %w", opts.Dir, err)
	}
	return &Badger{db: db}, nil
}

// Storage returns the delegate itself.
func (b *Badger) Storage() core.Storage { return b }

func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return nil, ErrClosed
	}
	return val, err
}

func (b *Badger) Set(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

func (b *Badger) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil
	case errors.Is(err, badger.ErrDBClosed):
		return ErrClosed
	}
	return err
}

// Shutdown closes the database. Repeated calls return the first result.
func (b *Badger) Shutdown() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.db.Close()
	})
	return b.closeErr
}

// badgerLogger forwards badger warnings and errors, dropping debug and info.
type badgerLogger struct {
	logger core.Logger
}

func (l badgerLogger) Errorf(f string, v ...any) {
	l.logger.Error(fmt.Sprintf(f, v...), core.F("component", "badger"))
}

func (l badgerLogger) Warningf(f string, v ...any) {
	l.logger.Warn(fmt.Sprintf(f, v...), core.F("component", "badger"))
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
