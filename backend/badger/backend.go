// Package badger provides a store backend on an embedded BadgerDB.
//
// Each object is one key/value pair. Badger keeps keys sorted, so listing a
// prefix is a single iterator pass, and write-once keys are checked inside
// the same transaction that writes them.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/grokify/omnicas/store"
)

func init() {
	store.Register("badger", NewFromConfig)
}

// Config holds configuration for the badger backend.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the database in RAM.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// ConfigFromMap creates a Config from a string map.
// Supported keys: dir, in_memory ("true"), sync_writes ("true").
func ConfigFromMap(m map[string]string) Config {
	return Config{
		Dir:        m["dir"],
		InMemory:   m["in_memory"] == "true" || m["in_memory"] == "1",
		SyncWrites: m["sync_writes"] == "true" || m["sync_writes"] == "1",
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if !c.InMemory && c.Dir == "" {
		return errors.New("badger: dir is required unless in_memory is set")
	}
	return nil
}

// Backend implements store.ExtendedBackend on BadgerDB.
type Backend struct {
	db     *badger.DB
	closed bool
	mu     sync.RWMutex
}

// New opens the database described by cfg.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: opening %s: %w", cfg.Dir, err)
	}
	return &Backend{db: db}, nil
}

// NewFromConfig creates a badger backend from a config map.
func NewFromConfig(configMap map[string]string) (store.Backend, error) {
	return New(ConfigFromMap(configMap))
}

// NewWriter buffers the object and commits it on Close.
func (b *Backend) NewWriter(ctx context.Context, p string, opts ...store.WriterOption) (io.WriteCloser, error) {
	if err := b.check(ctx, p); err != nil {
		return nil, err
	}

	cfg := store.ApplyWriterOptions(opts...)
	if cfg.IfNotExists {
		if ok, err := b.Exists(ctx, p); err != nil {
			return nil, err
		} else if ok {
			return nil, store.ErrAlreadyExists
		}
	}
	return &badgerWriter{backend: b, key: []byte(p), ifNotExists: cfg.IfNotExists}, nil
}

// NewReader returns a reader over a copy of the stored value.
func (b *Backend) NewReader(ctx context.Context, p string, opts ...store.ReaderOption) (io.ReadCloser, error) {
	if err := b.check(ctx, p); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(p))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, translateError(err, p)
	}

	cfg := store.ApplyReaderOptions(opts...)
	if cfg.Offset > 0 {
		data = data[min(cfg.Offset, int64(len(data))):]
	}
	if cfg.Limit > 0 && int64(len(data)) > cfg.Limit {
		data = data[:cfg.Limit]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists checks if a key exists.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if err := b.check(ctx, p); err != nil {
		return false, err
	}

	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(p))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, translateError(err, p)
	}
	return true, nil
}

// Delete removes a key.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := b.check(ctx, p); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(p))
	})
	return translateError(err, p)
}

// List returns the keys with the given prefix in lexical order.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}

	paths := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		n := 0
		for it.Rewind(); it.Valid(); it.Next() {
			n++
			if n%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			paths = append(paths, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: listing %s: %w", prefix, err)
	}
	return paths, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Stat returns the value size. Badger keeps no modification time.
func (b *Backend) Stat(ctx context.Context, p string) (store.ObjectInfo, error) {
	if err := b.check(ctx, p); err != nil {
		return store.ObjectInfo{}, err
	}

	var info store.ObjectInfo
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(p))
		if err != nil {
			return err
		}
		info = store.ObjectInfo{Path: p, Size: item.ValueSize()}
		return nil
	})
	if err != nil {
		return store.ObjectInfo{}, translateError(err, p)
	}
	return info, nil
}

// Copy copies src to dst in one transaction.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	return b.transfer(ctx, src, dst, false)
}

// Move renames src to dst in one transaction.
func (b *Backend) Move(ctx context.Context, src, dst string) error {
	return b.transfer(ctx, src, dst, true)
}

func (b *Backend) transfer(ctx context.Context, src, dst string, remove bool) error {
	if err := b.check(ctx, src); err != nil {
		return err
	}
	if dst == "" {
		return store.ErrInvalidPath
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(src))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(dst), val); err != nil {
			return err
		}
		if remove && src != dst {
			return txn.Delete([]byte(src))
		}
		return nil
	})
	return translateError(err, src)
}

func (b *Backend) check(ctx context.Context, p string) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == "" {
		return store.ErrInvalidPath
	}
	return nil
}

func (b *Backend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.ErrBackendClosed
	}
	return nil
}

func translateError(err error, p string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return store.ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return store.ErrBackendClosed
	}
	return fmt.Errorf("badger: %s: %w", p, err)
}

type badgerWriter struct {
	backend     *Backend
	key         []byte
	buffer      bytes.Buffer
	ifNotExists bool
	closed      bool
}

func (w *badgerWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, store.ErrWriterClosed
	}
	return w.buffer.Write(p)
}

func (w *badgerWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.backend.checkClosed(); err != nil {
		return err
	}

	err := w.backend.db.Update(func(txn *badger.Txn) error {
		if w.ifNotExists {
			if _, err := txn.Get(w.key); err == nil {
				return store.ErrAlreadyExists
			} else if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Set(w.key, w.buffer.Bytes())
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return store.ErrAlreadyExists
	}
	if errors.Is(err, badger.ErrConflict) && w.ifNotExists {
		// a concurrent transaction wrote the key first
		return store.ErrAlreadyExists
	}
	return translateError(err, string(w.key))
}

var _ store.ExtendedBackend = (*Backend)(nil)
