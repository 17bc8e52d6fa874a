// Package memory provides an in-memory store backend.
//
// It backs simulated clusters in tests and in the CLI's ephemeral mode.
// Data is lost when the backend is closed or the process exits.
package memory

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grokify/omnicas/store"
)

func init() {
	store.Register("memory", NewFromConfig)
}

type object struct {
	data    []byte
	modTime time.Time
}

// Backend implements store.ExtendedBackend in memory.
type Backend struct {
	objects map[string]*object
	closed  bool
	mu      sync.RWMutex
}

// New creates a new memory backend.
func New() *Backend {
	return &Backend{
		objects: make(map[string]*object),
	}
}

// NewFromConfig creates a new memory backend. The config map is ignored.
func NewFromConfig(_ map[string]string) (store.Backend, error) {
	return New(), nil
}

// NewWriter creates a writer for the given key. The object is stored on Close.
func (b *Backend) NewWriter(ctx context.Context, p string, opts ...store.WriterOption) (io.WriteCloser, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePath(p); err != nil {
		return nil, err
	}

	config := store.ApplyWriterOptions(opts...)
	key := normalizePath(p)

	if config.IfNotExists {
		b.mu.RLock()
		_, exists := b.objects[key]
		b.mu.RUnlock()
		if exists {
			return nil, store.ErrAlreadyExists
		}
	}

	return &memoryWriter{
		backend:     b,
		path:        key,
		ifNotExists: config.IfNotExists,
	}, nil
}

// NewReader returns a reader over a copy of the stored bytes.
func (b *Backend) NewReader(ctx context.Context, p string, opts ...store.ReaderOption) (io.ReadCloser, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePath(p); err != nil {
		return nil, err
	}

	b.mu.RLock()
	obj, exists := b.objects[normalizePath(p)]
	var data []byte
	if exists {
		data = bytes.Clone(obj.data)
	}
	b.mu.RUnlock()

	if !exists {
		return nil, store.ErrNotFound
	}

	config := store.ApplyReaderOptions(opts...)
	if config.Offset > 0 {
		if config.Offset >= int64(len(data)) {
			data = nil
		} else {
			data = data[config.Offset:]
		}
	}
	if config.Limit > 0 && int64(len(data)) > config.Limit {
		data = data[:config.Limit]
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists checks if a key exists.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if err := b.checkClosed(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validatePath(p); err != nil {
		return false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.objects[normalizePath(p)]
	return exists, nil
}

// Delete removes a key.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePath(p); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, normalizePath(p))
	return nil
}

// List returns the keys with the given prefix in lexical order.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	paths := []string{}
	for p := range b.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Close marks the backend closed and drops its contents.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.objects = make(map[string]*object)
	return nil
}

// Stat returns the size, modification time and MD5 of an object.
func (b *Backend) Stat(ctx context.Context, p string) (store.ObjectInfo, error) {
	if err := b.checkClosed(); err != nil {
		return store.ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.ObjectInfo{}, err
	}

	key := normalizePath(p)
	b.mu.RLock()
	obj, exists := b.objects[key]
	b.mu.RUnlock()
	if !exists {
		return store.ObjectInfo{}, store.ErrNotFound
	}

	return store.ObjectInfo{
		Path:    key,
		Size:    int64(len(obj.data)),
		ModTime: obj.modTime,
		Hashes:  store.HashSet{store.HashMD5: store.HashBytes(obj.data, store.HashMD5)},
	}, nil
}

// Copy copies src to dst.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	return b.transfer(ctx, src, dst, false)
}

// Move renames src to dst.
func (b *Backend) Move(ctx context.Context, src, dst string) error {
	return b.transfer(ctx, src, dst, true)
}

func (b *Backend) transfer(ctx context.Context, src, dst string, remove bool) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePath(src); err != nil {
		return err
	}
	if err := validatePath(dst); err != nil {
		return err
	}

	srcKey, dstKey := normalizePath(src), normalizePath(dst)

	b.mu.Lock()
	defer b.mu.Unlock()

	obj, exists := b.objects[srcKey]
	if !exists {
		return store.ErrNotFound
	}
	b.objects[dstKey] = &object{data: bytes.Clone(obj.data), modTime: time.Now()}
	if remove && srcKey != dstKey {
		delete(b.objects, srcKey)
	}
	return nil
}

// Size returns the total number of stored bytes.
func (b *Backend) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int64
	for _, obj := range b.objects {
		total += int64(len(obj.data))
	}
	return total
}

// Count returns the number of stored objects.
func (b *Backend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

func (b *Backend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.ErrBackendClosed
	}
	return nil
}

func validatePath(p string) error {
	if p == "" {
		return store.ErrInvalidPath
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return store.ErrInvalidPath
	}
	return nil
}

func normalizePath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

type memoryWriter struct {
	backend     *Backend
	path        string
	buffer      bytes.Buffer
	ifNotExists bool
	closed      bool
	mu          sync.Mutex
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, store.ErrWriterClosed
	}
	return w.buffer.Write(p)
}

func (w *memoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()

	if w.backend.closed {
		return store.ErrBackendClosed
	}
	if _, exists := w.backend.objects[w.path]; exists && w.ifNotExists {
		return store.ErrAlreadyExists
	}
	w.backend.objects[w.path] = &object{
		data:    bytes.Clone(w.buffer.Bytes()),
		modTime: time.Now(),
	}
	return nil
}

var _ store.ExtendedBackend = (*Backend)(nil)
