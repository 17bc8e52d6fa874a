// Package store is the object storage layer used by the reference engine.
//
// A Backend moves raw bytes to and from a flat key space (local files, S3,
// SFTP, an embedded key-value store, memory). Backends register themselves by
// name so that cluster configuration can select one with a string:
//
//	backend, _ := store.Open("file", map[string]string{"root": "/var/lib/omnicas"})
//	w, _ := backend.NewWriter(ctx, "clips/ABC", store.WithIfNotExists())
//	w.Write(descriptor)
//	w.Close()
package store

import (
	"context"
	"io"
	"time"
)

// Backend is a flat key/value object store.
//
// Backends are safe for concurrent use by multiple goroutines.
type Backend interface {
	// NewWriter creates a writer for the given key. Data becomes visible when
	// the writer is closed. With WithIfNotExists, Close (or NewWriter) returns
	// ErrAlreadyExists when the key is already present.
	NewWriter(ctx context.Context, path string, opts ...WriterOption) (io.WriteCloser, error)

	// NewReader opens the given key. Returns ErrNotFound if it does not exist.
	NewReader(ctx context.Context, path string, opts ...ReaderOption) (io.ReadCloser, error)

	// Exists checks if a key exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, path string) error

	// List returns the keys with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the backend.
	// After Close, all other methods return ErrBackendClosed.
	Close() error
}

// ExtendedBackend adds metadata access and server-side copy and move.
type ExtendedBackend interface {
	Backend

	// Stat returns metadata about an object.
	Stat(ctx context.Context, path string) (ObjectInfo, error)

	// Copy copies src to dst within the backend.
	// Returns ErrNotSupported when no server-side copy is available.
	Copy(ctx context.Context, src, dst string) error

	// Move renames src to dst within the backend.
	// Returns ErrNotSupported when no server-side move is available.
	Move(ctx context.Context, src, dst string) error
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	Hashes  HashSet
}

// AsExtended returns b as an ExtendedBackend when it implements one.
func AsExtended(b Backend) (ExtendedBackend, bool) {
	ext, ok := b.(ExtendedBackend)
	return ext, ok
}

// Stat returns object metadata, using ExtendedBackend.Stat when available and
// falling back to reading the object to measure its size.
func Stat(ctx context.Context, b Backend, path string) (ObjectInfo, error) {
	if ext, ok := AsExtended(b); ok {
		info, err := ext.Stat(ctx, path)
		if !IsNotSupported(err) {
			return info, err
		}
	}
	r, err := b.NewReader(ctx, path)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer func() { _ = r.Close() }()
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Path: path, Size: n}, nil
}
