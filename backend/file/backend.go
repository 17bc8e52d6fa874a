// Package file provides a local filesystem store backend.
//
// Objects are written to a hidden temporary file and renamed into place on
// Close, so readers never observe a partially written object.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/grokify/omnicas/store"
)

func init() {
	store.Register("file", NewFromConfig)
}

const tempPrefix = ".tmp-"

// Config holds configuration for the file backend.
type Config struct {
	// Root is the root directory for all keys.
	Root string

	// DirPermissions is the permission mode for created directories.
	// Default: 0755
	DirPermissions os.FileMode

	// FilePermissions is the permission mode for created files.
	// Default: 0644
	FilePermissions os.FileMode
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Root:            ".",
		DirPermissions:  0755,
		FilePermissions: 0644,
	}
}

// Backend implements store.ExtendedBackend for a local directory.
type Backend struct {
	config Config
	closed bool
	mu     sync.RWMutex
}

// New creates a new file backend with the given configuration.
func New(config Config) *Backend {
	if config.Root == "" {
		config.Root = "."
	}
	if config.DirPermissions == 0 {
		config.DirPermissions = 0755
	}
	if config.FilePermissions == 0 {
		config.FilePermissions = 0644
	}
	return &Backend{config: config}
}

// NewFromConfig creates a new file backend from a config map.
// Supported keys:
//   - root: root directory (default: ".")
func NewFromConfig(configMap map[string]string) (store.Backend, error) {
	config := DefaultConfig()
	if root, ok := configMap["root"]; ok && root != "" {
		config.Root = root
	}
	return New(config), nil
}

// NewWriter creates a writer for the given key.
func (b *Backend) NewWriter(ctx context.Context, path string, opts ...store.WriterOption) (io.WriteCloser, error) {
	if err := b.check(ctx, path); err != nil {
		return nil, err
	}

	config := store.ApplyWriterOptions(opts...)
	fullPath := b.fullPath(path)

	if config.IfNotExists {
		if _, err := os.Stat(fullPath); err == nil {
			return nil, store.ErrAlreadyExists
		}
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, b.config.DirPermissions); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return nil, translateError(err, path)
	}

	return &fileWriter{
		File:        f,
		final:       fullPath,
		perm:        b.config.FilePermissions,
		ifNotExists: config.IfNotExists,
	}, nil
}

// NewReader opens the given key.
func (b *Backend) NewReader(ctx context.Context, path string, opts ...store.ReaderOption) (io.ReadCloser, error) {
	if err := b.check(ctx, path); err != nil {
		return nil, err
	}

	f, err := os.Open(b.fullPath(path))
	if err != nil {
		return nil, translateError(err, path)
	}

	config := store.ApplyReaderOptions(opts...)
	if config.Offset > 0 {
		if _, err := f.Seek(config.Offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("seeking to offset %d: %w", config.Offset, err)
		}
	}
	if config.Limit > 0 {
		return &limitedReadCloser{Reader: io.LimitReader(f, config.Limit), Closer: f}, nil
	}

	return f, nil
}

// Exists checks if a key exists.
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if err := b.check(ctx, path); err != nil {
		return false, err
	}

	_, err := os.Stat(b.fullPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking existence of %s: %w", path, err)
}

// Delete removes a key.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := b.check(ctx, path); err != nil {
		return err
	}

	err := os.Remove(b.fullPath(path))
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return translateError(err, path)
}

// List returns the keys with the given prefix in lexical order.
// The prefix is matched against whole keys, not only directories.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := b.config.Root
	if dir := filepath.Dir(filepath.FromSlash(prefix)); dir != "." {
		root = filepath.Join(root, dir)
	}

	paths := []string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if os.IsPermission(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(b.config.Root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// Close releases any resources held by the backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Stat returns the size and modification time of an object.
func (b *Backend) Stat(ctx context.Context, path string) (store.ObjectInfo, error) {
	if err := b.check(ctx, path); err != nil {
		return store.ObjectInfo{}, err
	}

	info, err := os.Stat(b.fullPath(path))
	if err != nil {
		return store.ObjectInfo{}, translateError(err, path)
	}
	return store.ObjectInfo{Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Copy copies src to dst.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	if err := b.check(ctx, src); err != nil {
		return err
	}
	if err := b.validatePath(dst); err != nil {
		return err
	}

	in, err := os.Open(b.fullPath(src))
	if err != nil {
		return translateError(err, src)
	}
	defer func() { _ = in.Close() }()

	w, err := b.NewWriter(ctx, dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		_ = w.(*fileWriter).abort()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return w.Close()
}

// Move renames src to dst.
func (b *Backend) Move(ctx context.Context, src, dst string) error {
	if err := b.check(ctx, src); err != nil {
		return err
	}
	if err := b.validatePath(dst); err != nil {
		return err
	}

	dstPath := b.fullPath(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), b.config.DirPermissions); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dst, err)
	}
	if err := os.Rename(b.fullPath(src), dstPath); err != nil {
		return translateError(err, src)
	}
	return nil
}

func (b *Backend) fullPath(path string) string {
	return filepath.Join(b.config.Root, filepath.FromSlash(path))
}

func (b *Backend) validatePath(path string) error {
	if path == "" {
		return store.ErrInvalidPath
	}
	cleaned := filepath.ToSlash(filepath.Clean(path))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return store.ErrInvalidPath
	}
	return nil
}

func (b *Backend) check(ctx context.Context, path string) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.validatePath(path)
}

func (b *Backend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.ErrBackendClosed
	}
	return nil
}

func translateError(err error, path string) error {
	switch {
	case os.IsNotExist(err):
		return store.ErrNotFound
	case os.IsPermission(err):
		return store.ErrPermissionDenied
	case os.IsExist(err):
		return store.ErrAlreadyExists
	}
	return fmt.Errorf("file %s: %w", path, err)
}

// fileWriter writes to a temporary file that is renamed (or, for write-once
// keys, hard linked) into place on Close.
type fileWriter struct {
	*os.File
	final       string
	perm        os.FileMode
	ifNotExists bool
	done        bool
}

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	tmp := w.Name()
	if err := w.File.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, w.perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if w.ifNotExists {
		// link fails with EEXIST, which is the atomic existence check
		err := os.Link(tmp, w.final)
		_ = os.Remove(tmp)
		if err != nil {
			if os.IsExist(err) {
				return store.ErrAlreadyExists
			}
			return fmt.Errorf("linking %s: %w", w.final, err)
		}
		return nil
	}

	if err := os.Rename(tmp, w.final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming into %s: %w", w.final, err)
	}
	return nil
}

func (w *fileWriter) abort() error {
	w.done = true
	_ = w.File.Close()
	return os.Remove(w.Name())
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

var _ store.ExtendedBackend = (*Backend)(nil)
