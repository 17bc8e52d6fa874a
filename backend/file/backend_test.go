package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/grokify/omnicas/store"
)

func writeKey(t *testing.T, b *Backend, key, data string, opts ...store.WriterOption) error {
	t.Helper()
	w, err := b.NewWriter(context.Background(), key, opts...)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return w.Close()
}

func TestWriteRead(t *testing.T) {
	tmpDir := t.TempDir()
	backend := New(Config{Root: tmpDir})
	defer func() { _ = backend.Close() }()

	if err := writeKey(t, backend, "clips/abc", "descriptor"); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "clips", "abc")); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	r, err := backend.NewReader(context.Background(), "clips/abc", store.WithOffset(2), store.WithLimit(4))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer func() { _ = r.Close() }()
	data, _ := io.ReadAll(r)
	if string(data) != "scri" {
		t.Errorf("Read data = %q, want %q", data, "scri")
	}
}

func TestUnclosedWriterInvisible(t *testing.T) {
	backend := New(Config{Root: t.TempDir()})
	defer func() { _ = backend.Close() }()
	ctx := context.Background()

	w, err := backend.NewWriter(ctx, "blobs/pending")
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	_, _ = w.Write([]byte("partial"))

	if ok, _ := backend.Exists(ctx, "blobs/pending"); ok {
		t.Error("object visible before Close")
	}
	paths, _ := backend.List(ctx, "blobs/")
	if len(paths) != 0 {
		t.Errorf("List = %v, want empty while writing", paths)
	}
	_ = w.Close()
	if ok, _ := backend.Exists(ctx, "blobs/pending"); !ok {
		t.Error("object missing after Close")
	}
}

func TestIfNotExists(t *testing.T) {
	backend := New(Config{Root: t.TempDir()})
	defer func() { _ = backend.Close() }()

	if err := writeKey(t, backend, "blobs/x", "one", store.WithIfNotExists()); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := writeKey(t, backend, "blobs/x", "two", store.WithIfNotExists()); !store.IsAlreadyExists(err) {
		t.Errorf("second write error = %v, want ErrAlreadyExists", err)
	}
}

func TestListPrefix(t *testing.T) {
	backend := New(Config{Root: t.TempDir()})
	defer func() { _ = backend.Close() }()

	for _, k := range []string{"index/2_b", "index/1_a", "reflections/1_a.ndjson"} {
		_ = writeKey(t, backend, k, "x")
	}

	paths, err := backend.List(context.Background(), "index/1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != "index/1_a" {
		t.Errorf("List = %v, want [index/1_a]", paths)
	}

	paths, _ = backend.List(context.Background(), "missing/")
	if len(paths) != 0 {
		t.Errorf("List of missing dir = %v, want empty", paths)
	}
}

func TestMoveCopyStat(t *testing.T) {
	backend := New(Config{Root: t.TempDir()})
	defer func() { _ = backend.Close() }()
	ctx := context.Background()

	_ = writeKey(t, backend, "staging/u1", "payload")
	if err := backend.Move(ctx, "staging/u1", "blobs/a/b"); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if err := backend.Copy(ctx, "blobs/a/b", "blobs/c"); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	info, err := backend.Stat(ctx, "blobs/c")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != int64(len("payload")) {
		t.Errorf("Size = %d, want %d", info.Size, len("payload"))
	}
	if err := backend.Move(ctx, "staging/u1", "blobs/z"); err != store.ErrNotFound {
		t.Errorf("Move of missing source error = %v, want ErrNotFound", err)
	}
}

func TestPathTraversal(t *testing.T) {
	backend := New(Config{Root: t.TempDir()})
	defer func() { _ = backend.Close() }()

	for _, p := range []string{"../escape", "a/../../escape", ""} {
		if _, err := backend.NewReader(context.Background(), p); err != store.ErrInvalidPath {
			t.Errorf("NewReader(%q) error = %v, want ErrInvalidPath", p, err)
		}
	}
}
