package memory

import (
	"context"
	"io"
	"testing"

	"github.com/grokify/omnicas/store"
)

func write(t *testing.T, b *Backend, p, data string, opts ...store.WriterOption) error {
	t.Helper()
	w, err := b.NewWriter(context.Background(), p, opts...)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return w.Close()
}

func TestWriteRead(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	if err := write(t, backend, "clips/a", "hello world"); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r, err := backend.NewReader(context.Background(), "clips/a")
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	_ = r.Close()

	if string(data) != "hello world" {
		t.Errorf("Read data = %q, want %q", data, "hello world")
	}
}

func TestNewReaderNotFound(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	_, err := backend.NewReader(context.Background(), "missing")
	if err != store.ErrNotFound {
		t.Errorf("NewReader error = %v, want ErrNotFound", err)
	}
}

func TestNewReaderOffsetLimit(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	_ = write(t, backend, "blob", "0123456789")

	r, err := backend.NewReader(context.Background(), "blob", store.WithOffset(3), store.WithLimit(4))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "3456" {
		t.Errorf("Read data = %q, want %q", data, "3456")
	}
}

func TestIfNotExists(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	if err := write(t, backend, "blobs/x", "one", store.WithIfNotExists()); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	err := write(t, backend, "blobs/x", "two", store.WithIfNotExists())
	if !store.IsAlreadyExists(err) {
		t.Errorf("second write error = %v, want ErrAlreadyExists", err)
	}

	// Two writers racing for the same key: the later Close loses.
	ctx := context.Background()
	w1, _ := backend.NewWriter(ctx, "blobs/y", store.WithIfNotExists())
	w2, _ := backend.NewWriter(ctx, "blobs/y", store.WithIfNotExists())
	_, _ = w1.Write([]byte("a"))
	_, _ = w2.Write([]byte("b"))
	if err := w1.Close(); err != nil {
		t.Fatalf("w1.Close failed: %v", err)
	}
	if err := w2.Close(); !store.IsAlreadyExists(err) {
		t.Errorf("w2.Close error = %v, want ErrAlreadyExists", err)
	}
}

func TestListSorted(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	for _, p := range []string{"index/3_c", "index/1_a", "clips/z", "index/2_b"} {
		_ = write(t, backend, p, "x")
	}

	paths, err := backend.List(context.Background(), "index/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"index/1_a", "index/2_b", "index/3_c"}
	if len(paths) != len(want) {
		t.Fatalf("List returned %d paths, want %d", len(paths), len(want))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestMoveAndStat(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	ctx := context.Background()

	_ = write(t, backend, "staging/1", "payload")
	if err := backend.Move(ctx, "staging/1", "blobs/1"); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if ok, _ := backend.Exists(ctx, "staging/1"); ok {
		t.Error("source still exists after Move")
	}
	info, err := backend.Stat(ctx, "blobs/1")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != 7 {
		t.Errorf("Size = %d, want 7", info.Size)
	}
	if info.Hashes.Get(store.HashMD5) == "" {
		t.Error("Stat did not report an MD5")
	}
}

func TestClosed(t *testing.T) {
	backend := New()
	_ = backend.Close()

	if _, err := backend.NewWriter(context.Background(), "x"); err != store.ErrBackendClosed {
		t.Errorf("NewWriter error = %v, want ErrBackendClosed", err)
	}
}

func TestInvalidPath(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()

	if _, err := backend.NewWriter(context.Background(), ""); err != store.ErrInvalidPath {
		t.Errorf("NewWriter error = %v, want ErrInvalidPath", err)
	}
}
