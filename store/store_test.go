package store_test

import (
	"context"
	"io"
	"testing"

	"github.com/grokify/omnicas/backend/file"
	"github.com/grokify/omnicas/backend/memory"
	"github.com/grokify/omnicas/store"
)

func writeString(t *testing.T, b store.Backend, key, data string) {
	t.Helper()
	w, err := b.NewWriter(context.Background(), key)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func readString(t *testing.T, b store.Backend, key string) string {
	t.Helper()
	r, err := b.NewReader(context.Background(), key)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return string(data)
}

func TestCopyPathAcrossBackends(t *testing.T) {
	src := memory.New()
	dst := file.New(file.Config{Root: t.TempDir()})
	defer func() { _ = src.Close(); _ = dst.Close() }()

	writeString(t, src, "clips/a", "copy me please")

	if err := store.CopyPath(context.Background(), src, "clips/a", dst, "clips/a"); err != nil {
		t.Fatalf("CopyPath failed: %v", err)
	}
	if got := readString(t, dst, "clips/a"); got != "copy me please" {
		t.Errorf("copied data = %q", got)
	}
}

func TestCopyPathWriteOnce(t *testing.T) {
	b := memory.New()
	defer func() { _ = b.Close() }()

	writeString(t, b, "src", "a")
	writeString(t, b, "dst", "b")
	err := store.CopyPath(context.Background(), b, "src", b, "dst", store.WithIfNotExists())
	if !store.IsAlreadyExists(err) {
		t.Errorf("CopyPath error = %v, want ErrAlreadyExists", err)
	}
}

func TestMovePathMissingSource(t *testing.T) {
	b := memory.New()
	defer func() { _ = b.Close() }()

	err := store.MovePath(context.Background(), b, "missing", b, "dst")
	if !store.IsNotFound(err) {
		t.Errorf("MovePath error = %v, want ErrNotFound", err)
	}
}

func TestStatFallback(t *testing.T) {
	b := memory.New()
	defer func() { _ = b.Close() }()

	writeString(t, b, "k", "12345")
	info, err := store.Stat(context.Background(), b, "k")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != 5 {
		t.Errorf("Size = %d, want 5", info.Size)
	}
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"memory", "file"} {
		if !store.IsRegistered(name) {
			t.Errorf("backend %q not registered", name)
		}
	}

	b, err := store.Open("memory", nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = b.Close()

	if _, err := store.Open("nope", nil); err == nil {
		t.Error("Open of unknown backend should fail")
	}

	store.Register("test-registry", func(map[string]string) (store.Backend, error) { return memory.New(), nil })
	defer store.Unregister("test-registry")

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register should panic")
		}
	}()
	store.Register("test-registry", func(map[string]string) (store.Backend, error) { return nil, nil })
}
