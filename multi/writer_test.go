package multi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/grokify/omnicas/backend/memory"
	"github.com/grokify/omnicas/store"
)

func readAll(t *testing.T, b store.Backend, path string) []byte {
	t.Helper()
	r, err := b.NewReader(context.Background(), path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return data
}

func TestNew(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNoBackends) {
		t.Errorf("New(nil) = %v, want ErrNoBackends", err)
	}
	mw, err := New([]store.Backend{nil, memory.New(), nil})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if mw.Len() != 1 {
		t.Errorf("Len() = %d, want 1", mw.Len())
	}
}

func TestMirror(t *testing.T) {
	ctx := context.Background()
	primary, replica := memory.New(), memory.New()
	mw, err := New([]store.Backend{primary, replica})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	w, err := mw.NewWriter(ctx, "blobs/x", store.WithIfNotExists())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if _, err := w.Write([]byte("fixed content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, b := range []store.Backend{primary, replica} {
		if got := readAll(t, b, "blobs/x"); !bytes.Equal(got, []byte("fixed content")) {
			t.Errorf("content = %q", got)
		}
	}

	if err := mw.Delete(ctx, "blobs/x"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := replica.Exists(ctx, "blobs/x"); ok {
		t.Error("replica still holds deleted object")
	}
}

func TestBestEffortSkipsClosedReplica(t *testing.T) {
	ctx := context.Background()
	primary, replica := memory.New(), memory.New()
	_ = replica.Close()

	var reported []int
	mw, err := New([]store.Backend{primary, replica},
		WithMode(BestEffort),
		WithErrorHandler(func(i int, _ error) { reported = append(reported, i) }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	w, err := mw.NewWriter(ctx, "clips/a")
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	_, _ = w.Write([]byte("descriptor"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(reported) != 1 || reported[0] != 1 {
		t.Errorf("reported = %v, want [1]", reported)
	}
	if got := readAll(t, primary, "clips/a"); string(got) != "descriptor" {
		t.Errorf("primary content = %q", got)
	}
}

func TestAllFailsOnClosedReplica(t *testing.T) {
	primary, replica := memory.New(), memory.New()
	_ = replica.Close()

	mw, _ := New([]store.Backend{primary, replica})
	_, err := mw.NewWriter(context.Background(), "clips/a")
	if !errors.Is(err, store.ErrBackendClosed) {
		t.Errorf("NewWriter = %v, want ErrBackendClosed", err)
	}
}

func TestQuorum(t *testing.T) {
	a, b, c := memory.New(), memory.New(), memory.New()
	_ = c.Close()

	mw, _ := New([]store.Backend{a, b, c}, WithMode(Quorum))
	w, err := mw.NewWriter(context.Background(), "k")
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	_, _ = w.Write([]byte("v"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_ = b.Close()
	if _, err := mw.NewWriter(context.Background(), "k2"); err == nil {
		t.Error("NewWriter with one live backend of three should fail quorum")
	}
}

func TestFirstReaderFailover(t *testing.T) {
	ctx := context.Background()
	primary, replica := memory.New(), memory.New()

	w, _ := replica.NewWriter(ctx, "blobs/y")
	_, _ = w.Write([]byte("replica copy"))
	_ = w.Close()

	r, err := FirstReader(ctx, []store.Backend{primary, replica}, "blobs/y")
	if err != nil {
		t.Fatalf("FirstReader failed: %v", err)
	}
	data, _ := io.ReadAll(r)
	_ = r.Close()
	if string(data) != "replica copy" {
		t.Errorf("content = %q", data)
	}

	if _, err := FirstReader(ctx, []store.Backend{primary, replica}, "missing"); !store.IsNotFound(err) {
		t.Errorf("FirstReader(missing) = %v, want not found", err)
	}
}
