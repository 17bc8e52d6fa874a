package sftp

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/sftp"

	"github.com/grokify/omnicas/store"
)

// newPipeBackend serves the local filesystem over an in-process SFTP
// server connected to the client by pipes.
func newPipeBackend(t *testing.T) *Backend {
	t.Helper()

	c2s, clientW := io.Pipe()
	serverR := c2s
	s2c, serverW := io.Pipe()

	server, err := sftp.NewServer(struct {
		io.Reader
		io.WriteCloser
	}{serverR, serverW})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(s2c, clientW)
	if err != nil {
		t.Fatalf("NewClientPipe failed: %v", err)
	}

	b := NewWithClient(client, Config{Root: t.TempDir()})
	t.Cleanup(func() {
		_ = b.Close()
		_ = server.Close()
	})
	return b
}

func put(t *testing.T, b *Backend, key, data string, opts ...store.WriterOption) error {
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

func TestConfigValidate(t *testing.T) {
	if err := (Config{User: "u"}).Validate(); err != ErrHostRequired {
		t.Errorf("Validate() = %v, want ErrHostRequired", err)
	}
	if err := (Config{Host: "h"}).Validate(); err != ErrUserRequired {
		t.Errorf("Validate() = %v, want ErrUserRequired", err)
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]string{"host": "h", "user": "u", "port": "2222", "timeout": "x"})
	if cfg.Port != 2222 {
		t.Errorf("Port = %d, want 2222", cfg.Port)
	}
	if cfg.Timeout != 30 {
		t.Errorf("Timeout = %d, want default 30", cfg.Timeout)
	}
}

func TestPipeWriteReadList(t *testing.T) {
	b := newPipeBackend(t)
	ctx := context.Background()

	if err := put(t, b, "clips/one", "descriptor"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := put(t, b, "clips/two", "other"); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	r, err := b.NewReader(ctx, "clips/one", store.WithOffset(1), store.WithLimit(3))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	data, _ := io.ReadAll(r)
	_ = r.Close()
	if string(data) != "esc" {
		t.Errorf("Read data = %q, want %q", data, "esc")
	}

	paths, err := b.List(ctx, "clips/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != "clips/one" || paths[1] != "clips/two" {
		t.Errorf("List = %v", paths)
	}
}

func TestPipeIfNotExists(t *testing.T) {
	b := newPipeBackend(t)

	if err := put(t, b, "blobs/x", "a", store.WithIfNotExists()); err != nil {
		t.Fatalf("first put failed: %v", err)
	}
	if err := put(t, b, "blobs/x", "b", store.WithIfNotExists()); !store.IsAlreadyExists(err) {
		t.Errorf("second put error = %v, want ErrAlreadyExists", err)
	}
}

func TestPipeNotFound(t *testing.T) {
	b := newPipeBackend(t)
	ctx := context.Background()

	if _, err := b.NewReader(ctx, "missing"); err != store.ErrNotFound {
		t.Errorf("NewReader error = %v, want ErrNotFound", err)
	}
	if err := b.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete of missing key = %v, want nil", err)
	}
}
