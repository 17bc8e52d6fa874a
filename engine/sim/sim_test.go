package sim

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/grokify/omnicas"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	engine  *Engine
	clock   *FakeClock
	session *omnicas.Session
	pool    *omnicas.Pool
}

// newTestEnv opens a session on a single memory cluster named "primary".
// modify may adjust the config before the engine starts.
func newTestEnv(t *testing.T, modify func(*Config)) *testEnv {
	t.Helper()
	clock := NewFakeClock(testEpoch)
	config := DefaultConfig()
	config.Clusters = []ClusterConfig{MemoryCluster("primary")}
	config.RetrySleep = time.Millisecond
	config.Clock = clock
	if modify != nil {
		modify(&config)
	}

	engine, err := New(config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	session := omnicas.NewSession(engine)
	t.Cleanup(func() {
		_ = session.Close()
		_ = engine.Close()
	})

	pool, err := session.OpenPool(context.Background(), "primary")
	if err != nil {
		t.Fatalf("OpenPool failed: %v", err)
	}
	return &testEnv{engine: engine, clock: clock, session: session, pool: pool}
}

// newClip creates a clip with one tag "file" holding data.
func (env *testEnv) newClip(t *testing.T, name string, data []byte) *omnicas.Clip {
	t.Helper()
	ctx := context.Background()
	clip, err := env.pool.ClipCreate(name)
	if err != nil {
		t.Fatalf("ClipCreate failed: %v", err)
	}
	top, err := clip.TopTag()
	if err != nil {
		t.Fatalf("TopTag failed: %v", err)
	}
	tag, err := top.CreateChild("file")
	if err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}
	if err := tag.WriteBlobFrom(ctx, bytes.NewReader(data)); err != nil {
		t.Fatalf("WriteBlobFrom failed: %v", err)
	}
	return clip
}

// writeClip stores a one-blob clip and returns its ID.
func (env *testEnv) writeClip(t *testing.T, name string, data []byte) string {
	t.Helper()
	clip := env.newClip(t, name, data)
	defer func() { _ = clip.Close() }()
	id, err := clip.Write(context.Background())
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return id
}

// readClip returns the blob of the first tag of clip id.
func (env *testEnv) readClip(t *testing.T, id string) []byte {
	t.Helper()
	ctx := context.Background()
	clip, err := env.pool.ClipOpen(ctx, id, omnicas.OpenAsTree)
	if err != nil {
		t.Fatalf("ClipOpen failed: %v", err)
	}
	defer func() { _ = clip.Close() }()
	top, err := clip.TopTag()
	if err != nil {
		t.Fatalf("TopTag failed: %v", err)
	}
	tag, err := top.FirstChild()
	if err != nil || tag == nil {
		t.Fatalf("FirstChild = %v, %v", tag, err)
	}
	var buf bytes.Buffer
	n, err := tag.ReadBlobTo(ctx, &buf)
	if err != nil {
		t.Fatalf("ReadBlobTo failed: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("ReadBlobTo = %d, wrote %d", n, buf.Len())
	}
	return buf.Bytes()
}

func (env *testEnv) keys(t *testing.T, prefix string) []string {
	t.Helper()
	keys, err := env.engine.clusters["primary"].backend.List(context.Background(), prefix)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	return keys
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}
