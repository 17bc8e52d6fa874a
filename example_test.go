package omnicas_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/engine/sim"
)

// TestIntegrationFileCluster writes a clip to a file-backed cluster, then
// reads it back through a second engine over the same directory.
func TestIntegrationFileCluster(t *testing.T) {
	root := t.TempDir()
	config := map[string]string{
		"address":      "archive",
		"backend":      "file",
		"backend.root": root,
		"compression":  "gzip",
	}
	ctx := context.Background()

	// Write with the first engine
	sess, err := omnicas.Open("sim", config)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	pool, err := sess.OpenPool(ctx, "archive")
	if err != nil {
		t.Fatalf("OpenPool failed: %v", err)
	}

	data := []byte(strings.Repeat("quarterly report ", 4096))
	clip, err := pool.ClipCreate("report-2024-q1")
	if err != nil {
		t.Fatalf("ClipCreate failed: %v", err)
	}
	if err := clip.SetDescriptionAttribute("department", "finance"); err != nil {
		t.Fatalf("SetDescriptionAttribute failed: %v", err)
	}
	top, _ := clip.TopTag()
	tag, _ := top.CreateChild("pdf")
	if err := tag.WriteBlobFrom(ctx, bytes.NewReader(data)); err != nil {
		t.Fatalf("WriteBlobFrom failed: %v", err)
	}
	id, err := clip.Write(ctx)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Read with a fresh engine
	sess, err = omnicas.Open("sim", config)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = sess.Close() }()
	pool, err = sess.OpenPool(ctx, "archive")
	if err != nil {
		t.Fatalf("OpenPool failed: %v", err)
	}

	clip, err = pool.ClipOpen(ctx, id, omnicas.OpenAsTree)
	if err != nil {
		t.Fatalf("ClipOpen failed: %v", err)
	}
	if v, _ := clip.DescriptionAttribute("department"); v != "finance" {
		t.Errorf("department = %q, want finance", v)
	}
	top, _ = clip.TopTag()
	tag, _ = top.FirstChild()

	var out bytes.Buffer
	if _, err := tag.ReadBlobTo(ctx, &out); err != nil {
		t.Fatalf("ReadBlobTo failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("read %d bytes, want %d", out.Len(), len(data))
	}
}

func Example() {
	ctx := context.Background()
	engine, err := sim.New(sim.Config{
		Clusters: []sim.ClusterConfig{sim.MemoryCluster("primary")},
		Clock:    sim.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	sess := omnicas.NewSession(engine)
	defer func() { _ = sess.Close() }()

	pool, err := sess.OpenPool(ctx, "primary")
	if err != nil {
		fmt.Println(err)
		return
	}

	clip, _ := pool.ClipCreate("hello")
	top, _ := clip.TopTag()
	tag, _ := top.CreateChild("greeting")
	_ = tag.WriteBlobFrom(ctx, strings.NewReader("hello, world"))
	id, err := clip.Write(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}
	_ = clip.Close()

	ok, _ := pool.ClipExists(ctx, id)
	fmt.Println("exists:", ok)

	clip, _ = pool.ClipOpen(ctx, id, omnicas.OpenAsTree)
	defer func() { _ = clip.Close() }()
	name, _ := clip.Name()
	top, _ = clip.TopTag()
	tag, _ = top.FirstChild()

	var sb strings.Builder
	_, _ = tag.ReadBlobTo(ctx, &sb)
	fmt.Println(name, sb.String())

	// Output:
	// exists: true
	// hello hello, world
}
