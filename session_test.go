package omnicas_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/engine/sim"
)

func openSession(t *testing.T) *omnicas.Session {
	t.Helper()
	sess, err := omnicas.Open("sim", map[string]string{"address": "cas"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := omnicas.Open("nosuchengine", nil)
	if !errors.Is(err, omnicas.ErrUnknownEngine) {
		t.Errorf("Open = %v, want ErrUnknownEngine", err)
	}
	if !omnicas.IsEngineRegistered("sim") {
		t.Error("sim engine not registered")
	}
}

func TestSessionClose(t *testing.T) {
	sess := openSession(t)
	ctx := context.Background()

	pool, err := sess.OpenPool(ctx, "cas")
	if err != nil {
		t.Fatalf("OpenPool failed: %v", err)
	}
	clip, err := pool.ClipCreate("leaked")
	if err != nil {
		t.Fatalf("ClipCreate failed: %v", err)
	}
	top, _ := clip.TopTag()
	_, _ = top.CreateChild("child")
	st, _ := sess.NewNullStream()

	// pool, clip, top tag, child tag, stream
	if n := sess.Registry().Len(); n != 5 {
		t.Errorf("Registry().Len() = %d, want 5", n)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := sess.Registry().Len(); n != 0 {
		t.Errorf("Registry().Len() after Close = %d", n)
	}
	if clip.Handle() != 0 || pool.Handle() != 0 || st.Handle() != 0 {
		t.Error("wrappers still hold handles after session Close")
	}
	if _, err := clip.Name(); !errors.Is(err, omnicas.ErrClosed) {
		t.Errorf("Name after Close = %v, want ErrClosed", err)
	}
	if _, err := sess.OpenPool(ctx, "cas"); !errors.Is(err, omnicas.ErrClosed) {
		t.Errorf("OpenPool after Close = %v, want ErrClosed", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestWrapperIdentity(t *testing.T) {
	sess := openSession(t)
	pool, err := sess.OpenPool(context.Background(), "cas")
	if err != nil {
		t.Fatalf("OpenPool failed: %v", err)
	}
	clip, _ := pool.ClipCreate("identity")
	defer func() { _ = clip.Close() }()

	top1, _ := clip.TopTag()
	top2, _ := clip.TopTag()
	if top1 != top2 {
		t.Error("TopTag returned two wrappers for one handle")
	}
	child, _ := top1.CreateChild("c")
	parent, _ := child.Parent()
	if parent != top1 {
		t.Error("Parent returned a new wrapper for the top tag")
	}
	owner, _ := child.Clip()
	if owner != clip {
		t.Error("Clip returned a new wrapper")
	}

	found, err := sess.LookupClip(clip.Handle())
	if err != nil || found != clip {
		t.Errorf("LookupClip = %v, %v", found, err)
	}
	if _, err := sess.LookupTag(clip.Handle()); !omnicas.IsWrongReference(err) {
		t.Errorf("LookupTag(clip handle) = %v, want wrong reference", err)
	}

	h := child.Handle()
	if err := child.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := child.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := sess.LookupTag(h); !omnicas.IsWrongReference(err) {
		t.Errorf("LookupTag after Close = %v, want wrong reference", err)
	}
}

func TestNilWrappers(t *testing.T) {
	var (
		pool  *omnicas.Pool
		clip  *omnicas.Clip
		tag   *omnicas.Tag
		st    *omnicas.Stream
		query *omnicas.Query
	)
	for name, c := range map[string]interface{ Close() error }{
		"pool": pool, "clip": clip, "tag": tag, "stream": st, "query": query,
	} {
		if err := c.Close(); err != nil {
			t.Errorf("nil %s Close = %v", name, err)
		}
	}
}

func TestSharedPool(t *testing.T) {
	sess := openSession(t)
	ctx := context.Background()

	a, err := sess.SharedPool(ctx, "cas")
	if err != nil {
		t.Fatalf("SharedPool failed: %v", err)
	}
	b, _ := sess.SharedPool(ctx, "cas")
	if a != b {
		t.Error("SharedPool returned two pools for one connection string")
	}
	if err := sess.ReleaseSharedPool("cas"); err != nil {
		t.Fatalf("ReleaseSharedPool failed: %v", err)
	}
	c, _ := sess.SharedPool(ctx, "cas")
	if c == a {
		t.Error("released pool was returned again")
	}
}

func TestLastError(t *testing.T) {
	sess := openSession(t)
	pool, _ := sess.OpenPool(context.Background(), "cas")

	_, err := pool.ClipOpen(context.Background(), "not-a-clip-id", omnicas.OpenAsTree)
	if err == nil {
		t.Fatal("ClipOpen of a malformed id succeeded")
	}
	if code := sess.LastError(); code != omnicas.ErrCodeParamErr {
		t.Errorf("LastError() = %v, want ParamErr", code)
	}
	if info := sess.LastErrorInfo(); info.Class != omnicas.ClassClient {
		t.Errorf("LastErrorInfo().Class = %v", info.Class)
	}

	// A later successful call resets the status.
	clip, err := pool.ClipCreate("after-failure")
	if err != nil {
		t.Fatalf("ClipCreate failed: %v", err)
	}
	defer func() { _ = clip.Close() }()
	if _, err := clip.Write(context.Background()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if code := sess.LastError(); code != omnicas.ErrCodeOK {
		t.Errorf("LastError() after success = %v, want %v", code, omnicas.ErrCodeOK)
	}
	if info := sess.LastErrorInfo(); info.Code != omnicas.ErrCodeOK {
		t.Errorf("LastErrorInfo().Code after success = %v", info.Code)
	}
}

func TestSDKVersion(t *testing.T) {
	sess := openSession(t)
	v, err := sess.SDKVersion()
	if err != nil {
		t.Fatalf("SDKVersion failed: %v", err)
	}
	if v != sim.Version {
		t.Errorf("SDKVersion() = %q, want %q", v, sim.Version)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	sess := openSession(t)
	ctx := context.Background()
	pool, _ := sess.OpenPool(ctx, "cas")

	data := bytes.Repeat([]byte("fixed content "), 10_000)
	clip, _ := pool.ClipCreate("round-trip")
	top, _ := clip.TopTag()
	tag, _ := top.CreateChild("doc")
	_ = tag.SetStringAttribute("type", "text/plain")
	if err := tag.WriteBlobFrom(ctx, bytes.NewReader(data)); err != nil {
		t.Fatalf("WriteBlobFrom failed: %v", err)
	}
	id, err := clip.Write(ctx)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = clip.Close()

	clip, err = pool.ClipOpen(ctx, id, omnicas.OpenAsTree)
	if err != nil {
		t.Fatalf("ClipOpen failed: %v", err)
	}
	defer func() { _ = clip.Close() }()
	top, _ = clip.TopTag()
	tag, _ = top.FirstChild()

	attrs, err := tag.Attributes()
	if err != nil {
		t.Fatalf("Attributes failed: %v", err)
	}
	if v, ok := attrs.Get("type"); !ok || v != "text/plain" {
		t.Errorf("Attributes().Get(type) = %q, %t", v, ok)
	}

	var out strings.Builder
	n, err := tag.ReadBlobTo(ctx, &out)
	if err != nil {
		t.Fatalf("ReadBlobTo failed: %v", err)
	}
	if n != int64(len(data)) || out.String() != string(data) {
		t.Errorf("ReadBlobTo = %d bytes, want %d", n, len(data))
	}
}
