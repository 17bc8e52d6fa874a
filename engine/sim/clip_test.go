package sim

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/grokify/omnicas"
)

func TestClipWriteRead(t *testing.T) {
	env := newTestEnv(t, nil)
	data := payload(100_000)

	id := env.writeClip(t, "invoice", data)
	if !validAddress(id) {
		t.Fatalf("Write returned malformed id %q", id)
	}
	if got := env.readClip(t, id); !bytes.Equal(got, data) {
		t.Errorf("read %d bytes, want %d matching bytes", len(got), len(data))
	}

	clip, err := env.pool.ClipOpen(context.Background(), id, omnicas.OpenAsTree)
	if err != nil {
		t.Fatalf("ClipOpen failed: %v", err)
	}
	defer func() { _ = clip.Close() }()

	if name, _ := clip.Name(); name != "invoice" {
		t.Errorf("Name() = %q, want invoice", name)
	}
	if n, _ := clip.NumBlobs(); n != 1 {
		t.Errorf("NumBlobs() = %d, want 1", n)
	}
	if n, _ := clip.NumTags(); n != 1 {
		t.Errorf("NumTags() = %d, want 1", n)
	}
	if created, _ := clip.CreationDate(); !created.Equal(testEpoch) {
		t.Errorf("CreationDate() = %v, want %v", created, testEpoch)
	}
	if modified, _ := clip.IsModified(); modified {
		t.Error("IsModified() = true for a freshly opened clip")
	}
	if size, _ := clip.TotalSize(); size <= int64(len(data)) {
		t.Errorf("TotalSize() = %d, want more than %d", size, len(data))
	}
}

func TestClipSingleInstance(t *testing.T) {
	env := newTestEnv(t, nil)
	data := []byte("same content")

	first := env.writeClip(t, "a", data)
	second := env.writeClip(t, "a", data)
	if first != second {
		t.Errorf("identical clips got %s and %s", first, second)
	}
	if n := len(env.keys(t, prefixIndex)); n != 1 {
		t.Errorf("index markers = %d, want 1", n)
	}

	if err := env.pool.SetCollisionAvoidance(true); err != nil {
		t.Fatalf("SetCollisionAvoidance failed: %v", err)
	}
	third := env.writeClip(t, "a", data)
	if third == first {
		t.Error("collision avoidance produced the same id")
	}
}

func TestClipNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	missing := clipAddress([]byte("nothing"), "")
	_, err := env.pool.ClipOpen(ctx, missing, omnicas.OpenAsTree)
	if !errors.Is(err, omnicas.ErrCodeClipNotFound) {
		t.Errorf("ClipOpen(missing) = %v, want ClipNotFound", err)
	}
	_, err = env.pool.ClipOpen(ctx, "not-an-id", omnicas.OpenAsTree)
	if !errors.Is(err, omnicas.ErrCodeParamErr) {
		t.Errorf("ClipOpen(malformed) = %v, want ParamErr", err)
	}
	if ok, err := env.pool.ClipExists(ctx, missing); err != nil || ok {
		t.Errorf("ClipExists(missing) = %t, %v", ok, err)
	}
}

func TestEmbeddedBlob(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.EmbeddedDataThreshold = 1024 })

	small := env.writeClip(t, "small", []byte("tiny"))
	if n := len(env.keys(t, prefixBlobs)); n != 0 {
		t.Errorf("blobs stored = %d, want 0 for an embedded blob", n)
	}
	if got := env.readClip(t, small); string(got) != "tiny" {
		t.Errorf("embedded blob = %q", got)
	}

	env.writeClip(t, "large", payload(4096))
	if n := len(env.keys(t, prefixBlobs)); n != 1 {
		t.Errorf("blobs stored = %d, want 1", n)
	}
}

func TestTagTree(t *testing.T) {
	env := newTestEnv(t, nil)
	clip, err := env.pool.ClipCreate("tree")
	if err != nil {
		t.Fatalf("ClipCreate failed: %v", err)
	}
	defer func() { _ = clip.Close() }()

	top, _ := clip.TopTag()
	a, _ := top.CreateChild("a")
	b, _ := top.CreateChild("b")
	if _, err := a.CreateChild("a1"); err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}

	if next, _ := a.NextSibling(); next != b {
		t.Errorf("a.NextSibling() = %v, want b wrapper", next)
	}
	if prev, _ := a.PrevSibling(); prev != nil {
		t.Errorf("a.PrevSibling() = %v, want nil", prev)
	}
	if parent, _ := top.Parent(); parent != nil {
		t.Errorf("top.Parent() = %v, want nil", parent)
	}
	if parent, _ := b.Parent(); parent != top {
		t.Error("b.Parent() is not the top tag wrapper")
	}

	if err := a.SetLongAttribute("pages", 12); err != nil {
		t.Fatalf("SetLongAttribute failed: %v", err)
	}
	if err := a.SetBoolAttribute("signed", true); err != nil {
		t.Fatalf("SetBoolAttribute failed: %v", err)
	}
	if v, _ := a.LongAttribute("pages"); v != 12 {
		t.Errorf("LongAttribute = %d, want 12", v)
	}
	if v, _ := a.BoolAttribute("signed"); !v {
		t.Error("BoolAttribute = false, want true")
	}
	if _, err := a.StringAttribute("missing"); !errors.Is(err, omnicas.ErrCodeAttrNotFound) {
		t.Errorf("StringAttribute(missing) = %v, want AttrNotFound", err)
	}

	cp, err := a.Copy(b, omnicas.OptionCopyChildren)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if child, _ := cp.FirstChild(); child == nil {
		t.Error("copy lost its children")
	}
	if n, _ := clip.NumTags(); n != 5 {
		t.Errorf("NumTags() = %d, want 5", n)
	}

	if err := a.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n, _ := clip.NumTags(); n != 3 {
		t.Errorf("NumTags() after delete = %d, want 3", n)
	}
	if err := top.Delete(); !errors.Is(err, omnicas.ErrCodeTagTree) {
		t.Errorf("top.Delete() = %v, want TagTree", err)
	}
}

func TestFlatOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	clip, _ := env.pool.ClipCreate("flat")
	top, _ := clip.TopTag()
	a, _ := top.CreateChild("a")
	_, _ = a.CreateChild("a1")
	_, _ = top.CreateChild("b")
	id, err := clip.Write(ctx)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = clip.Close()

	flat, err := env.pool.ClipOpen(ctx, id, omnicas.OpenFlat)
	if err != nil {
		t.Fatalf("ClipOpen failed: %v", err)
	}
	defer func() { _ = flat.Close() }()

	var names []string
	for {
		tag, err := flat.FetchNext(ctx)
		if err != nil {
			t.Fatalf("FetchNext failed: %v", err)
		}
		if tag == nil {
			break
		}
		name, _ := tag.Name()
		names = append(names, name)
	}
	if got := len(names); got != 3 || names[0] != "a" || names[1] != "a1" || names[2] != "b" {
		t.Errorf("FetchNext order = %v, want [a a1 b]", names)
	}
}

func TestBlobWriteTwice(t *testing.T) {
	env := newTestEnv(t, nil)
	clip := env.newClip(t, "twice", []byte("one"))
	defer func() { _ = clip.Close() }()

	top, _ := clip.TopTag()
	tag, _ := top.FirstChild()
	err := tag.WriteBlobFrom(context.Background(), bytes.NewReader([]byte("two")))
	if !errors.Is(err, omnicas.ErrCodeTagReadOnly) {
		t.Errorf("second blob write = %v, want TagReadOnly", err)
	}
}

func TestBlobPartial(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	clip, _ := env.pool.ClipCreate("partial")
	top, _ := clip.TopTag()
	tag, _ := top.CreateChild("file")

	for _, seg := range []struct {
		seq  int64
		data string
	}{{1, "world"}, {0, "hello "}} {
		st, err := env.session.NewBufferInputStream([]byte(seg.data))
		if err != nil {
			t.Fatalf("NewBufferInputStream failed: %v", err)
		}
		if err := tag.BlobWritePartial(ctx, st, seg.seq, omnicas.OptionDefault); err != nil {
			t.Fatalf("BlobWritePartial(%d) failed: %v", seg.seq, err)
		}
		_ = st.Close()
	}
	if size, _ := tag.BlobSize(); size != 11 {
		t.Errorf("BlobSize() = %d, want 11", size)
	}
	id, err := clip.Write(ctx)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = clip.Close()

	if got := env.readClip(t, id); string(got) != "hello world" {
		t.Errorf("joined blob = %q", got)
	}
}

func TestBlobReadPartial(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	id := env.writeClip(t, "range", []byte("0123456789"))

	clip, _ := env.pool.ClipOpen(ctx, id, omnicas.OpenAsTree)
	defer func() { _ = clip.Close() }()
	top, _ := clip.TopTag()
	tag, _ := top.FirstChild()

	buf := make([]byte, 4)
	st, _ := env.session.NewBufferOutputStream(buf)
	defer func() { _ = st.Close() }()
	if err := tag.BlobReadPartial(ctx, st, 3, 4, omnicas.OptionDefault); err != nil {
		t.Fatalf("BlobReadPartial failed: %v", err)
	}
	if string(buf) != "3456" {
		t.Errorf("partial read = %q, want 3456", buf)
	}

	err := tag.BlobReadPartial(ctx, st, 8, 4, omnicas.OptionDefault)
	if !errors.Is(err, omnicas.ErrCodeOutOfBounds) {
		t.Errorf("BlobReadPartial past end = %v, want OutOfBounds", err)
	}
}

func TestNoBlob(t *testing.T) {
	env := newTestEnv(t, nil)
	clip, _ := env.pool.ClipCreate("empty")
	defer func() { _ = clip.Close() }()
	top, _ := clip.TopTag()
	tag, _ := top.CreateChild("nothing")

	if size, _ := tag.BlobSize(); size != -1 {
		t.Errorf("BlobSize() = %d, want -1", size)
	}
	if status, _ := tag.BlobStatus(); status != omnicas.BlobNone {
		t.Errorf("BlobStatus() = %d, want BlobNone", status)
	}
	_, err := tag.ReadBlobTo(context.Background(), &bytes.Buffer{})
	if !errors.Is(err, omnicas.ErrCodeTagHasNoData) {
		t.Errorf("ReadBlobTo = %v, want TagHasNoData", err)
	}
}

func TestRawExportImport(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	id := env.writeClip(t, "export", []byte("payload"))

	clip, _ := env.pool.ClipOpen(ctx, id, omnicas.OpenAsTree)
	var raw bytes.Buffer
	out, _ := env.session.NewWriterStream(&raw)
	if err := clip.RawRead(ctx, out); err != nil {
		t.Fatalf("RawRead failed: %v", err)
	}
	_ = out.Close()
	_ = clip.Close()

	in, _ := env.session.NewBufferInputStream(raw.Bytes())
	imported, err := env.pool.ClipRawOpen(ctx, id, in, omnicas.OptionDefault)
	_ = in.Close()
	if err != nil {
		t.Fatalf("ClipRawOpen failed: %v", err)
	}
	if got, _ := imported.ID(); got != id {
		t.Errorf("imported ID = %s, want %s", got, id)
	}
	_ = imported.Close()

	tampered := bytes.Clone(raw.Bytes())
	tampered[len(tampered)-1] ^= 0xff
	in, _ = env.session.NewBufferInputStream(tampered)
	defer func() { _ = in.Close() }()
	_, err = env.pool.ClipRawOpen(ctx, id, in, omnicas.OptionDefault)
	if err == nil {
		t.Fatal("ClipRawOpen accepted a tampered descriptor")
	}
}

func TestCanonicalClipID(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.writeClip(t, "canon", []byte("x"))

	b, err := env.pool.CanonicalClipID(id)
	if err != nil {
		t.Fatalf("CanonicalClipID failed: %v", err)
	}
	if len(b) != canonicalSize {
		t.Errorf("canonical length = %d, want %d", len(b), canonicalSize)
	}
	back, err := env.pool.StringClipID(b)
	if err != nil {
		t.Fatalf("StringClipID failed: %v", err)
	}
	if back != id {
		t.Errorf("StringClipID = %s, want %s", back, id)
	}
}

func TestCapabilityDenied(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Clusters[0].Capabilities = map[string]string{
			omnicas.CapabilityWrite + "/" + omnicas.AttrAllowed: omnicas.CapabilityFalse,
		}
	})
	_, err := env.pool.ClipCreate("denied")
	if !errors.Is(err, omnicas.ErrCodeOperationNotAllowed) {
		t.Errorf("ClipCreate = %v, want OperationNotAllowed", err)
	}
	caps, err := env.pool.Capabilities()
	if err != nil {
		t.Fatalf("Capabilities failed: %v", err)
	}
	if caps.WriteAllowed || !caps.ReadAllowed {
		t.Errorf("Capabilities = %+v", caps)
	}
}

func TestDescriptionAttributes(t *testing.T) {
	env := newTestEnv(t, nil)
	clip, _ := env.pool.ClipCreate("desc")
	defer func() { _ = clip.Close() }()

	_ = clip.SetDescriptionAttribute("owner", "finance")
	_ = clip.SetDescriptionAttribute("year", "2024")
	attrs, err := clip.DescriptionAttributes()
	if err != nil {
		t.Fatalf("DescriptionAttributes failed: %v", err)
	}
	if owner, _ := attrs.Get("owner"); len(attrs) != 2 || owner != "finance" {
		t.Errorf("DescriptionAttributes = %v", attrs)
	}
	if err := clip.RemoveDescriptionAttribute("owner"); err != nil {
		t.Fatalf("RemoveDescriptionAttribute failed: %v", err)
	}
	if _, err := clip.DescriptionAttributeAt(1); !errors.Is(err, omnicas.ErrCodeOutOfBounds) {
		t.Errorf("DescriptionAttributeAt(1) = %v, want OutOfBounds", err)
	}
}
