package omnicas

import (
	"context"
	"io"
	"log/slog"
)

// Tag is a node of a clip's tag tree. It carries attributes and at most one
// blob.
type Tag struct {
	session *Session
	clip    *Clip
	handle  Handle
}

// tagFor returns the live wrapper for h or registers a new one owned by clip.
// A zero handle yields nil.
func (s *Session) tagFor(h Handle, clip *Clip) (*Tag, error) {
	if h == 0 {
		return nil, nil
	}
	if t, err := LookupAs[*Tag](s.registry, h); err == nil {
		return t, nil
	}

	t := &Tag{session: s, clip: clip, handle: h}
	if err := s.register(h, t, func() error { return s.engine.TagClose(h) }); err != nil {
		return nil, err
	}
	if clip != nil {
		clip.track(t)
	}
	return t, nil
}

// CreateTag adds a child called name under parent.
func CreateTag(parent *Tag, name string) (*Tag, error) {
	return parent.CreateChild(name)
}

// Handle returns the engine handle, or zero after Close.
func (t *Tag) Handle() Handle { return t.handle }

func (t *Tag) check() error {
	if t == nil || t.handle == 0 {
		return ErrClosed
	}
	return nil
}

// Close releases the tag. Failures are logged, not returned.
func (t *Tag) Close() error {
	if t == nil || t.handle == 0 {
		return nil
	}
	h := t.handle
	t.release()

	if err := t.session.engine.TagClose(h); err != nil {
		t.session.logger.Warn("tag close failed", slog.Uint64("handle", uint64(h)), slog.Any("error", err))
	}
	return nil
}

// release forgets the handle without a native close.
func (t *Tag) release() {
	h := t.handle
	t.handle = 0
	t.session.registry.Remove(h)
	if t.clip != nil {
		t.clip.untrack(h)
	}
}

// CreateChild adds a child tag called name.
func (t *Tag) CreateChild(name string) (*Tag, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	h, err := t.session.engine.TagCreate(t.handle, name)
	if err != nil {
		return nil, translate("Tag.CreateChild", err)
	}
	return t.session.tagFor(h, t.clip)
}

// Copy copies the tag under newParent, which may belong to another clip.
// OptionCopyChildren copies the subtree and OptionCopyBlobData the blob.
func (t *Tag) Copy(newParent *Tag, opts int64) (*Tag, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if err := newParent.check(); err != nil {
		return nil, err
	}
	h, err := t.session.engine.TagCopy(t.handle, newParent.handle, opts)
	if err != nil {
		return nil, translate("Tag.Copy", err)
	}
	return t.session.tagFor(h, newParent.clip)
}

// Clip returns the clip the tag belongs to.
func (t *Tag) Clip() (*Clip, error) {
	if t.clip != nil && t.clip.handle != 0 {
		return t.clip, nil
	}
	if err := t.check(); err != nil {
		return nil, err
	}
	h, err := t.session.engine.TagClip(t.handle)
	if err != nil {
		return nil, translate("Tag.Clip", err)
	}
	c, err := t.session.LookupClip(h)
	if err != nil {
		return nil, err
	}
	t.clip = c
	return c, nil
}

// NextSibling returns the following sibling, or nil.
func (t *Tag) NextSibling() (*Tag, error) {
	return t.navigate("Tag.NextSibling", t.session.engine.TagNextSibling)
}

// PrevSibling returns the preceding sibling, or nil.
func (t *Tag) PrevSibling() (*Tag, error) {
	return t.navigate("Tag.PrevSibling", t.session.engine.TagPrevSibling)
}

// FirstChild returns the first child, or nil.
func (t *Tag) FirstChild() (*Tag, error) {
	return t.navigate("Tag.FirstChild", t.session.engine.TagFirstChild)
}

// Parent returns the parent tag, or nil for the top tag.
func (t *Tag) Parent() (*Tag, error) {
	return t.navigate("Tag.Parent", t.session.engine.TagParent)
}

func (t *Tag) navigate(op string, fn func(Handle) (Handle, error)) (*Tag, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	h, err := fn(t.handle)
	if err != nil {
		return nil, translate(op, err)
	}
	return t.session.tagFor(h, t.clip)
}

// Delete removes the tag and its subtree from the clip. The tag is closed.
func (t *Tag) Delete() error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.session.engine.TagDelete(t.handle); err != nil {
		return translate("Tag.Delete", err)
	}
	t.release()
	return nil
}

// Name returns the tag name.
func (t *Tag) Name() (string, error) {
	return t.str("Tag.Name", t.session.engine.TagName)
}

func (t *Tag) str(op string, fn func(Handle, []byte) (int, error)) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	s, err := readString(func(buf []byte) (int, error) { return fn(t.handle, buf) })
	return s, translate(op, err)
}

// SetStringAttribute sets a string attribute.
func (t *Tag) SetStringAttribute(name, value string) error {
	if err := t.check(); err != nil {
		return err
	}
	return translate("Tag.SetStringAttribute", t.session.engine.TagSetStringAttribute(t.handle, name, value))
}

// SetLongAttribute sets an integer attribute.
func (t *Tag) SetLongAttribute(name string, value int64) error {
	if err := t.check(); err != nil {
		return err
	}
	return translate("Tag.SetLongAttribute", t.session.engine.TagSetLongAttribute(t.handle, name, value))
}

// SetBoolAttribute sets a boolean attribute.
func (t *Tag) SetBoolAttribute(name string, value bool) error {
	if err := t.check(); err != nil {
		return err
	}
	return translate("Tag.SetBoolAttribute", t.session.engine.TagSetBoolAttribute(t.handle, name, value))
}

// StringAttribute returns an attribute as a string.
func (t *Tag) StringAttribute(name string) (string, error) {
	return t.str("Tag.StringAttribute", func(h Handle, buf []byte) (int, error) {
		return t.session.engine.TagStringAttribute(h, name, buf)
	})
}

// LongAttribute returns an attribute as an integer.
func (t *Tag) LongAttribute(name string) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	v, err := t.session.engine.TagLongAttribute(t.handle, name)
	return v, translate("Tag.LongAttribute", err)
}

// BoolAttribute returns an attribute as a boolean.
func (t *Tag) BoolAttribute(name string) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	v, err := t.session.engine.TagBoolAttribute(t.handle, name)
	return v, translate("Tag.BoolAttribute", err)
}

// RemoveAttribute removes an attribute.
func (t *Tag) RemoveAttribute(name string) error {
	if err := t.check(); err != nil {
		return err
	}
	return translate("Tag.RemoveAttribute", t.session.engine.TagRemoveAttribute(t.handle, name))
}

// NumAttributes returns the number of attributes.
func (t *Tag) NumAttributes() (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	n, err := t.session.engine.TagNumAttributes(t.handle)
	return n, translate("Tag.NumAttributes", err)
}

// AttributeAt returns the attribute at index i.
func (t *Tag) AttributeAt(i int) (Attribute, error) {
	if err := t.check(); err != nil {
		return Attribute{}, err
	}
	name, value, err := readPair(func(name, value []byte) (int, int, error) {
		return t.session.engine.TagAttributeAt(t.handle, i, name, value)
	})
	if err != nil {
		return Attribute{}, translate("Tag.AttributeAt", err)
	}
	return Attribute{Name: name, Value: value}, nil
}

// Attributes returns a snapshot of all attributes.
func (t *Tag) Attributes() (AttributeCollection, error) {
	n, err := t.NumAttributes()
	if err != nil {
		return nil, err
	}
	attrs, err := readAttributes(n, func(i int, name, value []byte) (int, int, error) {
		return t.session.engine.TagAttributeAt(t.handle, i, name, value)
	})
	return attrs, translate("Tag.Attributes", err)
}

// BlobSize returns the size of the tag's blob, or -1 if it has none.
func (t *Tag) BlobSize() (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	n, err := t.session.engine.TagBlobSize(t.handle)
	return n, translate("Tag.BlobSize", err)
}

// BlobStatus reports whether the tag's blob can be read.
func (t *Tag) BlobStatus() (BlobStatus, error) {
	if err := t.check(); err != nil {
		return BlobNone, err
	}
	st, err := t.session.engine.TagBlobStatus(t.handle)
	return st, translate("Tag.BlobStatus", err)
}

func (t *Tag) checkStream(st *Stream) error {
	if err := t.check(); err != nil {
		return err
	}
	if st == nil || st.handle == 0 {
		return ErrClosed
	}
	return nil
}

// BlobWrite uploads the blob from st.
func (t *Tag) BlobWrite(ctx context.Context, st *Stream, opts int64) error {
	if err := t.checkStream(st); err != nil {
		return err
	}
	return translate("Tag.BlobWrite", t.session.engine.TagBlobWrite(ctx, t.handle, st.handle, opts))
}

// BlobWritePartial uploads segment seq of the blob from st. Segments are
// joined in sequence order when the clip is written.
func (t *Tag) BlobWritePartial(ctx context.Context, st *Stream, seq, opts int64) error {
	if err := t.checkStream(st); err != nil {
		return err
	}
	return translate("Tag.BlobWritePartial", t.session.engine.TagBlobWritePartial(ctx, t.handle, st.handle, opts, seq))
}

// BlobRead downloads the blob into st.
func (t *Tag) BlobRead(ctx context.Context, st *Stream, opts int64) error {
	if err := t.checkStream(st); err != nil {
		return err
	}
	return translate("Tag.BlobRead", t.session.engine.TagBlobRead(ctx, t.handle, st.handle, opts))
}

// BlobReadPartial downloads length bytes of the blob starting at offset. A
// negative length reads to the end.
func (t *Tag) BlobReadPartial(ctx context.Context, st *Stream, offset, length, opts int64) error {
	if err := t.checkStream(st); err != nil {
		return err
	}
	return translate("Tag.BlobReadPartial", t.session.engine.TagBlobReadPartial(ctx, t.handle, st.handle, offset, length, opts))
}

// WriteBlobFrom uploads r as the tag's blob.
func (t *Tag) WriteBlobFrom(ctx context.Context, r io.Reader) error {
	if err := t.check(); err != nil {
		return err
	}
	st, err := t.session.NewReaderStream(r)
	if err != nil {
		return err
	}
	defer closeLogged(t.session.logger, "stream", st)
	return t.BlobWrite(ctx, st, OptionDefault)
}

// ReadBlobTo downloads the tag's blob into w and returns the bytes written.
func (t *Tag) ReadBlobTo(ctx context.Context, w io.Writer) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	st, err := t.session.NewWriterStream(w)
	if err != nil {
		return 0, err
	}
	defer closeLogged(t.session.logger, "stream", st)

	if err := t.BlobRead(ctx, st, OptionDefault); err != nil {
		return 0, err
	}
	info, err := st.Info()
	if err != nil {
		return 0, err
	}
	return info.StreamPos, nil
}
