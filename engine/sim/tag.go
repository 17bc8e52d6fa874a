package sim

import (
	"bytes"
	"context"
	"strconv"

	"github.com/grokify/omnicas"
)

// withTag runs fn with the tag behind h and its clip locked.
func (e *Engine) withTag(h omnicas.Handle, fn func(cs *clipState, n *node) error) error {
	ts, err := lookup[*tagState](e, h)
	if err != nil {
		return err
	}
	ts.clip.mu.Lock()
	defer ts.clip.mu.Unlock()
	return fn(ts.clip, ts.node)
}

// mutateTag is withTag for calls that change the clip.
func (e *Engine) mutateTag(h omnicas.Handle, fn func(cs *clipState, n *node) error) error {
	return e.withTag(h, func(cs *clipState, n *node) error {
		if err := fn(cs, n); err != nil {
			return err
		}
		cs.modified = true
		return nil
	})
}

func (e *Engine) tagString(h omnicas.Handle, buf []byte, fn func(n *node) (string, error)) (int, error) {
	var out int
	err := e.withTag(h, func(_ *clipState, n *node) error {
		s, err := fn(n)
		if err != nil {
			return err
		}
		out = omnicas.CopyOut(s, buf)
		return nil
	})
	return out, err
}

// navigate returns the handle of the node fn picks, or zero.
func (e *Engine) navigate(h omnicas.Handle, fn func(n *node) *node) (omnicas.Handle, error) {
	var out omnicas.Handle
	err := e.withTag(h, func(cs *clipState, n *node) error {
		out = e.tagHandle(cs, fn(n))
		return nil
	})
	return out, err
}

// TagCreate implements omnicas.TagEngine.
func (e *Engine) TagCreate(parent omnicas.Handle, name string) (omnicas.Handle, error) {
	e.clearLastError()
	if name == "" {
		return 0, e.fail(omnicas.ErrCodeInvalidName, "tag name is empty")
	}
	var out omnicas.Handle
	err := e.mutateTag(parent, func(cs *clipState, n *node) error {
		child := &node{Name: name}
		n.addChild(child)
		out = e.tagHandle(cs, child)
		return nil
	})
	return out, err
}

// TagClose implements omnicas.TagEngine.
func (e *Engine) TagClose(h omnicas.Handle) error {
	e.clearLastError()
	return e.withTag(h, func(cs *clipState, n *node) error {
		if cs.tags[n] == h {
			delete(cs.tags, n)
		}
		e.release(h)
		return nil
	})
}

// TagCopy implements omnicas.TagEngine. The copy may go to another clip.
func (e *Engine) TagCopy(h, newParent omnicas.Handle, opts int64) (omnicas.Handle, error) {
	e.clearLastError()
	var copied *node
	err := e.withTag(h, func(_ *clipState, n *node) error {
		copied = n.clone(opts&omnicas.OptionCopyChildren != 0, opts&omnicas.OptionCopyBlobData != 0)
		return nil
	})
	if err != nil {
		return 0, err
	}
	var out omnicas.Handle
	err = e.mutateTag(newParent, func(cs *clipState, parent *node) error {
		parent.addChild(copied)
		out = e.tagHandle(cs, copied)
		return nil
	})
	return out, err
}

// TagClip implements omnicas.TagEngine.
func (e *Engine) TagClip(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	var out omnicas.Handle
	err := e.withTag(h, func(cs *clipState, _ *node) error {
		out = cs.handle
		return nil
	})
	return out, err
}

// TagNextSibling implements omnicas.TagEngine.
func (e *Engine) TagNextSibling(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	return e.navigate(h, (*node).nextSibling)
}

// TagPrevSibling implements omnicas.TagEngine.
func (e *Engine) TagPrevSibling(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	return e.navigate(h, (*node).prevSibling)
}

// TagFirstChild implements omnicas.TagEngine.
func (e *Engine) TagFirstChild(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	return e.navigate(h, (*node).firstChild)
}

// TagParent implements omnicas.TagEngine.
func (e *Engine) TagParent(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	return e.navigate(h, func(n *node) *node { return n.parent })
}

// TagDelete implements omnicas.TagEngine. The tag and its subtree are
// removed and their handles closed.
func (e *Engine) TagDelete(h omnicas.Handle) error {
	e.clearLastError()
	return e.mutateTag(h, func(cs *clipState, n *node) error {
		if n == cs.desc.Top {
			return e.fail(omnicas.ErrCodeTagTree, "the top tag cannot be deleted")
		}
		n.detach()
		n.walk(func(m *node) {
			if th, ok := cs.tags[m]; ok {
				e.release(th)
				delete(cs.tags, m)
			}
		})
		return nil
	})
}

// TagName implements omnicas.TagEngine.
func (e *Engine) TagName(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	return e.tagString(h, buf, func(n *node) (string, error) { return n.Name, nil })
}

func (e *Engine) setTagAttr(h omnicas.Handle, name, value string) error {
	if name == "" {
		return e.fail(omnicas.ErrCodeParamErr, "attribute name is empty")
	}
	return e.mutateTag(h, func(_ *clipState, n *node) error {
		n.Attrs = setAttr(n.Attrs, name, value)
		return nil
	})
}

func (e *Engine) tagAttr(n *node, name string) (string, error) {
	v, ok := getAttr(n.Attrs, name)
	if !ok {
		return "", e.fail(omnicas.ErrCodeAttrNotFound, "tag %s has no attribute %q", n.Name, name)
	}
	return v, nil
}

// TagSetStringAttribute implements omnicas.TagEngine.
func (e *Engine) TagSetStringAttribute(h omnicas.Handle, name, value string) error {
	e.clearLastError()
	return e.setTagAttr(h, name, value)
}

// TagSetLongAttribute implements omnicas.TagEngine.
func (e *Engine) TagSetLongAttribute(h omnicas.Handle, name string, value int64) error {
	e.clearLastError()
	return e.setTagAttr(h, name, itoa(value))
}

// TagSetBoolAttribute implements omnicas.TagEngine.
func (e *Engine) TagSetBoolAttribute(h omnicas.Handle, name string, value bool) error {
	e.clearLastError()
	return e.setTagAttr(h, name, strconv.FormatBool(value))
}

// TagStringAttribute implements omnicas.TagEngine.
func (e *Engine) TagStringAttribute(h omnicas.Handle, name string, buf []byte) (int, error) {
	e.clearLastError()
	return e.tagString(h, buf, func(n *node) (string, error) { return e.tagAttr(n, name) })
}

// TagLongAttribute implements omnicas.TagEngine.
func (e *Engine) TagLongAttribute(h omnicas.Handle, name string) (int64, error) {
	e.clearLastError()
	var out int64
	err := e.withTag(h, func(_ *clipState, n *node) error {
		v, err := e.tagAttr(n, name)
		if err != nil {
			return err
		}
		if out, err = strconv.ParseInt(v, 10, 64); err != nil {
			return e.fail(omnicas.ErrCodeParamErr, "attribute %q is not a long: %q", name, v)
		}
		return nil
	})
	return out, err
}

// TagBoolAttribute implements omnicas.TagEngine.
func (e *Engine) TagBoolAttribute(h omnicas.Handle, name string) (bool, error) {
	e.clearLastError()
	var out bool
	err := e.withTag(h, func(_ *clipState, n *node) error {
		v, err := e.tagAttr(n, name)
		if err != nil {
			return err
		}
		if out, err = strconv.ParseBool(v); err != nil {
			return e.fail(omnicas.ErrCodeParamErr, "attribute %q is not a bool: %q", name, v)
		}
		return nil
	})
	return out, err
}

// TagRemoveAttribute implements omnicas.TagEngine.
func (e *Engine) TagRemoveAttribute(h omnicas.Handle, name string) error {
	e.clearLastError()
	return e.mutateTag(h, func(_ *clipState, n *node) error {
		var ok bool
		if n.Attrs, ok = removeAttr(n.Attrs, name); !ok {
			return e.fail(omnicas.ErrCodeAttrNotFound, "tag %s has no attribute %q", n.Name, name)
		}
		return nil
	})
}

// TagNumAttributes implements omnicas.TagEngine.
func (e *Engine) TagNumAttributes(h omnicas.Handle) (int, error) {
	e.clearLastError()
	var out int
	err := e.withTag(h, func(_ *clipState, n *node) error {
		out = len(n.Attrs)
		return nil
	})
	return out, err
}

// TagAttributeAt implements omnicas.TagEngine.
func (e *Engine) TagAttributeAt(h omnicas.Handle, index int, name, value []byte) (int, int, error) {
	e.clearLastError()
	var nl, vl int
	err := e.withTag(h, func(_ *clipState, n *node) error {
		var err error
		nl, vl, err = e.attrAt(n.Attrs, index, name, value)
		return err
	})
	return nl, vl, err
}

// TagBlobSize implements omnicas.TagEngine. It is -1 for a tag without a
// blob.
func (e *Engine) TagBlobSize(h omnicas.Handle) (int64, error) {
	e.clearLastError()
	size := int64(-1)
	err := e.withTag(h, func(_ *clipState, n *node) error {
		switch {
		case n.Blob != nil:
			size = n.Blob.Size
		case len(n.segments) > 0:
			size = 0
			for _, seg := range n.segments {
				size += int64(len(seg))
			}
		}
		return nil
	})
	return size, err
}

// writable fails when n already carries blob data.
func (e *Engine) writable(p *pool, n *node) error {
	if err := e.checkAllowed(p, omnicas.CapabilityWrite); err != nil {
		return err
	}
	if n.Blob != nil {
		return e.fail(omnicas.ErrCodeTagReadOnly, "tag %s already has a blob", n.Name)
	}
	return nil
}

// storeBlob keeps small data in the descriptor and puts the rest in the
// blob store.
func (e *Engine) storeBlob(ctx context.Context, p *pool, data []byte, opts int64) (*blobRef, error) {
	ref := &blobRef{Addr: blobAddress(data), Size: int64(len(data))}

	threshold := e.embeddedThreshold()
	embed := threshold > 0 && ref.Size < threshold
	if opts&omnicas.OptionEmbedData != 0 && ref.Size <= MaxEmbeddedDataThreshold {
		embed = true
	}
	if opts&omnicas.OptionLinkData != 0 {
		embed = false
	}
	if embed || ref.Size == 0 {
		ref.Data = bytes.Clone(data)
		return ref, nil
	}

	if err := p.primary().putBlob(ctx, e, ref.Addr, data); err != nil {
		return nil, e.storeFailure(err, omnicas.ErrCodeServer)
	}
	return ref, nil
}

// TagBlobWrite implements omnicas.TagEngine.
func (e *Engine) TagBlobWrite(ctx context.Context, h, sh omnicas.Handle, opts int64) error {
	e.clearLastError()
	ts, err := lookup[*tagState](e, h)
	if err != nil {
		return err
	}
	cs := ts.clip
	cs.mu.Lock()
	err = e.writable(cs.pool, ts.node)
	if err == nil && len(ts.node.segments) > 0 {
		err = e.fail(omnicas.ErrCodeTagReadOnly, "tag %s has partial blob segments", ts.node.Name)
	}
	cs.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := e.upload(ctx, sh)
	if err != nil {
		return err
	}
	ref, err := e.storeBlob(ctx, cs.pool, data, opts)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if ts.node.Blob != nil {
		return e.fail(omnicas.ErrCodeTagReadOnly, "tag %s already has a blob", ts.node.Name)
	}
	ts.node.Blob = ref
	cs.modified = true
	return nil
}

// TagBlobWritePartial implements omnicas.TagEngine. Segments are joined in
// sequence order when the clip is written.
func (e *Engine) TagBlobWritePartial(ctx context.Context, h, sh omnicas.Handle, opts int64, seq int64) error {
	e.clearLastError()
	if seq < 0 {
		return e.fail(omnicas.ErrCodeParamErr, "negative segment sequence %d", seq)
	}
	ts, err := lookup[*tagState](e, h)
	if err != nil {
		return err
	}
	cs := ts.clip
	cs.mu.Lock()
	err = e.writable(cs.pool, ts.node)
	cs.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := e.upload(ctx, sh)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	n := ts.node
	if n.Blob != nil {
		return e.fail(omnicas.ErrCodeTagReadOnly, "tag %s already has a blob", n.Name)
	}
	if _, dup := n.segments[seq]; dup {
		return e.fail(omnicas.ErrCodeDuplicateID, "tag %s already has segment %d", n.Name, seq)
	}
	if n.segments == nil {
		n.segments = make(map[int64][]byte)
	}
	n.segments[seq] = data
	cs.modified = true
	return nil
}

// flushPartials turns partial segments into blobs. The caller holds cs.mu.
func (e *Engine) flushPartials(ctx context.Context, cs *clipState) error {
	var pending []*node
	cs.desc.Top.walk(func(n *node) {
		if len(n.segments) > 0 {
			pending = append(pending, n)
		}
	})
	for _, n := range pending {
		var buf bytes.Buffer
		for _, seq := range sortedSegments(n) {
			buf.Write(n.segments[seq])
		}
		ref, err := e.storeBlob(ctx, cs.pool, buf.Bytes(), omnicas.OptionDefault)
		if err != nil {
			return err
		}
		n.Blob = ref
		n.segments = nil
	}
	return nil
}

// blobSource is what a read needs from a tag, captured under the clip lock.
type blobSource struct {
	ref  blobRef
	data []byte
}

func (e *Engine) blobSourceOf(h omnicas.Handle) (*pool, blobSource, error) {
	var (
		p   *pool
		src blobSource
	)
	err := e.withTag(h, func(cs *clipState, n *node) error {
		p = cs.pool
		if err := e.checkAllowed(p, omnicas.CapabilityRead); err != nil {
			return err
		}
		switch {
		case n.Blob != nil:
			src.ref = *n.Blob
		case len(n.segments) > 0:
			var buf bytes.Buffer
			for _, seq := range sortedSegments(n) {
				buf.Write(n.segments[seq])
			}
			src.data = buf.Bytes()
			src.ref.Size = int64(buf.Len())
		default:
			return e.fail(omnicas.ErrCodeTagHasNoData, "tag %s has no blob", n.Name)
		}
		return nil
	})
	return p, src, err
}

// fetch returns the blob content, verifying stored blobs against their
// address.
func (e *Engine) fetch(ctx context.Context, p *pool, src blobSource) ([]byte, error) {
	switch {
	case src.data != nil:
		return src.data, nil
	case src.ref.Data != nil || src.ref.Size == 0:
		return src.ref.Data, nil
	}
	data, err := p.primary().getBlob(ctx, e, src.ref.Addr, p.failover())
	if err != nil {
		return nil, e.storeFailure(err, omnicas.ErrCodeTagHasNoData)
	}
	if int64(len(data)) != src.ref.Size || blobAddress(data) != src.ref.Addr {
		return nil, e.fail(omnicas.ErrCodeBlobIDMismatch, "blob %s failed verification", src.ref.Addr)
	}
	return data, nil
}

// TagBlobRead implements omnicas.TagEngine.
func (e *Engine) TagBlobRead(ctx context.Context, h, sh omnicas.Handle, opts int64) error {
	e.clearLastError()
	p, src, err := e.blobSourceOf(h)
	if err != nil {
		return err
	}
	data, err := e.fetch(ctx, p, src)
	if err != nil {
		return err
	}
	return e.download(ctx, sh, data)
}

// TagBlobReadPartial implements omnicas.TagEngine. A negative length reads
// to the end of the blob.
func (e *Engine) TagBlobReadPartial(ctx context.Context, h, sh omnicas.Handle, offset, length, opts int64) error {
	e.clearLastError()
	p, src, err := e.blobSourceOf(h)
	if err != nil {
		return err
	}
	size := src.ref.Size
	if length < 0 {
		length = size - offset
	}
	if offset < 0 || offset > size || length < 0 || offset+length > size {
		return e.fail(omnicas.ErrCodeOutOfBounds, "range [%d, %d) outside blob of %d bytes", offset, offset+length, size)
	}
	data, err := e.fetch(ctx, p, src)
	if err != nil {
		return err
	}
	return e.download(ctx, sh, data[offset:offset+length])
}

// TagBlobStatus implements omnicas.TagEngine.
func (e *Engine) TagBlobStatus(h omnicas.Handle) (omnicas.BlobStatus, error) {
	e.clearLastError()
	var (
		p   *pool
		ref *blobRef
	)
	status := omnicas.BlobNone
	err := e.withTag(h, func(cs *clipState, n *node) error {
		p = cs.pool
		switch {
		case n.Blob != nil:
			r := *n.Blob
			ref = &r
		case len(n.segments) > 0:
			status = omnicas.BlobOK
		}
		return nil
	})
	if err != nil || ref == nil {
		return status, err
	}
	if ref.Data != nil || ref.Size == 0 {
		return omnicas.BlobOK, nil
	}
	ok, err := p.primary().exists(context.Background(), e, prefixBlobs+ref.Addr, p.failover())
	if err != nil {
		return omnicas.BlobUnavailable, e.storeFailure(err, omnicas.ErrCodeServer)
	}
	if !ok {
		return omnicas.BlobUnavailable, nil
	}
	return omnicas.BlobOK, nil
}
