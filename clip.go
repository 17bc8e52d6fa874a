package omnicas

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Clip is a named collection of tags and blobs.
type Clip struct {
	session *Session
	pool    *Pool
	handle  Handle

	mu   sync.Mutex
	top  *Tag
	tags map[Handle]*Tag
}

func (s *Session) newClip(h Handle, pool *Pool) (*Clip, error) {
	c := &Clip{session: s, pool: pool, handle: h, tags: make(map[Handle]*Tag)}
	if err := s.register(h, c, func() error { return s.engine.ClipClose(h) }); err != nil {
		return nil, err
	}
	return c, nil
}

// clipFor returns the live wrapper for h or registers a new one. A zero
// handle yields nil.
func (s *Session) clipFor(h Handle, pool *Pool) (*Clip, error) {
	if h == 0 {
		return nil, nil
	}
	if c, err := LookupAs[*Clip](s.registry, h); err == nil {
		return c, nil
	}
	return s.newClip(h, pool)
}

// Handle returns the engine handle, or zero after Close.
func (c *Clip) Handle() Handle { return c.handle }

func (c *Clip) check() error {
	if c.handle == 0 {
		return ErrClosed
	}
	return nil
}

func (c *Clip) track(t *Tag) {
	c.mu.Lock()
	c.tags[t.handle] = t
	c.mu.Unlock()
}

func (c *Clip) untrack(h Handle) {
	c.mu.Lock()
	delete(c.tags, h)
	if c.top != nil && c.top.handle == 0 {
		c.top = nil
	}
	c.mu.Unlock()
}

// Close closes the clip's open tags, top tag first, then the clip. Unwritten
// changes are discarded.
func (c *Clip) Close() error {
	if c == nil || c.handle == 0 {
		return nil
	}

	c.mu.Lock()
	top := c.top
	open := make([]*Tag, 0, len(c.tags))
	for _, t := range c.tags {
		if t != top {
			open = append(open, t)
		}
	}
	c.mu.Unlock()

	slices.SortFunc(open, func(a, b *Tag) int { return cmp.Compare(b.handle, a.handle) })
	if top != nil {
		_ = top.Close()
	}
	for _, t := range open {
		_ = t.Close()
	}

	h := c.handle
	c.handle = 0
	c.session.registry.Remove(h)

	err := c.session.engine.ClipClose(h)
	if err != nil {
		c.session.logger.Debug("clip close failed", slog.Uint64("handle", uint64(h)), slog.Any("error", err))
	}
	return translate("Clip.Close", err)
}

// Pool returns the pool the clip belongs to.
func (c *Clip) Pool() (*Pool, error) {
	if c.pool != nil && c.pool.handle != 0 {
		return c.pool, nil
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	h, err := c.session.engine.ClipPool(c.handle)
	if err != nil {
		return nil, translate("Clip.Pool", err)
	}
	p, err := c.session.LookupPool(h)
	if err != nil {
		return nil, err
	}
	c.pool = p
	return p, nil
}

// TopTag returns the root of the clip's tag tree.
func (c *Clip) TopTag() (*Tag, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	h, err := c.session.engine.ClipTopTag(c.handle)
	if err != nil {
		return nil, translate("Clip.TopTag", err)
	}
	t, err := c.session.tagFor(h, c)
	if err != nil || t == nil {
		return t, err
	}
	c.mu.Lock()
	c.top = t
	c.mu.Unlock()
	return t, nil
}

// FetchNext returns the next tag of a clip opened with OpenFlat, or nil
// after the last one.
func (c *Clip) FetchNext(ctx context.Context) (*Tag, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	h, err := c.session.engine.ClipFetchNext(ctx, c.handle)
	if err != nil {
		return nil, translate("Clip.FetchNext", err)
	}
	return c.session.tagFor(h, c)
}

// NumBlobs returns the number of tags holding a blob.
func (c *Clip) NumBlobs() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	n, err := c.session.engine.ClipNumBlobs(c.handle)
	return n, translate("Clip.NumBlobs", err)
}

// NumTags returns the number of tags, excluding the top tag.
func (c *Clip) NumTags() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	n, err := c.session.engine.ClipNumTags(c.handle)
	return n, translate("Clip.NumTags", err)
}

// TotalSize returns the size of the descriptor plus all blobs.
func (c *Clip) TotalSize() (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	n, err := c.session.engine.ClipTotalSize(c.handle)
	return n, translate("Clip.TotalSize", err)
}

// ID returns the clip ID, or "" for a clip that was never written.
func (c *Clip) ID() (string, error) {
	return c.str("Clip.ID", c.session.engine.ClipID)
}

// Name returns the clip name.
func (c *Clip) Name() (string, error) {
	return c.str("Clip.Name", c.session.engine.ClipName)
}

// SetName renames the clip.
func (c *Clip) SetName(name string) error {
	if err := c.check(); err != nil {
		return err
	}
	return translate("Clip.SetName", c.session.engine.ClipSetName(c.handle, name))
}

// CreationDate returns the time the clip was created.
func (c *Clip) CreationDate() (time.Time, error) {
	s, err := c.str("Clip.CreationDate", c.session.engine.ClipCreationDate)
	if err != nil {
		return time.Time{}, err
	}
	return parseTime("Clip.CreationDate", s)
}

// IsModified reports whether the clip changed since it was opened.
func (c *Clip) IsModified() (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	ok, err := c.session.engine.ClipIsModified(c.handle)
	return ok, translate("Clip.IsModified", err)
}

// Write stores the clip and returns its new ID.
func (c *Clip) Write(ctx context.Context) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	if err := c.session.engine.ClipWrite(ctx, c.handle); err != nil {
		return "", translate("Clip.Write", err)
	}
	id, err := c.ID()
	if err != nil {
		return "", err
	}
	c.session.logger.Debug("clip written", slog.String("id", id))
	return id, nil
}

// RawRead writes the clip descriptor to stream.
func (c *Clip) RawRead(ctx context.Context, stream *Stream) error {
	if err := c.check(); err != nil {
		return err
	}
	if stream == nil || stream.handle == 0 {
		return ErrClosed
	}
	return translate("Clip.RawRead", c.session.engine.ClipRawRead(ctx, c.handle, stream.handle))
}

func (c *Clip) str(op string, fn func(Handle, []byte) (int, error)) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	s, err := readString(func(buf []byte) (int, error) { return fn(c.handle, buf) })
	return s, translate(op, err)
}

// SetDescriptionAttribute sets a clip description attribute.
func (c *Clip) SetDescriptionAttribute(name, value string) error {
	if err := c.check(); err != nil {
		return err
	}
	return translate("Clip.SetDescriptionAttribute", c.session.engine.ClipSetDescriptionAttribute(c.handle, name, value))
}

// RemoveDescriptionAttribute removes a clip description attribute.
func (c *Clip) RemoveDescriptionAttribute(name string) error {
	if err := c.check(); err != nil {
		return err
	}
	return translate("Clip.RemoveDescriptionAttribute", c.session.engine.ClipRemoveDescriptionAttribute(c.handle, name))
}

// DescriptionAttribute returns a clip description attribute.
func (c *Clip) DescriptionAttribute(name string) (string, error) {
	return c.str("Clip.DescriptionAttribute", func(h Handle, buf []byte) (int, error) {
		return c.session.engine.ClipDescriptionAttribute(h, name, buf)
	})
}

// NumDescriptionAttributes returns the number of description attributes.
func (c *Clip) NumDescriptionAttributes() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	n, err := c.session.engine.ClipNumDescriptionAttributes(c.handle)
	return n, translate("Clip.NumDescriptionAttributes", err)
}

// DescriptionAttributeAt returns the description attribute at index i.
func (c *Clip) DescriptionAttributeAt(i int) (Attribute, error) {
	if err := c.check(); err != nil {
		return Attribute{}, err
	}
	name, value, err := readPair(func(name, value []byte) (int, int, error) {
		return c.session.engine.ClipDescriptionAttributeAt(c.handle, i, name, value)
	})
	if err != nil {
		return Attribute{}, translate("Clip.DescriptionAttributeAt", err)
	}
	return Attribute{Name: name, Value: value}, nil
}

// DescriptionAttributes returns a snapshot of all description attributes.
func (c *Clip) DescriptionAttributes() (AttributeCollection, error) {
	n, err := c.NumDescriptionAttributes()
	if err != nil {
		return nil, err
	}
	attrs, err := readAttributes(n, func(i int, name, value []byte) (int, int, error) {
		return c.session.engine.ClipDescriptionAttributeAt(c.handle, i, name, value)
	})
	return attrs, translate("Clip.DescriptionAttributes", err)
}
