package sim

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/format/ndjson"
)

// clipState is an open clip. Its descriptor is only stored on ClipWrite.
type clipState struct {
	mu       sync.Mutex
	handle   omnicas.Handle
	pool     *pool
	poolH    omnicas.Handle
	id       string
	desc     *descriptor
	mode     omnicas.OpenMode
	modified bool

	// tags maps open nodes to their handles so navigation returns the same
	// handle for the same tag.
	tags map[*node]omnicas.Handle

	flat   []*node
	cursor int
}

// tagState is an open tag.
type tagState struct {
	clip *clipState
	node *node
}

func newClipState(p *pool, poolH omnicas.Handle, d *descriptor, mode omnicas.OpenMode) *clipState {
	cs := &clipState{
		pool:  p,
		poolH: poolH,
		desc:  d,
		mode:  mode,
		tags:  make(map[*node]omnicas.Handle),
	}
	if mode == omnicas.OpenFlat {
		d.Top.walk(func(n *node) {
			if n != d.Top {
				cs.flat = append(cs.flat, n)
			}
		})
	}
	return cs
}

// openClip issues the handle of cs.
func (e *Engine) openClip(cs *clipState) omnicas.Handle {
	cs.handle = e.alloc(cs)
	return cs.handle
}

// tagHandle returns the handle of n, allocating one on first use. The
// caller holds cs.mu.
func (e *Engine) tagHandle(cs *clipState, n *node) omnicas.Handle {
	if n == nil {
		return 0
	}
	if h, ok := cs.tags[n]; ok {
		return h
	}
	h := e.alloc(&tagState{clip: cs, node: n})
	cs.tags[n] = h
	return h
}

// withClip runs fn with the clip behind h locked.
func (e *Engine) withClip(h omnicas.Handle, fn func(cs *clipState) error) error {
	cs, err := lookup[*clipState](e, h)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return fn(cs)
}

// clipString serves a string output of the clip behind h.
func (e *Engine) clipString(h omnicas.Handle, buf []byte, fn func(cs *clipState) (string, error)) (int, error) {
	var n int
	err := e.withClip(h, func(cs *clipState) error {
		s, err := fn(cs)
		if err != nil {
			return err
		}
		n = omnicas.CopyOut(s, buf)
		return nil
	})
	return n, err
}

// mutate runs fn against the descriptor and marks the clip modified on
// success.
func (e *Engine) mutate(h omnicas.Handle, fn func(cs *clipState) error) error {
	return e.withClip(h, func(cs *clipState) error {
		if err := fn(cs); err != nil {
			return err
		}
		cs.modified = true
		return nil
	})
}

// ClipCreate implements omnicas.ClipEngine.
func (e *Engine) ClipCreate(ph omnicas.Handle, name string) (omnicas.Handle, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, ph)
	if err != nil {
		return 0, err
	}
	if err := e.checkAllowed(p, omnicas.CapabilityWrite); err != nil {
		return 0, err
	}
	d := &descriptor{
		Version:   descriptorVersion,
		Name:      name,
		Created:   e.clock.Now().Unix(),
		Pool:      p.primary().config.ID,
		Retention: int64(omnicas.RetentionDefault),
		Top:       &node{Name: topTagName},
	}
	cs := newClipState(p, ph, d, omnicas.OpenAsTree)
	cs.modified = true
	return e.openClip(cs), nil
}

// loadDescriptor reads and decodes the stored clip id.
func (e *Engine) loadDescriptor(ctx context.Context, p *pool, id string) (*descriptor, error) {
	if !validAddress(id) {
		return nil, e.fail(omnicas.ErrCodeParamErr, "invalid clip id %q", id)
	}
	data, err := p.primary().get(ctx, e, prefixClips+id, p.failover())
	if err != nil {
		return nil, e.storeFailure(err, omnicas.ErrCodeClipNotFound)
	}
	d, err := decodeDescriptor(data)
	if err != nil {
		return nil, e.fail(omnicas.ErrCodeProtocol, "clip %s: %v", id, err)
	}
	return d, nil
}

// ClipOpen implements omnicas.ClipEngine.
func (e *Engine) ClipOpen(ctx context.Context, ph omnicas.Handle, id string, mode omnicas.OpenMode) (omnicas.Handle, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, ph)
	if err != nil {
		return 0, err
	}
	if mode != omnicas.OpenAsTree && mode != omnicas.OpenFlat {
		return 0, e.fail(omnicas.ErrCodeParamErr, "invalid open mode %d", mode)
	}
	if err := e.checkAllowed(p, omnicas.CapabilityRead); err != nil {
		return 0, err
	}
	d, err := e.loadDescriptor(ctx, p, id)
	if err != nil {
		return 0, err
	}
	cs := newClipState(p, ph, d, mode)
	cs.id = id
	return e.openClip(cs), nil
}

// ClipRawOpen implements omnicas.ClipEngine. The imported descriptor must
// hash to id.
func (e *Engine) ClipRawOpen(ctx context.Context, ph omnicas.Handle, id string, sh omnicas.Handle, opts int64) (omnicas.Handle, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, ph)
	if err != nil {
		return 0, err
	}
	if !validAddress(id) {
		return 0, e.fail(omnicas.ErrCodeParamErr, "invalid clip id %q", id)
	}
	data, err := e.upload(ctx, sh)
	if err != nil {
		return 0, err
	}
	d, err := decodeDescriptor(data)
	if err != nil {
		return 0, e.fail(omnicas.ErrCodeProtocol, "raw clip %s: %v", id, err)
	}
	if got := clipAddress(data, d.Nonce); got != id {
		return 0, e.fail(omnicas.ErrCodeBlobIDMismatch, "raw clip hashes to %s, not %s", got, id)
	}
	cs := newClipState(p, ph, d, omnicas.OpenAsTree)
	cs.id = id
	cs.modified = true
	return e.openClip(cs), nil
}

// ClipClose implements omnicas.ClipEngine. Tags of the clip are closed too.
func (e *Engine) ClipClose(h omnicas.Handle) error {
	e.clearLastError()
	return e.withClip(h, func(cs *clipState) error {
		for n, th := range cs.tags {
			e.release(th)
			delete(cs.tags, n)
		}
		e.release(h)
		return nil
	})
}

// ClipExists implements omnicas.ClipEngine.
func (e *Engine) ClipExists(ctx context.Context, ph omnicas.Handle, id string) (bool, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, ph)
	if err != nil {
		return false, err
	}
	if err := e.checkAllowed(p, omnicas.CapabilityExist); err != nil {
		return false, err
	}
	if !validAddress(id) {
		return false, e.fail(omnicas.ErrCodeParamErr, "invalid clip id %q", id)
	}
	ok, err := p.primary().exists(ctx, e, prefixClips+id, p.failover())
	if err != nil {
		return false, e.storeFailure(err, omnicas.ErrCodeClipNotFound)
	}
	return ok, nil
}

// ClipDelete implements omnicas.ClipEngine.
func (e *Engine) ClipDelete(ctx context.Context, ph omnicas.Handle, id string) error {
	e.clearLastError()
	return e.deleteClip(ctx, ph, id, "", false)
}

// ClipAuditedDelete implements omnicas.ClipEngine.
func (e *Engine) ClipAuditedDelete(ctx context.Context, ph omnicas.Handle, id, reason string, opts int64) error {
	e.clearLastError()
	return e.deleteClip(ctx, ph, id, reason, opts&omnicas.OptionPrivilegedDelete != 0)
}

// reflection is the deletion record kept under reflections/.
type reflection struct {
	ClipID     string    `json:"clip_id"`
	Name       string    `json:"name,omitempty"`
	Pool       string    `json:"pool"`
	Cluster    string    `json:"cluster"`
	Created    time.Time `json:"created"`
	Deleted    time.Time `json:"deleted"`
	Reason     string    `json:"reason,omitempty"`
	Privileged bool      `json:"privileged,omitempty"`
}

func (e *Engine) deleteClip(ctx context.Context, ph omnicas.Handle, id, reason string, privileged bool) error {
	p, err := lookup[*pool](e, ph)
	if err != nil {
		return err
	}
	if err := e.checkAllowed(p, omnicas.CapabilityDelete); err != nil {
		return err
	}
	d, err := e.loadDescriptor(ctx, p, id)
	if err != nil {
		return err
	}
	if err := e.checkDeletable(p, d, privileged); err != nil {
		return err
	}

	c := p.primary()
	if err := c.remove(ctx, e, prefixClips+id); err != nil {
		return e.storeFailure(err, omnicas.ErrCodeClipNotFound)
	}
	markers, err := c.list(ctx, e, prefixIndex)
	if err != nil {
		return e.storeFailure(err, omnicas.ErrCodeServer)
	}
	for _, k := range markers {
		if strings.HasSuffix(k, "_"+id) {
			if err := c.remove(ctx, e, k); err != nil {
				e.logger.Warn("removing index marker failed", slog.String("key", k), slog.Any("error", err))
			}
		}
	}

	now := e.clock.Now()
	if logged, _ := p.capability(omnicas.CapabilityDeletionLogging, omnicas.AttrSupported); logged == omnicas.CapabilityTrue {
		rec := reflection{
			ClipID:     id,
			Name:       d.Name,
			Pool:       d.Pool,
			Cluster:    c.config.ID,
			Created:    time.Unix(d.Created, 0).UTC(),
			Deleted:    now.UTC(),
			Reason:     reason,
			Privileged: privileged,
		}
		var buf bytes.Buffer
		w := ndjson.NewWriter(nopCloser{&buf})
		if err := w.Encode(rec); err != nil {
			return e.fail(omnicas.ErrCodeSDKInternal, "encoding reflection: %v", err)
		}
		if err := w.Close(); err != nil {
			return e.fail(omnicas.ErrCodeSDKInternal, "encoding reflection: %v", err)
		}
		key := prefixReflections + itoa(now.UnixNano()) + "_" + id + ".ndjson"
		if err := c.put(ctx, e, key, buf.Bytes()); err != nil {
			return e.storeFailure(err, omnicas.ErrCodeServer)
		}
	}

	e.logger.Info("clip deleted",
		slog.String("id", id),
		slog.String("reason", reason),
		slog.Bool("privileged", privileged))
	return nil
}

// checkDeletable enforces holds and retention.
func (e *Engine) checkDeletable(p *pool, d *descriptor, privileged bool) error {
	if len(d.Holds) > 0 {
		return e.fail(omnicas.ErrCodeOnHold, "clip is on hold (%s)", strings.Join(d.Holds, ","))
	}

	now := e.clock.Now()
	var blocked string
	switch expiry, infinite := e.fixedExpiry(p, d); {
	case infinite:
		blocked = "infinite retention"
	case now.Before(expiry):
		blocked = "retention until " + omnicas.FormatClusterTime(expiry)
	}
	if blocked == "" && d.EBR != nil {
		switch {
		case d.EBR.Event == 0:
			blocked = "event-based retention not triggered"
		case d.EBR.Period < 0:
			blocked = "infinite event-based retention"
		case now.Before(time.Unix(d.EBR.Event+d.EBR.Period, 0)):
			blocked = "event-based retention until " + omnicas.FormatClusterTime(time.Unix(d.EBR.Event+d.EBR.Period, 0))
		}
	}
	if blocked == "" {
		return nil
	}
	if privileged {
		if err := e.checkAllowed(p, omnicas.CapabilityPrivilegedDelete); err != nil {
			return err
		}
		return nil
	}
	return e.fail(omnicas.ErrCodeRetentionNotExpired, "%s", blocked)
}

// fixedExpiry returns when the fixed retention of d ends.
func (e *Engine) fixedExpiry(p *pool, d *descriptor) (time.Time, bool) {
	period := d.Retention
	if period == int64(omnicas.RetentionDefault) {
		period = p.secondsCapability(omnicas.CapabilityRetention, omnicas.AttrRetentionDefault, 0)
	}
	if period == int64(omnicas.RetentionInfinite) {
		return time.Time{}, true
	}
	return time.Unix(d.Created+max(period, 0), 0), false
}

// ClipWrite implements omnicas.ClipEngine. Equal descriptors share one
// stored copy.
func (e *Engine) ClipWrite(ctx context.Context, h omnicas.Handle) error {
	e.clearLastError()
	return e.withClip(h, func(cs *clipState) error {
		p := cs.pool
		if err := e.checkAllowed(p, omnicas.CapabilityWrite); err != nil {
			return err
		}
		if err := e.flushPartials(ctx, cs); err != nil {
			return err
		}

		cs.desc.Nonce = ""
		if p.option(omnicas.PoolOptionCollisionAvoidance) != 0 {
			cs.desc.Nonce = uuid.NewString()
		}
		data, err := encodeDescriptor(cs.desc)
		if err != nil {
			return e.fail(omnicas.ErrCodeSDKInternal, "encoding clip: %v", err)
		}
		id := clipAddress(data, cs.desc.Nonce)

		c := p.primary()
		key := prefixClips + id
		found, err := c.exists(ctx, e, key, false)
		if err != nil {
			return e.storeFailure(err, omnicas.ErrCodeServer)
		}
		if !found {
			if err := c.put(ctx, e, key, data); err != nil {
				return e.storeFailure(err, omnicas.ErrCodeServer)
			}
			marker := prefixIndex + itoa(e.clock.Now().UnixNano()) + "_" + id
			if err := c.put(ctx, e, marker, nil); err != nil {
				return e.storeFailure(err, omnicas.ErrCodeServer)
			}
		}

		cs.id = id
		cs.modified = false
		e.logger.Debug("clip written",
			slog.String("id", id),
			slog.Int("bytes", len(data)),
			slog.Bool("existing", found))
		return nil
	})
}

// ClipRawRead implements omnicas.ClipEngine.
func (e *Engine) ClipRawRead(ctx context.Context, h omnicas.Handle, sh omnicas.Handle) error {
	e.clearLastError()
	var data []byte
	err := e.withClip(h, func(cs *clipState) error {
		var err error
		data, err = encodeDescriptor(cs.desc)
		if err != nil {
			return e.fail(omnicas.ErrCodeSDKInternal, "encoding clip: %v", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.download(ctx, sh, data)
}

// ClipPool implements omnicas.ClipEngine.
func (e *Engine) ClipPool(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	var ph omnicas.Handle
	err := e.withClip(h, func(cs *clipState) error {
		ph = cs.poolH
		return nil
	})
	return ph, err
}

// ClipTopTag implements omnicas.ClipEngine.
func (e *Engine) ClipTopTag(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	var th omnicas.Handle
	err := e.withClip(h, func(cs *clipState) error {
		th = e.tagHandle(cs, cs.desc.Top)
		return nil
	})
	return th, err
}

// ClipFetchNext implements omnicas.ClipEngine.
func (e *Engine) ClipFetchNext(ctx context.Context, h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	var th omnicas.Handle
	err := e.withClip(h, func(cs *clipState) error {
		if cs.mode != omnicas.OpenFlat {
			return e.fail(omnicas.ErrCodeOperationNotSupported, "clip is not open in flat mode")
		}
		for cs.cursor < len(cs.flat) {
			n := cs.flat[cs.cursor]
			cs.cursor++
			// Skip tags deleted since the clip was opened.
			if cs.desc.Top.contains(n) {
				th = e.tagHandle(cs, n)
				return nil
			}
		}
		return nil
	})
	return th, err
}

// ClipNumBlobs implements omnicas.ClipEngine.
func (e *Engine) ClipNumBlobs(h omnicas.Handle) (int, error) {
	e.clearLastError()
	var count int
	err := e.withClip(h, func(cs *clipState) error {
		cs.desc.Top.walk(func(n *node) {
			if n.Blob != nil || len(n.segments) > 0 {
				count++
			}
		})
		return nil
	})
	return count, err
}

// ClipNumTags implements omnicas.ClipEngine. The top tag is not counted.
func (e *Engine) ClipNumTags(h omnicas.Handle) (int, error) {
	e.clearLastError()
	var count int
	err := e.withClip(h, func(cs *clipState) error {
		cs.desc.Top.walk(func(*node) { count++ })
		count--
		return nil
	})
	return count, err
}

// ClipTotalSize implements omnicas.ClipEngine: the descriptor plus every
// blob.
func (e *Engine) ClipTotalSize(h omnicas.Handle) (int64, error) {
	e.clearLastError()
	var total int64
	err := e.withClip(h, func(cs *clipState) error {
		data, err := encodeDescriptor(cs.desc)
		if err != nil {
			return e.fail(omnicas.ErrCodeSDKInternal, "encoding clip: %v", err)
		}
		total = int64(len(data))
		cs.desc.Top.walk(func(n *node) {
			if n.Blob != nil && n.Blob.Data == nil {
				total += n.Blob.Size
			}
			for _, seg := range n.segments {
				total += int64(len(seg))
			}
		})
		return nil
	})
	return total, err
}

// ClipID implements omnicas.ClipEngine. An unwritten clip has no ID.
func (e *Engine) ClipID(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	return e.clipString(h, buf, func(cs *clipState) (string, error) { return cs.id, nil })
}

// ClipName implements omnicas.ClipEngine.
func (e *Engine) ClipName(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	return e.clipString(h, buf, func(cs *clipState) (string, error) { return cs.desc.Name, nil })
}

// ClipSetName implements omnicas.ClipEngine.
func (e *Engine) ClipSetName(h omnicas.Handle, name string) error {
	e.clearLastError()
	return e.mutate(h, func(cs *clipState) error {
		cs.desc.Name = name
		return nil
	})
}

// ClipCreationDate implements omnicas.ClipEngine.
func (e *Engine) ClipCreationDate(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	return e.clipString(h, buf, func(cs *clipState) (string, error) {
		return omnicas.FormatClusterTime(time.Unix(cs.desc.Created, 0)), nil
	})
}

// ClipIsModified implements omnicas.ClipEngine.
func (e *Engine) ClipIsModified(h omnicas.Handle) (bool, error) {
	e.clearLastError()
	var modified bool
	err := e.withClip(h, func(cs *clipState) error {
		modified = cs.modified
		return nil
	})
	return modified, err
}

// ClipSetDescriptionAttribute implements omnicas.ClipEngine.
func (e *Engine) ClipSetDescriptionAttribute(h omnicas.Handle, name, value string) error {
	e.clearLastError()
	if name == "" {
		return e.fail(omnicas.ErrCodeParamErr, "attribute name is empty")
	}
	return e.mutate(h, func(cs *clipState) error {
		cs.desc.Description = setAttr(cs.desc.Description, name, value)
		return nil
	})
}

// ClipRemoveDescriptionAttribute implements omnicas.ClipEngine.
func (e *Engine) ClipRemoveDescriptionAttribute(h omnicas.Handle, name string) error {
	e.clearLastError()
	return e.mutate(h, func(cs *clipState) error {
		var ok bool
		if cs.desc.Description, ok = removeAttr(cs.desc.Description, name); !ok {
			return e.fail(omnicas.ErrCodeAttrNotFound, "description attribute %q", name)
		}
		return nil
	})
}

// ClipDescriptionAttribute implements omnicas.ClipEngine.
func (e *Engine) ClipDescriptionAttribute(h omnicas.Handle, name string, buf []byte) (int, error) {
	e.clearLastError()
	return e.clipString(h, buf, func(cs *clipState) (string, error) {
		v, ok := getAttr(cs.desc.Description, name)
		if !ok {
			return "", e.fail(omnicas.ErrCodeAttrNotFound, "description attribute %q", name)
		}
		return v, nil
	})
}

// ClipNumDescriptionAttributes implements omnicas.ClipEngine.
func (e *Engine) ClipNumDescriptionAttributes(h omnicas.Handle) (int, error) {
	e.clearLastError()
	var n int
	err := e.withClip(h, func(cs *clipState) error {
		n = len(cs.desc.Description)
		return nil
	})
	return n, err
}

// ClipDescriptionAttributeAt implements omnicas.ClipEngine.
func (e *Engine) ClipDescriptionAttributeAt(h omnicas.Handle, index int, name, value []byte) (int, int, error) {
	e.clearLastError()
	var nl, vl int
	err := e.withClip(h, func(cs *clipState) error {
		var err error
		nl, vl, err = e.attrAt(cs.desc.Description, index, name, value)
		return err
	})
	return nl, vl, err
}

func (e *Engine) attrAt(attrs []attr, index int, name, value []byte) (int, int, error) {
	if index < 0 || index >= len(attrs) {
		return 0, 0, e.fail(omnicas.ErrCodeOutOfBounds, "attribute index %d of %d", index, len(attrs))
	}
	a := attrs[index]
	return omnicas.CopyOut(a.Name, name), omnicas.CopyOut(a.Value, value), nil
}

// CanonicalClipID implements omnicas.ClipEngine.
func (e *Engine) CanonicalClipID(id string, buf []byte) (int, error) {
	e.clearLastError()
	b, ok := canonical(id)
	if !ok {
		return 0, e.fail(omnicas.ErrCodeParamErr, "invalid clip id %q", id)
	}
	copy(buf, b)
	return len(b), nil
}

// StringClipID implements omnicas.ClipEngine.
func (e *Engine) StringClipID(b []byte, buf []byte) (int, error) {
	e.clearLastError()
	id, ok := fromCanonical(b)
	if !ok {
		return 0, e.fail(omnicas.ErrCodeParamErr, "canonical clip id must be %d bytes", canonicalSize)
	}
	return omnicas.CopyOut(id, buf), nil
}

// sortedSegments returns the sequence numbers of n's partial segments in
// order.
func sortedSegments(n *node) []int64 {
	seqs := make([]int64, 0, len(n.segments))
	for seq := range n.segments {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	return seqs
}
