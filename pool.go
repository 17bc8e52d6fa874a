package omnicas

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Pool is a connection to one or more clusters.
type Pool struct {
	session *Session
	handle  Handle
	conn    string
	shared  bool
}

// Handle returns the engine handle, or zero after Close.
func (p *Pool) Handle() Handle { return p.handle }

// ConnectionString returns the string the pool was opened with.
func (p *Pool) ConnectionString() string { return p.conn }

// Session returns the owning session.
func (p *Pool) Session() *Session { return p.session }

// Close releases the pool. Closing twice is a no-op.
func (p *Pool) Close() error {
	if p == nil || p.handle == 0 {
		return nil
	}
	h := p.handle
	p.handle = 0
	p.session.registry.Remove(h)
	if p.shared {
		p.session.forgetShared(p)
	}

	err := p.session.engine.PoolClose(h)
	if err != nil {
		p.session.logger.Debug("pool close failed", slog.String("conn", p.conn), slog.Any("error", err))
	} else {
		p.session.logger.Debug("pool closed", slog.String("conn", p.conn))
	}
	return translate("Pool.Close", err)
}

func (p *Pool) check() error {
	if p.handle == 0 {
		return ErrClosed
	}
	return nil
}

// SetOption sets a per-pool option such as PoolOptionTimeout.
func (p *Pool) SetOption(name string, value int64) error {
	if err := p.check(); err != nil {
		return err
	}
	return translate("Pool.SetOption", p.session.engine.PoolSetOption(p.handle, name, value))
}

// Option returns a per-pool option.
func (p *Pool) Option(name string) (int64, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	v, err := p.session.engine.PoolOption(p.handle, name)
	return v, translate("Pool.Option", err)
}

// Timeout returns the connection timeout.
func (p *Pool) Timeout() (time.Duration, error) {
	ms, err := p.Option(PoolOptionTimeout)
	return time.Duration(ms) * time.Millisecond, err
}

// SetTimeout sets the connection timeout, in whole milliseconds.
func (p *Pool) SetTimeout(d time.Duration) error {
	return p.SetOption(PoolOptionTimeout, d.Milliseconds())
}

// ClipBufferSize returns the size of the in-memory clip buffer in bytes.
func (p *Pool) ClipBufferSize() (int64, error) {
	return p.Option(PoolOptionClipBufferSize)
}

// SetClipBufferSize sets the in-memory clip buffer size.
func (p *Pool) SetClipBufferSize(n int64) error {
	return p.SetOption(PoolOptionClipBufferSize, n)
}

// PrefetchBufferSize returns the blob prefetch buffer size in bytes.
func (p *Pool) PrefetchBufferSize() (int64, error) {
	return p.Option(PoolOptionPrefetchBufferSize)
}

// SetPrefetchBufferSize sets the blob prefetch buffer size.
func (p *Pool) SetPrefetchBufferSize(n int64) error {
	return p.SetOption(PoolOptionPrefetchBufferSize, n)
}

// MultiClusterFailOver reports whether reads fall back to replicas.
func (p *Pool) MultiClusterFailOver() (bool, error) {
	v, err := p.Option(PoolOptionMultiClusterFailOver)
	return v != 0, err
}

// SetMultiClusterFailOver enables or disables replica failover.
func (p *Pool) SetMultiClusterFailOver(on bool) error {
	return p.SetOption(PoolOptionMultiClusterFailOver, boolOption(on))
}

// CollisionAvoidance reports whether clip IDs are randomized.
func (p *Pool) CollisionAvoidance() (bool, error) {
	v, err := p.Option(PoolOptionCollisionAvoidance)
	return v != 0, err
}

// SetCollisionAvoidance enables or disables randomized clip IDs.
func (p *Pool) SetCollisionAvoidance(on bool) error {
	return p.SetOption(PoolOptionCollisionAvoidance, boolOption(on))
}

func boolOption(on bool) int64 {
	if on {
		return 1
	}
	return 0
}

// Info describes the pool's primary cluster.
func (p *Pool) Info() (PoolInfo, error) {
	if err := p.check(); err != nil {
		return PoolInfo{}, err
	}
	info, err := p.session.engine.PoolInfo(p.handle)
	return info, translate("Pool.Info", err)
}

// Capability returns the value of a capability attribute, or "" when the
// cluster does not report it.
func (p *Pool) Capability(name, attr string) (string, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	v, err := readString(func(buf []byte) (int, error) {
		return p.session.engine.PoolCapability(p.handle, name, attr, buf)
	})
	if errors.Is(err, ErrCodeAttrNotFound) {
		return "", nil
	}
	return v, translate("Pool.Capability", err)
}

// ClusterTime returns the current time of the primary cluster.
func (p *Pool) ClusterTime() (time.Time, error) {
	if err := p.check(); err != nil {
		return time.Time{}, err
	}
	s, err := readString(func(buf []byte) (int, error) {
		return p.session.engine.PoolClusterTime(p.handle, buf)
	})
	if err != nil {
		return time.Time{}, translate("Pool.ClusterTime", err)
	}
	return parseTime("Pool.ClusterTime", s)
}

// ProfileClip returns the ID of the profile clip, or "" when none is set.
func (p *Pool) ProfileClip() (string, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	id, err := readString(func(buf []byte) (int, error) {
		return p.session.engine.PoolProfileClip(p.handle, buf)
	})
	if errors.Is(err, ErrCodeProfileClipNotFound) {
		return "", nil
	}
	return id, translate("Pool.ProfileClip", err)
}

// SetProfileClip sets the profile clip.
func (p *Pool) SetProfileClip(id string) error {
	if err := p.check(); err != nil {
		return err
	}
	return translate("Pool.SetProfileClip", p.session.engine.PoolSetProfileClip(p.handle, id))
}

// ClipExists reports whether the clip is stored in the pool.
func (p *Pool) ClipExists(ctx context.Context, id string) (bool, error) {
	if err := p.check(); err != nil {
		return false, err
	}
	ok, err := p.session.engine.ClipExists(ctx, p.handle, id)
	return ok, translate("Pool.ClipExists", err)
}

// ClipDelete deletes a clip whose retention has expired.
func (p *Pool) ClipDelete(ctx context.Context, id string) error {
	if err := p.check(); err != nil {
		return err
	}
	return translate("Pool.ClipDelete", p.session.engine.ClipDelete(ctx, p.handle, id))
}

// ClipAuditedDelete deletes a clip and records reason. With
// OptionPrivilegedDelete it may remove a clip still under retention.
func (p *Pool) ClipAuditedDelete(ctx context.Context, id, reason string, opts int64) error {
	if err := p.check(); err != nil {
		return err
	}
	err := p.session.engine.ClipAuditedDelete(ctx, p.handle, id, reason, opts)
	if err == nil {
		p.session.logger.Info("clip deleted",
			slog.String("id", id),
			slog.String("reason", reason),
			slog.Bool("privileged", opts&OptionPrivilegedDelete != 0))
	}
	return translate("Pool.ClipAuditedDelete", err)
}

// ClipCreate starts a new, unwritten clip.
func (p *Pool) ClipCreate(name string) (*Clip, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	h, err := p.session.engine.ClipCreate(p.handle, name)
	if err != nil {
		return nil, translate("Pool.ClipCreate", err)
	}
	return p.session.newClip(h, p)
}

// ClipOpen opens a stored clip.
func (p *Pool) ClipOpen(ctx context.Context, id string, mode OpenMode) (*Clip, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	h, err := p.session.engine.ClipOpen(ctx, p.handle, id, mode)
	if err != nil {
		return nil, translate("Pool.ClipOpen", err)
	}
	return p.session.newClip(h, p)
}

// ClipRawOpen imports a clip descriptor read from stream. The descriptor must
// hash to id.
func (p *Pool) ClipRawOpen(ctx context.Context, id string, stream *Stream, opts int64) (*Clip, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if stream == nil || stream.handle == 0 {
		return nil, &Error{Op: "Pool.ClipRawOpen", Code: ErrCodeParamErr, Class: ClassClient, Text: "stream is closed"}
	}
	h, err := p.session.engine.ClipRawOpen(ctx, p.handle, id, stream.handle, opts)
	if err != nil {
		return nil, translate("Pool.ClipRawOpen", err)
	}
	return p.session.newClip(h, p)
}

// CanonicalClipID converts a display clip ID to its canonical form.
func (p *Pool) CanonicalClipID(id string) ([]byte, error) {
	n, err := p.session.engine.CanonicalClipID(id, nil)
	if err != nil {
		return nil, translate("Pool.CanonicalClipID", err)
	}
	buf := make([]byte, n)
	if _, err := p.session.engine.CanonicalClipID(id, buf); err != nil {
		return nil, translate("Pool.CanonicalClipID", err)
	}
	return buf, nil
}

// StringClipID converts a canonical clip ID to its display form.
func (p *Pool) StringClipID(canonical []byte) (string, error) {
	s, err := readString(func(buf []byte) (int, error) {
		return p.session.engine.StringClipID(canonical, buf)
	})
	return s, translate("Pool.StringClipID", err)
}

// RetentionClasses returns the retention classes configured on the cluster.
// The collection must be closed.
func (p *Pool) RetentionClasses() (*RetentionClassCollection, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	h, err := p.session.engine.PoolRetentionClassContext(p.handle)
	if err != nil {
		return nil, translate("Pool.RetentionClasses", err)
	}
	rc := &RetentionClassCollection{session: p.session, handle: h}
	if err := p.session.register(h, rc, func() error { return p.session.engine.RetentionContextClose(h) }); err != nil {
		return nil, err
	}
	return rc, nil
}
