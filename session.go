package omnicas

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/grokify/mogo/log/slogutil"
)

// Session owns an engine, the handle registry of every wrapper created
// through it, and a cache of shared pools.
type Session struct {
	engine   Engine
	registry *Registry
	logger   *slog.Logger

	mu     sync.Mutex
	shared map[string]*Pool
	closed bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger. The default discards everything.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry makes the session use r instead of a private registry.
func WithRegistry(r *Registry) SessionOption {
	return func(s *Session) {
		if r != nil {
			s.registry = r
		}
	}
}

// NewSession wraps engine. The session takes ownership of the engine and
// closes it in Close.
func NewSession(engine Engine, opts ...SessionOption) *Session {
	s := &Session{
		engine:   engine,
		registry: NewRegistry(),
		logger:   slogutil.Null(),
		shared:   make(map[string]*Pool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates the named engine and a session over it.
func Open(engineName string, config map[string]string, opts ...SessionOption) (*Session, error) {
	engine, err := OpenEngine(engineName, config)
	if err != nil {
		return nil, err
	}
	return NewSession(engine, opts...), nil
}

// Engine returns the underlying engine.
func (s *Session) Engine() Engine { return s.engine }

// Registry returns the session's handle registry.
func (s *Session) Registry() *Registry { return s.registry }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// SDKVersion returns the engine library version.
func (s *Session) SDKVersion() (string, error) {
	v, err := readString(s.engine.SDKVersion)
	return v, translate("Session.SDKVersion", err)
}

// SetGlobalOption sets a process-level option such as GlobalOptionRetryLimit.
func (s *Session) SetGlobalOption(name string, value int64) error {
	return translate("Session.SetGlobalOption", s.engine.SetGlobalOption(name, value))
}

// GlobalOption returns a process-level option.
func (s *Session) GlobalOption(name string) (int64, error) {
	v, err := s.engine.GlobalOption(name)
	return v, translate("Session.GlobalOption", err)
}

// RegisterApplication records the calling application with the engine.
func (s *Session) RegisterApplication(name, version string) error {
	return translate("Session.RegisterApplication", s.engine.RegisterApplication(name, version))
}

// LastError returns the engine's last error code.
func (s *Session) LastError() ErrorCode {
	return s.engine.LastError()
}

// LastErrorInfo returns the engine's last error record.
func (s *Session) LastErrorInfo() ErrorInfo {
	return s.engine.LastErrorInfo()
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// OpenPool connects to the clusters named by conn, for example
// "10.0.0.1,10.0.0.2?name=archive".
func (s *Session) OpenPool(ctx context.Context, conn string) (*Pool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	h, err := s.engine.PoolOpen(ctx, conn)
	if err != nil {
		return nil, translate("Session.OpenPool", err)
	}

	p := &Pool{session: s, handle: h, conn: conn}
	if err := s.register(h, p, func() error { return s.engine.PoolClose(h) }); err != nil {
		return nil, err
	}
	s.logger.Debug("pool opened", slog.String("conn", conn), slog.Uint64("handle", uint64(h)))
	return p, nil
}

// SharedPool returns the cached pool for conn, opening it on first use.
func (s *Session) SharedPool(ctx context.Context, conn string) (*Pool, error) {
	s.mu.Lock()
	if p, ok := s.shared[conn]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	p, err := s.OpenPool(ctx, conn)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.shared[conn]; ok {
		s.mu.Unlock()
		// Lost a race with another opener.
		closeLogged(s.logger, "pool", p)
		return existing, nil
	}
	p.shared = true
	s.shared[conn] = p
	s.mu.Unlock()
	return p, nil
}

// ReleaseSharedPool closes and forgets the cached pool for conn.
func (s *Session) ReleaseSharedPool(conn string) error {
	s.mu.Lock()
	p, ok := s.shared[conn]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Close()
}

func (s *Session) forgetShared(p *Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shared[p.conn] == p {
		delete(s.shared, p.conn)
	}
}

// register records a new wrapper, closing the native handle when the
// registry refuses it.
func (s *Session) register(h Handle, obj any, closeNative func() error) error {
	if err := s.registry.Register(h, obj); err != nil {
		if cerr := closeNative(); cerr != nil {
			s.logger.Warn("close after failed registration", slog.Uint64("handle", uint64(h)), slog.Any("error", cerr))
		}
		return err
	}
	return nil
}

// LookupPool returns the live Pool wrapper for h.
func (s *Session) LookupPool(h Handle) (*Pool, error) { return LookupAs[*Pool](s.registry, h) }

// LookupClip returns the live Clip wrapper for h.
func (s *Session) LookupClip(h Handle) (*Clip, error) { return LookupAs[*Clip](s.registry, h) }

// LookupTag returns the live Tag wrapper for h.
func (s *Session) LookupTag(h Handle) (*Tag, error) { return LookupAs[*Tag](s.registry, h) }

// LookupStream returns the live Stream wrapper for h.
func (s *Session) LookupStream(h Handle) (*Stream, error) { return LookupAs[*Stream](s.registry, h) }

// Close closes every wrapper still registered, newest first, then the
// engine. Wrapper close failures are logged, not returned.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	handles := s.registry.Handles()
	slices.Reverse(handles)

	var leaked int
	for _, h := range handles {
		obj, err := s.registry.Lookup(h)
		if err != nil {
			continue
		}
		c, ok := obj.(io.Closer)
		if !ok {
			continue
		}
		leaked++
		if err := c.Close(); err != nil {
			s.logger.Warn("close failed during session teardown",
				slog.Uint64("handle", uint64(h)), slog.Any("error", err))
		}
	}
	if leaked > 0 {
		s.logger.Debug("session closed open objects", slog.Int("count", leaked))
	}

	return translate("Session.Close", s.engine.Close())
}

// closer is implemented by every wrapper.
type closer interface {
	Close() error
}

func closeLogged(logger *slog.Logger, what string, c closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && !errors.Is(err, ErrClosed) {
		logger.Warn("close failed", slog.String("object", what), slog.Any("error", err))
	}
}
