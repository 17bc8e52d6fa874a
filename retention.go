package omnicas

import (
	"log/slog"
	"sync"
	"time"
)

// RetentionClassCollection is a cursor over a cluster's retention classes.
type RetentionClassCollection struct {
	session *Session
	handle  Handle

	mu      sync.Mutex
	classes map[Handle]*RetentionClass
}

// RetentionClass is a named retention period configured on a cluster.
type RetentionClass struct {
	session    *Session
	collection *RetentionClassCollection
	handle     Handle
	name       string
	period     time.Duration
}

// Handle returns the engine handle, or zero after Close.
func (rc *RetentionClass) Handle() Handle { return rc.handle }

// Name returns the class name.
func (rc *RetentionClass) Name() string { return rc.name }

// Period returns the class retention period. It may be RetentionInfinite.
func (rc *RetentionClass) Period() time.Duration { return rc.period }

func (rc *RetentionClass) check() error {
	if rc == nil || rc.handle == 0 {
		return ErrClosed
	}
	return nil
}

// Close releases the class. Closing twice is a no-op.
func (rc *RetentionClass) Close() error {
	if rc == nil || rc.handle == 0 {
		return nil
	}
	h := rc.handle
	rc.handle = 0
	rc.session.registry.Remove(h)
	if rc.collection != nil {
		rc.collection.mu.Lock()
		delete(rc.collection.classes, h)
		rc.collection.mu.Unlock()
	}
	return translate("RetentionClass.Close", rc.session.engine.RetentionClassClose(h))
}

// Handle returns the engine handle, or zero after Close.
func (c *RetentionClassCollection) Handle() Handle { return c.handle }

func (c *RetentionClassCollection) check() error {
	if c == nil || c.handle == 0 {
		return ErrClosed
	}
	return nil
}

// Close releases the collection and any classes still open through it.
func (c *RetentionClassCollection) Close() error {
	if c == nil || c.handle == 0 {
		return nil
	}

	c.mu.Lock()
	open := make([]*RetentionClass, 0, len(c.classes))
	for _, rc := range c.classes {
		open = append(open, rc)
	}
	c.mu.Unlock()
	for _, rc := range open {
		closeLogged(c.session.logger, "retention class", rc)
	}

	h := c.handle
	c.handle = 0
	c.session.registry.Remove(h)

	err := c.session.engine.RetentionContextClose(h)
	if err != nil {
		c.session.logger.Debug("retention context close failed", slog.Uint64("handle", uint64(h)), slog.Any("error", err))
	}
	return translate("RetentionClassCollection.Close", err)
}

// Len returns the number of classes.
func (c *RetentionClassCollection) Len() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	n, err := c.session.engine.RetentionContextNumClasses(c.handle)
	return n, translate("RetentionClassCollection.Len", err)
}

// First moves to the first class. It returns nil for an empty collection.
func (c *RetentionClassCollection) First() (*RetentionClass, error) {
	return c.move("RetentionClassCollection.First", c.session.engine.RetentionContextFirst)
}

// Last moves to the last class.
func (c *RetentionClassCollection) Last() (*RetentionClass, error) {
	return c.move("RetentionClassCollection.Last", c.session.engine.RetentionContextLast)
}

// Next moves to the following class, or returns nil past the end.
func (c *RetentionClassCollection) Next() (*RetentionClass, error) {
	return c.move("RetentionClassCollection.Next", c.session.engine.RetentionContextNext)
}

// Prev moves to the preceding class, or returns nil before the start.
func (c *RetentionClassCollection) Prev() (*RetentionClass, error) {
	return c.move("RetentionClassCollection.Prev", c.session.engine.RetentionContextPrev)
}

// Named returns the class called name, or nil if there is none.
func (c *RetentionClassCollection) Named(name string) (*RetentionClass, error) {
	return c.move("RetentionClassCollection.Named", func(h Handle) (Handle, error) {
		return c.session.engine.RetentionContextNamed(h, name)
	})
}

// Validate reports whether a class called name exists.
func (c *RetentionClassCollection) Validate(name string) (bool, error) {
	rc, err := c.Named(name)
	return rc != nil, err
}

// All returns every class in order.
func (c *RetentionClassCollection) All() ([]*RetentionClass, error) {
	var out []*RetentionClass
	rc, err := c.First()
	for err == nil && rc != nil {
		out = append(out, rc)
		rc, err = c.Next()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RetentionClassCollection) move(op string, fn func(Handle) (Handle, error)) (*RetentionClass, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	h, err := fn(c.handle)
	if err != nil {
		return nil, translate(op, err)
	}
	if h == 0 {
		return nil, nil
	}
	if rc, err := LookupAs[*RetentionClass](c.session.registry, h); err == nil {
		return rc, nil
	}
	return c.wrap(op, h)
}

// discard closes a class handle that never got a wrapper.
func (c *RetentionClassCollection) discard(h Handle) {
	if err := c.session.engine.RetentionClassClose(h); err != nil {
		c.session.logger.Warn("retention class close failed", slog.Uint64("handle", uint64(h)), slog.Any("error", err))
	}
}

func (c *RetentionClassCollection) wrap(op string, h Handle) (*RetentionClass, error) {
	e := c.session.engine
	name, err := readString(func(buf []byte) (int, error) { return e.RetentionClassName(h, buf) })
	if err != nil {
		c.discard(h)
		return nil, translate(op, err)
	}
	secs, err := e.RetentionClassPeriod(h)
	if err != nil {
		c.discard(h)
		return nil, translate(op, err)
	}

	rc := &RetentionClass{
		session:    c.session,
		collection: c,
		handle:     h,
		name:       name,
		period:     secondsToPeriod(secs),
	}
	if err := c.session.register(h, rc, func() error { return e.RetentionClassClose(h) }); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.classes == nil {
		c.classes = make(map[Handle]*RetentionClass)
	}
	c.classes[h] = rc
	c.mu.Unlock()
	return rc, nil
}
