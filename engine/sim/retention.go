package sim

import (
	"slices"
	"sync"
	"time"

	"github.com/grokify/omnicas"
)

// Hold limits.
const (
	maxHolds     = 100
	maxHoldIDLen = 64
)

// retentionContext iterates the retention classes of a pool's primary
// cluster.
type retentionContext struct {
	mu      sync.Mutex
	classes []RetentionClassConfig
	cursor  int
	handles map[int]omnicas.Handle
}

// retentionClass is an open class of a retentionContext.
type retentionClass struct {
	ctx    *retentionContext
	index  int
	name   string
	period int64
}

// PoolRetentionClassContext implements omnicas.RetentionEngine.
func (e *Engine) PoolRetentionClassContext(ph omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, ph)
	if err != nil {
		return 0, err
	}
	rc := &retentionContext{
		classes: slices.Clone(p.primary().config.RetentionClasses),
		cursor:  -1,
		handles: make(map[int]omnicas.Handle),
	}
	return e.alloc(rc), nil
}

// RetentionContextClose implements omnicas.RetentionEngine. Classes opened
// from the context are closed too.
func (e *Engine) RetentionContextClose(h omnicas.Handle) error {
	e.clearLastError()
	rc, err := lookup[*retentionContext](e, h)
	if err != nil {
		return err
	}
	rc.mu.Lock()
	for i, ch := range rc.handles {
		e.release(ch)
		delete(rc.handles, i)
	}
	rc.mu.Unlock()
	e.release(h)
	return nil
}

// RetentionContextNumClasses implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextNumClasses(h omnicas.Handle) (int, error) {
	e.clearLastError()
	rc, err := lookup[*retentionContext](e, h)
	if err != nil {
		return 0, err
	}
	return len(rc.classes), nil
}

// move positions the cursor with fn and returns the class there, or zero
// when fn leaves the range.
func (e *Engine) move(h omnicas.Handle, fn func(rc *retentionContext) int) (omnicas.Handle, error) {
	rc, err := lookup[*retentionContext](e, h)
	if err != nil {
		return 0, err
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()

	i := fn(rc)
	if i < 0 || i >= len(rc.classes) {
		return 0, nil
	}
	rc.cursor = i
	if ch, ok := rc.handles[i]; ok {
		return ch, nil
	}
	cfg := rc.classes[i]
	ch := e.alloc(&retentionClass{ctx: rc, index: i, name: cfg.Name, period: int64(cfg.Period / time.Second)})
	rc.handles[i] = ch
	return ch, nil
}

// RetentionContextFirst implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextFirst(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	return e.move(h, func(*retentionContext) int { return 0 })
}

// RetentionContextLast implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextLast(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	return e.move(h, func(rc *retentionContext) int { return len(rc.classes) - 1 })
}

// RetentionContextNext implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextNext(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	return e.move(h, func(rc *retentionContext) int { return rc.cursor + 1 })
}

// RetentionContextPrev implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextPrev(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	return e.move(h, func(rc *retentionContext) int {
		if rc.cursor < 0 {
			return -1
		}
		return rc.cursor - 1
	})
}

// RetentionContextNamed implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextNamed(h omnicas.Handle, name string) (omnicas.Handle, error) {
	e.clearLastError()
	return e.move(h, func(rc *retentionContext) int {
		return slices.IndexFunc(rc.classes, func(c RetentionClassConfig) bool { return c.Name == name })
	})
}

// RetentionClassName implements omnicas.RetentionEngine.
func (e *Engine) RetentionClassName(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	c, err := lookup[*retentionClass](e, h)
	if err != nil {
		return 0, err
	}
	return omnicas.CopyOut(c.name, buf), nil
}

// RetentionClassPeriod implements omnicas.RetentionEngine.
func (e *Engine) RetentionClassPeriod(h omnicas.Handle) (int64, error) {
	e.clearLastError()
	c, err := lookup[*retentionClass](e, h)
	if err != nil {
		return 0, err
	}
	return c.period, nil
}

// RetentionClassClose implements omnicas.RetentionEngine.
func (e *Engine) RetentionClassClose(h omnicas.Handle) error {
	e.clearLastError()
	c, err := lookup[*retentionClass](e, h)
	if err != nil {
		return err
	}
	c.ctx.mu.Lock()
	if c.ctx.handles[c.index] == h {
		delete(c.ctx.handles, c.index)
	}
	c.ctx.mu.Unlock()
	e.release(h)
	return nil
}

// checkPeriod applies the pool's retention governors to seconds. minAttr
// and maxAttr select the fixed or the variable limits.
func (e *Engine) checkPeriod(p *pool, seconds int64, minAttr, maxAttr string) error {
	if seconds < int64(omnicas.RetentionDefault) {
		return e.fail(omnicas.ErrCodeParamErr, "invalid retention period %d", seconds)
	}
	if !p.supported(omnicas.CapabilityCompliance, omnicas.AttrRetentionMinMax) || seconds == int64(omnicas.RetentionDefault) {
		return nil
	}
	lo := p.secondsCapability(omnicas.CapabilityRetention, minAttr, 0)
	hi := p.secondsCapability(omnicas.CapabilityRetention, maxAttr, int64(omnicas.RetentionInfinite))
	switch {
	case seconds == int64(omnicas.RetentionInfinite):
		if hi != int64(omnicas.RetentionInfinite) {
			return e.fail(omnicas.ErrCodeRetentionOutOfBounds, "infinite retention exceeds maximum %ds", hi)
		}
	case seconds < lo:
		return e.fail(omnicas.ErrCodeRetentionOutOfBounds, "retention %ds below minimum %ds", seconds, lo)
	case hi >= 0 && seconds > hi:
		return e.fail(omnicas.ErrCodeRetentionOutOfBounds, "retention %ds above maximum %ds", seconds, hi)
	}
	return nil
}

func (e *Engine) checkFixed(p *pool, seconds int64) error {
	return e.checkPeriod(p, seconds, omnicas.AttrFixedRetentionMin, omnicas.AttrFixedRetentionMax)
}

func (e *Engine) checkVariable(p *pool, seconds int64) error {
	return e.checkPeriod(p, seconds, omnicas.AttrVariableRetentionMin, omnicas.AttrVariableRetentionMax)
}

func (e *Engine) checkEBRSupported(p *pool) error {
	if !p.supported(omnicas.CapabilityCompliance, omnicas.AttrEventBasedRetention) {
		return e.fail(omnicas.ErrCodeOperationNotSupported, "event-based retention is not supported on pool %q", p.conn)
	}
	return nil
}

// ClipRetentionPeriod implements omnicas.ClipEngine.
func (e *Engine) ClipRetentionPeriod(h omnicas.Handle) (int64, error) {
	e.clearLastError()
	var s int64
	err := e.withClip(h, func(cs *clipState) error {
		s = cs.desc.Retention
		return nil
	})
	return s, err
}

// ClipSetRetentionPeriod implements omnicas.ClipEngine. Setting a period
// drops the retention class.
func (e *Engine) ClipSetRetentionPeriod(h omnicas.Handle, seconds int64) error {
	e.clearLastError()
	return e.mutate(h, func(cs *clipState) error {
		if err := e.checkFixed(cs.pool, seconds); err != nil {
			return err
		}
		cs.desc.Retention = seconds
		cs.desc.RetentionClass = ""
		return nil
	})
}

// ClipEnableEBRWithPeriod implements omnicas.ClipEngine.
func (e *Engine) ClipEnableEBRWithPeriod(h omnicas.Handle, seconds int64) error {
	e.clearLastError()
	return e.mutate(h, func(cs *clipState) error {
		if err := e.checkEBRSupported(cs.pool); err != nil {
			return err
		}
		if err := e.checkVariable(cs.pool, seconds); err != nil {
			return err
		}
		if cs.desc.EBR != nil && cs.desc.EBR.Event != 0 {
			return e.fail(omnicas.ErrCodeOperationNotAllowed, "event already triggered")
		}
		cs.desc.EBR = &ebr{Period: seconds}
		return nil
	})
}

// ClipEnableEBRWithClass implements omnicas.ClipEngine.
func (e *Engine) ClipEnableEBRWithClass(h omnicas.Handle, ch omnicas.Handle) error {
	e.clearLastError()
	class, err := lookup[*retentionClass](e, ch)
	if err != nil {
		return err
	}
	return e.mutate(h, func(cs *clipState) error {
		if err := e.checkEBRSupported(cs.pool); err != nil {
			return err
		}
		if cs.desc.EBR != nil && cs.desc.EBR.Event != 0 {
			return e.fail(omnicas.ErrCodeOperationNotAllowed, "event already triggered")
		}
		cs.desc.EBR = &ebr{Period: class.period, Class: class.name}
		return nil
	})
}

// ClipIsEBREnabled implements omnicas.ClipEngine.
func (e *Engine) ClipIsEBREnabled(h omnicas.Handle) (bool, error) {
	e.clearLastError()
	var on bool
	err := e.withClip(h, func(cs *clipState) error {
		on = cs.desc.EBR != nil
		return nil
	})
	return on, err
}

// trigger starts the event clock of an enabled clip. period and class
// replace the enabled values when set.
func (e *Engine) trigger(h omnicas.Handle, period *int64, class string) error {
	return e.mutate(h, func(cs *clipState) error {
		r := cs.desc.EBR
		if r == nil {
			return e.fail(omnicas.ErrCodeOperationNotAllowed, "event-based retention is not enabled")
		}
		if r.Event != 0 {
			return e.fail(omnicas.ErrCodeOperationNotAllowed, "event already triggered")
		}
		if period != nil {
			if err := e.checkVariable(cs.pool, *period); err != nil {
				return err
			}
			r.Period = *period
			r.Class = class
		}
		r.Event = e.clock.Now().Unix()
		return nil
	})
}

// ClipTriggerEBREvent implements omnicas.ClipEngine.
func (e *Engine) ClipTriggerEBREvent(h omnicas.Handle) error {
	e.clearLastError()
	return e.trigger(h, nil, "")
}

// ClipTriggerEBREventWithPeriod implements omnicas.ClipEngine.
func (e *Engine) ClipTriggerEBREventWithPeriod(h omnicas.Handle, seconds int64) error {
	e.clearLastError()
	return e.trigger(h, &seconds, "")
}

// ClipTriggerEBREventWithClass implements omnicas.ClipEngine.
func (e *Engine) ClipTriggerEBREventWithClass(h omnicas.Handle, ch omnicas.Handle) error {
	e.clearLastError()
	class, err := lookup[*retentionClass](e, ch)
	if err != nil {
		return err
	}
	return e.trigger(h, &class.period, class.name)
}

// ClipEBRPeriod implements omnicas.ClipEngine.
func (e *Engine) ClipEBRPeriod(h omnicas.Handle) (int64, error) {
	e.clearLastError()
	var s int64
	err := e.withClip(h, func(cs *clipState) error {
		if cs.desc.EBR != nil {
			s = cs.desc.EBR.Period
		}
		return nil
	})
	return s, err
}

// ClipEBRClassName implements omnicas.ClipEngine.
func (e *Engine) ClipEBRClassName(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	return e.clipString(h, buf, func(cs *clipState) (string, error) {
		if cs.desc.EBR == nil {
			return "", nil
		}
		return cs.desc.EBR.Class, nil
	})
}

// ClipEBREventTime implements omnicas.ClipEngine. It is empty until the
// event is triggered.
func (e *Engine) ClipEBREventTime(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	return e.clipString(h, buf, func(cs *clipState) (string, error) {
		if cs.desc.EBR == nil || cs.desc.EBR.Event == 0 {
			return "", nil
		}
		return omnicas.FormatClusterTime(time.Unix(cs.desc.EBR.Event, 0)), nil
	})
}

// ClipSetRetentionHold implements omnicas.ClipEngine.
func (e *Engine) ClipSetRetentionHold(h omnicas.Handle, on bool, id string) error {
	e.clearLastError()
	if id == "" || len(id) > maxHoldIDLen {
		return e.fail(omnicas.ErrCodeParamErr, "hold id must be 1 to %d bytes", maxHoldIDLen)
	}
	return e.mutate(h, func(cs *clipState) error {
		p := cs.pool
		if !p.supported(omnicas.CapabilityCompliance, omnicas.AttrRetentionHold) {
			return e.fail(omnicas.ErrCodeOperationNotSupported, "retention holds are not supported on pool %q", p.conn)
		}
		if err := e.checkAllowed(p, omnicas.CapabilityRetentionHold); err != nil {
			return err
		}

		i := slices.Index(cs.desc.Holds, id)
		switch {
		case on && i >= 0:
			return nil
		case on:
			if len(cs.desc.Holds) >= maxHolds {
				return e.fail(omnicas.ErrCodeParamErr, "clip already has %d holds", maxHolds)
			}
			cs.desc.Holds = append(cs.desc.Holds, id)
		case i >= 0:
			cs.desc.Holds = slices.Delete(cs.desc.Holds, i, i+1)
		default:
			return e.fail(omnicas.ErrCodeParamErr, "clip has no hold %q", id)
		}
		return nil
	})
}

// ClipRetentionHold implements omnicas.ClipEngine.
func (e *Engine) ClipRetentionHold(h omnicas.Handle) (bool, error) {
	e.clearLastError()
	var held bool
	err := e.withClip(h, func(cs *clipState) error {
		held = len(cs.desc.Holds) > 0
		return nil
	})
	return held, err
}

// ClipRetentionClassName implements omnicas.ClipEngine.
func (e *Engine) ClipRetentionClassName(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	return e.clipString(h, buf, func(cs *clipState) (string, error) { return cs.desc.RetentionClass, nil })
}

// ClipSetRetentionClass implements omnicas.ClipEngine. The class period
// becomes the fixed retention period.
func (e *Engine) ClipSetRetentionClass(h omnicas.Handle, ch omnicas.Handle) error {
	e.clearLastError()
	class, err := lookup[*retentionClass](e, ch)
	if err != nil {
		return err
	}
	return e.mutate(h, func(cs *clipState) error {
		if err := e.checkFixed(cs.pool, class.period); err != nil {
			return err
		}
		cs.desc.RetentionClass = class.name
		cs.desc.Retention = class.period
		return nil
	})
}

// ClipRemoveRetentionClass implements omnicas.ClipEngine. Retention falls
// back to the pool default.
func (e *Engine) ClipRemoveRetentionClass(h omnicas.Handle) error {
	e.clearLastError()
	return e.mutate(h, func(cs *clipState) error {
		if cs.desc.RetentionClass == "" {
			return e.fail(omnicas.ErrCodeAttrNotFound, "clip has no retention class")
		}
		cs.desc.RetentionClass = ""
		cs.desc.Retention = int64(omnicas.RetentionDefault)
		return nil
	})
}

// ClipValidateRetentionClass implements omnicas.ClipEngine. A clip without
// a class is valid.
func (e *Engine) ClipValidateRetentionClass(ctxh omnicas.Handle, h omnicas.Handle) (bool, error) {
	e.clearLastError()
	rc, err := lookup[*retentionContext](e, ctxh)
	if err != nil {
		return false, err
	}
	var name string
	err = e.withClip(h, func(cs *clipState) error {
		name = cs.desc.RetentionClass
		return nil
	})
	if err != nil {
		return false, err
	}
	if name == "" {
		return true, nil
	}
	return slices.ContainsFunc(rc.classes, func(c RetentionClassConfig) bool { return c.Name == name }), nil
}
