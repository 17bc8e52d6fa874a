package omnicas

import (
	"time"
)

// RetentionPeriod returns the clip's fixed retention period. The result may
// be RetentionInfinite or RetentionDefault.
func (c *Clip) RetentionPeriod() (time.Duration, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	s, err := c.session.engine.ClipRetentionPeriod(c.handle)
	if err != nil {
		return 0, translate("Clip.RetentionPeriod", err)
	}
	return secondsToPeriod(s), nil
}

// SetRetentionPeriod sets the fixed retention period in whole seconds.
// RetentionInfinite and RetentionDefault are accepted.
func (c *Clip) SetRetentionPeriod(d time.Duration) error {
	if err := c.check(); err != nil {
		return err
	}
	return translate("Clip.SetRetentionPeriod", c.session.engine.ClipSetRetentionPeriod(c.handle, periodToSeconds(d)))
}

// RetentionExpiry returns the time the fixed retention ends. Infinite
// retention ends at EndOfTime.
func (c *Clip) RetentionExpiry() (time.Time, error) {
	period, err := c.RetentionPeriod()
	if err != nil {
		return time.Time{}, err
	}
	if period == RetentionDefault {
		pool, err := c.Pool()
		if err != nil {
			return time.Time{}, err
		}
		if period, err = pool.RetentionDefault(); err != nil {
			return time.Time{}, err
		}
	}
	if period == RetentionInfinite {
		return EndOfTime, nil
	}

	created, err := c.CreationDate()
	if err != nil {
		return time.Time{}, err
	}
	return created.Add(period), nil
}

// SetRetentionExpiry sets the retention period so that it ends at t,
// measured from the current cluster time. A past t clears retention.
func (c *Clip) SetRetentionExpiry(t time.Time) error {
	pool, err := c.Pool()
	if err != nil {
		return err
	}
	now, err := pool.ClusterTime()
	if err != nil {
		return err
	}
	period := t.Sub(now)
	if period < time.Second {
		period = 0
	}
	return c.SetRetentionPeriod(period)
}

// EnableEBRWithPeriod enables event-based retention lasting d after the
// event.
func (c *Clip) EnableEBRWithPeriod(d time.Duration) error {
	if err := c.check(); err != nil {
		return err
	}
	return translate("Clip.EnableEBRWithPeriod", c.session.engine.ClipEnableEBRWithPeriod(c.handle, periodToSeconds(d)))
}

// EnableEBRWithClass enables event-based retention using rc's period.
func (c *Clip) EnableEBRWithClass(rc *RetentionClass) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := rc.check(); err != nil {
		return err
	}
	return translate("Clip.EnableEBRWithClass", c.session.engine.ClipEnableEBRWithClass(c.handle, rc.handle))
}

// IsEBREnabled reports whether the clip has event-based retention.
func (c *Clip) IsEBREnabled() (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	ok, err := c.session.engine.ClipIsEBREnabled(c.handle)
	return ok, translate("Clip.IsEBREnabled", err)
}

// TriggerEBREvent starts the event-based retention period.
func (c *Clip) TriggerEBREvent() error {
	if err := c.check(); err != nil {
		return err
	}
	return translate("Clip.TriggerEBREvent", c.session.engine.ClipTriggerEBREvent(c.handle))
}

// TriggerEBREventWithPeriod starts event-based retention with a new period.
func (c *Clip) TriggerEBREventWithPeriod(d time.Duration) error {
	if err := c.check(); err != nil {
		return err
	}
	return translate("Clip.TriggerEBREventWithPeriod", c.session.engine.ClipTriggerEBREventWithPeriod(c.handle, periodToSeconds(d)))
}

// TriggerEBREventWithClass starts event-based retention with rc's period.
func (c *Clip) TriggerEBREventWithClass(rc *RetentionClass) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := rc.check(); err != nil {
		return err
	}
	return translate("Clip.TriggerEBREventWithClass", c.session.engine.ClipTriggerEBREventWithClass(c.handle, rc.handle))
}

// EBRPeriod returns the event-based retention period.
func (c *Clip) EBRPeriod() (time.Duration, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	s, err := c.session.engine.ClipEBRPeriod(c.handle)
	if err != nil {
		return 0, translate("Clip.EBRPeriod", err)
	}
	return secondsToPeriod(s), nil
}

// EBRClassName returns the retention class used for event-based retention,
// or "".
func (c *Clip) EBRClassName() (string, error) {
	return c.str("Clip.EBRClassName", c.session.engine.ClipEBRClassName)
}

// EBREventTime returns when the event was triggered, or Epoch if it was
// not.
func (c *Clip) EBREventTime() (time.Time, error) {
	s, err := c.str("Clip.EBREventTime", c.session.engine.ClipEBREventTime)
	if err != nil {
		return time.Time{}, err
	}
	return parseTime("Clip.EBREventTime", s)
}

// EBRExpiry returns when event-based retention ends. It is Epoch while the
// event has not been triggered.
func (c *Clip) EBRExpiry() (time.Time, error) {
	event, err := c.EBREventTime()
	if err != nil {
		return time.Time{}, err
	}
	if event.Equal(Epoch) {
		return Epoch, nil
	}
	period, err := c.EBRPeriod()
	if err != nil {
		return time.Time{}, err
	}
	if period == RetentionInfinite {
		return EndOfTime, nil
	}
	return event.Add(period), nil
}

// SetRetentionHold places or lifts the hold called id.
func (c *Clip) SetRetentionHold(on bool, id string) error {
	if err := c.check(); err != nil {
		return err
	}
	return translate("Clip.SetRetentionHold", c.session.engine.ClipSetRetentionHold(c.handle, on, id))
}

// OnHold reports whether any hold is placed on the clip.
func (c *Clip) OnHold() (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	ok, err := c.session.engine.ClipRetentionHold(c.handle)
	return ok, translate("Clip.OnHold", err)
}

// RetentionClassName returns the clip's retention class, or "".
func (c *Clip) RetentionClassName() (string, error) {
	return c.str("Clip.RetentionClassName", c.session.engine.ClipRetentionClassName)
}

// SetRetentionClass assigns rc to the clip.
func (c *Clip) SetRetentionClass(rc *RetentionClass) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := rc.check(); err != nil {
		return err
	}
	return translate("Clip.SetRetentionClass", c.session.engine.ClipSetRetentionClass(c.handle, rc.handle))
}

// RemoveRetentionClass clears the clip's retention class.
func (c *Clip) RemoveRetentionClass() error {
	if err := c.check(); err != nil {
		return err
	}
	return translate("Clip.RemoveRetentionClass", c.session.engine.ClipRemoveRetentionClass(c.handle))
}

// ValidateRetentionClass reports whether the clip's retention class is one
// of classes. A nil classes uses the pool's current classes. A clip with no
// class is valid.
func (c *Clip) ValidateRetentionClass(classes *RetentionClassCollection) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	name, err := c.RetentionClassName()
	if err != nil || name == "" {
		return err == nil, err
	}

	if classes == nil {
		pool, err := c.Pool()
		if err != nil {
			return false, err
		}
		if classes, err = pool.RetentionClasses(); err != nil {
			return false, err
		}
		defer closeLogged(c.session.logger, "retention classes", classes)
	}
	if err := classes.check(); err != nil {
		return false, err
	}
	ok, err := c.session.engine.ClipValidateRetentionClass(classes.handle, c.handle)
	return ok, translate("Clip.ValidateRetentionClass", err)
}
