package ioloop

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/kahiteam/ioloop/internal/notify"
)

// TimeoutID identifies a one-shot timeout. IDs are never reused.
type TimeoutID uint64

type timeout struct {
	id       TimeoutID
	deadline time.Duration // monotonic, see notify.Now
	cb       func()
	removed  bool
}

// AfterFunc schedules cb to run once on the loop goroutine after d.
// A non-positive d makes cb due on the next timer pass.
func (l *Loop) AfterFunc(d time.Duration, cb func()) (TimeoutID, error) {
	return l.scheduleOnce(addDeadline(notify.Now(), d), cb)
}

// AtFunc schedules cb to run once at the wall-clock time t. The deadline is
// converted to the monotonic clock when scheduled, so later wall-clock
// adjustments do not move it.
func (l *Loop) AtFunc(t time.Time, cb func()) (TimeoutID, error) {
	return l.scheduleOnce(addDeadline(notify.Now(), time.Until(t)), cb)
}

// addDeadline returns base+d, saturating at math.MaxInt64 instead of
// wrapping to a deadline in the past. base is a monotonic reading and never
// negative.
func addDeadline(base, d time.Duration) time.Duration {
	if d > 0 && base > math.MaxInt64-d {
		return math.MaxInt64
	}
	return base + d
}

func (l *Loop) scheduleOnce(deadline time.Duration, cb func()) (TimeoutID, error) {
	if cb == nil {
		return 0, ErrNilCallback
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return 0, ErrClosed
	}

	l.lastTimeoutID++
	t := &timeout{id: l.lastTimeoutID, deadline: deadline, cb: cb}
	if l.processingTimeouts {
		l.pendingTimeouts = append(l.pendingTimeouts, t)
		return t.id, nil
	}
	if insertTimeout(&l.timeouts, t) == 0 {
		if err := l.oneshot.ArmAt(deadline); err != nil {
			l.timeouts = l.timeouts[1:]
			return 0, fmt.Errorf("ioloop: arm timeout: %w", err)
		}
	}
	l.publishPending()
	return t.id, nil
}

// CancelTimeout prevents a scheduled timeout from running. It reports
// whether the timeout was still pending; false means it already ran, was
// cancelled before, or never existed.
func (l *Loop) CancelTimeout(id TimeoutID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := slices.IndexFunc(l.pendingTimeouts, func(t *timeout) bool { return t.id == id }); i >= 0 {
		l.pendingTimeouts = slices.Delete(l.pendingTimeouts, i, i+1)
		l.logger.Debug("timeout cancelled", "id", id)
		return true
	}
	i := slices.IndexFunc(l.timeouts, func(t *timeout) bool { return t.id == id })
	if i < 0 || l.timeouts[i].removed {
		return false
	}
	l.logger.Debug("timeout cancelled", "id", id)
	if l.processingTimeouts {
		l.timeouts[i].removed = true
		return true
	}
	l.timeouts = slices.Delete(l.timeouts, i, i+1)
	if i == 0 {
		if err := l.rearmTimeouts(); err != nil {
			l.fail(err)
		}
	}
	l.publishPending()
	return true
}

// processTimeouts runs every due one-shot timeout. It is the handler of the
// one-shot timer and runs with l.mu held.
func (l *Loop) processTimeouts() (err error) {
	if _, err := l.oneshot.Consume(); err != nil {
		return fmt.Errorf("ioloop: timeout timer: %w", err)
	}
	l.processingTimeouts = true
	fired := 0
	defer func() {
		l.processingTimeouts = false
		l.timeouts = slices.DeleteFunc(l.timeouts, func(t *timeout) bool { return t.removed })
		for _, t := range l.pendingTimeouts {
			insertTimeout(&l.timeouts, t)
		}
		clear(l.pendingTimeouts)
		l.pendingTimeouts = l.pendingTimeouts[:0]
		if rerr := l.rearmTimeouts(); err == nil {
			err = rerr
		}
		l.metrics.ObserveDispatch("timeout", fired)
		l.publishPending()
	}()

	now := notify.Now()
	// l.timeouts is not resized while processingTimeouts is set.
	for _, t := range l.timeouts {
		if t.removed {
			continue
		}
		if t.deadline > now {
			break
		}
		// Marked before the call so the entry is swept even if cb panics
		// and a cancel from cb itself is a no-op.
		t.removed = true
		fired++
		l.callUnlocked(t.cb)
	}
	return nil
}

func (l *Loop) rearmTimeouts() error {
	var err error
	if len(l.timeouts) == 0 {
		err = l.oneshot.Disarm()
	} else {
		err = l.oneshot.ArmAt(l.timeouts[0].deadline)
	}
	if err != nil {
		return fmt.Errorf("ioloop: arm timeout: %w", err)
	}
	return nil
}

// insertTimeout places t after every entry with a deadline not later than
// its own and returns the index it landed at.
func insertTimeout(q *[]*timeout, t *timeout) int {
	i := sort.Search(len(*q), func(i int) bool { return (*q)[i].deadline > t.deadline })
	*q = slices.Insert(*q, i, t)
	return i
}

func (l *Loop) publishPending() {
	timeouts, periodic := l.pendingCounts()
	l.metrics.SetPending("timeout", timeouts)
	l.metrics.SetPending("periodic", periodic)
}
