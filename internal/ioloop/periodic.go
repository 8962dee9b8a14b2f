package ioloop

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/kahiteam/ioloop/internal/notify"
)

// PeriodicID identifies a periodic timeout. IDs are never reused.
type PeriodicID uint64

type periodicTimeout struct {
	id       PeriodicID
	period   time.Duration
	deadline time.Duration
	cb       func()
	removed  bool
	fired    bool
}

// EveryFunc runs cb on the loop goroutine every period, starting one period
// from now. Fire times stay on the grid deadline+k*period: a pass that runs
// late skips the missed slots instead of shifting later fires.
func (l *Loop) EveryFunc(period time.Duration, cb func()) (PeriodicID, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}
	if cb == nil {
		return 0, ErrNilCallback
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return 0, ErrClosed
	}

	l.lastPeriodicID++
	p := &periodicTimeout{id: l.lastPeriodicID, period: period, deadline: addDeadline(notify.Now(), period), cb: cb}
	if l.processingPeriodic {
		l.pendingPeriodic = append(l.pendingPeriodic, p)
		return p.id, nil
	}
	if insertPeriodic(&l.periodic, p) == 0 {
		if err := l.periodicTimer.ArmAt(p.deadline); err != nil {
			l.periodic = l.periodic[1:]
			return 0, fmt.Errorf("ioloop: arm periodic: %w", err)
		}
	}
	l.publishPending()
	return p.id, nil
}

// CancelPeriodic stops a periodic timeout. It reports whether the entry was
// still scheduled. A callback may cancel its own entry.
func (l *Loop) CancelPeriodic(id PeriodicID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := slices.IndexFunc(l.pendingPeriodic, func(p *periodicTimeout) bool { return p.id == id }); i >= 0 {
		l.pendingPeriodic = slices.Delete(l.pendingPeriodic, i, i+1)
		l.logger.Debug("periodic cancelled", "id", id)
		return true
	}
	i := slices.IndexFunc(l.periodic, func(p *periodicTimeout) bool { return p.id == id })
	if i < 0 || l.periodic[i].removed {
		return false
	}
	l.logger.Debug("periodic cancelled", "id", id)
	if l.processingPeriodic {
		l.periodic[i].removed = true
		return true
	}
	l.periodic = slices.Delete(l.periodic, i, i+1)
	if i == 0 {
		if err := l.rearmPeriodic(); err != nil {
			l.fail(err)
		}
	}
	l.publishPending()
	return true
}

// processPeriodic runs every due periodic timeout and moves each one that
// fired to its next slot. Runs with l.mu held.
func (l *Loop) processPeriodic() (err error) {
	if _, err := l.periodicTimer.Consume(); err != nil {
		return fmt.Errorf("ioloop: periodic timer: %w", err)
	}
	l.processingPeriodic = true
	start := notify.Now()
	fired := 0
	defer func() {
		l.processingPeriodic = false
		l.periodic = slices.DeleteFunc(l.periodic, func(p *periodicTimeout) bool { return p.removed })
		for _, p := range l.periodic {
			if p.fired {
				p.deadline = nextDeadline(p.deadline, p.period, start)
				p.fired = false
			}
		}
		slices.SortStableFunc(l.periodic, func(a, b *periodicTimeout) int {
			return cmp.Compare(a.deadline, b.deadline)
		})
		for _, p := range l.pendingPeriodic {
			insertPeriodic(&l.periodic, p)
		}
		clear(l.pendingPeriodic)
		l.pendingPeriodic = l.pendingPeriodic[:0]
		if rerr := l.rearmPeriodic(); err == nil {
			err = rerr
		}
		l.metrics.ObserveDispatch("periodic", fired)
		l.publishPending()
	}()

	for _, p := range l.periodic {
		if p.removed {
			continue
		}
		if p.deadline > start {
			break
		}
		p.fired = true
		fired++
		l.callUnlocked(p.cb)
	}
	return nil
}

// nextDeadline returns the first slot on the grid deadline+k*period that
// lies strictly after now, for k >= 1. A slot past the end of the clock
// saturates at math.MaxInt64, which never fires.
func nextDeadline(deadline, period, now time.Duration) time.Duration {
	next := addDeadline(deadline, period)
	if next > now {
		return next
	}
	k := (now-deadline)/period + 1
	if k > (math.MaxInt64-deadline)/period {
		return math.MaxInt64
	}
	return deadline + k*period
}

func (l *Loop) rearmPeriodic() error {
	var err error
	if len(l.periodic) == 0 {
		err = l.periodicTimer.Disarm()
	} else {
		err = l.periodicTimer.ArmAt(l.periodic[0].deadline)
	}
	if err != nil {
		return fmt.Errorf("ioloop: arm periodic: %w", err)
	}
	return nil
}

func insertPeriodic(q *[]*periodicTimeout, p *periodicTimeout) int {
	i := sort.Search(len(*q), func(i int) bool { return (*q)[i].deadline > p.deadline })
	*q = slices.Insert(*q, i, p)
	return i
}
