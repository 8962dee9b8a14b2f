package ioloop

import (
	"fmt"
)

// HandlerFunc is called on the loop goroutine when a registered descriptor
// becomes ready. ev may include Hangup even if it was not requested.
type HandlerFunc func(fd int, ev Events)

// handlerSlot is one entry of the handler arena. Slots are recycled through
// the free list; gen changes on every release so a stale epoll tag never
// reaches a newer registration that happens to reuse the slot.
type handlerSlot struct {
	fd       int
	interest Events
	cb       HandlerFunc
	sys      func() error // internal notifier; runs with l.mu held
	gen      uint32
	live     bool
	removed  bool
}

func makeTag(idx, gen uint32) uint64 { return uint64(gen)<<32 | uint64(idx) }

func splitTag(tag uint64) (idx, gen uint32) { return uint32(tag), uint32(tag >> 32) }

// Register adds fd to the loop. cb runs on the loop goroutine each time fd
// is ready for any of the events in interest.
func (l *Loop) Register(fd int, interest Events, cb HandlerFunc) error {
	if cb == nil {
		return ErrNilCallback
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}

	if idx, ok := l.byFD[fd]; ok {
		if !l.slots[idx].removed {
			return ErrAlreadyRegistered
		}
		// Unregistered earlier in this pass and the number has been reused
		// (or re-registered); drop the old record now.
		if err := l.finalize(idx); err != nil {
			return err
		}
	}

	idx := l.allocSlot()
	s := &l.slots[idx]
	s.fd, s.interest, s.cb = fd, interest, cb
	if err := l.poller.Add(fd, interest.epoll(), makeTag(idx, s.gen)); err != nil {
		l.freeSlot(idx)
		return fmt.Errorf("ioloop: register fd %d: %w", fd, err)
	}
	l.byFD[fd] = idx
	l.userHandlers++
	l.metrics.SetHandlers(l.userHandlers)
	l.logger.Debug("handler registered", "fd", fd, "events", interest.String())
	return nil
}

// Modify replaces the interest set of a registered descriptor.
func (l *Loop) Modify(fd int, interest Events) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byFD[fd]
	if !ok || l.slots[idx].removed {
		return ErrNotRegistered
	}
	s := &l.slots[idx]
	if err := l.poller.Modify(fd, interest.epoll(), makeTag(idx, s.gen)); err != nil {
		return fmt.Errorf("ioloop: modify fd %d: %w", fd, err)
	}
	s.interest = interest
	return nil
}

// Unregister removes fd from the loop. It is a no-op for descriptors that
// are not registered. The descriptor may already be closed. When called
// while handlers are being dispatched the removal completes after the pass,
// but the handler is not called again either way.
func (l *Loop) Unregister(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byFD[fd]
	if !ok || l.slots[idx].removed {
		return nil
	}
	l.userHandlers--
	l.metrics.SetHandlers(l.userHandlers)
	l.logger.Debug("handler unregistered", "fd", fd, "deferred", l.dispatching)
	if l.dispatching {
		s := &l.slots[idx]
		s.removed = true
		l.deferred = append(l.deferred, makeTag(idx, s.gen))
		return nil
	}
	return l.finalize(idx)
}

func (l *Loop) registerSystem(fd int, fn func() error) error {
	idx := l.allocSlot()
	s := &l.slots[idx]
	s.fd, s.interest, s.sys = fd, Read, fn
	if err := l.poller.Add(fd, Read.epoll(), makeTag(idx, s.gen)); err != nil {
		l.freeSlot(idx)
		return fmt.Errorf("ioloop: register notifier: %w", err)
	}
	return nil
}

// lookup resolves an epoll tag to a live, non-removed slot.
func (l *Loop) lookup(tag uint64) *handlerSlot {
	idx, gen := splitTag(tag)
	if int(idx) >= len(l.slots) {
		return nil
	}
	s := &l.slots[idx]
	if !s.live || s.removed || s.gen != gen {
		return nil
	}
	return s
}

// dispatch runs one pass over the n ready events returned by the last wait.
func (l *Loop) dispatch(n int) (err error) {
	l.mu.Lock()
	l.dispatching = true
	defer func() {
		l.dispatching = false
		if ferr := l.finishDispatch(); err == nil {
			err = ferr
		}
		if err == nil && l.fault != nil {
			err, l.fault = l.fault, nil
		}
		l.mu.Unlock()
	}()

	handled := 0
	for _, ev := range l.events[:n] {
		s := l.lookup(ev.Tag)
		if s == nil {
			continue
		}
		if s.sys != nil {
			if err := s.sys(); err != nil {
				return err
			}
			continue
		}
		fd, cb, ready := s.fd, s.cb, eventsFromEpoll(ev.Events)
		handled++
		l.callUnlocked(func() { cb(fd, ready) })
	}
	l.metrics.ObserveDispatch("handler", handled)
	return nil
}

// finishDispatch applies removals deferred during the pass.
func (l *Loop) finishDispatch() error {
	var first error
	for _, tag := range l.deferred {
		idx, gen := splitTag(tag)
		s := &l.slots[idx]
		// Already finalized by a Register that reused the descriptor.
		if !s.live || !s.removed || s.gen != gen {
			continue
		}
		if err := l.finalize(idx); err != nil && first == nil {
			first = err
		}
	}
	l.deferred = l.deferred[:0]
	return first
}

func (l *Loop) finalize(idx uint32) error {
	fd := l.slots[idx].fd
	delete(l.byFD, fd)
	l.freeSlot(idx)
	if err := l.poller.RemoveIfPresent(fd); err != nil {
		return fmt.Errorf("ioloop: unregister fd %d: %w", fd, err)
	}
	return nil
}

func (l *Loop) allocSlot() uint32 {
	if n := len(l.free); n > 0 {
		idx := l.free[n-1]
		l.free = l.free[:n-1]
		l.slots[idx].live = true
		return idx
	}
	l.slots = append(l.slots, handlerSlot{live: true})
	return uint32(len(l.slots) - 1)
}

func (l *Loop) freeSlot(idx uint32) {
	s := &l.slots[idx]
	*s = handlerSlot{gen: s.gen + 1}
	l.free = append(l.free, idx)
}
