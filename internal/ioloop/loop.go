// Package ioloop is a single-goroutine event loop over epoll.
//
// A Loop multiplexes four kinds of work into one dispatch goroutine:
// descriptor readiness handlers, one-shot timeouts, periodic timeouts and
// callbacks posted from other goroutines. Every callback runs on the
// goroutine that called Run, never concurrently with another callback.
//
// Registration, scheduling and cancellation may be called from any
// goroutine, including from inside a callback. Mutations that arrive while
// the loop is iterating a table are recorded and applied once the pass
// over that table finishes, so a callback may unregister its own
// descriptor or cancel a sibling timeout without disturbing the pass.
//
// Kernel failures while arming timers, changing epoll interest or reading
// notification counters are fatal: they are returned from Run (or from the
// call that triggered them) and the loop makes no attempt to recover.
package ioloop

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/kahiteam/ioloop/internal/epoll"
	"github.com/kahiteam/ioloop/internal/notify"
)

// Loop is an event loop. The zero value is not usable; call New.
type Loop struct {
	// mu guards everything up to inboxMu. It is never held while a
	// callback runs.
	mu     sync.Mutex
	poller *epoll.Poller

	slots        []handlerSlot
	free         []uint32
	byFD         map[int]uint32
	userHandlers int
	dispatching  bool
	deferred     []uint64 // tags of handlers unregistered mid-dispatch

	oneshot            *notify.Timer
	timeouts           []*timeout
	pendingTimeouts    []*timeout
	processingTimeouts bool
	lastTimeoutID      TimeoutID

	periodicTimer      *notify.Timer
	periodic           []*periodicTimeout
	pendingPeriodic    []*periodicTimeout
	processingPeriodic bool
	lastPeriodicID     PeriodicID

	inboxMu      sync.Mutex
	inbox        *queue.Queue
	draining     *queue.Queue // spare swapped with inbox on each drain
	inboxCounter *notify.Counter

	stopCounter *notify.Counter
	stopping    atomic.Bool
	running     atomic.Bool
	closed      atomic.Bool

	// fault is the first fatal error raised outside a dispatch pass, such
	// as a failed re-arm during cancellation. Run returns it.
	fault error

	events  []epoll.Event
	logger  *slog.Logger
	metrics Metrics
}

// New creates a loop and the kernel objects it owns.
func New(opts ...Option) (l *Loop, err error) {
	o := buildOptions(opts)
	l = &Loop{
		byFD:     make(map[int]uint32),
		inbox:    queue.New(),
		draining: queue.New(),
		events:   make([]epoll.Event, o.maxEvents),
		logger:   o.logger,
		metrics:  o.metrics,
	}
	defer func() {
		if err != nil {
			l.release()
		}
	}()

	if l.poller, err = epoll.New(); err != nil {
		return nil, fmt.Errorf("ioloop: %w", err)
	}
	if l.stopCounter, err = notify.NewCounter(true); err != nil {
		return nil, fmt.Errorf("ioloop: stop notifier: %w", err)
	}
	if l.inboxCounter, err = notify.NewCounter(true); err != nil {
		return nil, fmt.Errorf("ioloop: inbox notifier: %w", err)
	}
	if l.oneshot, err = notify.NewTimer(); err != nil {
		return nil, fmt.Errorf("ioloop: timeout timer: %w", err)
	}
	if l.periodicTimer, err = notify.NewTimer(); err != nil {
		return nil, fmt.Errorf("ioloop: periodic timer: %w", err)
	}

	for _, sys := range []struct {
		fd int
		fn func() error
	}{
		{l.stopCounter.Fd(), l.processStop},
		{l.inboxCounter.Fd(), l.drainInbox},
		{l.oneshot.Fd(), l.processTimeouts},
		{l.periodicTimer.Fd(), l.processPeriodic},
	} {
		if err = l.registerSystem(sys.fd, sys.fn); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Run dispatches events until Stop is called or a fatal error occurs.
// Only one Run may be active at a time.
func (l *Loop) Run() error {
	if l.closed.Load() {
		return ErrClosed
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)
	defer l.stopping.Store(false)

	l.logger.Debug("loop running")
	for !l.stopping.Load() {
		n, err := l.poller.Wait(l.events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			l.logger.Error("loop wait failed", "error", err)
			return fmt.Errorf("ioloop: %w", err)
		}
		if err := l.dispatch(n); err != nil {
			l.logger.Error("loop dispatch failed", "error", err)
			return err
		}
	}
	l.logger.Debug("loop stopped")
	return nil
}

// Stop asks Run to return. It takes effect once the current pass of
// callbacks finishes and is safe to call from any goroutine or callback.
// A Stop issued while Run is not active makes the next Run return without
// dispatching.
func (l *Loop) Stop() {
	l.stopping.Store(true)
	// Close flips closed under inboxMu before releasing the counter.
	l.inboxMu.Lock()
	defer l.inboxMu.Unlock()
	if l.closed.Load() {
		return
	}
	if err := l.stopCounter.Signal(); err != nil && !errors.Is(err, notify.ErrCounterFull) {
		// Run still observes the flag on its next wakeup.
		l.logger.Error("stop notify failed", "error", err)
	}
}

// Running reports whether Run is active.
func (l *Loop) Running() bool { return l.running.Load() }

// Close releases the loop's kernel objects. Registered descriptors are
// not closed; they belong to the caller.
func (l *Loop) Close() error {
	if l.running.Load() {
		return ErrRunning
	}
	l.inboxMu.Lock()
	if l.closed.Load() {
		l.inboxMu.Unlock()
		return nil
	}
	l.closed.Store(true)
	l.inboxMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.byFD)
	l.slots = nil
	l.free = nil
	l.timeouts = nil
	l.pendingTimeouts = nil
	l.periodic = nil
	l.pendingPeriodic = nil
	return l.release()
}

// Handlers returns the number of caller-registered descriptors.
func (l *Loop) Handlers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userHandlers
}

// Pending returns the number of scheduled one-shot and periodic timeouts,
// including ones buffered during a pass.
func (l *Loop) Pending() (timeouts, periodic int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingCounts()
}

func (l *Loop) pendingCounts() (timeouts, periodic int) {
	for _, t := range l.timeouts {
		if !t.removed {
			timeouts++
		}
	}
	for _, p := range l.periodic {
		if !p.removed {
			periodic++
		}
	}
	return timeouts + len(l.pendingTimeouts), periodic + len(l.pendingPeriodic)
}

func (l *Loop) processStop() error {
	if _, err := l.stopCounter.Consume(); err != nil {
		return fmt.Errorf("ioloop: stop notifier: %w", err)
	}
	return nil
}

// fail records a fatal error and wakes Run so it can return it. l.mu must
// be held.
func (l *Loop) fail(err error) {
	l.logger.Error("loop fault", "error", err)
	if l.fault == nil {
		l.fault = err
	}
	_ = l.stopCounter.Signal()
}

// callUnlocked runs cb with l.mu released and reacquires it afterwards,
// even if cb panics.
func (l *Loop) callUnlocked(cb func()) {
	l.mu.Unlock()
	defer l.mu.Lock()
	cb()
}

func (l *Loop) release() error {
	var errs []error
	if l.poller != nil {
		errs = append(errs, l.poller.Close())
	}
	if l.stopCounter != nil {
		errs = append(errs, l.stopCounter.Close())
	}
	if l.inboxCounter != nil {
		errs = append(errs, l.inboxCounter.Close())
	}
	if l.oneshot != nil {
		errs = append(errs, l.oneshot.Close())
	}
	if l.periodicTimer != nil {
		errs = append(errs, l.periodicTimer.Close())
	}
	return errors.Join(errs...)
}
