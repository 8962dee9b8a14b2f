package ioloop

import (
	"errors"
	"fmt"

	"github.com/kahiteam/ioloop/internal/notify"
)

// Post queues cb to run on the loop goroutine. It is safe to call from any
// goroutine. Each posted callback runs exactly once, in posting order, as
// long as the loop keeps running.
func (l *Loop) Post(cb func()) error {
	if cb == nil {
		return ErrNilCallback
	}
	l.inboxMu.Lock()
	defer l.inboxMu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}
	l.inbox.Add(cb)
	// A full counter already guarantees a wakeup.
	if err := l.inboxCounter.Signal(); err != nil && !errors.Is(err, notify.ErrCounterFull) {
		return fmt.Errorf("ioloop: post: %w", err)
	}
	return nil
}

// drainInbox runs every callback posted before it took the queue. Callbacks
// posted while it runs wait for the next wakeup. Runs with l.mu held.
func (l *Loop) drainInbox() error {
	if _, err := l.inboxCounter.Consume(); err != nil {
		return fmt.Errorf("ioloop: inbox notifier: %w", err)
	}

	l.inboxMu.Lock()
	batch := l.inbox
	l.inbox, l.draining = l.draining, batch
	l.inboxMu.Unlock()

	n := 0
	for batch.Length() > 0 {
		cb := batch.Remove().(func())
		n++
		l.callUnlocked(cb)
	}
	l.metrics.ObserveDispatch("inbox", n)
	return nil
}
