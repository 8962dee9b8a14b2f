package runner

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// signalWatcher turns SIGINT and SIGTERM into shutdown requests.
type signalWatcher struct {
	ch   chan os.Signal
	done chan struct{}
}

func watchSignals(logger *slog.Logger, shutdown func()) *signalWatcher {
	w := &signalWatcher{
		ch:   make(chan os.Signal, 4),
		done: make(chan struct{}),
	}
	signal.Notify(w.ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-w.ch:
				logger.Info("received signal", "signal", sig.String())
				shutdown()
			case <-w.done:
				return
			}
		}
	}()
	return w
}

// Stop deregisters the handlers and ends the watcher goroutine.
func (w *signalWatcher) Stop() {
	signal.Stop(w.ch)
	close(w.done)
}
