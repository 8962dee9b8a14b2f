// Package runner starts the programs named in a config file on one event
// loop, captures their output and stops them on request.
package runner

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kahiteam/ioloop/internal/config"
	"github.com/kahiteam/ioloop/internal/events"
	"github.com/kahiteam/ioloop/internal/ioloop"
	"github.com/kahiteam/ioloop/internal/logging"
	"github.com/kahiteam/ioloop/internal/metrics"
	"github.com/kahiteam/ioloop/internal/subprocess"
)

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("runner: already run")

// Config configures a Runner. Logger, Metrics and Bus are optional.
type Config struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Bus     *events.Bus
}

// Result is the outcome for one program.
type Result struct {
	Program  string
	Pid      int
	Status   subprocess.Status
	Expected bool
	// Err is set when the program could not be started.
	Err error
}

// Runner owns the loop and every child it started. Apart from Shutdown
// and Results, its state is only touched from loop callbacks or from Run
// while the loop is not dispatching.
type Runner struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	bus     *events.Bus
	loop    *ioloop.Loop
	ran     atomic.Bool

	children []*child
	live     int
	shutting bool
	stopped  bool

	resultsMu sync.Mutex
	results   map[string]Result

	server *http.Server
}

// New builds a runner and its loop. Nothing is started until Run.
func New(cfg Config) (*Runner, error) {
	if cfg.Config == nil {
		return nil, errors.New("runner: no config")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	opts := []ioloop.Option{
		ioloop.WithLogger(logger.With("component", "loop")),
		ioloop.WithMaxEvents(cfg.Config.Runner.MaxEvents),
	}
	if cfg.Metrics != nil {
		opts = append(opts, ioloop.WithMetrics(cfg.Metrics))
	}
	loop, err := ioloop.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Runner{
		cfg:     cfg.Config,
		logger:  logger,
		metrics: cfg.Metrics,
		bus:     bus,
		loop:    loop,
		results: make(map[string]Result),
	}, nil
}

// Bus returns the runner's event bus.
func (r *Runner) Bus() *events.Bus { return r.bus }

// Run starts every program and blocks until all of them have been reaped.
// SIGINT and SIGTERM start a shutdown.
func (r *Runner) Run() (err error) {
	if !r.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	defer func() {
		if cerr := r.loop.Close(); err == nil {
			err = cerr
		}
	}()

	if err := r.startMetricsServer(); err != nil {
		return err
	}
	defer r.stopMetricsServer()

	sigs := watchSignals(r.logger, r.Shutdown)
	defer sigs.Stop()

	if iv := r.cfg.Runner.StatusInterval; iv > 0 {
		if _, err := r.loop.EveryFunc(time.Duration(iv)*time.Second, r.tick); err != nil {
			return fmt.Errorf("runner: %w", err)
		}
	}

	r.bus.Publish(events.Event{
		Type: events.RunnerStarted,
		Data: map[string]string{"programs": strconv.Itoa(len(r.cfg.Programs))},
	})
	r.logger.Info("runner starting", "programs", len(r.cfg.Programs))

	names := make([]string, 0, len(r.cfg.Programs))
	for name := range r.cfg.Programs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		r.start(name, r.cfg.Programs[name])
	}
	r.stopIfDone()

	err = r.loop.Run()
	if err != nil {
		r.logger.Error("loop failed", "error", err)
	}
	r.abandonAll()
	r.logger.Info("runner stopped")
	return err
}

// Shutdown asks every child to stop with its stopsignal, escalating to
// SIGKILL after stopwaitsecs. A second call kills whatever is left at
// once. Safe from any goroutine.
func (r *Runner) Shutdown() {
	if err := r.loop.Post(r.requestShutdown); err != nil && !errors.Is(err, ioloop.ErrClosed) {
		r.logger.Error("shutdown request failed", "error", err)
	}
}

// Results returns the outcome of every program, sorted by name.
func (r *Runner) Results() []Result {
	r.resultsMu.Lock()
	defer r.resultsMu.Unlock()
	out := make([]Result, 0, len(r.results))
	for _, res := range r.results {
		out = append(out, res)
	}
	slices.SortFunc(out, func(a, b Result) int {
		switch {
		case a.Program < b.Program:
			return -1
		case a.Program > b.Program:
			return 1
		}
		return 0
	})
	return out
}

func (r *Runner) record(res Result) {
	r.resultsMu.Lock()
	defer r.resultsMu.Unlock()
	r.results[res.Program] = res
}

func (r *Runner) requestShutdown() {
	if r.shutting {
		r.logger.Warn("second shutdown request, killing remaining children")
		r.killAll()
		return
	}
	r.shutting = true
	r.publishStopping("shutdown")
	r.logger.Info("shutting down", "running", r.live)

	for _, c := range r.children {
		if !c.exited {
			c.stop(r)
		}
	}
	if t := r.cfg.Runner.ShutdownTimeout; t > 0 && r.live > 0 {
		_, err := r.loop.AfterFunc(time.Duration(t)*time.Second, func() {
			r.logger.Warn("shutdown timeout exceeded, killing remaining children")
			r.killAll()
		})
		if err != nil {
			r.logger.Error("cannot arm shutdown timeout", "error", err)
		}
	}
	r.stopIfDone()
}

func (r *Runner) killAll() {
	for _, c := range r.children {
		if !c.exited {
			c.kill(r)
		}
	}
}

// stopIfDone stops the loop once no child is left running.
func (r *Runner) stopIfDone() {
	if r.live > 0 || r.stopped {
		return
	}
	r.stopped = true
	if !r.shutting {
		r.publishStopping("completed")
	}
	r.loop.Stop()
}

func (r *Runner) publishStopping(reason string) {
	r.bus.Publish(events.Event{
		Type: events.RunnerStopping,
		Data: map[string]string{"reason": reason},
	})
}

func (r *Runner) tick() {
	handlers := r.loop.Handlers()
	timeouts, periodic := r.loop.Pending()
	if r.metrics != nil {
		r.metrics.SetRunning(r.live)
	}
	r.logger.Debug("status", "running", r.live, "handlers", handlers, "timeouts", timeouts, "periodic", periodic)
	r.bus.Publish(events.Event{
		Type: events.Tick,
		Data: map[string]string{
			"running":  strconv.Itoa(r.live),
			"handlers": strconv.Itoa(handlers),
		},
	})
}

// abandonAll reaps children left over when the loop failed.
func (r *Runner) abandonAll() {
	for _, c := range r.children {
		if c.exited {
			continue
		}
		_ = c.proc.Signal(sigKill)
		if _, err := c.proc.Wait(); err != nil {
			r.logger.Error("wait failed", "program", c.name, "error", err)
		}
		c.finish(r)
	}
}
