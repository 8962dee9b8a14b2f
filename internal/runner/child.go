package runner

import (
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kahiteam/ioloop/internal/config"
	"github.com/kahiteam/ioloop/internal/events"
	"github.com/kahiteam/ioloop/internal/ioloop"
	"github.com/kahiteam/ioloop/internal/logging"
	"github.com/kahiteam/ioloop/internal/subprocess"
	"github.com/kahiteam/ioloop/internal/unixfd"
)

const sigKill = syscall.SIGKILL

// pollInterval is how often exit is polled when pidfds are unavailable.
var pollInterval = 100 * time.Millisecond

// usePidfd is cleared by tests to exercise the polling fallback.
var usePidfd = true

type child struct {
	name    string
	prog    config.ProgramConfig
	proc    *subprocess.Process
	pid     int
	logger  *slog.Logger
	started time.Time

	pidfd   *unixfd.FD
	pollID  ioloop.PeriodicID
	polling bool

	killID    ioloop.TimeoutID
	killArmed bool
	stopping  bool
	exited    bool

	outputs []*output
}

// output is a captured stdout or stderr descriptor.
type output struct {
	stream  string
	fd      *unixfd.FD
	capture *logging.CaptureWriter
	closed  bool
}

// start spawns one program. Failures are recorded and never stop the
// other programs.
func (r *Runner) start(name string, prog config.ProgramConfig) {
	logger := r.logger.With("program", name)
	fail := func(err error) {
		logger.Error("spawn failed", "command", prog.Command, "error", err)
		if r.metrics != nil {
			r.metrics.IncSpawnError(name)
		}
		r.record(Result{Program: name, Err: err})
		r.bus.Publish(events.Event{
			Type: events.ProcessSpawnFailed,
			Data: map[string]string{"program": name, "error": err.Error()},
		})
	}

	path, err := resolveCommand(prog.Command)
	if err != nil {
		fail(err)
		return
	}
	streams, specs, err := buildStreams(prog)
	if err != nil {
		fail(err)
		return
	}
	proc, err := subprocess.Spawn(path, prog.Argv(), streams)
	if err != nil {
		fail(err)
		return
	}

	c := &child{
		name:    name,
		prog:    prog,
		proc:    proc,
		pid:     proc.Pid(),
		logger:  logger.With("pid", proc.Pid()),
		started: time.Now(),
	}
	r.children = append(r.children, c)
	r.live++
	r.record(Result{Program: name, Pid: c.pid})

	// Nothing feeds a piped stdin; closing it hands the child EOF.
	if specs[0].Kind == config.StreamPipe {
		_ = proc.Stdin().Close()
	}
	if specs[1].Captured() {
		c.capture(r, "stdout", proc.Stdout(), prog.StdoutLogfile, prog.StdoutLogfileMaxbytes, prog.StdoutLogfileBackups)
	}
	if specs[2].Captured() {
		c.capture(r, "stderr", proc.Stderr(), prog.StderrLogfile, prog.StderrLogfileMaxbytes, prog.StderrLogfileBackups)
	}
	if err := c.watchExit(r); err != nil {
		// Without exit detection the child can only be waited for.
		c.logger.Error("cannot watch child", "error", err)
		_ = proc.Signal(sigKill)
		_, _ = proc.Wait()
		c.finish(r)
		return
	}

	c.logger.Info("spawned", "command", path, "argv", prog.Argv())
	if r.metrics != nil {
		r.metrics.IncSpawn(name)
		r.metrics.SetRunning(r.live)
	}
	r.bus.Publish(events.Event{
		Type: events.ProcessSpawned,
		Data: map[string]string{"program": name, "pid": strconv.Itoa(c.pid)},
	})
}

// resolveCommand finds bare command names on the runner's PATH. Children
// get an empty environment, so they cannot do it themselves.
func resolveCommand(cmd string) (string, error) {
	if strings.Contains(cmd, "/") {
		return cmd, nil
	}
	return exec.LookPath(cmd)
}

func buildStreams(prog config.ProgramConfig) (subprocess.Streams, [3]config.StreamSpec, error) {
	var specs [3]config.StreamSpec
	var out [3]subprocess.Stream
	for i, s := range []string{prog.Stdin, prog.Stdout, prog.Stderr} {
		spec, err := config.ParseStream(s)
		if err != nil {
			return subprocess.Streams{}, specs, err
		}
		specs[i] = spec
		out[i] = streamFor(spec, i == 0)
	}
	return subprocess.Streams{Stdin: out[0], Stdout: out[1], Stderr: out[2]}, specs, nil
}

func streamFor(spec config.StreamSpec, input bool) subprocess.Stream {
	switch spec.Kind {
	case config.StreamNull:
		return subprocess.NullStream{}
	case config.StreamPipe:
		return subprocess.PipeStream{}
	case config.StreamPty:
		return subprocess.PtyStream{}
	case config.StreamFile:
		if input {
			return subprocess.PathStream{Path: spec.Path, Flag: unix.O_RDONLY}
		}
		return subprocess.PathStream{Path: spec.Path, Flag: unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND}
	case config.StreamFD:
		return subprocess.SingleFD(spec.FD)
	default:
		return nil
	}
}

func (c *child) capture(r *Runner, stream string, fd *unixfd.FD, logfile, maxBytes string, backups int) {
	if fd == nil {
		return
	}
	limit, _ := logging.ParseSize(maxBytes)
	tail, _ := logging.ParseSize(c.prog.CaptureMaxbytes)
	cw, err := logging.NewCaptureWriter(logging.CaptureConfig{
		Program:   c.name,
		Stream:    stream,
		Logfile:   logfile,
		MaxBytes:  limit,
		Backups:   backups,
		TailBytes: int(tail),
		StripAnsi: c.prog.StripAnsi,
		Logger:    r.logger,
	})
	if err != nil {
		c.logger.Error("capture disabled", "stream", stream, "error", err)
		cw, _ = logging.NewCaptureWriter(logging.CaptureConfig{
			Program: c.name, Stream: stream, TailBytes: int(tail), StripAnsi: c.prog.StripAnsi, Logger: r.logger,
		})
	}
	o := &output{stream: stream, fd: fd, capture: cw}
	c.outputs = append(c.outputs, o)

	if err := fd.SetNonblock(true); err != nil {
		c.logger.Error("cannot capture", "stream", stream, "error", err)
		o.close(r.loop)
		return
	}
	err = r.loop.Register(fd.Int(), ioloop.Read, func(int, ioloop.Events) {
		if o.drain(c.logger) {
			o.close(r.loop)
		}
	})
	if err != nil {
		c.logger.Error("cannot capture", "stream", stream, "error", err)
		o.close(r.loop)
	}
}

// drain reads until the descriptor would block and reports whether the
// stream is finished.
func (o *output) drain(logger *slog.Logger) bool {
	buf := make([]byte, 32*1024)
	for {
		n, err := o.fd.Read(buf)
		if n > 0 {
			_, _ = o.capture.Write(buf[:n])
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, unix.EAGAIN):
			return false
		case errors.Is(err, io.EOF), errors.Is(err, unix.EIO):
			// A pty master reads EIO once the last slave is gone.
			return true
		default:
			logger.Error("read failed", "stream", o.stream, "error", err)
			return true
		}
	}
}

func (o *output) close(loop *ioloop.Loop) {
	if o.closed {
		return
	}
	o.closed = true
	_ = loop.Unregister(o.fd.Int())
	_ = o.fd.Close()
	_ = o.capture.Close()
}

func (c *child) watchExit(r *Runner) error {
	if usePidfd {
		fd, err := unix.PidfdOpen(c.pid, 0)
		if err == nil {
			c.pidfd = unixfd.New(fd)
			err = r.loop.Register(fd, ioloop.Read, func(int, ioloop.Events) { c.poll(r) })
			if err == nil {
				return nil
			}
			_ = c.pidfd.Close()
			c.pidfd = nil
		}
		c.logger.Debug("pidfd unavailable, polling", "error", err)
	}
	id, err := r.loop.EveryFunc(pollInterval, func() { c.poll(r) })
	if err != nil {
		return err
	}
	c.pollID, c.polling = id, true
	return nil
}

func (c *child) poll(r *Runner) {
	st, err := c.proc.Poll()
	if err != nil {
		c.logger.Error("poll failed", "error", err)
		return
	}
	if st.Exited() {
		c.finish(r)
	}
}

// stop sends the configured stopsignal and arms the SIGKILL escalation.
func (c *child) stop(r *Runner) {
	if c.stopping {
		return
	}
	c.stopping = true
	sig := parseSignal(c.prog.Stopsignal)
	c.logger.Info("stopping", "signal", unix.SignalName(sig))
	if err := c.proc.Signal(sig); err != nil && !errors.Is(err, subprocess.ErrInvalidState) {
		c.logger.Error("signal failed", "error", err)
	}
	id, err := r.loop.AfterFunc(time.Duration(c.prog.Stopwaitsecs)*time.Second, func() {
		c.killArmed = false
		c.logger.Warn("escalating to SIGKILL", "stopwaitsecs", c.prog.Stopwaitsecs)
		c.kill(r)
	})
	if err != nil {
		c.logger.Error("cannot arm kill timeout", "error", err)
		return
	}
	c.killID, c.killArmed = id, true
}

func (c *child) kill(r *Runner) {
	if err := c.proc.Signal(sigKill); err != nil && !errors.Is(err, subprocess.ErrInvalidState) {
		c.logger.Error("kill failed", "error", err)
	}
}

// finish releases everything a reaped child held and records its result.
func (c *child) finish(r *Runner) {
	if c.exited {
		return
	}
	c.exited = true
	r.live--

	if c.pidfd != nil {
		_ = r.loop.Unregister(c.pidfd.Int())
		_ = c.pidfd.Close()
	}
	if c.polling {
		r.loop.CancelPeriodic(c.pollID)
	}
	if c.killArmed {
		r.loop.CancelTimeout(c.killID)
	}
	for _, o := range c.outputs {
		if !o.closed {
			o.drain(c.logger)
			o.close(r.loop)
		}
	}
	if err := c.proc.Close(); err != nil {
		c.logger.Debug("closing streams", "error", err)
	}

	st := c.proc.Status()
	expected := c.expected(st)
	attrs := []any{"status", st.String(), "expected", expected, "uptime", time.Since(c.started).Round(time.Millisecond)}
	if expected {
		c.logger.Info("exited", attrs...)
	} else {
		c.logger.Warn("exited unexpectedly", attrs...)
	}
	r.record(Result{Program: c.name, Pid: c.pid, Status: st, Expected: expected})
	if r.metrics != nil {
		r.metrics.IncExit(c.name, expected)
		r.metrics.SetRunning(r.live)
	}
	r.bus.Publish(events.Event{
		Type: events.ProcessExited,
		Data: map[string]string{
			"program":  c.name,
			"pid":      strconv.Itoa(c.pid),
			"status":   st.String(),
			"expected": strconv.FormatBool(expected),
		},
	})
	r.stopIfDone()
}

// expected reports whether st is an exit the config anticipates. A child
// killed by its own stop request counts as expected.
func (c *child) expected(st subprocess.Status) bool {
	if code, err := st.ExitCode(); err == nil {
		return c.prog.ExpectedExit(code)
	}
	return c.stopping
}

func parseSignal(name string) syscall.Signal {
	name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig
	}
	return syscall.SIGTERM
}
