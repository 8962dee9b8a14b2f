package runner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kahiteam/ioloop/internal/events"
	"github.com/kahiteam/ioloop/internal/logging"
	"github.com/kahiteam/ioloop/internal/metrics"
	"github.com/kahiteam/ioloop/internal/testutil"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	r       *Runner
	log     *syncBuffer
	metrics *metrics.Collector
}

func newHarness(t *testing.T, toml string) *harness {
	t.Helper()
	cfg := testutil.MustParseConfig(t, toml)
	h := &harness{log: &syncBuffer{}, metrics: metrics.New()}
	r, err := New(Config{
		Config:  cfg,
		Logger:  logging.New(logging.LogConfig{Level: "debug", Format: "text", Output: h.log}),
		Metrics: h.metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.r = r
	return h
}

// background runs the runner and makes sure it has returned before the
// test ends.
func (h *harness) background(t *testing.T) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.r.Run() }()
	t.Cleanup(func() {
		h.r.Shutdown()
		h.r.Shutdown()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("runner did not stop")
		}
	})
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not finish")
	}
}

func (h *harness) subscribe(t events.EventType) <-chan events.Event {
	ch := make(chan events.Event, 16)
	h.r.Bus().Subscribe(t, func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(10 * time.Second):
		t.Fatal("event not published")
		return events.Event{}
	}
}

func onlyResult(t *testing.T, r *Runner) Result {
	t.Helper()
	res := r.Results()
	if len(res) != 1 {
		t.Fatalf("results = %+v, want one", res)
	}
	return res[0]
}

func scrape(t *testing.T, c *metrics.Collector) string {
	t.Helper()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	return string(body)
}

func TestRunToCompletion(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[programs.hello]
command = %q
args = ["-c", "echo hello; echo oops >&2"]
`, testutil.LookPath(t, "sh")))

	if err := h.r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := onlyResult(t, h.r)
	if !res.Expected || !res.Status.CalledExit() || res.Pid <= 0 {
		t.Fatalf("result = %+v, want a clean exit", res)
	}
	log := h.log.String()
	for _, want := range []string{"msg=hello", "msg=oops", "stream=stdout", "stream=stderr", "program=hello"} {
		if !strings.Contains(log, want) {
			t.Errorf("log missing %q:\n%s", want, log)
		}
	}
	if h.r.Run() != ErrAlreadyRun {
		t.Fatal("second Run did not fail")
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name      string
		exitcodes string
		expected  bool
	}{
		{"default rejects 3", "[0]", false},
		{"listed 3 accepted", "[0, 3]", true},
	}
	sh := testutil.LookPath(t, "sh")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fmt.Sprintf(`
[programs.fail]
command = %q
args = ["-c", "exit 3"]
exitcodes = %s
`, sh, tt.exitcodes))
			if err := h.r.Run(); err != nil {
				t.Fatalf("Run: %v", err)
			}
			res := onlyResult(t, h.r)
			if code, _ := res.Status.ExitCode(); code != 3 {
				t.Fatalf("exit code = %d, want 3", code)
			}
			if res.Expected != tt.expected {
				t.Fatalf("Expected = %v, want %v", res.Expected, tt.expected)
			}
			want := fmt.Sprintf(`ioloop_exit_total{expected="%v",program="fail"} 1`, tt.expected)
			if body := scrape(t, h.metrics); !strings.Contains(body, want) {
				t.Fatalf("metrics missing %q", want)
			}
		})
	}
}

func TestSpawnFailureDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[programs.bad]
command = "/nonexistent/prog"

[programs.good]
command = %q
`, testutil.LookPath(t, "true")))
	failed := h.subscribe(events.ProcessSpawnFailed)

	if err := h.r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := h.r.Results()
	if len(res) != 2 || res[0].Program != "bad" || res[1].Program != "good" {
		t.Fatalf("results = %+v", res)
	}
	if !errors.Is(res[0].Err, unix.ENOENT) {
		t.Fatalf("bad err = %v, want ENOENT", res[0].Err)
	}
	if res[1].Err != nil || !res[1].Expected {
		t.Fatalf("good = %+v", res[1])
	}
	if e := waitEvent(t, failed); e.Data["program"] != "bad" {
		t.Fatalf("event = %+v", e)
	}
	if body := scrape(t, h.metrics); !strings.Contains(body, `ioloop_spawn_errors_total{program="bad"} 1`) {
		t.Fatal("spawn error not counted")
	}
}

func TestShutdownStopsChildren(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[programs.sleeper]
command = %q
args = ["30"]
`, testutil.LookPath(t, "sleep")))
	spawned := h.subscribe(events.ProcessSpawned)
	done := h.background(t)

	waitEvent(t, spawned)
	h.r.Shutdown()
	waitDone(t, done)

	res := onlyResult(t, h.r)
	if sig, err := res.Status.Signal(); err != nil || sig != syscall.SIGTERM {
		t.Fatalf("status = %v, want SIGTERM", res.Status)
	}
	if !res.Expected {
		t.Fatal("a requested stop should count as expected")
	}
}

func TestShutdownEscalatesToKill(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[programs.stubborn]
command = %q
args = ["-c", "trap '' TERM; echo ready; exec sleep 30"]
stopwaitsecs = 1
`, testutil.LookPath(t, "sh")))
	done := h.background(t)

	testutil.WaitFor(t, func() bool { return strings.Contains(h.log.String(), "msg=ready") }, 10*time.Second)
	start := time.Now()
	h.r.Shutdown()
	waitDone(t, done)

	res := onlyResult(t, h.r)
	if sig, _ := res.Status.Signal(); sig != syscall.SIGKILL {
		t.Fatalf("status = %v, want SIGKILL", res.Status)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("killed after %v, before stopwaitsecs", elapsed)
	}
	if !strings.Contains(h.log.String(), "escalating to SIGKILL") {
		t.Fatal("escalation not logged")
	}
}

func TestSecondShutdownKills(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[programs.stubborn]
command = %q
args = ["-c", "trap '' TERM; echo ready; exec sleep 30"]
stopwaitsecs = 30
`, testutil.LookPath(t, "sh")))
	done := h.background(t)

	testutil.WaitFor(t, func() bool { return strings.Contains(h.log.String(), "msg=ready") }, 10*time.Second)
	h.r.Shutdown()
	h.r.Shutdown()
	waitDone(t, done)

	if sig, _ := onlyResult(t, h.r).Status.Signal(); sig != syscall.SIGKILL {
		t.Fatalf("status = %v, want SIGKILL", onlyResult(t, h.r).Status)
	}
}

func TestShutdownBeforeRun(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[programs.sleeper]
command = %q
args = ["30"]
`, testutil.LookPath(t, "sleep")))
	h.r.Shutdown()
	done := h.background(t)
	waitDone(t, done)

	if !onlyResult(t, h.r).Status.Signaled() {
		t.Fatal("child was not stopped")
	}
}

func TestFileStreamAndLogfile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	logfile := filepath.Join(dir, "err.log")
	h := newHarness(t, fmt.Sprintf(`
[programs.writer]
command = %q
args = ["-c", "echo to-file; echo to-log >&2"]
stdout = "file:%s"
stderr_logfile = %q
`, testutil.LookPath(t, "sh"), out, logfile))

	if err := h.r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if data, _ := os.ReadFile(out); string(data) != "to-file\n" {
		t.Fatalf("stdout file = %q", data)
	}
	if data, _ := os.ReadFile(logfile); string(data) != "to-log\n" {
		t.Fatalf("stderr logfile = %q", data)
	}
}

func TestStripAnsi(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[programs.color]
command = %q
args = ["-c", "printf '\\033[31mred\\033[0m\\n'"]
strip_ansi = true
`, testutil.LookPath(t, "sh")))

	if err := h.r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(h.log.String(), "msg=red ") {
		t.Fatalf("log:\n%s", h.log.String())
	}
}

func TestPtyOutput(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[programs.tty]
command = %q
args = ["-c", "test -t 1 && echo is-a-tty"]
stdout = "pty"
`, testutil.LookPath(t, "sh")))

	if err := h.r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := onlyResult(t, h.r)
	if res.Err != nil {
		t.Skipf("pty unavailable: %v", res.Err)
	}
	if !res.Expected {
		t.Fatalf("status = %v", res.Status)
	}
	if !strings.Contains(h.log.String(), "msg=is-a-tty") {
		t.Fatalf("log:\n%s", h.log.String())
	}
}

func TestPollFallback(t *testing.T) {
	usePidfd = false
	t.Cleanup(func() { usePidfd = true })

	h := newHarness(t, fmt.Sprintf(`
[programs.quick]
command = %q
`, testutil.LookPath(t, "true")))

	if err := h.r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !onlyResult(t, h.r).Expected {
		t.Fatal("exit not detected")
	}
}

func TestEventSequence(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[programs.quick]
command = %q
`, testutil.LookPath(t, "true")))
	var mu sync.Mutex
	var got []events.EventType
	h.r.Bus().Subscribe(events.All, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
	})

	if err := h.r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []events.EventType{events.RunnerStarted, events.ProcessSpawned, events.ProcessExited, events.RunnerStopping}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestStatusTick(t *testing.T) {
	h := newHarness(t, fmt.Sprintf(`
[runner]
status_interval = 1

[programs.sleeper]
command = %q
args = ["30"]
`, testutil.LookPath(t, "sleep")))
	ticks := h.subscribe(events.Tick)
	h.background(t)

	if e := waitEvent(t, ticks); e.Data["running"] != "1" {
		t.Fatalf("tick = %+v, want running=1", e)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	addr := testutil.FreeTCPAddr(t)
	h := newHarness(t, fmt.Sprintf(`
[runner]
metrics_listen = %q

[programs.s]
command = %q
args = ["30"]
`, addr, testutil.LookPath(t, "sleep")))
	spawned := h.subscribe(events.ProcessSpawned)
	h.background(t)
	waitEvent(t, spawned)

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`ioloop_spawn_total{program="s"} 1`, "ioloop_running 1", "ioloop_handlers"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in   string
		want syscall.Signal
	}{
		{"TERM", syscall.SIGTERM},
		{"SIGHUP", syscall.SIGHUP},
		{"usr1", syscall.SIGUSR1},
		{"bogus", syscall.SIGTERM},
	}
	for _, tt := range tests {
		if got := parseSignal(tt.in); got != tt.want {
			t.Errorf("parseSignal(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without config succeeded")
	}
}
