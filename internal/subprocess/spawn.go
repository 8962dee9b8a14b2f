// Package subprocess starts child processes with explicit control over
// their standard streams and reports exec failures synchronously.
//
// Spawn either returns a fully wired *Process or an error with no child
// left behind. Every Process must be reaped with Wait or Poll before it is
// closed or dropped; an un-reaped handle is a programming error and crashes
// the program.
package subprocess

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kahiteam/ioloop/internal/unixfd"
)

// ErrInvalidState is returned when signalling a child that was already
// reaped.
var ErrInvalidState = errors.New("subprocess: process already reaped")

// SpawnError reports a failure to start a child. Err carries the errno.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Path, e.Err) }

func (e *SpawnError) Unwrap() error { return e.Err }

// spawnMu serialises spawning from stream setup through clone so
// descriptors opened for one child never leak into another.
var spawnMu sync.Mutex

// procState is the part of a Process that outlives it long enough for the
// cleanup to inspect it.
type procState struct {
	mu  sync.Mutex
	pid int // 0 once reaped
}

// Process is a running or reaped child.
type Process struct {
	state   *procState
	cleanup runtime.Cleanup
	status  Status

	stdin  *unixfd.FD
	stdout *unixfd.FD
	stderr *unixfd.FD
}

// Spawn starts path with argv and an empty environment. argv is passed
// unchanged; an empty argv becomes [path]. Streams left nil are inherited.
func Spawn(path string, argv []string, streams Streams) (*Process, error) {
	if len(argv) == 0 {
		argv = []string{path}
	}

	spawnMu.Lock()
	defer spawnMu.Unlock()

	policies := [3]struct {
		stream Stream
		dir    Direction
	}{{streams.Stdin, Input}, {streams.Stdout, Output}, {streams.Stderr, Output}}

	var opened [3]Descriptors
	var present [3]bool
	closeOpened := func() {
		for i := range opened {
			if present[i] {
				_ = opened[i].Close()
			}
		}
	}

	req := cloneRequest{path: path, ctty: -1}
	for i, p := range policies {
		req.files[i] = uintptr(i)
		if p.stream == nil {
			continue
		}
		d, err := p.stream.Open(p.dir)
		if err != nil {
			closeOpened()
			return nil, &SpawnError{Path: path, Err: err}
		}
		opened[i], present[i] = d, true
		req.files[i] = uintptr(d.child(p.dir).Int())
		if _, ok := p.stream.(PtyStream); ok && req.ctty < 0 {
			req.ctty = i
		}
	}
	req.argv = argv

	pid, errno := cloneExec(req)
	if errno != 0 {
		closeOpened()
		return nil, &SpawnError{Path: path, Err: errno}
	}

	p := &Process{state: &procState{pid: pid}}
	for i, pol := range policies {
		if !present[i] {
			continue
		}
		d := opened[i]
		if d.shared() {
			_ = d.Read.Close()
			continue
		}
		_ = d.child(pol.dir).Close()
		switch i {
		case 0:
			p.stdin = d.parent(pol.dir)
		case 1:
			p.stdout = d.parent(pol.dir)
		case 2:
			p.stderr = d.parent(pol.dir)
		}
	}
	p.cleanup = runtime.AddCleanup(p, abandoned, p.state)
	return p, nil
}

func abandoned(s *procState) {
	s.mu.Lock()
	pid := s.pid
	s.mu.Unlock()
	if pid != 0 {
		panic(fmt.Sprintf("subprocess: process %d was never reaped", pid))
	}
}

// Pid returns the child's process id, or 0 once it has been reaped.
func (p *Process) Pid() int {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return p.state.pid
}

// Status returns the last observed status.
func (p *Process) Status() Status {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return p.status
}

// Stdin returns the parent's end of the child's stdin, or nil.
func (p *Process) Stdin() *unixfd.FD { return p.stdin }

// Stdout returns the parent's end of the child's stdout, or nil.
func (p *Process) Stdout() *unixfd.FD { return p.stdout }

// Stderr returns the parent's end of the child's stderr, or nil.
func (p *Process) Stderr() *unixfd.FD { return p.stderr }

// Wait blocks until the child exits and reaps it. Once reaped, Wait returns
// the recorded status again.
func (p *Process) Wait() (Status, error) {
	return p.wait(true)
}

// Poll reaps the child if it has exited and otherwise returns a status
// whose Exited is false, without blocking.
func (p *Process) Poll() (Status, error) {
	return p.wait(false)
}

func (p *Process) wait(block bool) (Status, error) {
	pid := p.Pid()
	if pid == 0 {
		return p.Status(), nil
	}
	if block {
		// Wait without reaping so the pid stays ours until the state
		// lock is held; Signal can then never hit a recycled pid.
		if _, err := waitid(pid, unix.WEXITED|unix.WNOWAIT); err != nil {
			return p.Status(), err
		}
	}

	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.pid == 0 {
		return p.status, nil
	}
	rec, err := waitid(pid, unix.WEXITED|unix.WNOHANG)
	if err != nil {
		return p.status, err
	}
	if rec.Pid == 0 {
		return p.status, nil
	}
	st, err := NewStatus(rec)
	if err != nil {
		return p.status, err
	}
	p.status = st
	p.state.pid = 0
	return st, nil
}

// Signal sends sig to the child.
func (p *Process) Signal(sig syscall.Signal) error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.pid == 0 {
		return ErrInvalidState
	}
	if err := unix.Kill(p.state.pid, sig); err != nil {
		return os.NewSyscallError("kill", err)
	}
	return nil
}

// Close releases the parent's stream descriptors. It panics if the child
// has not been reaped.
func (p *Process) Close() error {
	if pid := p.Pid(); pid != 0 {
		panic(fmt.Sprintf("subprocess: Close of unreaped process %d", pid))
	}
	p.cleanup.Stop()
	return errors.Join(p.stdin.Close(), p.stdout.Close(), p.stderr.Close())
}
