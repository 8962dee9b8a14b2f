package subprocess

import (
	"errors"
	"fmt"
	"syscall"
)

// si_code values for SIGCHLD, from <asm-generic/siginfo.h>.
const (
	cldExited = 1
	cldKilled = 2
	cldDumped = 3
)

var (
	// ErrNoExitCode is returned by ExitCode when the child did not call exit.
	ErrNoExitCode = errors.New("subprocess: process did not exit normally")
	// ErrNotSignaled is returned by Signal when no signal ended the child.
	ErrNotSignaled = errors.New("subprocess: process was not terminated by a signal")
	// ErrNoPid is returned by NewStatus for an empty exit record.
	ErrNoPid = errors.New("subprocess: exit record has no pid")
)

// ExitRecord is the part of a kernel siginfo_t that describes a child
// state change.
type ExitRecord struct {
	Pid    int
	Code   int // CLD_EXITED, CLD_KILLED, CLD_DUMPED
	Status int // exit code or signal number, depending on Code
}

// Status describes whether and how a child exited. The zero value means the
// child has not exited yet.
type Status struct {
	exited     bool
	calledExit bool
	signaled   bool
	dumped     bool
	raw        int
}

// NewStatus builds the status for an exit record.
func NewStatus(rec ExitRecord) (Status, error) {
	if rec.Pid == 0 {
		return Status{}, ErrNoPid
	}
	dumped := rec.Code == cldDumped
	return Status{
		exited:     true,
		calledExit: rec.Code == cldExited,
		signaled:   rec.Code == cldKilled || dumped,
		dumped:     dumped,
		raw:        rec.Status,
	}, nil
}

// Exited reports whether the child has terminated.
func (s Status) Exited() bool { return s.exited }

// CalledExit reports whether the child terminated by calling exit.
func (s Status) CalledExit() bool { return s.calledExit }

// Signaled reports whether a signal terminated the child.
func (s Status) Signaled() bool { return s.signaled }

// Dumped reports whether the child dumped core.
func (s Status) Dumped() bool { return s.dumped }

// ExitCode returns the code the child passed to exit.
func (s Status) ExitCode() (int, error) {
	if !s.calledExit {
		return 0, ErrNoExitCode
	}
	return s.raw, nil
}

// Signal returns the signal that terminated the child.
func (s Status) Signal() (syscall.Signal, error) {
	if !s.signaled {
		return 0, ErrNotSignaled
	}
	return syscall.Signal(s.raw), nil
}

// ExitCodeRaw returns the kernel's status field whatever the kind of exit.
func (s Status) ExitCodeRaw() (int, error) {
	if !s.exited {
		return 0, ErrNoExitCode
	}
	return s.raw, nil
}

func (s Status) String() string {
	switch {
	case !s.exited:
		return "running"
	case s.calledExit:
		return fmt.Sprintf("exit status %d", s.raw)
	case s.dumped:
		return fmt.Sprintf("signal: %v (core dumped)", syscall.Signal(s.raw))
	case s.signaled:
		return fmt.Sprintf("signal: %v", syscall.Signal(s.raw))
	default:
		return fmt.Sprintf("exited (code %d)", s.raw)
	}
}
