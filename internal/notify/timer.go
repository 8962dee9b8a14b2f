package notify

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kahiteam/ioloop/internal/unixfd"
)

// Now returns the CLOCK_MONOTONIC reading as a duration since an
// unspecified, fixed origin. Timer deadlines use the same origin.
func Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always present on Linux.
		panic(os.NewSyscallError("clock_gettime", err))
	}
	return time.Duration(ts.Nano())
}

// Timer is a non-blocking one-shot timerfd on CLOCK_MONOTONIC.
type Timer struct {
	fd *unixfd.FD
}

// NewTimer creates a disarmed timer.
func NewTimer() (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("timerfd_create", err)
	}
	return &Timer{fd: unixfd.New(fd)}, nil
}

// Fd returns the descriptor to poll for readability.
func (t *Timer) Fd() int { return t.fd.Int() }

// ArmAt arms the timer to expire once at the absolute monotonic deadline.
// A deadline in the past expires immediately.
func (t *Timer) ArmAt(deadline time.Duration) error {
	// A zero it_value disarms the timer.
	if deadline <= 0 {
		deadline = 1
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(deadline))}
	return t.settime(unix.TFD_TIMER_ABSTIME, &spec)
}

// ArmAfter arms the timer to expire once after d.
func (t *Timer) ArmAfter(d time.Duration) error {
	if d <= 0 {
		d = 1
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(d))}
	return t.settime(0, &spec)
}

// Disarm stops the timer. Pending expirations are not cleared.
func (t *Timer) Disarm() error {
	return t.settime(0, &unix.ItimerSpec{})
}

// Consume returns the number of expirations since the last call, or 0 if
// the timer has not fired.
func (t *Timer) Consume() (uint64, error) {
	return readCount(t.fd.Int(), "read timerfd")
}

// Close releases the timerfd.
func (t *Timer) Close() error { return t.fd.Close() }

func (t *Timer) settime(flags int, spec *unix.ItimerSpec) error {
	if err := unix.TimerfdSettime(t.fd.Int(), flags, spec, nil); err != nil {
		return os.NewSyscallError("timerfd_settime", err)
	}
	return nil
}
