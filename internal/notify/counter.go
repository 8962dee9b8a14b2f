// Package notify wraps the kernel notification objects used to wake an
// event loop: eventfd counters and CLOCK_MONOTONIC timerfds.
package notify

import (
	"encoding/binary"
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/kahiteam/ioloop/internal/unixfd"
)

// ErrCounterFull is returned by Add when the counter cannot absorb the
// increment without blocking. A waiter will still observe a readable
// counter, so callers using it as a wakeup may ignore this error.
var ErrCounterFull = errors.New("notify: counter full")

// Counter is an eventfd.
type Counter struct {
	fd *unixfd.FD
}

// NewCounter creates an eventfd starting at zero.
func NewCounter(nonblocking bool) (*Counter, error) {
	flags := unix.EFD_CLOEXEC
	if nonblocking {
		flags |= unix.EFD_NONBLOCK
	}
	fd, err := unix.Eventfd(0, flags)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	return &Counter{fd: unixfd.New(fd)}, nil
}

// Fd returns the descriptor to poll for readability.
func (c *Counter) Fd() int { return c.fd.Int() }

// Signal adds one to the counter.
func (c *Counter) Signal() error { return c.Add(1) }

// Add adds n to the counter.
func (c *Counter) Add(n uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], n)
	for {
		_, err := unix.Write(c.fd.Int(), buf[:])
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return ErrCounterFull
		default:
			return os.NewSyscallError("write eventfd", err)
		}
	}
}

// Consume reads and resets the counter. A non-blocking counter that has not
// been signalled returns 0.
func (c *Counter) Consume() (uint64, error) {
	return readCount(c.fd.Int(), "read eventfd")
}

// Close releases the eventfd.
func (c *Counter) Close() error { return c.fd.Close() }

func readCount(fd int, op string) (uint64, error) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		switch err {
		case nil:
			return binary.NativeEndian.Uint64(buf[:]), nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		default:
			return 0, os.NewSyscallError(op, err)
		}
	}
}
