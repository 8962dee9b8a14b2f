// Package unixfd owns raw Linux file descriptors.
//
// An FD closes the descriptor it holds exactly once: on Close, on Reset, or
// never if ownership was given away with Release.
package unixfd

import (
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Closed is the integer value reported for an FD that holds no descriptor.
const Closed = -1

// ErrClosed is returned by I/O on an FD that holds no descriptor.
var ErrClosed = errors.New("unixfd: descriptor closed")

// FD is an owned file descriptor.
type FD struct {
	mu sync.Mutex
	fd int
}

// New takes ownership of fd.
func New(fd int) *FD {
	if fd < 0 {
		fd = Closed
	}
	return &FD{fd: fd}
}

// Int returns the descriptor number, or Closed.
func (f *FD) Int() int {
	if f == nil {
		return Closed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd
}

// Valid reports whether f currently holds a descriptor.
func (f *FD) Valid() bool { return f.Int() != Closed }

// Release gives up ownership and returns the descriptor without closing it.
func (f *FD) Release() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd := f.fd
	f.fd = Closed
	return fd
}

// Reset closes the held descriptor, if any, and takes ownership of fd.
// The new descriptor is owned even when closing the old one fails.
func (f *FD) Reset(fd int) error {
	if fd < 0 {
		fd = Closed
	}
	f.mu.Lock()
	old := f.fd
	f.fd = fd
	f.mu.Unlock()
	if old == Closed || old == fd {
		return nil
	}
	return closeFD(old)
}

// Close closes the held descriptor. Closing an empty FD is a no-op.
func (f *FD) Close() error {
	if f == nil {
		return nil
	}
	return f.Reset(Closed)
}

// Read implements io.Reader. A zero-length read from the kernel is io.EOF.
func (f *FD) Read(p []byte) (int, error) {
	fd := f.Int()
	if fd == Closed {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("read", err)
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write implements io.Writer, looping until p is written or an error occurs.
func (f *FD) Write(p []byte) (int, error) {
	fd := f.Int()
	if fd == Closed {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(fd, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, os.NewSyscallError("write", err)
		}
		written += n
	}
	return written, nil
}

// SetNonblock toggles O_NONBLOCK on the descriptor.
func (f *FD) SetNonblock(nonblocking bool) error {
	fd := f.Int()
	if fd == Closed {
		return ErrClosed
	}
	if err := unix.SetNonblock(fd, nonblocking); err != nil {
		return os.NewSyscallError("fcntl", err)
	}
	return nil
}

func closeFD(fd int) error {
	// close(2) must not be retried on EINTR: the descriptor is already gone.
	if err := unix.Close(fd); err != nil && err != unix.EINTR {
		return os.NewSyscallError("close", err)
	}
	return nil
}
