// Package epoll is a thin readiness multiplexer over epoll(7). Every
// registration carries a caller-chosen 64-bit tag that is handed back with
// each ready event.
package epoll

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kahiteam/ioloop/internal/unixfd"
)

// Event is one ready descriptor as reported by Wait.
type Event struct {
	Events uint32 // EPOLLIN, EPOLLOUT, ...
	Tag    uint64
}

// Poller is an epoll instance.
type Poller struct {
	fd  *unixfd.FD
	buf []unix.EpollEvent
}

// New creates a close-on-exec epoll instance.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &Poller{fd: unixfd.New(fd)}, nil
}

// Fd returns the epoll descriptor.
func (p *Poller) Fd() int { return p.fd.Int() }

// Add registers fd with the given interest and tag.
func (p *Poller) Add(fd int, events uint32, tag uint64) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, events, tag)
}

// Modify replaces the interest and tag of a registered fd.
func (p *Poller) Modify(fd int, events uint32, tag uint64) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, events, tag)
}

// Remove deregisters fd.
func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.fd.Int(), unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

// RemoveIfPresent is Remove, except that a descriptor that is no longer
// registered, or was already closed, is not an error.
func (p *Poller) RemoveIfPresent(fd int) error {
	err := unix.EpollCtl(p.fd.Int(), unix.EPOLL_CTL_DEL, fd, nil)
	switch err {
	case nil, unix.ENOENT, unix.EBADF:
		return nil
	default:
		return os.NewSyscallError("epoll_ctl del", err)
	}
}

// Wait blocks until at least one registered descriptor is ready or the
// timeout elapses, filling out with up to len(out) events. A negative
// timeout waits forever. An interrupted wait returns unix.EINTR unwrapped so
// callers can retry it.
func (p *Poller) Wait(out []Event, timeout time.Duration) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	if cap(p.buf) < len(out) {
		p.buf = make([]unix.EpollEvent, len(out))
	}
	raw := p.buf[:len(out)]

	msec := -1
	if timeout >= 0 {
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	n, err := unix.EpollWait(p.fd.Int(), raw, msec)
	if err == unix.EINTR {
		return 0, err
	}
	if err != nil {
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		out[i] = Event{Events: raw[i].Events, Tag: unpackTag(&raw[i])}
	}
	return n, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error { return p.fd.Close() }

func (p *Poller) ctl(op, fd int, events uint32, tag uint64) error {
	ev := unix.EpollEvent{Events: events}
	packTag(&ev, tag)
	if err := unix.EpollCtl(p.fd.Int(), op, fd, &ev); err != nil {
		name := "epoll_ctl add"
		if op == unix.EPOLL_CTL_MOD {
			name = "epoll_ctl mod"
		}
		return os.NewSyscallError(name, err)
	}
	return nil
}

// The kernel's epoll_data is the 64 bits spanning Fd and Pad.
func packTag(ev *unix.EpollEvent, tag uint64) {
	ev.Fd = int32(uint32(tag))
	ev.Pad = int32(uint32(tag >> 32))
}

func unpackTag(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}
