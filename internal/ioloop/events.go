package ioloop

import (
	"strings"

	"golang.org/x/sys/unix"
)

// Events is a readiness interest or result mask.
type Events uint32

const (
	// Read reports that the descriptor is readable.
	Read Events = 1 << iota
	// Write reports that the descriptor is writable.
	Write
	// Error reports an error condition on the descriptor.
	Error
	// Hangup reports that the peer closed its end. It is always delivered
	// and cannot be requested.
	Hangup
)

func (e Events) epoll() uint32 {
	var ev uint32
	if e&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if e&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	if e&Error != 0 {
		ev |= unix.EPOLLERR
	}
	return ev
}

func eventsFromEpoll(ev uint32) Events {
	var e Events
	if ev&unix.EPOLLIN != 0 {
		e |= Read
	}
	if ev&unix.EPOLLOUT != 0 {
		e |= Write
	}
	if ev&unix.EPOLLERR != 0 {
		e |= Error
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		e |= Hangup
	}
	return e
}

func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  Events
		name string
	}{{Read, "read"}, {Write, "write"}, {Error, "error"}, {Hangup, "hangup"}} {
		if e&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}
