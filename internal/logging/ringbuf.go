package logging

import "sync"

// RingBuffer keeps the most recent bytes written to it.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	pos  int
	full bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write appends p, overwriting the oldest bytes once the buffer is full.
func (rb *RingBuffer) Write(p []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.buf)
	if len(p) >= size {
		copy(rb.buf, p[len(p)-size:])
		rb.pos = 0
		rb.full = true
		return
	}
	n := copy(rb.buf[rb.pos:], p)
	if n < len(p) {
		copy(rb.buf, p[n:])
		rb.full = true
	}
	rb.pos = (rb.pos + len(p)) % size
	if rb.pos == 0 && len(p) > 0 {
		rb.full = true
	}
}

// Tail returns a copy of the last n bytes, or everything held if n is
// larger than that.
func (rb *RingBuffer) Tail(n int) []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n = min(n, rb.lenLocked())
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	start := rb.pos - n
	if start >= 0 {
		copy(out, rb.buf[start:rb.pos])
		return out
	}
	k := copy(out, rb.buf[len(rb.buf)+start:])
	copy(out[k:], rb.buf[:rb.pos])
	return out
}

// Len returns the number of bytes held.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.lenLocked()
}

func (rb *RingBuffer) lenLocked() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// Cap returns the buffer's capacity.
func (rb *RingBuffer) Cap() int { return len(rb.buf) }

// Reset empties the buffer.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.pos = 0
	rb.full = false
}
