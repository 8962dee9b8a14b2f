package ioloop

import "errors"

// Usage errors. Kernel failures are returned wrapped around an
// *os.SyscallError instead.
var (
	ErrAlreadyRegistered = errors.New("ioloop: descriptor already registered")
	ErrNotRegistered     = errors.New("ioloop: descriptor not registered")
	ErrRunning           = errors.New("ioloop: loop is running")
	ErrClosed            = errors.New("ioloop: loop closed")
	ErrInvalidPeriod     = errors.New("ioloop: period must be positive")
	ErrNilCallback       = errors.New("ioloop: nil callback")
)
