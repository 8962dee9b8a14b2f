package unixfd

import (
	"os"

	"golang.org/x/sys/unix"
)

// Pipe creates a close-on-exec pipe and returns its read and write ends.
func Pipe() (r, w *FD, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, os.NewSyscallError("pipe2", err)
	}
	return New(p[0]), New(p[1]), nil
}

// Open opens path with O_CLOEXEC added to flag.
func Open(path string, flag int, perm uint32) (*FD, error) {
	for {
		fd, err := unix.Open(path, flag|unix.O_CLOEXEC, perm)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, &os.PathError{Op: "open", Path: path, Err: err}
		}
		return New(fd), nil
	}
}

// Dup duplicates fd into a new close-on-exec descriptor owned by the caller.
func Dup(fd int) (*FD, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("fcntl", err)
	}
	return New(nfd), nil
}

// FromFile moves the descriptor behind f into a new FD and closes f.
func FromFile(f *os.File) (*FD, error) {
	defer f.Close()
	return Dup(int(f.Fd()))
}
