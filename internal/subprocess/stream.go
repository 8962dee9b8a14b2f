package subprocess

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/kahiteam/ioloop/internal/unixfd"
)

// Direction says which way data flows through a child's stream.
type Direction int

const (
	// Input is the child's stdin: the child reads, the parent writes.
	Input Direction = iota
	// Output is the child's stdout or stderr.
	Output
)

// Descriptors is the pair a Stream opens. Read and Write may be the same
// *unixfd.FD when one descriptor serves both roles; the parent then keeps
// nothing for that stream.
type Descriptors struct {
	Read  *unixfd.FD
	Write *unixfd.FD
}

func (d Descriptors) shared() bool { return d.Read == d.Write }

// child returns the end handed to the child for dir.
func (d Descriptors) child(dir Direction) *unixfd.FD {
	if dir == Input {
		return d.Read
	}
	return d.Write
}

// parent returns the end the parent keeps for dir.
func (d Descriptors) parent(dir Direction) *unixfd.FD {
	if dir == Input {
		return d.Write
	}
	return d.Read
}

func (d Descriptors) Close() error {
	if d.shared() {
		return d.Read.Close()
	}
	err := d.Read.Close()
	if werr := d.Write.Close(); err == nil {
		err = werr
	}
	return err
}

// Stream opens the descriptors for one of a child's standard streams.
// Descriptors must be close-on-exec; Spawn installs the child end on the
// standard descriptor number itself.
type Stream interface {
	Open(dir Direction) (Descriptors, error)
}

// Streams selects a policy per standard stream. A nil entry leaves the
// child with the parent's descriptor.
type Streams struct {
	Stdin  Stream
	Stdout Stream
	Stderr Stream
}

// PipeStream connects the child to the parent through a pipe.
type PipeStream struct{}

func (PipeStream) Open(Direction) (Descriptors, error) {
	r, w, err := unixfd.Pipe()
	if err != nil {
		return Descriptors{}, err
	}
	return Descriptors{Read: r, Write: w}, nil
}

// PathStream connects the child to a file. A zero Flag opens read-write.
type PathStream struct {
	Path string
	Flag int
	Perm os.FileMode
}

func (s PathStream) Open(Direction) (Descriptors, error) {
	flag := s.Flag
	if flag == 0 {
		flag = unix.O_RDWR
	}
	perm := s.Perm
	if perm == 0 {
		perm = 0o644
	}
	fd, err := unixfd.Open(s.Path, flag, uint32(perm.Perm()))
	if err != nil {
		return Descriptors{}, err
	}
	return Descriptors{Read: fd, Write: fd}, nil
}

// NullStream connects the child to /dev/null.
type NullStream struct{}

func (NullStream) Open(dir Direction) (Descriptors, error) {
	return PathStream{Path: os.DevNull}.Open(dir)
}

// FDStream connects the child to descriptors the caller already holds.
// They are duplicated, so the caller keeps ownership of Read and Write.
type FDStream struct {
	Read  int
	Write int
}

// SingleFD returns an FDStream that uses fd for both roles.
func SingleFD(fd int) FDStream { return FDStream{Read: fd, Write: fd} }

func (s FDStream) Open(Direction) (Descriptors, error) {
	r, err := unixfd.Dup(s.Read)
	if err != nil {
		return Descriptors{}, err
	}
	if s.Write == s.Read {
		return Descriptors{Read: r, Write: r}, nil
	}
	w, err := unixfd.Dup(s.Write)
	if err != nil {
		_ = r.Close()
		return Descriptors{}, err
	}
	return Descriptors{Read: r, Write: w}, nil
}
