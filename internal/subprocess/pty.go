package subprocess

import (
	"fmt"

	"github.com/creack/pty"

	"github.com/kahiteam/ioloop/internal/unixfd"
)

// PtyStream connects the child to the terminal side of a new pseudo
// terminal; the parent keeps the master. A child with any pty stream is
// started in a new session with that terminal as its controlling tty.
type PtyStream struct {
	Rows uint16
	Cols uint16
}

func (s PtyStream) Open(dir Direction) (Descriptors, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return Descriptors{}, fmt.Errorf("open pty: %w", err)
	}
	if s.Rows > 0 && s.Cols > 0 {
		if err := pty.Setsize(ptmx, &pty.Winsize{Rows: s.Rows, Cols: s.Cols}); err != nil {
			_ = ptmx.Close()
			_ = tty.Close()
			return Descriptors{}, fmt.Errorf("set pty size: %w", err)
		}
	}

	master, err := unixfd.FromFile(ptmx)
	if err != nil {
		_ = tty.Close()
		return Descriptors{}, err
	}
	term, err := unixfd.FromFile(tty)
	if err != nil {
		_ = master.Close()
		return Descriptors{}, err
	}
	if dir == Input {
		return Descriptors{Read: term, Write: master}, nil
	}
	return Descriptors{Read: master, Write: term}, nil
}
