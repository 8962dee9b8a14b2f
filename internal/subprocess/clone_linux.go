package subprocess

import (
	"errors"
	"syscall"
)

// cloneRequest is everything the child needs between clone and exec.
type cloneRequest struct {
	path string
	argv []string
	// files[i] is installed as descriptor i in the child.
	files [3]uintptr
	// ctty is the child descriptor that becomes the controlling terminal
	// of a new session, or -1.
	ctty int
}

// cloneExec is the only place a process is created. The runtime clones with
// CLONE_VM|CLONE_VFORK, so the parent is suspended until the child has
// either exec'd or exited, and the child's setup errno comes back over a
// close-on-exec pipe. On failure the runtime has already reaped the child.
//
// A non-zero errno is what the child reported; pid is only meaningful when
// errno is zero.
func cloneExec(req cloneRequest) (pid int, errno syscall.Errno) {
	attr := &syscall.ProcAttr{
		Env:   []string{},
		Files: req.files[:],
		Sys:   &syscall.SysProcAttr{},
	}
	if req.ctty >= 0 {
		attr.Sys.Setsid = true
		attr.Sys.Setctty = true
		attr.Sys.Ctty = req.ctty
	}

	pid, err := syscall.ForkExec(req.path, req.argv, attr)
	if err != nil {
		if !errors.As(err, &errno) || errno == 0 {
			errno = syscall.EINVAL
		}
		return 0, errno
	}
	return pid, 0
}
