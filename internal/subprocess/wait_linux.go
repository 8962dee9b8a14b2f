package subprocess

import (
	"encoding/binary"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// siginfo_t keeps si_pid and si_status in a union that starts after the
// three leading ints, aligned to a pointer.
var (
	sigchldOffset = 12 + (unsafe.Sizeof(uintptr(0)) - 4)
	sigchldPid    = sigchldOffset
	sigchldStatus = sigchldOffset + 8
)

// waitid waits for pid to change state according to options. It returns a
// record with Pid 0 when WNOHANG is set and the child is still running.
func waitid(pid int, options int) (ExitRecord, error) {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, options, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ExitRecord{}, os.NewSyscallError("waitid", err)
		}
		break
	}
	return decodeSiginfo(&info), nil
}

func decodeSiginfo(info *unix.Siginfo) ExitRecord {
	raw := (*[unsafe.Sizeof(unix.Siginfo{})]byte)(unsafe.Pointer(info))
	return ExitRecord{
		Pid:    int(int32(binary.NativeEndian.Uint32(raw[sigchldPid:]))),
		Code:   int(info.Code),
		Status: int(int32(binary.NativeEndian.Uint32(raw[sigchldStatus:]))),
	}
}
