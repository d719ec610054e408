//go:build unix

package vfs

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// AtFDCWD is the directory descriptor meaning "the working directory".
const AtFDCWD = unix.AT_FDCWD

// dupFile wraps a duplicate of fd so closing the result leaves the
// caller's descriptor open.
func dupFile(fd uintptr) (*os.File, error) {
	nfd, err := unix.Dup(int(fd))
	if err != nil {
		return nil, os.NewSyscallError("dup", err)
	}
	unix.CloseOnExec(nfd)
	return os.NewFile(uintptr(nfd), "fd:"+strconv.Itoa(int(fd))), nil
}
