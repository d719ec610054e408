//go:build !unix

package vfs

import "os"

// AtFDCWD is the directory descriptor meaning "the working directory".
const AtFDCWD = -100

func dupFile(fd uintptr) (*os.File, error) {
	return nil, ErrUnsupportedArgument
}
