package vfs

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrUnsupportedArgument is returned for argument forms the router
	// refuses to guess at, such as a directory descriptor other than AtFDCWD.
	ErrUnsupportedArgument = fmt.Errorf("unsupported argument: %w", errors.ErrUnsupported)

	// ErrNotMounted is returned when unmounting a root that has no mount.
	ErrNotMounted = errors.New("no mount at path")
)

// AlreadyMountedError is returned when a project root already has a mount.
type AlreadyMountedError struct {
	Root     string
	Revision string
}

func (e *AlreadyMountedError) Error() string {
	return fmt.Sprintf("%s is already mounted at revision %s", e.Root, e.Revision)
}

// FetchError is a remote failure other than not-found. It never matches
// fs.ErrNotExist, so callers can tell a missing file from a broken network.
type FetchError struct {
	Op   string
	Path string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: remote fetch failed: %v", e.Op, e.Path, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RevisionError is returned when no remote commit can be pinned.
type RevisionError struct {
	Revision string
	Err      error
}

func (e *RevisionError) Error() string {
	if e.Revision == "" {
		return fmt.Sprintf("resolve revision: %v", e.Err)
	}
	return fmt.Sprintf("resolve revision %q: %v", e.Revision, e.Err)
}

func (e *RevisionError) Unwrap() error { return e.Err }

func notExist(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
}
