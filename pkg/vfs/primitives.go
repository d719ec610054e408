package vfs

import (
	"io"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/spf13/afero"
)

// FileOps is the set of file operations a mount intercepts.
type FileOps interface {
	OpenFile(name string, flag int, perm fs.FileMode) (afero.File, error)
	Stat(name string) (fs.FileInfo, error)
	Lstat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	ListDir(name string) ([]string, error)
	Chdir(dir string) error
}

// Primitives are the real, un-intercepted operations. A router saves them
// when it is created and every mount performs its local work through them.
type Primitives struct {
	Fs    afero.Fs
	Chdir func(dir string) error
	Getwd func() (string, error)
}

// OSPrimitives returns the operating system's file operations.
func OSPrimitives() Primitives {
	return Primitives{Fs: afero.NewOsFs(), Chdir: os.Chdir, Getwd: os.Getwd}
}

type baseOps struct{ p Primitives }

func (b baseOps) OpenFile(name string, flag int, perm fs.FileMode) (afero.File, error) {
	return b.p.Fs.OpenFile(name, flag, perm)
}

func (b baseOps) Stat(name string) (fs.FileInfo, error) { return b.p.Fs.Stat(name) }

func (b baseOps) Lstat(name string) (fs.FileInfo, error) {
	if l, ok := b.p.Fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return b.p.Fs.Stat(name)
}

func (b baseOps) ReadDir(name string) ([]fs.DirEntry, error) {
	infos, err := afero.ReadDir(b.p.Fs, name)
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}

func (b baseOps) ListDir(name string) ([]string, error) {
	f, err := b.p.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

func (b baseOps) Chdir(dir string) error { return b.p.Chdir(dir) }

type opsBox struct{ ops FileOps }

// current is the process-wide table behind the package-level entry points.
var current atomic.Pointer[opsBox]

func init() {
	current.Store(&opsBox{ops: baseOps{p: OSPrimitives()}})
}

func active() FileOps { return current.Load().ops }

// Open opens name for reading through the active table.
func Open(name string) (afero.File, error) {
	return active().OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile is the generalized open call through the active table.
func OpenFile(name string, flag int, perm fs.FileMode) (afero.File, error) {
	return active().OpenFile(name, flag, perm)
}

// Create creates or truncates name through the active table.
func Create(name string) (afero.File, error) {
	return active().OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// Stat returns file info through the active table.
func Stat(name string) (fs.FileInfo, error) { return active().Stat(name) }

// Lstat returns file info without following a final symlink.
func Lstat(name string) (fs.FileInfo, error) { return active().Lstat(name) }

// ReadDir returns the directory's entries sorted by name.
func ReadDir(name string) ([]fs.DirEntry, error) { return active().ReadDir(name) }

// ListDir returns the names in a directory.
func ListDir(name string) ([]string, error) { return active().ListDir(name) }

// Chdir changes the working directory through the active table.
func Chdir(dir string) error { return active().Chdir(dir) }

// ReadFile reads a whole file through the active table.
func ReadFile(name string) ([]byte, error) {
	f, err := Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
