package vfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/repostream/internal/logging"
	"github.com/fruitsalade/repostream/internal/metrics"
)

// Mount describes one registered mount.
type Mount struct {
	Root string
	FS   *FS
}

// Router dispatches file operations to the mount owning each path and
// falls back to its base primitives for everything else. It is installed
// while at least one mount is registered.
type Router struct {
	base   Primitives
	global bool

	mu      sync.Mutex
	mounts  map[string]*FS
	saved   *opsBox
	applied map[string]bool
}

var _ afero.Fs = (*Router)(nil)
var _ FileOps = (*Router)(nil)

// NewRouter creates a router over base. Its mounts perform their local
// work through base.
func NewRouter(base Primitives) *Router {
	return &Router{
		base:    base,
		mounts:  make(map[string]*FS),
		applied: make(map[string]bool),
	}
}

var (
	defaultOnce   sync.Once
	defaultRouter *Router
)

// Default returns the process-wide router. Installing it swaps the table
// behind the package-level entry points; uninstalling restores it.
func Default() *Router {
	defaultOnce.Do(func() {
		defaultRouter = NewRouter(OSPrimitives())
		defaultRouter.global = true
	})
	return defaultRouter
}

// Install mounts a project root on the default router.
func Install(ctx context.Context, opts Options) (*FS, error) {
	return Default().Mount(ctx, opts)
}

// Uninstall removes m from the default router.
func Uninstall(m *FS) error { return Default().Unregister(m) }

// UninstallRoot removes the mount at root from the default router.
func UninstallRoot(root string) error { return Default().UnregisterRoot(root) }

// UninstallAll removes every mount from the default router.
func UninstallAll() { Default().UnregisterAll() }

// Mounts lists the mounts of the default router.
func Mounts() []Mount { return Default().Mounts() }

// Mount builds an FS over the router's primitives and registers it.
// Nothing is registered if construction fails.
func (r *Router) Mount(ctx context.Context, opts Options) (*FS, error) {
	base := r.base
	opts.Primitives = &base
	m, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := r.Register(m); err != nil {
		m.cancel()
		return nil, err
	}
	return m, nil
}

// Installed reports whether any mount is registered.
func (r *Router) Installed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mounts) > 0
}

// Register adds m. The first registration installs the router.
func (r *Router) Register(m *FS) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.mounts[m.root]; ok {
		return &AlreadyMountedError{Root: m.root, Revision: existing.revision}
	}
	if len(r.mounts) == 0 {
		r.install()
	}
	r.mounts[m.root] = m
	m.setRouter(r)

	for _, name := range m.extensions {
		if r.applied[name] {
			continue
		}
		if acquireExtension(name, r) {
			r.applied[name] = true
			logging.Debug("extension applied", zap.String("name", name))
		}
	}

	r.updateGauge()
	logging.Info("mounted",
		zap.String("root", m.root),
		zap.String("repo", m.repo.FullName()),
		zap.String("revision", m.revision))
	return nil
}

// Unregister removes m. Removing the last mount uninstalls the router.
func (r *Router) Unregister(m *FS) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.mounts[m.root]; !ok || existing != m {
		return &fs.PathError{Op: "unmount", Path: m.root, Err: ErrNotMounted}
	}
	r.remove(m)
	return nil
}

// UnregisterRoot removes the mount whose root is root.
func (r *Router) UnregisterRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mounts[abs]
	if !ok {
		return &fs.PathError{Op: "unmount", Path: abs, Err: ErrNotMounted}
	}
	r.remove(m)
	return nil
}

// UnregisterAll removes every mount.
func (r *Router) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.mounts {
		r.remove(m)
	}
}

// remove requires r.mu.
func (r *Router) remove(m *FS) {
	delete(r.mounts, m.root)
	m.setRouter(nil)
	logging.Info("unmounted", zap.String("root", m.root))

	if len(r.mounts) == 0 {
		r.uninstall()
	}
	r.updateGauge()
}

func (r *Router) install() {
	if r.global {
		r.saved = current.Load()
		current.Store(&opsBox{ops: r})
	}
	logging.Debug("router installed")
}

func (r *Router) uninstall() {
	for name := range r.applied {
		releaseExtension(name, r)
		delete(r.applied, name)
	}
	if r.global && r.saved != nil {
		current.Store(r.saved)
		r.saved = nil
	}
	logging.Debug("router uninstalled")
}

func (r *Router) updateGauge() {
	if r.global {
		metrics.SetActiveMounts(len(r.mounts))
	}
}

// Mounts lists the registered mounts sorted by root.
func (r *Router) Mounts() []Mount {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Mount, 0, len(r.mounts))
	for root, m := range r.mounts {
		out = append(out, Mount{Root: root, FS: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}

// route picks the mount with the deepest root containing p.
func (r *Router) route(p PathLike) (*FS, Resolved) {
	var best *FS
	var bestRes Resolved
	for _, mount := range r.Mounts() {
		res := mount.FS.Resolve(p)
		if !res.InRepo {
			continue
		}
		if best == nil || res.Depth() < bestRes.Depth() {
			best, bestRes = mount.FS, res
		}
	}
	return best, bestRes
}

// OpenPath opens p. Descriptors are wrapped without interception and the
// returned file owns them.
func (r *Router) OpenPath(p PathLike, flag int, perm fs.FileMode) (afero.File, error) {
	if p.IsFD() {
		return os.NewFile(p.fd, p.String()), nil
	}
	if m, res := r.route(p); m != nil {
		return m.openResolved(res, flag, perm)
	}
	return r.base.Fs.OpenFile(p.text, flag, perm)
}

// StatPath returns file info for p.
func (r *Router) StatPath(p PathLike) (fs.FileInfo, error) {
	return r.statPath(p, false)
}

// LstatPath returns file info for p without following a final symlink.
func (r *Router) LstatPath(p PathLike) (fs.FileInfo, error) {
	return r.statPath(p, true)
}

func (r *Router) statPath(p PathLike, lstat bool) (fs.FileInfo, error) {
	if p.IsFD() {
		f, err := dupFile(p.fd)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return f.Stat()
	}
	if m, res := r.route(p); m != nil {
		return m.statResolved(res, lstat)
	}
	if lstat {
		return baseOps{p: r.base}.Lstat(p.text)
	}
	return r.base.Fs.Stat(p.text)
}

// ReadDirPath returns the entries of directory p sorted by name.
func (r *Router) ReadDirPath(p PathLike) ([]fs.DirEntry, error) {
	if p.IsFD() {
		f, err := dupFile(p.fd)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		entries, err := f.ReadDir(-1)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		return entries, err
	}
	if m, res := r.route(p); m != nil {
		return m.readDirResolved(res)
	}
	return baseOps{p: r.base}.ReadDir(p.text)
}

// ListDirPath returns the names in directory p.
func (r *Router) ListDirPath(p PathLike) ([]string, error) {
	if p.IsFD() {
		f, err := dupFile(p.fd)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return f.Readdirnames(-1)
	}
	if m, res := r.route(p); m != nil {
		return m.listDirResolved(res)
	}
	return baseOps{p: r.base}.ListDir(p.text)
}

// ListDirBytes is ListDir for a byte path; names come back as bytes.
func (r *Router) ListDirBytes(name []byte) ([][]byte, error) {
	names, err := r.ListDirPath(Bytes(name))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(names))
	for i, n := range names {
		out[i] = []byte(n)
	}
	return out, nil
}

// ChdirPath changes the working directory to p.
func (r *Router) ChdirPath(p PathLike) error {
	if p.IsFD() {
		f, err := dupFile(p.fd)
		if err != nil {
			return err
		}
		defer f.Close()
		return f.Chdir()
	}
	if m, res := r.route(p); m != nil {
		return m.chdirResolved(res)
	}
	return r.base.Chdir(p.text)
}

// OpenAt opens name relative to dirfd. Only AtFDCWD is supported.
func (r *Router) OpenAt(dirfd int, name string, flag int, perm fs.FileMode) (afero.File, error) {
	if dirfd != AtFDCWD {
		return nil, &fs.PathError{Op: "openat", Path: name, Err: ErrUnsupportedArgument}
	}
	return r.OpenFile(name, flag, perm)
}

// StatAt stats name relative to dirfd. Only AtFDCWD is supported.
func (r *Router) StatAt(dirfd int, name string) (fs.FileInfo, error) {
	if dirfd != AtFDCWD {
		return nil, &fs.PathError{Op: "fstatat", Path: name, Err: ErrUnsupportedArgument}
	}
	return r.Stat(name)
}

// Getwd returns the working directory from the base primitives.
func (r *Router) Getwd() (string, error) { return r.base.Getwd() }

// Materialize ensures name is present on local disk when a mount owns it.
func (r *Router) Materialize(name string) error {
	f, err := r.Open(name)
	if err != nil {
		return err
	}
	return f.Close()
}

// OpenFile implements afero.Fs.
func (r *Router) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return r.OpenPath(Text(name), flag, perm)
}

// Open implements afero.Fs.
func (r *Router) Open(name string) (afero.File, error) {
	return r.OpenPath(Text(name), os.O_RDONLY, 0)
}

// Create implements afero.Fs.
func (r *Router) Create(name string) (afero.File, error) {
	return r.OpenPath(Text(name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// Stat implements afero.Fs.
func (r *Router) Stat(name string) (os.FileInfo, error) { return r.StatPath(Text(name)) }

// Lstat returns file info without following a final symlink.
func (r *Router) Lstat(name string) (os.FileInfo, error) { return r.LstatPath(Text(name)) }

// LstatIfPossible implements afero.Lstater.
func (r *Router) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	_, ok := r.base.Fs.(afero.Lstater)
	info, err := r.LstatPath(Text(name))
	return info, ok, err
}

// ReadDir returns the entries of a directory sorted by name.
func (r *Router) ReadDir(name string) ([]fs.DirEntry, error) { return r.ReadDirPath(Text(name)) }

// ListDir returns the names in a directory.
func (r *Router) ListDir(name string) ([]string, error) { return r.ListDirPath(Text(name)) }

// Chdir changes the working directory.
func (r *Router) Chdir(dir string) error { return r.ChdirPath(Text(dir)) }

// Name implements afero.Fs.
func (r *Router) Name() string { return "RepoStreamFs" }

// The remaining afero.Fs methods are not intercepted.

func (r *Router) Mkdir(name string, perm os.FileMode) error { return r.base.Fs.Mkdir(name, perm) }

func (r *Router) MkdirAll(path string, perm os.FileMode) error {
	return r.base.Fs.MkdirAll(path, perm)
}

func (r *Router) Remove(name string) error { return r.base.Fs.Remove(name) }

func (r *Router) RemoveAll(path string) error { return r.base.Fs.RemoveAll(path) }

func (r *Router) Rename(oldname, newname string) error { return r.base.Fs.Rename(oldname, newname) }

func (r *Router) Chmod(name string, mode os.FileMode) error { return r.base.Fs.Chmod(name, mode) }

func (r *Router) Chown(name string, uid, gid int) error { return r.base.Fs.Chown(name, uid, gid) }

func (r *Router) Chtimes(name string, atime, mtime time.Time) error {
	return r.base.Fs.Chtimes(name, atime, mtime)
}
