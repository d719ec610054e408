package vfs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/afero/mem"
	"go.uber.org/zap"

	"github.com/fruitsalade/repostream/internal/logging"
	"github.com/fruitsalade/repostream/internal/metrics"
	"github.com/fruitsalade/repostream/pkg/cache"
	"github.com/fruitsalade/repostream/pkg/tree"
)

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_APPEND

func (f *FS) markerContent() []byte {
	return []byte(fmt.Sprintf("%s@%s\n", f.repo, f.revision))
}

func (f *FS) markerInfo() fs.FileInfo {
	return &remoteInfo{name: MarkerFile, size: int64(len(f.markerContent()))}
}

func (f *FS) markerFile() afero.File {
	data := mem.CreateFile(filepath.Join(f.root, MarkerFile))
	w := mem.NewFileHandle(data)
	w.Write(f.markerContent())
	w.Close()
	return mem.NewReadOnlyFileHandle(data)
}

func (f *FS) openResolved(r Resolved, flag int, perm fs.FileMode) (afero.File, error) {
	if r.Passthrough {
		return f.base.Fs.OpenFile(r.Original, flag, perm)
	}
	if r.Special {
		if flag&writeFlags != 0 {
			return nil, &fs.PathError{Op: "open", Path: r.Original, Err: fs.ErrPermission}
		}
		return f.markerFile(), nil
	}

	if flag&writeFlags != 0 {
		if _, err := f.base.Fs.Stat(r.Abs); errors.Is(err, fs.ErrNotExist) {
			return f.openForWrite(r, flag, perm)
		}
		return f.base.Fs.OpenFile(r.Abs, flag, perm)
	}

	file, err := f.base.Fs.OpenFile(r.Abs, flag, perm)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return file, err
	}
	if ferr := f.materialize(r); ferr != nil {
		if errors.Is(ferr, fs.ErrNotExist) {
			return nil, err
		}
		return nil, ferr
	}
	return f.base.Fs.OpenFile(r.Abs, flag, perm)
}

// openForWrite handles a write-mode open of a path missing locally. The
// parent must exist locally or remotely. Modes that keep existing content
// materialize the remote file first.
func (f *FS) openForWrite(r Resolved, flag int, perm fs.FileMode) (afero.File, error) {
	if r.Rel != "." {
		info, err := f.statResolved(f.parentOf(r), false)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if err == nil && info.IsDir() {
			keep := flag&os.O_APPEND != 0 || (flag&os.O_RDWR != 0 && flag&os.O_TRUNC == 0)
			if keep {
				if err := f.materialize(r); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return nil, err
				}
			}
		}
	}
	// A missing parent surfaces as the local open's own error.
	return f.base.Fs.OpenFile(r.Abs, flag, perm)
}

// materialize downloads r and writes it atomically under the root.
// Remote directories are created instead.
func (f *FS) materialize(r Resolved) error {
	if r.Rel == "." {
		return notExist("open", r.Original)
	}

	if info := f.virtual(r); info != nil && info.IsDir() {
		return f.mkdirs(r.Abs)
	}
	if kind, found, known := f.tree.Lookup(r.Rel); known {
		if !found {
			return notExist("open", r.Original)
		}
		if kind == tree.Dir {
			return f.mkdirs(r.Abs)
		}
	}

	data, err := f.fetch(r)
	if err != nil {
		if !isRemoteNotFound(err) {
			return &FetchError{Op: "open", Path: r.Rel, Err: err}
		}
		// Directories have no raw content; the parent listing tells them apart.
		info, err := f.lookup(r)
		if err != nil {
			return err
		}
		if info != nil && info.IsDir() {
			return f.mkdirs(r.Abs)
		}
		return notExist("open", r.Original)
	}

	if err := f.mkdirs(filepath.Dir(r.Abs)); err != nil {
		return err
	}
	n, err := cache.WriteFile(f.base.Fs, r.Abs, bytes.NewReader(data), 0644)
	if err != nil {
		return fmt.Errorf("materialize %s: %w", r.Rel, err)
	}
	metrics.RecordMaterialized(n)
	logging.Debug("materialized file", zap.String("path", r.Rel), zap.Int64("bytes", n))
	return nil
}

// virtual returns the synthesized entry for r, if the mount provides one.
func (f *FS) virtual(r Resolved) fs.FileInfo {
	if r.Rel == "." {
		return nil
	}
	name := filepath.Base(r.Abs)
	for _, info := range f.synthesized(f.parentOf(r)) {
		if info.Name() == name {
			return info
		}
	}
	return nil
}

func (f *FS) fetch(r Resolved) ([]byte, error) {
	if !r.Storage {
		return f.api.GetFile(f.ctx, f.revision, r.Rel)
	}

	storagePath := r.storagePath()
	proto, object, _ := strings.Cut(storagePath, "/")
	if strings.Count(object, "/") < 1 {
		return nil, notExist("open", r.Original)
	}
	if fetcher := f.direct[proto]; fetcher != nil {
		return fetcher.Fetch(f.ctx, object)
	}
	return f.api.GetStorageFile(f.ctx, storagePath)
}

func (f *FS) statResolved(r Resolved, lstat bool) (fs.FileInfo, error) {
	ops := baseOps{p: f.base}
	statFn := ops.Stat
	if lstat {
		statFn = ops.Lstat
	}
	if r.Passthrough {
		return statFn(r.Original)
	}
	if r.Special {
		return f.markerInfo(), nil
	}

	info, err := statFn(r.Abs)
	if err == nil || r.Rel == "." || !errors.Is(err, fs.ErrNotExist) {
		return info, err
	}

	found, lerr := f.lookup(r)
	if lerr != nil {
		return nil, lerr
	}
	if found == nil {
		return nil, err
	}
	if !found.IsDir() {
		return found, nil
	}
	if err := f.mkdirs(r.Abs); err != nil {
		return nil, err
	}
	return statFn(r.Abs)
}

func (f *FS) chdirResolved(r Resolved) error {
	if r.Passthrough {
		return f.base.Chdir(r.Original)
	}
	err := f.base.Chdir(r.Abs)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if info := f.virtual(r); info == nil || !info.IsDir() {
		listing, lerr := f.remoteListing(r, false)
		if lerr != nil || listing.NotFound {
			return err
		}
	}
	if err := f.mkdirs(r.Abs); err != nil {
		return err
	}
	return f.base.Chdir(r.Abs)
}
