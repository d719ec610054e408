package vfs

import (
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/repostream/internal/logging"
	"github.com/fruitsalade/repostream/internal/metrics"
	"github.com/fruitsalade/repostream/pkg/cache"
	"github.com/fruitsalade/repostream/pkg/tree"
)

// maxVirtualStorageDepth is the deepest storage path (".repostream/storage/<proto>")
// whose children come only from the connected bucket list.
const maxVirtualStorageDepth = 3

var notFoundListing = &cache.Listing{NotFound: true, WithSize: true}

// isVirtualDir reports whether r lies in the synthesized part of the
// reserved tree: everything under .repostream except storage paths below
// a protocol directory.
func isVirtualDir(r Resolved) bool {
	if r.Storage {
		return len(r.segments()) <= maxVirtualStorageDepth
	}
	return r.Rel == ReservedDir || strings.HasPrefix(r.Rel, ReservedDir+"/")
}

// remoteListing returns the remote listing of directory r, fetching it at
// most once per mount. Remote not-found is cached as a negative entry and
// never retried.
func (f *FS) remoteListing(r Resolved, needSize bool) (*cache.Listing, error) {
	if r.Passthrough || isVirtualDir(r) {
		return notFoundListing, nil
	}

	if l, ok := f.listings.Get(r.Rel, needSize); ok {
		metrics.RecordListingCache(true)
		return l, nil
	}
	metrics.RecordListingCache(false)

	var err error
	listing := &cache.Listing{WithSize: needSize || r.Storage}
	if r.Storage {
		listing.Entries, err = f.api.ListStorage(f.ctx, r.storagePath())
	} else {
		listing.Entries, err = f.api.ListPath(f.ctx, f.revision, r.Rel, needSize)
	}
	if err != nil {
		if isRemoteNotFound(err) {
			f.listings.PutNotFound(r.Rel)
			return notFoundListing, nil
		}
		return nil, &FetchError{Op: "list", Path: r.Rel, Err: err}
	}

	children := make(map[string]tree.Kind, len(listing.Entries))
	for _, e := range listing.Entries {
		kind := tree.File
		if e.IsDir() {
			kind = tree.Dir
		}
		children[e.Name()] = kind
	}
	f.listings.Put(r.Rel, listing)
	f.tree.SetChildren(r.Rel, children)

	logging.Debug("listed remote directory",
		zap.String("path", r.Rel), zap.Int("entries", len(listing.Entries)), zap.Bool("size", listing.WithSize))
	return listing, nil
}

// synthesized returns the entries the mount itself contributes to
// directory r: the marker file and storage tree.
func (f *FS) synthesized(r Resolved) []fs.FileInfo {
	var out []fs.FileInfo
	switch {
	case r.Rel == ".":
		out = append(out, f.markerInfo())
		if len(f.buckets) > 0 {
			out = append(out, dirInfo(ReservedDir))
		}
	case r.Rel == ReservedDir:
		if len(f.buckets) > 0 {
			out = append(out, dirInfo(path.Base(StorageDir)))
		}
	case r.Storage:
		prefix := r.Rel + "/"
		seen := make(map[string]bool)
		for _, b := range f.buckets {
			rest, ok := strings.CutPrefix(StorageDir+"/"+b.MountPath(), prefix)
			if !ok {
				continue
			}
			name, _, _ := strings.Cut(rest, "/")
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, dirInfo(name))
			}
		}
	}
	return out
}

// lookup finds r among the virtual and remote children of its parent.
// It returns nil, nil when neither has it.
func (f *FS) lookup(r Resolved) (fs.FileInfo, error) {
	if r.Rel == "." {
		return nil, nil
	}
	parent := f.parentOf(r)
	name := path.Base(r.Rel)
	for _, info := range f.synthesized(parent) {
		if info.Name() == name {
			return info, nil
		}
	}

	listing, err := f.remoteListing(parent, true)
	if err != nil {
		return nil, err
	}
	for _, e := range listing.Entries {
		if e.Name() == name {
			return entryInfo(e), nil
		}
	}
	return nil, nil
}

// readDir merges local, synthesized and remote entries of r.
func (f *FS) readDir(r Resolved, needSize bool) ([]fs.FileInfo, error) {
	local, localErr := afero.ReadDir(f.base.Fs, r.Abs)
	if localErr != nil && !errors.Is(localErr, fs.ErrNotExist) {
		return nil, localErr
	}

	seen := make(map[string]bool)
	var out []fs.FileInfo
	add := func(info fs.FileInfo) {
		if !seen[info.Name()] {
			seen[info.Name()] = true
			out = append(out, info)
		}
	}

	for _, info := range local {
		add(info)
	}
	synth := f.synthesized(r)
	for _, info := range synth {
		add(info)
	}

	listing, err := f.remoteListing(r, needSize)
	if err != nil {
		return nil, err
	}
	for _, e := range listing.Entries {
		add(entryInfo(e))
	}

	if localErr != nil && listing.NotFound && len(synth) == 0 {
		return nil, localErr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (f *FS) listDirResolved(r Resolved) ([]string, error) {
	if r.Passthrough {
		return baseOps{p: f.base}.ListDir(r.Original)
	}
	infos, err := f.readDir(r, false)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

func (f *FS) readDirResolved(r Resolved) ([]fs.DirEntry, error) {
	if r.Passthrough {
		return baseOps{p: f.base}.ReadDir(r.Original)
	}
	infos, err := f.readDir(r, true)
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}
