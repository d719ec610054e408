package vfs

import (
	"io/fs"
	"time"

	"github.com/fruitsalade/repostream/pkg/models"
)

// remoteInfo describes a file or directory known only from a remote
// listing, or synthesized by the mount.
type remoteInfo struct {
	name  string
	size  int64
	dir   bool
	entry *models.RemoteEntry
}

func (i *remoteInfo) Name() string { return i.name }
func (i *remoteInfo) Size() int64  { return i.size }
func (i *remoteInfo) IsDir() bool  { return i.dir }

func (i *remoteInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0755
	}
	return 0644
}

func (i *remoteInfo) ModTime() time.Time { return time.Time{} }

// Sys returns the *models.RemoteEntry behind the info, or nil when the
// entry was synthesized.
func (i *remoteInfo) Sys() any {
	if i.entry == nil {
		return nil
	}
	return i.entry
}

func entryInfo(e models.RemoteEntry) *remoteInfo {
	return &remoteInfo{name: e.Name(), size: e.Size, dir: e.IsDir(), entry: &e}
}

func dirInfo(name string) *remoteInfo {
	return &remoteInfo{name: name, dir: true}
}
