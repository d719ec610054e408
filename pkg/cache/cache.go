// Package cache holds a mount's remote listing cache and the atomic writer
// used to materialize remote files on local disk.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/fruitsalade/repostream/pkg/models"
)

// Listing is one cached remote directory listing.
// A nil Entries with NotFound set is a permanent negative result.
type Listing struct {
	Entries  []models.RemoteEntry
	NotFound bool
	WithSize bool
}

// Listings maps a relative directory path to its remote listing.
// Entries are never invalidated: a mount reads through a pinned revision.
type Listings struct {
	mu      sync.RWMutex
	entries map[string]*Listing
}

// NewListings creates an empty listing cache.
func NewListings() *Listings {
	return &Listings{entries: make(map[string]*Listing)}
}

// Get returns the cached listing for dir. A query that needs sizes only
// hits entries that were fetched with sizes; any query may reuse a
// size-bearing entry. Negative results satisfy every query.
func (l *Listings) Get(dir string, needSize bool) (*Listing, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[dir]
	if !ok {
		return nil, false
	}
	if needSize && !entry.WithSize && !entry.NotFound {
		return nil, false
	}
	return entry, true
}

// Put stores a listing. A size-less listing never replaces a size-bearing one.
func (l *Listings) Put(dir string, listing *Listing) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.entries[dir]; ok && old.WithSize && !listing.WithSize && !old.NotFound {
		return
	}
	l.entries[dir] = listing
}

// PutNotFound records that dir does not exist remotely.
func (l *Listings) PutNotFound(dir string) {
	l.Put(dir, &Listing{NotFound: true, WithSize: true})
}

// Len returns the number of cached directories.
func (l *Listings) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops every cached listing.
func (l *Listings) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*Listing)
}

// WriteFile writes r to path on fsys atomically (temp file then rename) and
// returns the number of bytes written. The parent directory must exist.
func WriteFile(fsys afero.Fs, path string, r io.Reader, perm os.FileMode) (int64, error) {
	f, err := afero.TempFile(fsys, filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := f.Name()

	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fsys.Remove(tempPath)
		return 0, fmt.Errorf("write content: %w", err)
	}

	if err := fsys.Chmod(tempPath, perm); err != nil {
		fsys.Remove(tempPath)
		return 0, fmt.Errorf("chmod temp file: %w", err)
	}

	if err := fsys.Rename(tempPath, path); err != nil {
		fsys.Remove(tempPath)
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	return written, nil
}
