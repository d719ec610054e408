// Package vfs makes a remote repository revision appear as local files
// under a project root. Reads of missing files fetch them on demand and
// materialize them on disk; directory listings merge local and remote
// entries. Interception is explicit: callers use the package-level entry
// points (Open, Stat, ReadDir, ...) or a *Router, which also serves as an
// afero.Fs.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/repostream/internal/logging"
	"github.com/fruitsalade/repostream/pkg/cache"
	"github.com/fruitsalade/repostream/pkg/client"
	"github.com/fruitsalade/repostream/pkg/gitinfo"
	"github.com/fruitsalade/repostream/pkg/models"
	"github.com/fruitsalade/repostream/pkg/retry"
	"github.com/fruitsalade/repostream/pkg/tree"
)

// DefaultHost is the repository host used to pick a git remote when no
// repository URL is given.
const DefaultHost = "https://dagshub.com"

// Options configures a mount.
type Options struct {
	// ProjectRoot defaults to the nearest ancestor of the working
	// directory that contains .git.
	ProjectRoot string
	// RepoURL defaults to the first git remote pointing at Host.
	RepoURL string
	Host    string
	// Revision is a branch name or commit id. Empty follows the local HEAD.
	Revision string
	Tokens   client.TokenSource
	// Exclude lists doublestar globs of paths never fetched remotely.
	Exclude []string
	// Extensions names framework extensions to apply while mounted.
	Extensions []string

	Timeout     time.Duration
	RetryConfig retry.Config

	// DirectBuckets maps a storage protocol ("s3") to a fetcher that
	// reads bucket objects without going through the repository API.
	DirectBuckets map[string]BucketFetcher

	// API replaces the HTTP client built from RepoURL.
	API API
	// Primitives replaces the operating system's file operations.
	Primitives *Primitives
}

// FS is one mounted project root backed by one remote revision.
type FS struct {
	root       string
	repo       models.RepoURL
	revision   string
	api        API
	base       Primitives
	exclude    []string
	extensions []string
	buckets    []models.Bucket
	direct     map[string]BucketFetcher

	listings *cache.Listings
	tree     *tree.Cache

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	router *Router
	closed bool
}

// New connects a project root to its remote repository and pins a
// revision. The returned FS is not routed until registered with a Router;
// use Install to mount it on the default router.
func New(ctx context.Context, opts Options) (*FS, error) {
	base := OSPrimitives()
	if opts.Primitives != nil {
		base = *opts.Primitives
	}

	root, err := projectRoot(base, opts.ProjectRoot)
	if err != nil {
		return nil, err
	}

	for _, glob := range opts.Exclude {
		if !doublestar.ValidatePattern(glob) {
			return nil, fmt.Errorf("invalid exclude pattern %q", glob)
		}
	}
	for _, name := range opts.Extensions {
		if _, ok := lookupExtension(name); !ok {
			return nil, fmt.Errorf("unknown extension %q", name)
		}
	}

	rawURL := opts.RepoURL
	if rawURL == "" {
		host := opts.Host
		if host == "" {
			host = DefaultHost
		}
		if rawURL, err = gitinfo.FindRemote(root, host); err != nil {
			return nil, fmt.Errorf("find repository remote: %w", err)
		}
	}
	repoURL, err := models.ParseRepoURL(rawURL)
	if err != nil {
		return nil, err
	}

	api := opts.API
	if api == nil {
		api = client.New(client.Config{
			Repo:        repoURL,
			Timeout:     opts.Timeout,
			RetryConfig: opts.RetryConfig,
			Tokens:      opts.Tokens,
		})
	}

	repo, err := api.GetRepo(ctx)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return nil, fmt.Errorf("access %s: %w", repoURL, err)
		}
		return nil, fmt.Errorf("repository %s is unreachable: %w", repoURL, err)
	}

	buckets, err := api.ListBuckets(ctx)
	if err != nil {
		logging.Warn("listing connected buckets failed, storage paths disabled",
			zap.String("repo", repoURL.FullName()), zap.Error(err))
		buckets = nil
	}

	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &FS{
		root:       root,
		repo:       repoURL,
		api:        api,
		base:       base,
		exclude:    append([]string(nil), opts.Exclude...),
		extensions: append([]string(nil), opts.Extensions...),
		buckets:    buckets,
		direct:     opts.DirectBuckets,
		listings:   cache.NewListings(),
		tree:       tree.New(),
		ctx:        mctx,
		cancel:     cancel,
	}

	f.revision, err = f.resolveRevision(ctx, opts.Revision, repo.DefaultBranch)
	if err != nil {
		cancel()
		return nil, err
	}

	logging.Info("mount ready",
		zap.String("root", root),
		zap.String("repo", repoURL.FullName()),
		zap.String("revision", f.revision),
		zap.Int("buckets", len(buckets)))
	return f, nil
}

func projectRoot(base Primitives, explicit string) (string, error) {
	if explicit != "" {
		root, err := filepath.Abs(explicit)
		if err != nil {
			return "", err
		}
		info, err := base.Fs.Stat(root)
		if err != nil {
			return "", fmt.Errorf("project root: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("project root %s is not a directory", root)
		}
		return root, nil
	}

	cwd, err := base.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	root, err := gitinfo.FindRoot(cwd)
	if err != nil {
		return "", fmt.Errorf("find project root: %w", err)
	}
	return root, nil
}

// Root returns the absolute project root.
func (f *FS) Root() string { return f.root }

// Repo returns the remote repository coordinate.
func (f *FS) Repo() models.RepoURL { return f.repo }

// Revision returns the pinned commit id.
func (f *FS) Revision() string { return f.revision }

// Buckets returns the connected storage buckets.
func (f *FS) Buckets() []models.Bucket { return append([]models.Bucket(nil), f.buckets...) }

// Close unmounts f from its router, if any. It is safe to call more than once.
func (f *FS) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	r := f.router
	f.mu.Unlock()

	var err error
	if r != nil {
		err = r.Unregister(f)
		if errors.Is(err, ErrNotMounted) {
			err = nil
		}
	}
	f.cancel()
	f.listings.Clear()
	f.tree.Clear()
	return err
}

// CacheStats counts what a mount has learned about the remote.
type CacheStats struct {
	Listings int // directories with a cached remote listing, including misses
	TreeDirs int // directories whose remote children are known
}

// CacheStats reports the current cache sizes.
func (f *FS) CacheStats() CacheStats {
	return CacheStats{Listings: f.listings.Len(), TreeDirs: f.tree.Len()}
}

func (f *FS) setRouter(r *Router) {
	f.mu.Lock()
	f.router = r
	f.mu.Unlock()
}

// Resolve classifies p against this mount.
func (f *FS) Resolve(p PathLike) Resolved {
	if p.IsFD() {
		return Resolved{Original: p.String()}
	}
	cwd := ""
	if !filepath.IsAbs(p.text) {
		var err error
		if cwd, err = f.base.Getwd(); err != nil {
			return Resolved{Original: p.text, Abs: p.text}
		}
	}
	return resolve(f.root, cwd, p.text, p.kind == kindBytes, f.exclude)
}

// at resolves a slash-separated path relative to the root.
func (f *FS) at(rel string) Resolved {
	return resolve(f.root, f.root, filepath.FromSlash(rel), false, f.exclude)
}

func (f *FS) parentOf(r Resolved) Resolved {
	i := strings.LastIndex(r.Rel, "/")
	if i < 0 {
		return f.at(".")
	}
	return f.at(r.Rel[:i])
}

// mkdirs creates every missing directory from the root down to abs.
func (f *FS) mkdirs(abs string) error {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("mkdirs: %s is outside %s", abs, f.root)
	}
	dir := f.root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." || part == "" {
			continue
		}
		dir = filepath.Join(dir, part)
		if err := f.base.Fs.Mkdir(dir, 0755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

// The methods below let an FS serve file operations on its own, without a
// router. Paths outside the root go to the base primitives.

// OpenFile opens name, fetching it from the remote when missing locally.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (afero.File, error) {
	if r := f.Resolve(Text(name)); r.InRepo {
		return f.openResolved(r, flag, perm)
	}
	return f.base.Fs.OpenFile(name, flag, perm)
}

// Open opens name for reading.
func (f *FS) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

// Stat returns file info, synthesized from the remote listing for files
// that are not materialized.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	if r := f.Resolve(Text(name)); r.InRepo {
		return f.statResolved(r, false)
	}
	return baseOps{p: f.base}.Stat(name)
}

// Lstat is Stat without following a final symlink.
func (f *FS) Lstat(name string) (fs.FileInfo, error) {
	if r := f.Resolve(Text(name)); r.InRepo {
		return f.statResolved(r, true)
	}
	return baseOps{p: f.base}.Lstat(name)
}

// ReadDir returns the merged local and remote entries of a directory.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if r := f.Resolve(Text(name)); r.InRepo {
		return f.readDirResolved(r)
	}
	return baseOps{p: f.base}.ReadDir(name)
}

// ListDir returns the merged local and remote names of a directory.
func (f *FS) ListDir(name string) ([]string, error) {
	if r := f.Resolve(Text(name)); r.InRepo {
		return f.listDirResolved(r)
	}
	return baseOps{p: f.base}.ListDir(name)
}

// Chdir changes directory, creating it locally if it exists only remotely.
func (f *FS) Chdir(dir string) error {
	if r := f.Resolve(Text(dir)); r.InRepo {
		return f.chdirResolved(r)
	}
	return f.base.Chdir(dir)
}

// Materialize ensures name is present on local disk.
func (f *FS) Materialize(name string) error {
	file, err := f.Open(name)
	if err != nil {
		return err
	}
	return file.Close()
}
