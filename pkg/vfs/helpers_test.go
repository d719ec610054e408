package vfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/repostream/pkg/client"
	"github.com/fruitsalade/repostream/pkg/models"
)

const testCommit = "0123456789abcdef0123456789abcdef01234567"

// fakeAPI serves a repository from in-memory maps and counts calls.
type fakeAPI struct {
	mu        sync.Mutex
	repo      models.Repo
	files     map[string]string // repo path -> content
	storage   map[string]string // "<proto>/<bucket>/<key>" -> content
	commits   map[string]bool
	branches  map[string]string // branch -> commit
	buckets   []models.Bucket
	bucketErr error
	fail      map[string]error
	calls     map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		repo:     models.Repo{FullName: "owner/repo", DefaultBranch: "main"},
		files:    map[string]string{},
		storage:  map[string]string{},
		commits:  map[string]bool{testCommit: true},
		branches: map[string]string{"main": testCommit},
		fail:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (a *fakeAPI) record(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[key]++
	return a.fail[key]
}

func (a *fakeAPI) count(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[key]
}

func (a *fakeAPI) countPrefix(prefix string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for k, v := range a.calls {
		if strings.HasPrefix(k, prefix) {
			n += v
		}
	}
	return n
}

func (a *fakeAPI) setFile(p, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[p] = content
}

func listTree(tree map[string]string, dir string) ([]models.RemoteEntry, error) {
	prefix := ""
	if dir != "." && dir != "" {
		prefix = dir + "/"
	}
	seen := map[string]bool{}
	var out []models.RemoteEntry
	for p, content := range tree {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		name, _, nested := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		e := models.RemoteEntry{Path: prefix + name, Type: models.EntryFile, Size: int64(len(content))}
		if nested {
			e.Type = models.EntryDir
			e.Size = 0
		}
		out = append(out, e)
	}
	if len(out) == 0 && prefix != "" {
		return nil, client.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (a *fakeAPI) GetRepo(ctx context.Context) (*models.Repo, error) {
	if err := a.record("repo"); err != nil {
		return nil, err
	}
	repo := a.repo
	return &repo, nil
}

func (a *fakeAPI) ListPath(ctx context.Context, revision, dir string, includeSize bool) ([]models.RemoteEntry, error) {
	if err := a.record("list:" + dir); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := listTree(a.files, dir)
	if err != nil {
		return nil, err
	}
	if !includeSize {
		for i := range entries {
			entries[i].Size = 0
		}
	}
	return entries, nil
}

func (a *fakeAPI) ListStorage(ctx context.Context, storagePath string) ([]models.RemoteEntry, error) {
	if err := a.record("storage-list:" + storagePath); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return listTree(a.storage, storagePath)
}

func (a *fakeAPI) GetFile(ctx context.Context, revision, filePath string) ([]byte, error) {
	if err := a.record("raw:" + filePath); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	content, ok := a.files[filePath]
	if !ok {
		return nil, client.ErrNotFound
	}
	return []byte(content), nil
}

func (a *fakeAPI) GetStorageFile(ctx context.Context, storagePath string) ([]byte, error) {
	if err := a.record("storage-raw:" + storagePath); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	content, ok := a.storage[storagePath]
	if !ok {
		return nil, client.ErrNotFound
	}
	return []byte(content), nil
}

func (a *fakeAPI) GetCommit(ctx context.Context, id string) (*models.Commit, error) {
	if err := a.record("commit:" + id); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := range a.commits {
		if c == id || (len(id) >= 7 && strings.HasPrefix(c, id)) {
			return &models.Commit{ID: c}, nil
		}
	}
	return nil, client.ErrNotFound
}

func (a *fakeAPI) GetBranch(ctx context.Context, name string) (*models.Branch, error) {
	if err := a.record("branch:" + name); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	commit, ok := a.branches[name]
	if !ok {
		return nil, client.ErrNotFound
	}
	return &models.Branch{Name: name, Commit: models.Commit{ID: commit}}, nil
}

func (a *fakeAPI) ListBuckets(ctx context.Context) ([]models.Bucket, error) {
	if err := a.record("buckets"); err != nil {
		return nil, err
	}
	if a.bucketErr != nil {
		return nil, a.bucketErr
	}
	return a.buckets, nil
}

// fakeWd is a per-test working directory so tests never touch the
// process cwd.
type fakeWd struct {
	mu  sync.Mutex
	dir string
}

func (w *fakeWd) Getwd() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dir, nil
}

func (w *fakeWd) Chdir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(w.dir, dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "chdir", Path: dir, Err: errors.New("not a directory")}
	}
	w.dir = filepath.Clean(dir)
	return nil
}

type testEnv struct {
	t      *testing.T
	root   string
	api    *fakeAPI
	wd     *fakeWd
	router *Router
	fs     *FS
}

func newRouter(wd *fakeWd) *Router {
	return NewRouter(Primitives{Fs: afero.NewOsFs(), Getwd: wd.Getwd, Chdir: wd.Chdir})
}

func testOptions(root string, api API) Options {
	return Options{
		ProjectRoot: root,
		RepoURL:     "https://dagshub.com/owner/repo",
		Revision:    testCommit,
		API:         api,
	}
}

func newEnv(t *testing.T, api *fakeAPI, configure ...func(*Options)) *testEnv {
	t.Helper()
	root := t.TempDir()
	wd := &fakeWd{dir: root}
	router := newRouter(wd)

	opts := testOptions(root, api)
	for _, c := range configure {
		c(&opts)
	}
	m, err := router.Mount(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(router.UnregisterAll)

	return &testEnv{t: t, root: root, api: api, wd: wd, router: router, fs: m}
}

func (e *testEnv) path(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func (e *testEnv) writeLocal(rel, content string) {
	e.t.Helper()
	p := e.path(rel)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(e.t, os.WriteFile(p, []byte(content), 0644))
}

func (e *testEnv) read(name string) string {
	e.t.Helper()
	f, err := e.router.Open(name)
	require.NoError(e.t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(e.t, err)
	return string(data)
}

func localContent(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(data)
}
