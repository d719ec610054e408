// Package gitinfo reads the local version-control metadata of a project
// root. It never writes to the repository.
package gitinfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNoRepository is returned when no .git directory is found.
var ErrNoRepository = errors.New("no git repository found")

// Head describes the local HEAD.
type Head struct {
	Commit string // full commit id, empty for an unborn branch
	Branch string // short branch name, empty when detached
}

// FindRoot walks upward from start until it finds a directory containing .git.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, git.GitDirName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w above %s", ErrNoRepository, start)
		}
		dir = parent
	}
}

func open(root string) (*git.Repository, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w at %s", ErrNoRepository, root)
		}
		return nil, fmt.Errorf("open git repository %s: %w", root, err)
	}
	return repo, nil
}

// RemoteURLs returns every fetch URL of every configured remote, "origin" first.
func RemoteURLs(root string) ([]string, error) {
	repo, err := open(root)
	if err != nil {
		return nil, err
	}
	remotes, err := repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w", err)
	}

	var urls []string
	for _, r := range remotes {
		cfg := r.Config()
		if cfg.Name == git.DefaultRemoteName {
			urls = append(cfg.URLs, urls...)
		} else {
			urls = append(urls, cfg.URLs...)
		}
	}
	return urls, nil
}

// FindRemote returns the first remote URL that points at host
// (e.g. "https://dagshub.com").
func FindRemote(root, host string) (string, error) {
	urls, err := RemoteURLs(root)
	if err != nil {
		return "", err
	}
	want := hostOf(host)
	for _, u := range urls {
		if hostOf(u) == want {
			return u, nil
		}
	}
	return "", fmt.Errorf("no remote of %s points at %s (remotes: %v)", root, host, urls)
}

// hostOf strips scheme, credentials and path from a URL-ish string.
func hostOf(raw string) string {
	s := raw
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else if i := strings.IndexAny(s, ":/"); i >= 0 && s[i] == ':' {
		// scp-like "git@host:owner/name"
		s = s[:i]
	}
	if i := strings.IndexAny(s, "/"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	return strings.ToLower(s)
}

// ReadHead returns the local HEAD commit and branch.
func ReadHead(root string) (Head, error) {
	repo, err := open(root)
	if err != nil {
		return Head{}, err
	}

	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn branch: HEAD names a branch with no commits.
			sym, symErr := repo.Storer.Reference(plumbing.HEAD)
			if symErr == nil && sym.Type() == plumbing.SymbolicReference && sym.Target().IsBranch() {
				return Head{Branch: sym.Target().Short()}, nil
			}
		}
		return Head{}, fmt.Errorf("read HEAD: %w", err)
	}

	head := Head{Commit: ref.Hash().String()}
	if ref.Name().IsBranch() {
		head.Branch = ref.Name().Short()
	}
	return head, nil
}
