package gitinfo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	return dir, repo
}

func commitFile(t *testing.T, dir string, repo *git.Repository) plumbing.Hash {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("f.txt"); err != nil {
		t.Fatal(err)
	}
	hash, err := wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "t", Email: "t@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return hash
}

func TestFindRoot(t *testing.T) {
	dir, _ := initRepo(t)
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	got, err := FindRoot(nested)
	if err != nil {
		t.Fatalf("FindRoot: %v", err)
	}
	want, _ := filepath.EvalSymlinks(dir)
	gotReal, _ := filepath.EvalSymlinks(got)
	if gotReal != want {
		t.Errorf("FindRoot = %q, want %q", got, dir)
	}
}

func TestFindRemote(t *testing.T) {
	dir, repo := initRepo(t)
	for name, url := range map[string]string{
		"origin":  "https://github.com/alice/data.git",
		"dagshub": "https://dagshub.com/alice/data.git",
		"mirror":  "https://user:pw@dagshub.com/alice/mirror",
	} {
		if _, err := repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := FindRemote(dir, "https://dagshub.com")
	if err != nil {
		t.Fatalf("FindRemote: %v", err)
	}
	if hostOf(got) != "dagshub.com" {
		t.Errorf("FindRemote = %q", got)
	}

	if _, err := FindRemote(dir, "https://gitlab.com"); err == nil {
		t.Error("expected error for unmatched host")
	}
}

func TestReadHead(t *testing.T) {
	dir, repo := initRepo(t)

	head, err := ReadHead(dir)
	if err != nil {
		t.Fatalf("ReadHead on unborn branch: %v", err)
	}
	if head.Commit != "" || head.Branch != "master" {
		t.Errorf("unborn head = %+v", head)
	}

	hash := commitFile(t, dir, repo)
	head, err = ReadHead(dir)
	if err != nil {
		t.Fatalf("ReadHead: %v", err)
	}
	if head.Commit != hash.String() || head.Branch != "master" {
		t.Errorf("head = %+v, want commit %s on master", head, hash)
	}

	wt, _ := repo.Worktree()
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	head, err = ReadHead(dir)
	if err != nil {
		t.Fatalf("ReadHead detached: %v", err)
	}
	if head.Commit != hash.String() || head.Branch != "" {
		t.Errorf("detached head = %+v", head)
	}
}

func TestNoRepository(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadHead(dir); !errors.Is(err, ErrNoRepository) {
		t.Errorf("expected ErrNoRepository, got %v", err)
	}
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"https://dagshub.com/a/b":         "dagshub.com",
		"https://user:pw@DagsHub.com/a/b": "dagshub.com",
		"http://localhost:3000":           "localhost:3000",
		"dagshub.com":                     "dagshub.com",
		"git@dagshub.com:alice/data.git":  "dagshub.com",
	}
	for in, want := range tests {
		if got := hostOf(in); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}
