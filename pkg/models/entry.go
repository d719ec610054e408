// Package models contains the repository data types shared by the client and the filesystem.
package models

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// EntryType is the kind of a remote directory entry.
type EntryType string

const (
	EntryFile    EntryType = "file"
	EntryDir     EntryType = "dir"
	EntryStorage EntryType = "storage"
)

// RemoteEntry is one item of a remote directory listing.
type RemoteEntry struct {
	Path        string    `json:"path"`
	Type        EntryType `json:"type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash,omitempty"`
	Versioning  string    `json:"versioning,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
}

// Name returns the last element of the entry path.
func (e RemoteEntry) Name() string {
	return path.Base(strings.TrimSuffix(e.Path, "/"))
}

// IsDir reports whether the entry lists as a directory. Storage entries
// are bucket roots and list like directories.
func (e RemoteEntry) IsDir() bool {
	return e.Type == EntryDir || e.Type == EntryStorage
}

// Bucket is an object-storage bucket connected to a repository.
type Bucket struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
}

// MountPath is the bucket location relative to the reserved storage
// directory, e.g. "s3/my-bucket".
func (b Bucket) MountPath() string {
	return b.Protocol + "/" + strings.Trim(b.Name, "/")
}

// Commit identifies a single revision.
type Commit struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// Branch is a named, moving revision.
type Branch struct {
	Name   string `json:"name"`
	Commit Commit `json:"commit"`
}

// Repo is the repository metadata used to verify access.
type Repo struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// RepoURL is the remote repository coordinate.
type RepoURL struct {
	Host  string // scheme://host[:port]
	Owner string
	Name  string
}

// ParseRepoURL parses "https://host/owner/name[.git]".
func ParseRepoURL(raw string) (RepoURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return RepoURL{}, fmt.Errorf("parse repo url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return RepoURL{}, fmt.Errorf("repo url %q: missing scheme or host", raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoURL{}, fmt.Errorf("repo url %q: expected <host>/<owner>/<name>", raw)
	}
	return RepoURL{
		Host:  u.Scheme + "://" + u.Host,
		Owner: parts[0],
		Name:  strings.TrimSuffix(parts[1], ".git"),
	}, nil
}

// String returns the canonical repository URL.
func (r RepoURL) String() string {
	return r.Host + "/" + r.Owner + "/" + r.Name
}

// FullName returns "owner/name".
func (r RepoURL) FullName() string {
	return r.Owner + "/" + r.Name
}
