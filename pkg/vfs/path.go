package vfs

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// ReservedDir is the top-level directory owned by the mount.
	ReservedDir = ".repostream"
	// StorageDir holds one sub-tree per connected bucket: <proto>/<bucket>/...
	StorageDir = ReservedDir + "/storage"
	// MarkerFile is a synthetic file at the project root showing the mount is live.
	MarkerFile = ".repostream-mounted"
)

var (
	storageSchemes = map[string]bool{"s3": true, "gs": true, "azure": true}
	vcsDirs        = map[string]bool{".git": true, ".dvc": true}
	privateDirs    = map[string]bool{"__pycache__": true, "site-packages": true, ".venv": true}
)

type pathKind int

const (
	kindText pathKind = iota
	kindBytes
	kindFD
)

// PathLike is a caller-supplied path: text, raw bytes, or an open descriptor.
type PathLike struct {
	kind pathKind
	text string
	fd   uintptr
}

// Text wraps a string path.
func Text(name string) PathLike { return PathLike{kind: kindText, text: name} }

// Bytes wraps a byte path. Results for it are returned as bytes.
func Bytes(name []byte) PathLike { return PathLike{kind: kindBytes, text: string(name)} }

// FD wraps an already-open descriptor. Descriptors are never intercepted.
func FD(fd uintptr) PathLike { return PathLike{kind: kindFD, fd: fd} }

// IsFD reports whether p is a descriptor.
func (p PathLike) IsFD() bool { return p.kind == kindFD }

// Descriptor returns the wrapped descriptor.
func (p PathLike) Descriptor() uintptr { return p.fd }

func (p PathLike) String() string {
	if p.kind == kindFD {
		return "fd:" + strconv.FormatUint(uint64(p.fd), 10)
	}
	return p.text
}

// Resolved is a path classified against one mount.
type Resolved struct {
	Original string // as supplied by the caller
	Abs      string
	Rel      string // slash separated, "." for the root; empty when outside
	IsBytes  bool

	InRepo      bool
	Passthrough bool // owned by the mount but never queried remotely
	Special     bool // the synthetic marker file
	Storage     bool // under StorageDir

	depth int
}

// Depth is the number of segments between the mount root and the path as
// the caller named it. A smaller depth means a deeper, more specific root.
func (r Resolved) Depth() int { return r.depth }

// segments returns the slash-separated parts of Rel, none for the root.
func (r Resolved) segments() []string {
	if r.Rel == "." || r.Rel == "" {
		return nil
	}
	return strings.Split(r.Rel, "/")
}

// storagePath is Rel without the StorageDir prefix, e.g. "s3/bucket/key".
func (r Resolved) storagePath() string {
	return strings.TrimPrefix(strings.TrimPrefix(r.Rel, StorageDir), "/")
}

func isPlaceholder(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, "<") && strings.HasSuffix(name, ">")
}

// resolve classifies name against the mount at root. cwd is used for
// relative names.
func resolve(root, cwd string, name string, isBytes bool, exclude []string) Resolved {
	r := Resolved{Original: name, Abs: name, IsBytes: isBytes}
	if name == "" || isPlaceholder(name) {
		return r
	}

	abs := name
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, abs)
	}
	abs = filepath.Clean(abs)
	r.Abs = abs

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return r
	}
	rel = filepath.ToSlash(rel)
	r.InRepo = true
	r.Rel = rel
	if rel != "." {
		r.depth = strings.Count(rel, "/") + 1
	}

	if scheme, rest, ok := strings.Cut(rel, ":/"); ok && storageSchemes[scheme] && !strings.Contains(scheme, "/") {
		r.Rel = StorageDir + "/" + scheme
		if rest = strings.Trim(rest, "/"); rest != "" {
			r.Rel += "/" + rest
		}
		r.Abs = filepath.Join(root, filepath.FromSlash(r.Rel))
	}

	parts := r.segments()
	r.Special = r.Rel == MarkerFile
	r.Storage = r.Rel == StorageDir || strings.HasPrefix(r.Rel, StorageDir+"/")
	r.Passthrough = isPassthrough(r.Rel, parts, exclude)
	return r
}

func isPassthrough(rel string, parts []string, exclude []string) bool {
	if len(parts) == 0 {
		return false
	}
	if vcsDirs[parts[0]] {
		return true
	}
	for _, p := range parts {
		if privateDirs[p] {
			return true
		}
	}
	for _, glob := range exclude {
		if ok, _ := doublestar.Match(glob, rel); ok {
			return true
		}
		for _, p := range parts {
			if ok, _ := doublestar.Match(glob, p); ok {
				return true
			}
		}
	}
	return false
}
