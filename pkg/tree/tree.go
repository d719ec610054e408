// Package tree records the remote shape of directories a mount has listed.
package tree

import (
	"path"
	"sync"
)

// Kind is the remote type of a tree child.
type Kind string

const (
	File Kind = "file"
	Dir  Kind = "dir"
)

// Cache maps a relative directory path to {child name -> kind}.
// It is filled as a side effect of listings and consulted by stat.
type Cache struct {
	mu   sync.RWMutex
	dirs map[string]map[string]Kind
}

// New creates an empty tree cache.
func New() *Cache {
	return &Cache{dirs: make(map[string]map[string]Kind)}
}

// SetChildren replaces the known children of dir.
func (c *Cache) SetChildren(dir string, children map[string]Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs[clean(dir)] = children
}

// Lookup classifies a relative path by its parent's known children.
// known is false when the parent was never listed.
func (c *Cache) Lookup(rel string) (kind Kind, found, known bool) {
	rel = clean(rel)
	parent, name := path.Split(rel)
	parent = clean(parent)

	c.mu.RLock()
	defer c.mu.RUnlock()
	children, ok := c.dirs[parent]
	if !ok {
		return "", false, false
	}
	kind, found = children[name]
	return kind, found, true
}

// Len returns the number of directories recorded.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dirs)
}

// Clear forgets every recorded directory.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs = make(map[string]map[string]Kind)
}

func clean(p string) string {
	p = path.Clean("/" + p)
	if p == "/" {
		return "."
	}
	return p[1:]
}
