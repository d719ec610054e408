package vfs

import (
	"archive/zip"
	"crypto/tls"
	"errors"
	"io/fs"
	"slices"
	"sync"
	"text/template"
)

// Materializer ensures a path is present on local disk before a consumer
// that bypasses the router reads it. *Router and *FS implement it.
type Materializer interface {
	Materialize(name string) error
}

// Extension patches one consumer entry point while mounts exist. It
// returns a func that restores the original.
type Extension func(m Materializer) (revert func())

// Consumer entry points that read files straight from the operating
// system. Code that wants them served from a mount calls these variables
// instead of the standard library functions.
var (
	LoadX509KeyPair    = tls.LoadX509KeyPair
	ParseTemplateFiles = template.ParseFiles
	OpenZip            = zip.OpenReader
)

var (
	extMu      sync.RWMutex
	extensions = map[string]Extension{
		"tls":      tlsExtension,
		"template": templateExtension,
		"zip":      WrapPathFunc(&OpenZip),
	}
	// applied holds the extensions currently patched in, shared by every
	// router.
	applied = map[string]*appliedExtension{}
)

type appliedExtension struct {
	revert  func()
	routers []*Router
}

// acquireExtension applies name on behalf of r. The extension is patched
// in once, by its first user.
func acquireExtension(name string, r *Router) bool {
	extMu.Lock()
	defer extMu.Unlock()

	a, ok := applied[name]
	if !ok {
		ext, found := extensions[name]
		if !found {
			return false
		}
		a = &appliedExtension{revert: ext(routerSet{name: name})}
		applied[name] = a
	}
	if !slices.Contains(a.routers, r) {
		a.routers = append(a.routers, r)
	}
	return true
}

// releaseExtension drops r's use of name and reverts the patch when no
// router needs it any more.
func releaseExtension(name string, r *Router) {
	extMu.Lock()
	defer extMu.Unlock()

	a, ok := applied[name]
	if !ok {
		return
	}
	a.routers = slices.DeleteFunc(a.routers, func(x *Router) bool { return x == r })
	if len(a.routers) == 0 {
		a.revert()
		delete(applied, name)
	}
}

// routerSet materializes through whichever router using an extension owns
// the path. Paths no such router owns are left alone.
type routerSet struct{ name string }

func (s routerSet) Materialize(name string) error {
	extMu.RLock()
	var routers []*Router
	if a, ok := applied[s.name]; ok {
		routers = slices.Clone(a.routers)
	}
	extMu.RUnlock()

	for _, r := range routers {
		if m, _ := r.route(Text(name)); m != nil {
			return r.Materialize(name)
		}
	}
	return nil
}

// RegisterExtension adds or replaces a named extension. Mounts enable it
// by listing its name in Options.Extensions.
func RegisterExtension(name string, ext Extension) {
	extMu.Lock()
	defer extMu.Unlock()
	extensions[name] = ext
}

// ExtensionNames lists the registered extensions.
func ExtensionNames() []string {
	extMu.RLock()
	defer extMu.RUnlock()
	names := make([]string, 0, len(extensions))
	for name := range extensions {
		names = append(names, name)
	}
	return names
}

func lookupExtension(name string) (Extension, bool) {
	extMu.RLock()
	defer extMu.RUnlock()
	ext, ok := extensions[name]
	return ext, ok
}

// WrapPathFunc builds an extension for a variable holding a one-path
// reader such as os.ReadFile. While applied, the path is materialized
// before the original runs.
func WrapPathFunc[T any](fn *func(string) (T, error)) Extension {
	return func(m Materializer) func() {
		orig := *fn
		*fn = func(name string) (T, error) {
			if err := materialize(m, name); err != nil {
				var zero T
				return zero, err
			}
			return orig(name)
		}
		return func() { *fn = orig }
	}
}

// materialize fetches each path. Not-found is left for the consumer to
// report with its own error; any other failure is returned.
func materialize(m Materializer, names ...string) error {
	for _, name := range names {
		if err := m.Materialize(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func tlsExtension(m Materializer) func() {
	orig := LoadX509KeyPair
	LoadX509KeyPair = func(certFile, keyFile string) (tls.Certificate, error) {
		if err := materialize(m, certFile, keyFile); err != nil {
			return tls.Certificate{}, err
		}
		return orig(certFile, keyFile)
	}
	return func() { LoadX509KeyPair = orig }
}

func templateExtension(m Materializer) func() {
	orig := ParseTemplateFiles
	ParseTemplateFiles = func(filenames ...string) (*template.Template, error) {
		if err := materialize(m, filenames...); err != nil {
			return nil, err
		}
		return orig(filenames...)
	}
	return func() { ParseTemplateFiles = orig }
}
