package vfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fruitsalade/repostream/internal/logging"
)

// DefaultPrefetchWorkers bounds concurrent downloads in Prefetch.
const DefaultPrefetchWorkers = 8

// Prefetch materializes every remote file under dir (relative to the root,
// recursively) that is missing locally, with at most workers downloads in
// flight. It returns the number of files written.
func (f *FS) Prefetch(ctx context.Context, dir string, workers int) (int, error) {
	if workers <= 0 {
		workers = DefaultPrefetchWorkers
	}

	if dir == "" {
		dir = "."
	}
	start := f.at(dir)
	if filepath.IsAbs(dir) {
		start = f.Resolve(Text(dir))
	}
	if !start.InRepo {
		return 0, fmt.Errorf("prefetch: %s is outside %s", dir, f.root)
	}

	files, err := f.collectMissing(ctx, start)
	if err != nil {
		return 0, err
	}
	logging.Info("prefetching", zap.String("dir", dir), zap.Int("files", len(files)), zap.Int("workers", workers))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		written atomic.Int64
	)
	sem := make(chan struct{}, workers)

	for _, r := range files {
		if ctx.Err() != nil {
			mu.Lock()
			errs = append(errs, ctx.Err())
			mu.Unlock()
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(r Resolved) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := f.materialize(r); err != nil {
				logging.Warn("prefetch failed", zap.String("path", r.Rel), zap.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			written.Add(1)
		}(r)
	}

	wg.Wait()
	return int(written.Load()), errors.Join(errs...)
}

// collectMissing walks the remote tree under r and returns the files
// absent on local disk.
func (f *FS) collectMissing(ctx context.Context, r Resolved) ([]Resolved, error) {
	var out []Resolved
	queue := []Resolved{r}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := queue[0]
		queue = queue[1:]
		if dir.Passthrough {
			continue
		}

		var children []fs.FileInfo
		children = append(children, f.synthesized(dir)...)
		listing, err := f.remoteListing(dir, true)
		if err != nil {
			return nil, err
		}
		for _, e := range listing.Entries {
			children = append(children, entryInfo(e))
		}

		for _, info := range children {
			child := f.at(joinRel(dir.Rel, info.Name()))
			// Buckets are only walked when asked for explicitly.
			if child.Special || child.Passthrough || child.Rel == ReservedDir {
				continue
			}
			if info.IsDir() {
				queue = append(queue, child)
				continue
			}
			if _, err := f.base.Fs.Stat(child.Abs); errors.Is(err, fs.ErrNotExist) {
				out = append(out, child)
			}
		}
	}
	return out, nil
}

func joinRel(dir, name string) string {
	if dir == "." || dir == "" {
		return name
	}
	return dir + "/" + name
}
