package vfs

import (
	"context"
	"errors"
	"io/fs"

	"github.com/fruitsalade/repostream/pkg/client"
	"github.com/fruitsalade/repostream/pkg/models"
)

// API is the remote repository as seen by a mount. *client.Client
// implements it. Not-found results must match client.ErrNotFound or
// fs.ErrNotExist.
type API interface {
	GetRepo(ctx context.Context) (*models.Repo, error)
	ListPath(ctx context.Context, revision, dir string, includeSize bool) ([]models.RemoteEntry, error)
	ListStorage(ctx context.Context, storagePath string) ([]models.RemoteEntry, error)
	GetFile(ctx context.Context, revision, filePath string) ([]byte, error)
	GetStorageFile(ctx context.Context, storagePath string) ([]byte, error)
	GetCommit(ctx context.Context, id string) (*models.Commit, error)
	GetBranch(ctx context.Context, name string) (*models.Branch, error)
	ListBuckets(ctx context.Context) ([]models.Bucket, error)
}

// BucketFetcher reads "<bucket>/<key>" objects directly from a storage
// provider. *s3.Fetcher implements it.
type BucketFetcher interface {
	Fetch(ctx context.Context, objectPath string) ([]byte, error)
}

var _ API = (*client.Client)(nil)

func isRemoteNotFound(err error) bool {
	return errors.Is(err, client.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
