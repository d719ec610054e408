package vfs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/repostream/pkg/models"
)

func TestPrefetch(t *testing.T) {
	api := newFakeAPI()
	api.files["a.txt"] = "a"
	api.files["data/b.txt"] = "b"
	api.files["data/deep/c.txt"] = "c"
	api.files[".git/config"] = "never"
	api.buckets = []models.Bucket{{Name: "bucket", Protocol: "s3"}}
	api.storage["s3/bucket/obj"] = "o"
	env := newEnv(t, api)
	env.writeLocal("data/b.txt", "local b")

	n, err := env.fs.Prefetch(context.Background(), ".", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "a", localContent(t, env.path("a.txt")))
	assert.Equal(t, "c", localContent(t, env.path("data/deep/c.txt")))
	assert.Equal(t, "local b", localContent(t, env.path("data/b.txt")))
	assert.Zero(t, api.count("raw:data/b.txt"))
	assert.Zero(t, api.count("raw:.git/config"))
	assert.Zero(t, api.countPrefix("storage-"))
	assert.NoFileExists(t, env.path(MarkerFile))
}

func TestPrefetch_Bucket(t *testing.T) {
	api := newFakeAPI()
	api.buckets = []models.Bucket{{Name: "bucket", Protocol: "s3"}}
	api.storage["s3/bucket/obj"] = "o"
	api.storage["s3/bucket/dir/obj2"] = "o2"
	env := newEnv(t, api)

	n, err := env.fs.Prefetch(context.Background(), "s3:/bucket", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "o2", localContent(t, env.path(StorageDir+"/s3/bucket/dir/obj2")))
}

func TestPrefetch_ReportsFailures(t *testing.T) {
	api := newFakeAPI()
	api.files["ok.txt"] = "ok"
	api.files["bad.txt"] = "bad"
	api.fail["raw:bad.txt"] = errors.New("connection reset")
	env := newEnv(t, api)

	n, err := env.fs.Prefetch(context.Background(), "", 4)
	assert.Equal(t, 1, n)
	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
	assert.FileExists(t, env.path("ok.txt"))
}

func TestPrefetch_OutsideRoot(t *testing.T) {
	env := newEnv(t, newFakeAPI())

	_, err := env.fs.Prefetch(context.Background(), t.TempDir(), 1)
	assert.Error(t, err)
}
