// Package s3 reads objects straight from S3-compatible buckets, bypassing
// the repository API, for mounts configured with their own bucket credentials.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/repostream/internal/logging"
	"github.com/fruitsalade/repostream/internal/metrics"
)

// ErrNoSuchKey is returned when the object does not exist. It matches
// fs.ErrNotExist so callers can treat it like any missing file.
var ErrNoSuchKey = fmt.Errorf("no such key: %w", fs.ErrNotExist)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string // empty for AWS
	Region    string
	AccessKey string // empty to use the default credential chain
	SecretKey string
}

// Fetcher downloads objects given a "<bucket>/<key>" path.
type Fetcher struct {
	client *s3.Client
}

// New creates a fetcher from cfg.
func New(ctx context.Context, cfg Config) (*Fetcher, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Fetcher{client: client}, nil
}

// splitPath splits "<bucket>/<key>".
func splitPath(p string) (bucket, key string, err error) {
	p = strings.TrimPrefix(p, "/")
	bucket, key, ok := strings.Cut(p, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object path %q: want <bucket>/<key>", p)
	}
	return bucket, key, nil
}

// Fetch downloads a whole object. objectPath is "<bucket>/<key>".
func (f *Fetcher) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	bucket, key, err := splitPath(objectPath)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordRemoteRequest("s3_get_object", time.Since(start), err)
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("get object %s: %w", objectPath, ErrNoSuchKey)
		}
		return nil, fmt.Errorf("get object %s: %w", objectPath, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	metrics.RecordRemoteRequest("s3_get_object", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectPath, err)
	}

	logging.Debug("S3 get object",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int("size", len(data)))
	return data, nil
}
