// Package client provides the repository API client with retry and auth.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/fruitsalade/repostream/internal/logging"
	"github.com/fruitsalade/repostream/internal/metrics"
	"github.com/fruitsalade/repostream/pkg/models"
	"github.com/fruitsalade/repostream/pkg/protocol"
	"github.com/fruitsalade/repostream/pkg/retry"
)

var (
	// ErrNotFound is returned when the remote path, revision or repo does not exist.
	ErrNotFound = errors.New("not found on remote")
	// ErrUnauthorized is returned on 401/403 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is a non-2xx response that is neither 404 nor 401/403.
type StatusError struct {
	Op     string
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
}

// Client talks to one repository.
type Client struct {
	repo        models.RepoURL
	httpClient  *http.Client
	retryConfig retry.Config
	tokens      TokenSource
}

// Config holds client configuration.
type Config struct {
	Repo        models.RepoURL
	Timeout     time.Duration
	RetryConfig retry.Config
	Tokens      TokenSource
	HTTPClient  *http.Client
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.RetryConfig.OnRetry == nil {
		cfg.RetryConfig.OnRetry = func(attempt int, err error) {
			logging.Debug("retrying request", zap.Int("attempt", attempt), zap.Error(err))
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Client{
		repo:        cfg.Repo,
		httpClient:  httpClient,
		retryConfig: cfg.RetryConfig,
		tokens:      cfg.Tokens,
	}
}

// Repo returns the repository coordinate this client talks to.
func (c *Client) Repo() models.RepoURL {
	return c.repo
}

func (c *Client) repoURL(parts ...string) string {
	u := c.repo.Host + "/api/v1/repos/" + url.PathEscape(c.repo.Owner) + "/" + url.PathEscape(c.repo.Name)
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" || p == "." {
			continue
		}
		u += "/" + escapePath(p)
	}
	return u
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// applyAuth adds the auth header to a request if a token is available.
func (c *Client) applyAuth(req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// get performs a GET with retries and hands the 200 response body to read.
func (c *Client) get(ctx context.Context, op, rawURL string, read func(io.Reader) error) error {
	start := time.Now()
	err := retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept-Encoding", "gzip")
		if err := c.applyAuth(req); err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if err := checkStatus(op, resp); err != nil {
			return err
		}

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return retry.Retryable(err)
			}
			defer gr.Close()
			reader = gr
		}

		if err := read(reader); err != nil {
			// A body cut off mid-stream is worth another attempt.
			return retry.Retryable(err)
		}
		return nil
	})
	metrics.RecordRemoteRequest(op, time.Since(start), err)
	return err
}

func checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w (%d)", op, ErrUnauthorized, resp.StatusCode)
	}

	statusErr := &StatusError{Op: op, Status: resp.StatusCode}
	var errResp protocol.ErrorResponse
	if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp) == nil {
		statusErr.Msg = errResp.Text()
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return retry.Retryable(statusErr)
	}
	return statusErr
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, v any) error {
	return c.get(ctx, op, rawURL, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(v)
	})
}

func (c *Client) getBytes(ctx context.Context, op, rawURL string) ([]byte, error) {
	var data []byte
	err := c.get(ctx, op, rawURL, func(r io.Reader) error {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, r); err != nil {
			return err
		}
		data = buf.Bytes()
		return nil
	})
	return data, err
}

// GetRepo fetches repository metadata. It doubles as the reachability and
// authorization check.
func (c *Client) GetRepo(ctx context.Context) (*models.Repo, error) {
	var repo models.Repo
	if err := c.getJSON(ctx, "get_repo", c.repoURL(), &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// ListPath lists a directory at a revision.
func (c *Client) ListPath(ctx context.Context, revision, dir string, includeSize bool) ([]models.RemoteEntry, error) {
	u := c.repoURL("content", revision, dir)
	if includeSize {
		u += "?include_size=true"
	}
	var entries []models.RemoteEntry
	if err := c.getJSON(ctx, "list_path", u, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListStoragePage lists one page of a storage path ("<proto>/<bucket>/<prefix>").
// An empty fromToken requests the first page.
func (c *Client) ListStoragePage(ctx context.Context, storagePath, fromToken string) (*protocol.StoragePage, error) {
	q := url.Values{}
	q.Set("paging", "true")
	if fromToken != "" {
		q.Set("from_token", fromToken)
	}
	u := c.repoURL("storage", "content", storagePath) + "?" + q.Encode()

	var page protocol.StoragePage
	if err := c.getJSON(ctx, "list_storage", u, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListStorage lists a storage path, following continuation tokens.
func (c *Client) ListStorage(ctx context.Context, storagePath string) ([]models.RemoteEntry, error) {
	var all []models.RemoteEntry
	token := ""
	for {
		page, err := c.ListStoragePage(ctx, storagePath, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entries...)
		if page.NextToken == "" || page.NextToken == token {
			return all, nil
		}
		token = page.NextToken
	}
}

// GetFile downloads a file at a revision.
func (c *Client) GetFile(ctx context.Context, revision, filePath string) ([]byte, error) {
	return c.getBytes(ctx, "get_file", c.repoURL("raw", revision, filePath))
}

// GetStorageFile downloads a storage object ("<proto>/<bucket>/<key>").
func (c *Client) GetStorageFile(ctx context.Context, storagePath string) ([]byte, error) {
	return c.getBytes(ctx, "get_storage_file", c.repoURL("storage", "raw", storagePath))
}

// GetCommit fetches commit metadata; ErrNotFound means the commit does not exist.
func (c *Client) GetCommit(ctx context.Context, id string) (*models.Commit, error) {
	var commit models.Commit
	if err := c.getJSON(ctx, "get_commit", c.repoURL("git", "commits", id), &commit); err != nil {
		return nil, err
	}
	if commit.ID == "" {
		commit.ID = id
	}
	return &commit, nil
}

// GetBranch fetches a branch and its current commit.
func (c *Client) GetBranch(ctx context.Context, name string) (*models.Branch, error) {
	var branch models.Branch
	if err := c.getJSON(ctx, "get_branch", c.repoURL("branches", name), &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

// ListBuckets returns the storage buckets connected to the repository.
func (c *Client) ListBuckets(ctx context.Context) ([]models.Bucket, error) {
	var resp []protocol.BucketResponse
	if err := c.getJSON(ctx, "list_buckets", c.repoURL("storage"), &resp); err != nil {
		return nil, err
	}
	buckets := make([]models.Bucket, 0, len(resp))
	for _, b := range resp {
		buckets = append(buckets, b.Bucket())
	}
	return buckets, nil
}
