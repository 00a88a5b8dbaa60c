package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config describes the S3-compatible endpoint the client talks to.
// The age-based cold-storage transition is a lifecycle rule declared on the
// bucket itself; the client only tags objects with the storage class the
// rule keys on.
type Config struct {
	Endpoint     string
	Bucket       string
	StorageClass string
	Timeout      time.Duration
}

// Client uploads and retrieves archived objects over HTTP.
type Client struct {
	httpClient   *http.Client
	endpoint     string
	bucket       string
	storageClass string
}

// New builds an object store client with a pooled HTTP transport.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.StorageClass == "" {
		cfg.StorageClass = "STANDARD"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		bucket:       cfg.Bucket,
		storageClass: cfg.StorageClass,
	}
}

// Put streams the reader to the object key. Re-uploading the same key
// overwrites the previous object, so retries never create duplicates.
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), r)
	if err != nil {
		return fmt.Errorf("build put request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("x-amz-storage-class", c.storageClass)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("put %s: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

// Get performs a streaming download of an archived object. The caller must
// close the returned body.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck
		return nil, fmt.Errorf("get %s: unexpected status %d", key, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucket, key)
}
