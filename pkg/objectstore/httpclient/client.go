// Package httpclient implements objectstore.Store over plain HTTP PUT/DELETE
// requests, in the same request/retry shape as the embedding and OCR HTTP
// clients.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Config holds the object-store HTTP client's configuration.
type Config struct {
	// BaseURL is the object-store's root URL, e.g. "http://localhost:9000".
	BaseURL string

	// APIKey is sent as a bearer token if non-empty.
	APIKey string

	// Timeout bounds each request.
	Timeout time.Duration

	// MaxRetries bounds transient-failure retries on Put.
	MaxRetries int
}

// Client implements objectstore.Store over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds an object-store HTTP client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (c *Client) objectURL(bucket, objectKey string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + bucket + "/" + objectKey
}

// Put uploads data under objectKey within bucket, retrying transient
// failures with the same backoff the embedding client uses, and returns the
// URL the vector-store record can reference.
func (c *Client) Put(ctx context.Context, bucket, objectKey string, data []byte, contentType string) (string, error) {
	url := c.objectURL(bucket, objectKey)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt*attempt) * 100 * time.Millisecond):
			}
		}

		if err := c.put(ctx, url, data, contentType); err != nil {
			lastErr = err
			continue
		}
		return url, nil
	}

	return "", fmt.Errorf("object store put failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) put(ctx context.Context, url string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("object store put: status %d", resp.StatusCode)
	}
	return nil
}

// Delete removes an object. Not called by the ingestion pipeline.
func (c *Client) Delete(ctx context.Context, bucket, objectKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(bucket, objectKey), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("object store delete: status %d", resp.StatusCode)
	}
	return nil
}

// List enumerates objects under a prefix. Not called by the ingestion
// pipeline.
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + bucket + "?prefix=" + prefix

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read list response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object store list: status %d", resp.StatusCode)
	}

	var parsed struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse list response: %w", err)
	}
	return parsed.Keys, nil
}
