// Package httpclient implements embedding.Provider over a plain HTTP JSON
// API, in the same request/retry/error-mapping shape the teacher repository
// uses for its OpenAI embedding client.
package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/embedding"
)

const defaultTimeout = 60 * time.Second

// Config holds the embedding HTTP client's configuration.
type Config struct {
	// BaseURL is the embedding service's root URL, e.g.
	// "http://localhost:8001".
	BaseURL string

	// APIKey is sent as a bearer token if non-empty.
	APIKey string

	// Timeout bounds each request.
	Timeout time.Duration

	// MaxRetries bounds transient-failure retries.
	MaxRetries int
}

// Client implements embedding.Provider over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds an embedding HTTP client.
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
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type embedImagesRequest struct {
	Images []string `json:"images"` // base64 PNG
}

type embedImagesResponse struct {
	Embeddings []struct {
		Embedding       [][]float32 `json:"embedding"`
		ImagePatchStart int         `json:"image_patch_start"`
		ImagePatchLen   int         `json:"image_patch_len"`
	} `json:"embeddings"`
}

// EmbedImages encodes every page to PNG, submits one batched request, and
// maps the response back into aligned PatchEmbedding values.
func (c *Client) EmbedImages(ctx context.Context, images []image.Image) ([]embedding.PatchEmbedding, error) {
	if len(images) == 0 {
		return nil, embedding.ErrEmptyInput
	}

	encoded := make([]string, len(images))
	for i, img := range images {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode image %d for embedding request: %w", i, err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}

	reqBody, err := json.Marshal(embedImagesRequest{Images: encoded})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var resp embedImagesResponse
	if err := c.doRequestWithRetry(ctx, "/embed_images", reqBody, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(images) {
		return nil, fmt.Errorf("embedding service returned %d results for %d images", len(resp.Embeddings), len(images))
	}

	out := make([]embedding.PatchEmbedding, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = embedding.PatchEmbedding{
			Embedding:       e.Embedding,
			ImagePatchStart: e.ImagePatchStart,
			ImagePatchLen:   e.ImagePatchLen,
		}
	}
	return out, nil
}

type getPatchesRequest struct {
	Widths  []int `json:"widths"`
	Heights []int `json:"heights"`
}

type getPatchesResponse struct {
	Patches []struct {
		NPatchesX int `json:"n_patches_x"`
		NPatchesY int `json:"n_patches_y"`
	} `json:"patches"`
}

// GetPatches reports the patch-grid geometry for a set of image
// dimensions.
func (c *Client) GetPatches(ctx context.Context, widths, heights []int) ([]embedding.PatchGrid, error) {
	reqBody, err := json.Marshal(getPatchesRequest{Widths: widths, Heights: heights})
	if err != nil {
		return nil, fmt.Errorf("marshal get_patches request: %w", err)
	}

	var resp getPatchesResponse
	if err := c.doRequestWithRetry(ctx, "/get_patches", reqBody, &resp); err != nil {
		return nil, err
	}

	out := make([]embedding.PatchGrid, len(resp.Patches))
	for i, p := range resp.Patches {
		out[i] = embedding.PatchGrid{NPatchesX: p.NPatchesX, NPatchesY: p.NPatchesY}
	}
	return out, nil
}

type infoResponse struct {
	Dim       int    `json:"dim"`
	ModelName string `json:"model_name"`
}

// Info probes the embedding model's dimension and name.
func (c *Client) Info(ctx context.Context) (embedding.ModelInfo, error) {
	var resp infoResponse
	if err := c.doRequestWithRetry(ctx, "/info", nil, &resp); err != nil {
		return embedding.ModelInfo{}, err
	}
	return embedding.ModelInfo{Dim: resp.Dim, ModelName: resp.ModelName}, nil
}

// doRequestWithRetry mirrors the teacher OpenAI client's retry loop:
// exponential-ish backoff, no retry on auth/validation errors.
func (c *Client) doRequestWithRetry(ctx context.Context, path string, body []byte, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*attempt) * 100 * time.Millisecond):
			}
		}

		lastErr = c.doRequest(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}
		if lastErr == embedding.ErrInvalidAPIKey || lastErr == embedding.ErrContextTooLong {
			return lastErr
		}
	}

	return lastErr
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte, out interface{}) error {
	method := http.MethodPost
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return embedding.ErrInvalidAPIKey
		case http.StatusTooManyRequests:
			return embedding.ErrRateLimited
		case http.StatusRequestEntityTooLarge, http.StatusBadRequest:
			return embedding.ErrContextTooLong
		}
		return fmt.Errorf("embedding service error: status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse embedding response: %w", err)
	}
	return nil
}
