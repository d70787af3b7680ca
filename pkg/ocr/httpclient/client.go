// Package httpclient implements ocr.Provider over a plain HTTP multipart
// API, following the same request/retry shape as the embedding HTTP
// client.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/ocr"
)

const defaultTimeout = 60 * time.Second

// Config holds the OCR HTTP client's configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Client implements ocr.Provider over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds an OCR HTTP client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

type ocrResponse struct {
	Text          string `json:"text"`
	Markdown      string `json:"markdown"`
	Raw           string `json:"raw"`
	BoundingBoxes []struct {
		X1, Y1, X2, Y2 float64
		Label          string `json:"label"`
	} `json:"bounding_boxes"`
	Crops []string `json:"crops"`
}

// OCR sends one page's image bytes as a multipart request and returns the
// parsed result. Any non-2xx response or transport error is wrapped in
// ErrOCRFailed so the OCR stage can treat it uniformly as fatal.
func (c *Client) OCR(ctx context.Context, req ocr.Request) (ocr.Result, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ocr.Result{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		result, err := c.doRequest(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return ocr.Result{}, fmt.Errorf("%w: %v", ocr.ErrOCRFailed, lastErr)
}

func (c *Client) doRequest(ctx context.Context, req ocr.Request) (ocr.Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("image", req.Filename)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.ImageBytes); err != nil {
		return ocr.Result{}, fmt.Errorf("write image bytes: %w", err)
	}

	_ = w.WriteField("mode", req.Mode)
	_ = w.WriteField("task", req.Task)
	_ = w.WriteField("include_grounding", boolField(req.IncludeGrounding))
	_ = w.WriteField("include_images", boolField(req.IncludeImages))

	if err := w.Close(); err != nil {
		return ocr.Result{}, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/ocr", &body)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("read ocr response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return ocr.Result{}, fmt.Errorf("ocr service error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ocr.Result{}, fmt.Errorf("parse ocr response: %w", err)
	}

	boxes := make([]ocr.BoundingBox, len(parsed.BoundingBoxes))
	for i, b := range parsed.BoundingBoxes {
		boxes[i] = ocr.BoundingBox{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2, Label: b.Label}
	}

	return ocr.Result{
		Text:          parsed.Text,
		Markdown:      parsed.Markdown,
		Raw:           parsed.Raw,
		BoundingBoxes: boxes,
		Crops:         parsed.Crops,
	}, nil
}

func boolField(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
