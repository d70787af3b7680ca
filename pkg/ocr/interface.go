// Package ocr defines the OCR service consumed by the OCR stage.
package ocr

import (
	"context"
	"errors"
)

// ErrOCRFailed wraps any per-page OCR error. The HTTP provider retries a
// bounded number of times before returning it; once returned, a failure here
// is always propagated to the caller, per the no-silent-fallback rule the
// OCR stage enforces.
var ErrOCRFailed = errors.New("ocr request failed")

// BoundingBox is one raw region the OCR service detected, in its own
// coordinate space.
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
	Label          string
}

// Result is the OCR service's response for a single page image.
type Result struct {
	Text          string
	Markdown      string
	Raw           string
	BoundingBoxes []BoundingBox
	Crops         []string // base64, passed through unparsed
}

// Request bundles the per-page OCR inputs.
type Request struct {
	ImageBytes       []byte
	Filename         string
	Mode             string
	Task             string
	IncludeGrounding bool
	IncludeImages    bool
}

// Provider is the OCR service contract consumed by the OCR stage.
type Provider interface {
	OCR(ctx context.Context, req Request) (Result, error)
}
