// Package vectorstore defines the vector database backend consumed by the
// upsert stage.
package vectorstore

import (
	"context"
	"errors"

	"github.com/athrael-soju/Snappy-sub001/pkg/types"
)

// ErrEmptyBatch is returned when Upsert is called with no points.
var ErrEmptyBatch = errors.New("empty point batch")

// Store is the vector-database contract consumed by the upsert stage. A
// backend need not support every field of VectorPoint — Qdrant carries the
// full multi-vector (original plus both pooled prefetch vectors); Pinecone's
// gRPC surface has no multi-vector primitive and upserts only the
// row-pooled vector, a backend capability limit rather than a pipeline one.
type Store interface {
	// Upsert writes a batch of points, overwriting any existing point with
	// the same ID.
	Upsert(ctx context.Context, points []types.VectorPoint) error

	// Close releases the backend connection.
	Close() error
}

// Payload builds the backend-agnostic metadata map every VectorPoint
// carries alongside its vector(s), shared by both backend implementations
// so the field set stays in sync.
func Payload(p types.VectorPoint) map[string]interface{} {
	m := map[string]interface{}{
		"document_id":      p.DocumentID,
		"filename":         p.Filename,
		"file_size_bytes":  p.FileSizeBytes,
		"pdf_page_index":   p.PdfPageIndex,
		"page_number":      p.PageNumber,
		"total_pages":      p.TotalPages,
		"image_inline":     p.ImageInline,
		"image_storage":    p.ImageStorage,
		"image_mime_type":  p.ImageMimeType,
		"image_format":     p.ImageFormat,
		"image_size_bytes": p.ImageSizeBytes,
		"image_quality":    p.ImageQuality,
		"has_ocr":          p.HasOcr,
	}
	if p.JobID != "" {
		m["job_id"] = p.JobID
	}
	if p.ImageURL != "" {
		m["image_url"] = p.ImageURL
	}
	if !p.IndexedAt.IsZero() {
		m["indexed_at"] = p.IndexedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if p.HasOcr {
		m["ocr_text"] = p.OcrText
		m["ocr_markdown"] = p.OcrMarkdown
	}
	return m
}
