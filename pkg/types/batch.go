// Package types defines the fixed record types that flow through the
// ingestion pipeline. The source system passed arbitrary mappings between
// stages; here every field a stage reads or writes has a name and a type.
package types

import (
	"image"
	"time"
)

// BatchKey is the join key shared by the registries and the completion
// tracker. Two batches from different documents never collide even if
// their batch_id values coincide.
type BatchKey struct {
	DocumentID string
	BatchID    int
}

// Document describes the PDF being ingested. It is populated once the
// rasterizer reads the PDF header and is never mutated afterward.
type Document struct {
	DocumentID    string
	Filename      string
	FileSizeBytes int64
	TotalPages    int
}

// PageMetadata carries the per-page attributes every stage needs without
// re-deriving them. It is cloned, never shared, across stage boundaries.
type PageMetadata struct {
	DocumentID    string
	PageID        string // equal to the page's ImageID
	Filename      string
	PageNumber    int // 1-indexed
	TotalPages    int
	PageWidthPx   int
	PageHeightPx  int
	FileSizeBytes int64
}

// PageBatch is produced by the rasterizer and consumed by the embedding,
// storage, and OCR stages. Invariant: len(Images) == len(ImageIDs) ==
// len(Metadata).
type PageBatch struct {
	DocumentID string
	BatchID    int
	PageStart  int // 1-indexed first page in the batch

	Images   []image.Image
	ImageIDs []string
	Metadata []PageMetadata
}

// Key returns the BatchKey under which this batch's results are published.
func (b *PageBatch) Key() BatchKey {
	return BatchKey{DocumentID: b.DocumentID, BatchID: b.BatchID}
}

// Clone returns a PageBatch whose Images slice holds independent copies of
// every page, suitable for handing to a second consumer queue. ImageIDs and
// Metadata are copied as plain value slices; the pixel buffers underneath
// Images are the only data that must never be shared mutably across stages.
func (b *PageBatch) Clone(copyImage func(image.Image) image.Image) PageBatch {
	images := make([]image.Image, len(b.Images))
	for i, img := range b.Images {
		images[i] = copyImage(img)
	}

	imageIDs := make([]string, len(b.ImageIDs))
	copy(imageIDs, b.ImageIDs)

	metadata := make([]PageMetadata, len(b.Metadata))
	copy(metadata, b.Metadata)

	return PageBatch{
		DocumentID: b.DocumentID,
		BatchID:    b.BatchID,
		PageStart:  b.PageStart,
		Images:     images,
		ImageIDs:   imageIDs,
		Metadata:   metadata,
	}
}

// MultiVector is one page's visual embedding: a sequence of token vectors,
// shape [tokens, dim]. Late-interaction vector stores score query tokens
// against every row independently rather than collapsing to one vector.
type MultiVector [][]float32

// Dim returns the per-token dimensionality, or 0 for an empty multi-vector.
func (m MultiVector) Dim() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// EmbeddedBatch is produced by the embedding stage and consumed by upsert.
// It carries the source PageBatch's identifying fields forward verbatim.
type EmbeddedBatch struct {
	DocumentID string
	BatchID    int
	PageStart  int
	ImageIDs   []string
	Metadata   []PageMetadata

	OriginalEmbeddings []MultiVector
	PooledByRows       []MultiVector // nil unless mean-pooling is enabled
	PooledByColumns    []MultiVector
}

// Key returns the BatchKey this embedded batch was produced from.
func (b *EmbeddedBatch) Key() BatchKey {
	return BatchKey{DocumentID: b.DocumentID, BatchID: b.BatchID}
}

// ImageStorageKind discriminates how an ImageRecord's bytes are reachable.
type ImageStorageKind string

const (
	ImageStorageObjectStore ImageStorageKind = "object_store"
	ImageStorageInline      ImageStorageKind = "inline"
	ImageStorageNone        ImageStorageKind = "none"
)

// ImageRecord is published per page into the image registry by the storage
// stage.
type ImageRecord struct {
	PageID      string // == ImageID
	ImageURL    string
	Storage     ImageStorageKind
	ContentType string
	Format      string
	ByteSize    int
	Width       int
	Height      int
	Quality     int
	ThumbURL    string // empty if no thumbnail was produced
}

// OcrRegion is a labelled axis-aligned bounding box for one semantic
// element (paragraph, figure, table) on a page, in the OCR service's own
// coordinate space.
type OcrRegion struct {
	ID    string // "{document_id}#region-{index}"
	Label string
	BBox  [4]float64 // x1, y1, x2, y2
}

// OcrResult is published per page into the ocr registry by the OCR stage.
// A page with OCR disabled still gets an entry (with empty fields) so the
// registry aligns with the batch's page order.
type OcrResult struct {
	Text     string
	Markdown string
	RawText  string
	Regions  []OcrRegion
}

// VectorPoint is one page's fully assembled vector-store record, built by
// the upsert stage from an EmbeddedBatch plus the joined ImageRecord and
// OcrResult.
type VectorPoint struct {
	ID string // == ImageID, the page's primary key

	Original     MultiVector
	PooledRows   MultiVector // nil unless mean-pooling is enabled
	PooledCols   MultiVector

	Index         int // page_start + offset within the batch
	DocumentID    string
	Filename      string
	FileSizeBytes int64
	PdfPageIndex  int // 0-indexed
	PageNumber    int // 1-indexed
	TotalPages    int
	IndexedAt     time.Time
	JobID         string

	ImageURL      string
	ImageInline   bool
	ImageStorage  ImageStorageKind
	ImageMimeType string
	ImageFormat   string
	ImageSizeBytes int
	ImageQuality  int

	OcrText     string
	OcrMarkdown string
	OcrRawText  string
	OcrRegions  []OcrRegion
	HasOcr      bool
}
