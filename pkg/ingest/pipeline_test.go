package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"

	"github.com/athrael-soju/Snappy-sub001/pkg/embedding"
	"github.com/athrael-soju/Snappy-sub001/pkg/ocr"
	"github.com/athrael-soju/Snappy-sub001/pkg/pdfdecode"
	"github.com/athrael-soju/Snappy-sub001/pkg/types"
)

// fakeDecoder rasterizes a fixed page count without touching disk.
type fakeDecoder struct {
	totalPages int
}

func (d *fakeDecoder) Inspect(ctx context.Context, pdfPath string) (pdfdecode.Info, error) {
	return pdfdecode.Info{TotalPages: d.totalPages, FileSizeBytes: 1024}, nil
}

func (d *fakeDecoder) DecodeRange(ctx context.Context, pdfPath string, first, last, dpi int) ([]pdfdecode.Page, error) {
	pages := make([]pdfdecode.Page, 0, last-first+1)
	for p := first; p <= last; p++ {
		pages = append(pages, pdfdecode.Page{
			Image:      image.NewRGBA(image.Rect(0, 0, 8, 8)),
			PageNumber: p,
			WidthPx:    8,
			HeightPx:   8,
		})
	}
	return pages, nil
}

// fakeEmbeddingProvider returns a one-token embedding per image.
type fakeEmbeddingProvider struct{}

func (fakeEmbeddingProvider) EmbedImages(ctx context.Context, images []image.Image) ([]embedding.PatchEmbedding, error) {
	out := make([]embedding.PatchEmbedding, len(images))
	for i := range images {
		out[i] = embedding.PatchEmbedding{Embedding: [][]float32{{1, 2, 3}}, ImagePatchStart: 0, ImagePatchLen: 1}
	}
	return out, nil
}

func (fakeEmbeddingProvider) GetPatches(ctx context.Context, widths, heights []int) ([]embedding.PatchGrid, error) {
	out := make([]embedding.PatchGrid, len(widths))
	for i := range widths {
		out[i] = embedding.PatchGrid{NPatchesX: 1, NPatchesY: 1}
	}
	return out, nil
}

func (fakeEmbeddingProvider) Info(ctx context.Context) (embedding.ModelInfo, error) {
	return embedding.ModelInfo{Dim: 3, ModelName: "fake"}, nil
}

// fakeObjectStore records uploads in memory, optionally failing every call.
type fakeObjectStore struct {
	mu      sync.Mutex
	failAll bool
	puts    int
}

func (s *fakeObjectStore) Put(ctx context.Context, bucket, objectKey string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return "", errors.New("simulated upload failure")
	}
	s.puts++
	return "https://objects.example/" + bucket + "/" + objectKey, nil
}

func (s *fakeObjectStore) Delete(ctx context.Context, bucket, objectKey string) error { return nil }

func (s *fakeObjectStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	return nil, nil
}

// fakeOCRProvider returns deterministic OCR text per page.
type fakeOCRProvider struct{}

func (fakeOCRProvider) OCR(ctx context.Context, req ocr.Request) (ocr.Result, error) {
	return ocr.Result{Text: "hello", Markdown: "# hello"}, nil
}

// fakeVectorStore records every upserted point.
type fakeVectorStore struct {
	mu     sync.Mutex
	points []types.VectorPoint
}

func (s *fakeVectorStore) Upsert(ctx context.Context, points []types.VectorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, points...)
	return nil
}

func (s *fakeVectorStore) Close() error { return nil }

func (s *fakeVectorStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

func testDependencies(totalPages int, objStore *fakeObjectStore, vecStore *fakeVectorStore, ocrEnabled bool) Dependencies {
	deps := Dependencies{
		Decoder:      &fakeDecoder{totalPages: totalPages},
		Embedding:    fakeEmbeddingProvider{},
		ObjectStore:  objStore,
		ObjectBucket: "pages",
		VectorStore:  vecStore,
	}
	if ocrEnabled {
		deps.OCR = fakeOCRProvider{}
	}
	return deps
}

func TestIngestDocument_Success(t *testing.T) {
	objStore := &fakeObjectStore{}
	vecStore := &fakeVectorStore{}

	pipeline, err := NewPipeline(testDependencies(5, objStore, vecStore, true), Config{
		BatchSize:          2,
		MaxInFlightBatches: 2,
		OCREnabled:         true,
		Collection:         "pages",
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	var lastProgress int
	totalPages, err := pipeline.IngestDocument(context.Background(), "doc.pdf", "doc.pdf", "doc-1", func(completed int) {
		lastProgress = completed
	})
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if totalPages != 5 {
		t.Errorf("totalPages = %d, want 5", totalPages)
	}
	if lastProgress != 5 {
		t.Errorf("final progress callback = %d, want 5", lastProgress)
	}
	if vecStore.count() != 5 {
		t.Errorf("upserted points = %d, want 5", vecStore.count())
	}
	if pipeline.imageRegistry.Len() != 0 || pipeline.ocrRegistry.Len() != 0 {
		t.Error("expected both registries empty after clean completion")
	}
}

func TestIngestDocument_OCRDisabled(t *testing.T) {
	objStore := &fakeObjectStore{}
	vecStore := &fakeVectorStore{}

	pipeline, err := NewPipeline(testDependencies(3, objStore, vecStore, false), Config{
		BatchSize:          4,
		MaxInFlightBatches: 1,
		OCREnabled:         false,
		Collection:         "pages",
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	totalPages, err := pipeline.IngestDocument(context.Background(), "doc.pdf", "doc.pdf", "doc-2", nil)
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if totalPages != 3 {
		t.Errorf("totalPages = %d, want 3", totalPages)
	}
	if vecStore.count() != 3 {
		t.Errorf("upserted points = %d, want 3", vecStore.count())
	}
	for _, p := range vecStore.points {
		if p.HasOcr {
			t.Errorf("point %s: HasOcr true with OCR disabled", p.ID)
		}
	}
}

func TestIngestDocument_StorageFailureIsFatal(t *testing.T) {
	objStore := &fakeObjectStore{failAll: true}
	vecStore := &fakeVectorStore{}

	pipeline, err := NewPipeline(testDependencies(2, objStore, vecStore, false), Config{
		BatchSize:          2,
		MaxInFlightBatches: 1,
		OCREnabled:         false,
		StorageRetries:     0,
		Collection:         "pages",
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	_, err = pipeline.IngestDocument(context.Background(), "doc.pdf", "doc.pdf", "doc-3", nil)
	if err == nil {
		t.Fatal("expected a fatal error from storage failure")
	}
	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) {
		t.Fatalf("expected *PipelineError, got %T: %v", err, err)
	}
	if pipeErr.Kind != KindStorage {
		t.Errorf("Kind = %q, want %q", pipeErr.Kind, KindStorage)
	}
	if pipeline.imageRegistry.Len() != 0 {
		t.Error("expected image registry cleared after fatal error")
	}
}

func TestIngestDocument_Cancellation(t *testing.T) {
	objStore := &fakeObjectStore{}
	vecStore := &fakeVectorStore{}

	pipeline, err := NewPipeline(testDependencies(100, objStore, vecStore, false), Config{
		BatchSize:          1,
		MaxInFlightBatches: 1,
		OCREnabled:         false,
		Collection:         "pages",
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pipeline.IngestDocument(ctx, "doc.pdf", "doc.pdf", "doc-4", nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestNewPipeline_RejectsOCREnabledWithoutProvider(t *testing.T) {
	_, err := NewPipeline(Dependencies{
		Decoder:      &fakeDecoder{totalPages: 1},
		Embedding:    fakeEmbeddingProvider{},
		ObjectStore:  &fakeObjectStore{},
		ObjectBucket: "pages",
		VectorStore:  &fakeVectorStore{},
	}, Config{OCREnabled: true})
	if err == nil {
		t.Fatal("expected an error when ocr_enabled is true with no OCR provider")
	}
	if !errors.Is(fmt.Errorf("%w", err), err) { // sanity: err is non-nil and wrappable
		t.Fatalf("unexpected error shape: %v", err)
	}
}
