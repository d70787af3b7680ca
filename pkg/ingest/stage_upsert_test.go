package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/types"
)

func testEmbeddedBatch(n int) *types.EmbeddedBatch {
	ids := make([]string, n)
	meta := make([]types.PageMetadata, n)
	orig := make([]types.MultiVector, n)
	for i := 0; i < n; i++ {
		ids[i] = "page-" + string(rune('a'+i))
		meta[i] = types.PageMetadata{DocumentID: "doc-1", PageNumber: i + 1, TotalPages: n}
		orig[i] = types.MultiVector{{1, 2, 3}}
	}
	return &types.EmbeddedBatch{DocumentID: "doc-1", BatchID: 0, PageStart: 1, ImageIDs: ids, Metadata: meta, OriginalEmbeddings: orig}
}

func TestUpsertStage_JoinsImageAndOCRRegistries(t *testing.T) {
	imageReg := NewRegistry[types.ImageRecord]()
	ocrReg := NewRegistry[types.OcrResult]()
	vecStore := &fakeVectorStore{}
	tracker := NewCompletionTracker(2, nil, nil, nil, nil)

	embedded := testEmbeddedBatch(2)
	imageReg.Put(embedded.Key(), []types.ImageRecord{
		{PageID: "page-a", ImageURL: "https://x/1", Storage: types.ImageStorageObjectStore},
		{PageID: "page-b", ImageURL: "https://x/2", Storage: types.ImageStorageObjectStore},
	})
	ocrReg.Put(embedded.Key(), []types.OcrResult{
		{Text: "hello"}, {Text: "world"},
	})

	stage := NewUpsertStage(vecStore, imageReg, ocrReg, tracker, Config{OCREnabled: true, MaxJoinWaitSeconds: 5, RegistryPollIntervalMs: 10}, nil, nil)
	if err := stage.ProcessBatch(context.Background(), embedded); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if vecStore.count() != 2 {
		t.Fatalf("upserted points = %d, want 2", vecStore.count())
	}
	if vecStore.points[0].ImageURL != "https://x/1" || vecStore.points[0].OcrText != "hello" {
		t.Errorf("unexpected point 0: %+v", vecStore.points[0])
	}
	if !vecStore.points[0].HasOcr {
		t.Error("expected HasOcr true when ocr text is present")
	}
}

func TestUpsertStage_ImageRegistryJoinTimeoutFallsBackToNone(t *testing.T) {
	imageReg := NewRegistry[types.ImageRecord]()
	ocrReg := NewRegistry[types.OcrResult]()
	vecStore := &fakeVectorStore{}
	tracker := NewCompletionTracker(1, nil, nil, nil, NopLogger{})

	embedded := testEmbeddedBatch(1)
	// Image registry is never populated: join must time out and fall back.
	stage := NewUpsertStage(vecStore, imageReg, ocrReg, tracker, Config{
		OCREnabled: false, MaxJoinWaitSeconds: 0.05, RegistryPollIntervalMs: 10,
	}, nil, NopLogger{})

	if err := stage.ProcessBatch(context.Background(), embedded); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if vecStore.points[0].ImageStorage != types.ImageStorageNone {
		t.Errorf("ImageStorage = %v, want none after join timeout", vecStore.points[0].ImageStorage)
	}
}

func TestUpsertStage_OCRDisabledOmitsOCRFields(t *testing.T) {
	imageReg := NewRegistry[types.ImageRecord]()
	ocrReg := NewRegistry[types.OcrResult]()
	vecStore := &fakeVectorStore{}
	tracker := NewCompletionTracker(1, nil, nil, nil, nil)

	embedded := testEmbeddedBatch(1)
	imageReg.Put(embedded.Key(), []types.ImageRecord{{PageID: "page-a"}})

	stage := NewUpsertStage(vecStore, imageReg, ocrReg, tracker, Config{
		OCREnabled: false, MaxJoinWaitSeconds: 1, RegistryPollIntervalMs: 10,
	}, nil, nil)

	if err := stage.ProcessBatch(context.Background(), embedded); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if vecStore.points[0].HasOcr {
		t.Error("expected HasOcr false when OCR is disabled")
	}
}

func TestUpsertStage_VectorStoreFailureIsFatal(t *testing.T) {
	imageReg := NewRegistry[types.ImageRecord]()
	ocrReg := NewRegistry[types.OcrResult]()
	tracker := NewCompletionTracker(1, nil, nil, nil, nil)

	embedded := testEmbeddedBatch(1)
	imageReg.Put(embedded.Key(), []types.ImageRecord{{PageID: "page-a"}})

	failingStore := &fakeVectorStore{}
	stage := NewUpsertStage(failingUpsertStore{failingStore}, imageReg, ocrReg, tracker, Config{
		OCREnabled: false, MaxJoinWaitSeconds: 1, RegistryPollIntervalMs: 10,
	}, nil, nil)

	err := stage.ProcessBatch(context.Background(), embedded)
	if err == nil {
		t.Fatal("expected an error from a failing vector store")
	}
}

func TestUpsertStage_ContextCancelledDuringJoinNeverCallsUpsert(t *testing.T) {
	imageReg := NewRegistry[types.ImageRecord]()
	ocrReg := NewRegistry[types.OcrResult]()
	vecStore := &fakeVectorStore{}
	tracker := NewCompletionTracker(1, nil, nil, nil, nil)

	embedded := testEmbeddedBatch(1)
	// Image registry is never populated, and ctx is cancelled before the
	// poll loop's first iteration elapses, well short of MaxJoinWaitSeconds.
	stage := NewUpsertStage(vecStore, imageReg, ocrReg, tracker, Config{
		OCREnabled: false, MaxJoinWaitSeconds: 30, RegistryPollIntervalMs: 10,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := stage.ProcessBatch(ctx, embedded)
	if err == nil {
		t.Fatal("expected an error when ctx is cancelled during registry join")
	}
	if vecStore.count() != 0 {
		t.Errorf("Upsert was called despite ctx cancellation, count = %d", vecStore.count())
	}
}

type failingUpsertStore struct{ *fakeVectorStore }

func (failingUpsertStore) Upsert(ctx context.Context, points []types.VectorPoint) error {
	return context.DeadlineExceeded
}

func TestBuildPoint_AssignsPooledVectorsWhenPresent(t *testing.T) {
	tracker := NewCompletionTracker(1, nil, nil, nil, nil)
	stage := NewUpsertStage(&fakeVectorStore{}, NewRegistry[types.ImageRecord](), NewRegistry[types.OcrResult](), tracker, Config{}, nil, nil)
	stage.timeNow = func() time.Time { return time.Unix(0, 0) }

	embedded := testEmbeddedBatch(1)
	embedded.PooledByRows = []types.MultiVector{{{9, 9}}}
	embedded.PooledByColumns = []types.MultiVector{{{8, 8}}}

	p := stage.buildPoint(embedded, types.ImageRecord{}, types.OcrResult{}, 0)
	if p.PooledRows == nil || p.PooledCols == nil {
		t.Error("expected pooled vectors to be carried into the VectorPoint")
	}
}
