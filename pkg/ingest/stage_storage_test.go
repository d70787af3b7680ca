package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/athrael-soju/Snappy-sub001/pkg/types"
)

func TestStorageStage_ProcessBatch_PublishesImageRecords(t *testing.T) {
	registry := NewRegistry[types.ImageRecord]()
	tracker := NewCompletionTracker(1, nil, nil, nil, nil)
	objStore := &fakeObjectStore{}
	stage := NewStorageStage(objStore, "pages", registry, tracker, Config{ImageFormat: ImageFormatPNG, ImageQuality: 0}, nil)

	batch := testPageBatch(3)
	if err := stage.ProcessBatch(context.Background(), batch); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	records, ok := registry.Get(batch.Key())
	if !ok {
		t.Fatal("expected records published to the image registry")
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	for i, r := range records {
		if r.Storage != types.ImageStorageObjectStore {
			t.Errorf("records[%d].Storage = %v, want object_store", i, r.Storage)
		}
		if r.ImageURL == "" {
			t.Errorf("records[%d].ImageURL is empty", i)
		}
	}
	if objStore.puts != 3 {
		t.Errorf("objStore.puts = %d, want 3 (one upload per page, no thumbnails configured)", objStore.puts)
	}
}

func TestStorageStage_ProcessBatch_ThumbnailUploadsSeparately(t *testing.T) {
	registry := NewRegistry[types.ImageRecord]()
	tracker := NewCompletionTracker(1, nil, nil, nil, nil)
	objStore := &fakeObjectStore{}
	stage := NewStorageStage(objStore, "pages", registry, tracker, Config{
		ImageFormat: ImageFormatPNG, ThumbnailWidth: 64,
	}, nil)

	batch := testPageBatch(1)
	if err := stage.ProcessBatch(context.Background(), batch); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if objStore.puts != 2 {
		t.Errorf("objStore.puts = %d, want 2 (full image + thumbnail)", objStore.puts)
	}
	records, _ := registry.Get(batch.Key())
	if records[0].ThumbURL == "" {
		t.Error("expected ThumbURL to be set when thumbnail_width > 0")
	}
}

type flakyObjectStore struct {
	*fakeObjectStore
	failuresLeft int
}

func (s *flakyObjectStore) Put(ctx context.Context, bucket, objectKey string, data []byte, contentType string) (string, error) {
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return "", errors.New("transient upload error")
	}
	return s.fakeObjectStore.Put(ctx, bucket, objectKey, data, contentType)
}

func TestStorageStage_ProcessBatch_RetriesTransientFailures(t *testing.T) {
	registry := NewRegistry[types.ImageRecord]()
	tracker := NewCompletionTracker(1, nil, nil, nil, nil)
	store := &flakyObjectStore{fakeObjectStore: &fakeObjectStore{}, failuresLeft: 2}
	stage := NewStorageStage(store, "pages", registry, tracker, Config{ImageFormat: ImageFormatPNG, StorageRetries: 3}, nil)

	batch := testPageBatch(1)
	if err := stage.ProcessBatch(context.Background(), batch); err != nil {
		t.Fatalf("expected retries to recover from 2 transient failures, got: %v", err)
	}
}

func TestStorageStage_ProcessBatch_ExhaustedRetriesIsFatal(t *testing.T) {
	registry := NewRegistry[types.ImageRecord]()
	tracker := NewCompletionTracker(1, nil, nil, nil, nil)
	objStore := &fakeObjectStore{failAll: true}
	stage := NewStorageStage(objStore, "pages", registry, tracker, Config{ImageFormat: ImageFormatPNG, StorageRetries: 1}, nil)

	batch := testPageBatch(1)
	err := stage.ProcessBatch(context.Background(), batch)
	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) || pipeErr.Kind != KindStorage {
		t.Fatalf("expected KindStorage PipelineError, got %v", err)
	}
}
