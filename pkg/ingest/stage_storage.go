package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/imageproc"
	"github.com/athrael-soju/Snappy-sub001/pkg/objectstore"
	"github.com/athrael-soju/Snappy-sub001/pkg/telemetry"
	"github.com/athrael-soju/Snappy-sub001/pkg/types"
	"go.opentelemetry.io/otel/trace"
)

// StorageStage encodes every page image in a batch, uploads it to the
// object store, publishes the resulting ImageRecords into the image
// registry, and reports completion to the tracker. It is a terminal stage.
type StorageStage struct {
	store    objectstore.Store
	bucket   string
	registry *Registry[types.ImageRecord]
	tracker  *CompletionTracker
	cfg      Config
	sink     EventSink
	tracer   *telemetry.Provider // nil disables span creation
}

// NewStorageStage builds a StorageStage.
func NewStorageStage(store objectstore.Store, bucket string, registry *Registry[types.ImageRecord], tracker *CompletionTracker, cfg Config, sink EventSink) *StorageStage {
	if sink == nil {
		sink = NopEventSink
	}
	return &StorageStage{store: store, bucket: bucket, registry: registry, tracker: tracker, cfg: cfg, sink: sink}
}

// ProcessBatch encodes and uploads every page in batch, with fan-out equal
// to the batch size. Any page's upload failure, after its own retries are
// exhausted, is fatal for the document — there is no partial-page publish.
func (s *StorageStage) ProcessBatch(ctx context.Context, batch types.PageBatch) error {
	start := time.Now()
	n := len(batch.Images)

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartStore(ctx, batch.DocumentID, batch.BatchID)
		defer span.End()
	}

	records := make([]types.ImageRecord, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			rec, err := s.processPage(ctx, batch, i)
			records[i] = rec
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			pipeErr := &PipelineError{
				Kind: KindStorage, BatchID: batch.BatchID,
				PageStart: batch.PageStart, PageEnd: batch.PageStart + n - 1,
				Cause: fmt.Errorf("upload page %d: %w", batch.PageStart+i, err),
			}
			if span != nil {
				telemetry.RecordError(span, pipeErr)
			}
			return pipeErr
		}
	}

	s.registry.Put(batch.Key(), records)
	s.sink.Emit(StageCompleted{DocumentID: batch.DocumentID, BatchID: batch.BatchID, Stage: StageStore, Duration: time.Since(start)})
	s.tracker.MarkStageComplete(batch.DocumentID, batch.BatchID, n)
	if span != nil {
		telemetry.RecordResult(span, n, time.Since(start))
	}
	return nil
}

func (s *StorageStage) processPage(ctx context.Context, batch types.PageBatch, i int) (types.ImageRecord, error) {
	format := imageFormatFor(s.cfg.ImageFormat)
	encoded, err := imageproc.Encode(batch.Images[i], format, s.cfg.ImageQuality)
	if err != nil {
		return types.ImageRecord{}, fmt.Errorf("encode: %w", err)
	}

	var thumb []byte
	if s.cfg.ThumbnailWidth > 0 {
		thumb, err = imageproc.Thumbnail(batch.Images[i], s.cfg.ThumbnailWidth, format, s.cfg.ImageQuality)
		if err != nil {
			return types.ImageRecord{}, fmt.Errorf("thumbnail: %w", err)
		}
	}

	pageNumber := batch.Metadata[i].PageNumber
	imageID := batch.ImageIDs[i]

	key := objectstore.Key(batch.DocumentID, pageNumber, "page", format.Ext())
	url, err := s.uploadWithRetry(ctx, key, encoded, format.ContentType())
	if err != nil {
		return types.ImageRecord{}, err
	}

	var thumbURL string
	if thumb != nil {
		thumbKey := objectstore.Key(batch.DocumentID, pageNumber, "thumb", format.Ext())
		thumbURL, err = s.uploadWithRetry(ctx, thumbKey, thumb, format.ContentType())
		if err != nil {
			return types.ImageRecord{}, err
		}
	}

	bounds := batch.Images[i].Bounds()
	return types.ImageRecord{
		PageID:      imageID,
		ImageURL:    url,
		Storage:     types.ImageStorageObjectStore,
		ContentType: format.ContentType(),
		Format:      string(format),
		ByteSize:    len(encoded),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Quality:     s.cfg.ImageQuality,
		ThumbURL:    thumbURL,
	}, nil
}

// uploadWithRetry retries a single page's upload with exponential backoff
// and jitter, bounded by cfg.StorageRetries, grounded on the same backoff
// shape the vector-store clients use.
func (s *StorageStage) uploadWithRetry(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	backoff := 100 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= s.cfg.StorageRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return "", ErrCancelled
			case <-time.After(backoff + jitter):
			}
			backoff *= 2
		}

		url, err := s.store.Put(ctx, s.bucket, key, data, contentType)
		if err == nil {
			return url, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("upload %s failed after %d attempts: %w", key, s.cfg.StorageRetries+1, lastErr)
}

func imageFormatFor(f ImageFormat) imageproc.Format {
	switch f {
	case ImageFormatJPEG:
		return imageproc.FormatJPEG
	case ImageFormatWEBP:
		return imageproc.FormatWEBP
	default:
		return imageproc.FormatPNG
	}
}
