package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/telemetry"
	"github.com/athrael-soju/Snappy-sub001/pkg/types"
	"github.com/athrael-soju/Snappy-sub001/pkg/vectorstore"
	"go.opentelemetry.io/otel/trace"
)

// joinOutcome distinguishes why a registry join loop stopped polling: a
// genuine timeout (the registry never published the key within
// max_join_wait_seconds) still lets the upsert proceed with a fallback, but
// a cancelled context means the pipeline is shutting down and must never
// reach the store.Upsert call with a context that's already done.
type joinOutcome int

const (
	joinFound joinOutcome = iota
	joinTimedOut
	joinCancelled
)

// UpsertStage joins an EmbeddedBatch with the storage stage's ImageRecords
// and, if enabled, the OCR stage's OcrResults, assembles one VectorPoint
// per page, and issues a single batched upsert. It is always a terminal
// stage.
type UpsertStage struct {
	store    vectorstore.Store
	imageReg *Registry[types.ImageRecord]
	ocrReg   *Registry[types.OcrResult]
	tracker  *CompletionTracker
	cfg      Config
	sink     EventSink
	logger   Logger
	timeNow  func() time.Time
	tracer   *telemetry.Provider // nil disables span creation
}

// NewUpsertStage builds an UpsertStage.
func NewUpsertStage(store vectorstore.Store, imageReg *Registry[types.ImageRecord], ocrReg *Registry[types.OcrResult], tracker *CompletionTracker, cfg Config, sink EventSink, logger Logger) *UpsertStage {
	if sink == nil {
		sink = NopEventSink
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &UpsertStage{
		store: store, imageReg: imageReg, ocrReg: ocrReg, tracker: tracker,
		cfg: cfg, sink: sink, logger: logger, timeNow: time.Now,
	}
}

// ProcessBatch waits for the image registry (and, if OCR is enabled, the
// ocr registry) to publish this batch's key, joins them against embedded,
// assembles one VectorPoint per page, and upserts the batch.
func (s *UpsertStage) ProcessBatch(ctx context.Context, embedded *types.EmbeddedBatch) error {
	start := time.Now()
	key := embedded.Key()
	n := len(embedded.ImageIDs)

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartUpsert(ctx, embedded.DocumentID, embedded.BatchID)
		defer span.End()
	}

	fail := func(err error) error {
		if span != nil {
			telemetry.RecordError(span, err)
		}
		return err
	}

	imageRecords, imageOutcome := s.joinImageRegistry(ctx, key)
	if imageOutcome == joinCancelled {
		return fail(ErrCancelled)
	}
	if imageOutcome == joinTimedOut {
		s.logger.Warnf("batch %s:%d image registry join timed out after %.0fs, falling back to image_storage=none",
			embedded.DocumentID, embedded.BatchID, s.cfg.MaxJoinWaitSeconds)
		s.sink.Emit(RegistryJoinTimedOut{DocumentID: embedded.DocumentID, BatchID: embedded.BatchID, Registry: "image"})
		imageRecords = fallbackImageRecords(embedded.ImageIDs)
	}

	var ocrResults []types.OcrResult
	if s.cfg.OCREnabled {
		var ocrOutcome joinOutcome
		ocrResults, ocrOutcome = s.joinOCRRegistry(ctx, key)
		if ocrOutcome == joinCancelled {
			return fail(ErrCancelled)
		}
		if ocrOutcome == joinTimedOut {
			s.logger.Warnf("batch %s:%d ocr registry join timed out after %.0fs, omitting ocr fields",
				embedded.DocumentID, embedded.BatchID, s.cfg.MaxJoinWaitSeconds)
			s.sink.Emit(RegistryJoinTimedOut{DocumentID: embedded.DocumentID, BatchID: embedded.BatchID, Registry: "ocr"})
			ocrResults = make([]types.OcrResult, n)
		}
	} else {
		ocrResults = make([]types.OcrResult, n)
	}

	points := make([]types.VectorPoint, n)
	for i := 0; i < n; i++ {
		points[i] = s.buildPoint(embedded, imageRecords[i], ocrResults[i], i)
	}

	if err := s.store.Upsert(ctx, points); err != nil {
		return fail(&PipelineError{
			Kind: KindVectorStore, BatchID: embedded.BatchID,
			PageStart: embedded.PageStart, PageEnd: embedded.PageStart + n - 1,
			Cause: fmt.Errorf("upsert batch: %w", err),
		})
	}

	s.sink.Emit(StageCompleted{DocumentID: embedded.DocumentID, BatchID: embedded.BatchID, Stage: StageUpsert, Duration: time.Since(start)})
	s.tracker.MarkStageComplete(embedded.DocumentID, embedded.BatchID, n)
	if span != nil {
		telemetry.RecordResult(span, n, time.Since(start))
	}
	return nil
}

func (s *UpsertStage) buildPoint(embedded *types.EmbeddedBatch, img types.ImageRecord, ocrResult types.OcrResult, i int) types.VectorPoint {
	meta := embedded.Metadata[i]

	p := types.VectorPoint{
		ID:             embedded.ImageIDs[i],
		Original:       embedded.OriginalEmbeddings[i],
		Index:          embedded.PageStart + i,
		DocumentID:     embedded.DocumentID,
		Filename:       meta.Filename,
		FileSizeBytes:  meta.FileSizeBytes,
		PdfPageIndex:   meta.PageNumber - 1,
		PageNumber:     meta.PageNumber,
		TotalPages:     meta.TotalPages,
		IndexedAt:      s.timeNow(),
		JobID:          s.cfg.JobID,
		ImageURL:       img.ImageURL,
		ImageInline:    img.Storage == types.ImageStorageInline,
		ImageStorage:   img.Storage,
		ImageMimeType:  img.ContentType,
		ImageFormat:    img.Format,
		ImageSizeBytes: img.ByteSize,
		ImageQuality:   img.Quality,
	}

	if i < len(embedded.PooledByRows) {
		p.PooledRows = embedded.PooledByRows[i]
	}
	if i < len(embedded.PooledByColumns) {
		p.PooledCols = embedded.PooledByColumns[i]
	}

	if s.cfg.OCREnabled {
		p.OcrText = ocrResult.Text
		p.OcrMarkdown = ocrResult.Markdown
		p.OcrRawText = ocrResult.RawText
		p.OcrRegions = ocrResult.Regions
		p.HasOcr = ocrResult.Text != "" || ocrResult.Markdown != "" || len(ocrResult.Regions) > 0
	}

	return p
}

// joinImageRegistry polls the image registry on registry_poll_interval_ms
// until it sees the batch's key, max_join_wait_seconds elapses, or ctx is
// cancelled — the latter reported distinctly from a timeout so the caller
// never treats a shutdown signal as an ordinary fallback-and-continue case.
func (s *UpsertStage) joinImageRegistry(ctx context.Context, key types.BatchKey) ([]types.ImageRecord, joinOutcome) {
	deadline := time.Now().Add(s.cfg.maxJoinWait())
	for {
		if values, ok := s.imageReg.Get(key); ok {
			return values, joinFound
		}
		if time.Now().After(deadline) {
			return nil, joinTimedOut
		}
		select {
		case <-ctx.Done():
			return nil, joinCancelled
		case <-time.After(s.cfg.registryPollInterval()):
		}
	}
}

// joinOCRRegistry polls the ocr registry the same way joinImageRegistry
// polls the image registry.
func (s *UpsertStage) joinOCRRegistry(ctx context.Context, key types.BatchKey) ([]types.OcrResult, joinOutcome) {
	deadline := time.Now().Add(s.cfg.maxJoinWait())
	for {
		if values, ok := s.ocrReg.Get(key); ok {
			return values, joinFound
		}
		if time.Now().After(deadline) {
			return nil, joinTimedOut
		}
		select {
		case <-ctx.Done():
			return nil, joinCancelled
		case <-time.After(s.cfg.registryPollInterval()):
		}
	}
}

// fallbackImageRecords builds per-page placeholder records with
// image_storage = none, used when the image registry join times out.
func fallbackImageRecords(imageIDs []string) []types.ImageRecord {
	out := make([]types.ImageRecord, len(imageIDs))
	for i, id := range imageIDs {
		out[i] = types.ImageRecord{PageID: id, Storage: types.ImageStorageNone}
	}
	return out
}
