package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/imageproc"
	"github.com/athrael-soju/Snappy-sub001/pkg/ocr"
	"github.com/athrael-soju/Snappy-sub001/pkg/telemetry"
	"github.com/athrael-soju/Snappy-sub001/pkg/types"
	"go.opentelemetry.io/otel/trace"
)

// OCRStage runs OCR for every page in a batch, preserving page order, and
// publishes the results into the ocr registry. It is a terminal stage,
// present only when OCR is enabled.
type OCRStage struct {
	provider ocr.Provider
	registry *Registry[types.OcrResult]
	tracker  *CompletionTracker
	cfg      Config
	sink     EventSink
	tracer   *telemetry.Provider // nil disables span creation
}

// NewOCRStage builds an OCRStage.
func NewOCRStage(provider ocr.Provider, registry *Registry[types.OcrResult], tracker *CompletionTracker, cfg Config, sink EventSink) *OCRStage {
	if sink == nil {
		sink = NopEventSink
	}
	return &OCRStage{provider: provider, registry: registry, tracker: tracker, cfg: cfg, sink: sink}
}

// ProcessBatch runs one OCR request per page, bounded by a worker pool
// sized min(len(batch.Images), ocr_max_workers) so a large batch size
// cannot spawn unbounded goroutines. Any page's OCR failure is fatal — OCR
// errors are never swallowed with a fallback.
func (s *OCRStage) ProcessBatch(ctx context.Context, batch types.PageBatch) error {
	start := time.Now()
	n := len(batch.Images)

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartOCR(ctx, batch.DocumentID, batch.BatchID)
		defer span.End()
	}

	results := make([]types.OcrResult, n)
	errs := make([]error, n)

	workers := n
	if s.cfg.OCRMaxWorkers > 0 && workers > s.cfg.OCRMaxWorkers {
		workers = s.cfg.OCRMaxWorkers
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = s.processPage(ctx, batch, i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			pipeErr := &PipelineError{
				Kind: KindOCR, BatchID: batch.BatchID,
				PageStart: batch.PageStart, PageEnd: batch.PageStart + n - 1,
				Cause: fmt.Errorf("ocr page %d: %w", batch.PageStart+i, err),
			}
			if span != nil {
				telemetry.RecordError(span, pipeErr)
			}
			return pipeErr
		}
	}

	s.registry.Put(batch.Key(), results)
	s.sink.Emit(StageCompleted{DocumentID: batch.DocumentID, BatchID: batch.BatchID, Stage: StageOCR, Duration: time.Since(start)})
	s.tracker.MarkStageComplete(batch.DocumentID, batch.BatchID, n)
	if span != nil {
		telemetry.RecordResult(span, n, time.Since(start))
	}
	return nil
}

func (s *OCRStage) processPage(ctx context.Context, batch types.PageBatch, i int) (types.OcrResult, error) {
	format := imageFormatFor(s.cfg.ImageFormat)
	encoded, err := imageproc.Encode(batch.Images[i], format, s.cfg.ImageQuality)
	if err != nil {
		return types.OcrResult{}, fmt.Errorf("encode: %w", err)
	}

	result, err := s.provider.OCR(ctx, ocr.Request{
		ImageBytes:       encoded,
		Filename:         fmt.Sprintf("page-%d.%s", batch.Metadata[i].PageNumber, format.Ext()),
		Mode:             "document",
		Task:             "ocr",
		IncludeGrounding: true,
	})
	if err != nil {
		return types.OcrResult{}, err
	}

	regions := make([]types.OcrRegion, len(result.BoundingBoxes))
	for j, b := range result.BoundingBoxes {
		regions[j] = types.OcrRegion{
			ID:    fmt.Sprintf("%s#region-%d", batch.DocumentID, j),
			Label: b.Label,
			BBox:  [4]float64{b.X1, b.Y1, b.X2, b.Y2},
		}
	}

	return types.OcrResult{
		Text:     result.Text,
		Markdown: result.Markdown,
		RawText:  result.Raw,
		Regions:  regions,
	}, nil
}

// When ocr_enabled is false, the coordinator never starts an OCR stage
// goroutine or queue at all, so OCR counts toward neither the fan-out
// queues nor the completion tracker's terminal-stage count: the upsert
// stage (§4.5) skips the ocr-registry join entirely in that case rather
// than polling a registry nothing will ever populate.
