package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/embedding"
	"github.com/athrael-soju/Snappy-sub001/pkg/objectstore"
	"github.com/athrael-soju/Snappy-sub001/pkg/ocr"
	"github.com/athrael-soju/Snappy-sub001/pkg/pdfdecode"
	"github.com/athrael-soju/Snappy-sub001/pkg/telemetry"
	"github.com/athrael-soju/Snappy-sub001/pkg/types"
	"github.com/athrael-soju/Snappy-sub001/pkg/vectorstore"
)

// Pipeline wires a PDF decoder, the four stages, the two shared registries,
// and the completion tracker into one streaming ingestion run. One Pipeline
// value ingests documents sequentially; concurrent documents should use
// separate Pipeline values (the admission semaphore and registries are
// per-document state).
type Pipeline struct {
	cfg Config

	rasterizer *Rasterizer
	embedding  *EmbeddingStage
	storage    *StorageStage
	ocrStage   *OCRStage // nil when cfg.OCREnabled is false
	upsert     *UpsertStage

	tracker            *CompletionTracker
	imageRegistry      *Registry[types.ImageRecord]
	ocrRegistry        *Registry[types.OcrResult]
	admissionSemaphore chan struct{}

	sink   EventSink
	logger Logger
}

// Dependencies bundles the external-service clients a Pipeline needs.
type Dependencies struct {
	Decoder      pdfdecode.Decoder
	Embedding    embedding.Provider
	ObjectStore  objectstore.Store
	ObjectBucket string
	OCR          ocr.Provider // nil when cfg.OCREnabled is false
	VectorStore  vectorstore.Store
	EventSink    EventSink
	Logger       Logger
	Tracer       *telemetry.Provider // nil disables span creation for every stage
}

// NewPipeline validates deps against cfg and constructs every stage,
// sharing one pair of registries and one completion tracker across them.
func NewPipeline(deps Dependencies, cfg Config) (*Pipeline, error) {
	cfg = applyDefaults(cfg)

	if cfg.OCREnabled && deps.OCR == nil {
		return nil, &PipelineError{Kind: KindConfig, Cause: fmt.Errorf("ocr_enabled is true but no OCR provider was supplied")}
	}

	sink := deps.EventSink
	if sink == nil {
		sink = NopEventSink
	}
	logger := deps.Logger
	if logger == nil {
		logger = StderrLogger{}
	}

	imageRegistry := NewRegistry[types.ImageRecord]()
	ocrRegistry := NewRegistry[types.OcrResult]()

	admissionSemaphore := make(chan struct{}, cfg.MaxInFlightBatches)
	tracker := NewCompletionTracker(cfg.numTerminalStages(), admissionSemaphore, nil, sink, logger)

	p := &Pipeline{
		cfg:                cfg,
		rasterizer:         NewRasterizer(deps.Decoder, cfg, sink),
		embedding:          NewEmbeddingStage(deps.Embedding, cfg, sink),
		storage:            NewStorageStage(deps.ObjectStore, deps.ObjectBucket, imageRegistry, tracker, cfg, sink),
		upsert:             NewUpsertStage(deps.VectorStore, imageRegistry, ocrRegistry, tracker, cfg, sink, logger),
		tracker:            tracker,
		imageRegistry:      imageRegistry,
		ocrRegistry:        ocrRegistry,
		admissionSemaphore: admissionSemaphore,
		sink:               sink,
		logger:             logger,
	}
	if cfg.OCREnabled {
		p.ocrStage = NewOCRStage(deps.OCR, ocrRegistry, tracker, cfg, sink)
	}

	if deps.Tracer != nil {
		p.rasterizer.tracer = deps.Tracer
		p.embedding.tracer = deps.Tracer
		p.storage.tracer = deps.Tracer
		p.upsert.tracer = deps.Tracer
		if p.ocrStage != nil {
			p.ocrStage.tracer = deps.Tracer
		}
	}

	return p, nil
}

// IngestDocument runs the full streaming pipeline against one PDF file,
// invoking progressCB after every batch completes. It returns the
// document's total page count on success. Cancelling ctx stops the
// pipeline cooperatively: RasterizeStreaming and every stage worker exit at
// their next checkpoint and the error returned wraps ErrCancelled.
func (p *Pipeline) IngestDocument(ctx context.Context, pdfPath, filename, documentID string, progressCB ProgressCallback) (int, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.tracker.progressCB = progressCB
	p.tracker.mu.Lock()
	p.tracker.completedPages = 0
	p.tracker.mu.Unlock()

	queueCap := p.cfg.queueCapacity()
	queueEmbed := make(chan types.PageBatch, queueCap)
	queueStore := make(chan types.PageBatch, queueCap)
	queueUpsert := make(chan *types.EmbeddedBatch, queueCap)

	outputQueues := []chan<- types.PageBatch{queueEmbed, queueStore}
	var queueOCR chan types.PageBatch
	if p.cfg.OCREnabled {
		queueOCR = make(chan types.PageBatch, queueCap)
		outputQueues = append(outputQueues, queueOCR)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	reportErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
		cancel()
	}

	// Storage consumer.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-queueStore:
				if !ok {
					return
				}
				if err := p.storage.ProcessBatch(ctx, batch); err != nil {
					reportErr(err)
					return
				}
			}
		}
	}()

	// OCR consumer (only when enabled).
	if p.cfg.OCREnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case batch, ok := <-queueOCR:
					if !ok {
						return
					}
					if err := p.ocrStage.ProcessBatch(ctx, batch); err != nil {
						reportErr(err)
						return
					}
				}
			}
		}()
	}

	// Embedding consumer: reads queue_embed, writes queue_upsert.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(queueUpsert)
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-queueEmbed:
				if !ok {
					return
				}
				embedded, err := p.embedding.ProcessBatch(ctx, batch)
				if err != nil {
					reportErr(err)
					return
				}
				select {
				case queueUpsert <- embedded:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// Upsert consumer.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case embedded, ok := <-queueUpsert:
				if !ok {
					return
				}
				if err := p.upsert.ProcessBatch(ctx, embedded); err != nil {
					reportErr(err)
					return
				}
			}
		}
	}()

	totalPages, rasterErr := p.rasterizer.RasterizeStreaming(ctx, pdfPath, filename, documentID, outputQueues, p.admissionSemaphore)
	close(queueStore)
	close(queueEmbed)
	if queueOCR != nil {
		close(queueOCR)
	}
	if rasterErr != nil {
		reportErr(rasterErr)
	}

	wg.Wait()

	select {
	case err := <-errCh:
		p.imageRegistry.Clear()
		p.ocrRegistry.Clear()
		return 0, err
	default:
	}
	if ctx.Err() != nil {
		p.imageRegistry.Clear()
		p.ocrRegistry.Clear()
		return 0, ErrCancelled
	}

	p.sink.Emit(DocumentCompleted{DocumentID: documentID, TotalPages: totalPages, Duration: time.Since(start)})
	return totalPages, nil
}
