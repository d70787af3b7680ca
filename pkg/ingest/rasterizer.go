package ingest

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/pdfdecode"
	"github.com/athrael-soju/Snappy-sub001/pkg/telemetry"
	"github.com/athrael-soju/Snappy-sub001/pkg/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Rasterizer turns a PDF file into a stream of PageBatches, broadcast to a
// fixed set of fan-out queues, throttled by an admission semaphore it
// shares with the completion tracker.
type Rasterizer struct {
	decoder pdfdecode.Decoder
	cfg     Config
	sink    EventSink
	tracer  *telemetry.Provider // nil disables span creation
}

// NewRasterizer builds a Rasterizer backed by decoder.
func NewRasterizer(decoder pdfdecode.Decoder, cfg Config, sink EventSink) *Rasterizer {
	if sink == nil {
		sink = NopEventSink
	}
	return &Rasterizer{decoder: decoder, cfg: cfg, sink: sink}
}

// RasterizeStreaming decodes pdfPath in fixed-size page windows, acquiring
// one admission permit per batch before decoding it, and broadcasts a copy
// of each batch to every queue in outputQueues. It returns the document's
// total page count once the final batch has been dispatched.
func (r *Rasterizer) RasterizeStreaming(
	ctx context.Context,
	pdfPath, filename, documentID string,
	outputQueues []chan<- types.PageBatch,
	admissionSemaphore chan struct{},
) (int, error) {
	info, err := r.decoder.Inspect(ctx, pdfPath)
	if err != nil {
		return 0, &PipelineError{Kind: KindDecode, Cause: fmt.Errorf("inspect %s: %w", pdfPath, err)}
	}

	batchID := 0
	for page := 1; page <= info.TotalPages; {
		if err := checkCancelled(ctx); err != nil {
			return 0, err
		}

		if err := acquireWithPoll(ctx, admissionSemaphore, r.cfg.semaphorePollInterval()); err != nil {
			return 0, err
		}

		windowEnd := page + r.cfg.BatchSize - 1
		if windowEnd > info.TotalPages {
			windowEnd = info.TotalPages
		}
		pageCount := windowEnd - page + 1

		spanCtx := ctx
		var span trace.Span
		spanStart := time.Now()
		if r.tracer != nil {
			spanCtx, span = r.tracer.StartRasterize(ctx, documentID, batchID, pageCount)
		}

		batch, err := r.decodeBatch(spanCtx, pdfPath, documentID, filename, info, batchID, page, windowEnd)
		if err != nil {
			releaseOne(admissionSemaphore)
			if span != nil {
				telemetry.RecordError(span, err)
				span.End()
			}
			return 0, err
		}

		r.sink.Emit(BatchStarted{
			DocumentID: documentID,
			BatchID:    batchID,
			PageStart:  page,
			PageCount:  pageCount,
		})

		if err := broadcast(spanCtx, batch, outputQueues); err != nil {
			releaseOne(admissionSemaphore)
			if span != nil {
				telemetry.RecordError(span, err)
				span.End()
			}
			return 0, err
		}

		if span != nil {
			telemetry.RecordResult(span, pageCount, time.Since(spanStart))
			span.End()
		}

		batchID++
		page = windowEnd + 1
	}

	return info.TotalPages, nil
}

func (r *Rasterizer) decodeBatch(
	ctx context.Context,
	pdfPath, documentID, filename string,
	info pdfdecode.Info,
	batchID, first, last int,
) (types.PageBatch, error) {
	pages, err := r.decoder.DecodeRange(ctx, pdfPath, first, last, 150)
	if err != nil {
		return types.PageBatch{}, &PipelineError{
			Kind: KindDecode, BatchID: batchID, PageStart: first, PageEnd: last,
			Cause: fmt.Errorf("decode pages %d-%d: %w", first, last, err),
		}
	}

	n := len(pages)
	images := make([]image.Image, n)
	imageIDs := make([]string, n)
	metadata := make([]types.PageMetadata, n)

	for i, p := range pages {
		images[i] = forceMaterialize(p.Image)
		imageIDs[i] = uuid.NewString()
		metadata[i] = types.PageMetadata{
			DocumentID:    documentID,
			PageID:        imageIDs[i],
			Filename:      filename,
			PageNumber:    p.PageNumber,
			TotalPages:    info.TotalPages,
			PageWidthPx:   p.WidthPx,
			PageHeightPx:  p.HeightPx,
			FileSizeBytes: info.FileSizeBytes,
		}
	}

	return types.PageBatch{
		DocumentID: documentID,
		BatchID:    batchID,
		PageStart:  first,
		Images:     images,
		ImageIDs:   imageIDs,
		Metadata:   metadata,
	}, nil
}

// forceMaterialize copies img into a fresh RGBA buffer. The pdftoppm-backed
// decoder already fully decodes each PNG, so this has no lazy-loading
// hazard to guard against in practice, but it preserves the documented
// contract that every stage receives an owned, independently mutable
// buffer regardless of what a given decoder implementation does.
func forceMaterialize(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
	return dst
}

// broadcast sends batch to every queue. The first queue receives the
// original batch; every subsequent queue receives a deep copy of the
// images so no stage can mutate another's pixel data in place. Each send
// is ctx-aware so a downstream fatal error (which cancels ctx and stops
// that queue's consumer) can never leave the rasterizer blocked forever on
// a full, abandoned channel.
func broadcast(ctx context.Context, batch types.PageBatch, queues []chan<- types.PageBatch) error {
	for i, q := range queues {
		payload := batch
		if i > 0 {
			payload = batch.Clone(func(img image.Image) image.Image { return forceMaterialize(img) })
		}
		select {
		case q <- payload:
		case <-ctx.Done():
			return ErrCancelled
		}
	}
	return nil
}

// checkCancelled reports ErrCancelled if ctx has been cancelled.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

// acquireWithPoll acquires one permit on the admission semaphore (a
// buffered channel of empty structs initialized to max_in_flight_batches),
// retrying on a short poll interval so cancellation stays responsive even
// while the semaphore is fully held.
func acquireWithPoll(ctx context.Context, sem chan struct{}, pollInterval time.Duration) error {
	for {
		select {
		case sem <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ErrCancelled
		case <-time.After(pollInterval):
			if err := checkCancelled(ctx); err != nil {
				return err
			}
		}
	}
}

// releaseOne releases a permit acquired by acquireWithPoll. Used only on
// the rasterizer's own failure path (the happy path's release belongs to
// the completion tracker).
func releaseOne(sem chan struct{}) {
	select {
	case <-sem:
	default:
	}
}
