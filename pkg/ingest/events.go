package ingest

import "time"

// Stage identifies a pipeline processing stage for structured events and
// metrics/tracing attributes.
type Stage string

const (
	StageRasterize Stage = "rasterize"
	StageEmbed     Stage = "embed"
	StageStore     Stage = "store"
	StageOCR       Stage = "ocr"
	StageUpsert    Stage = "upsert"
)

// Event is the structured replacement for the source's Rich-formatted
// console logs. The pipeline emits events to a caller-supplied EventSink;
// rendering (a progress bar, a log line, a metrics increment) is entirely
// the caller's concern.
type Event interface {
	isEvent()
}

// BatchStarted fires when the rasterizer dispatches a batch to the
// fan-out queues.
type BatchStarted struct {
	DocumentID string
	BatchID    int
	PageStart  int
	PageCount  int
}

func (BatchStarted) isEvent() {}

// StageCompleted fires when a single stage finishes processing one batch.
type StageCompleted struct {
	DocumentID string
	BatchID    int
	Stage      Stage
	Duration   time.Duration
}

func (StageCompleted) isEvent() {}

// BatchCompleted fires once, from the completion tracker, when every
// terminal stage has reported for a batch.
type BatchCompleted struct {
	DocumentID string
	BatchID    int
	Pages      int
}

func (BatchCompleted) isEvent() {}

// DocumentCompleted fires once the whole document has finished.
type DocumentCompleted struct {
	DocumentID string
	TotalPages int
	Duration   time.Duration
}

func (DocumentCompleted) isEvent() {}

// RegistryJoinTimedOut fires when the upsert stage's poll for a registry
// key exceeded max_join_wait_seconds. Non-fatal, always WARN-worthy.
type RegistryJoinTimedOut struct {
	DocumentID string
	BatchID    int
	Registry   string // "image" or "ocr"
}

func (RegistryJoinTimedOut) isEvent() {}

// EventSink receives pipeline events. Emit must not block the pipeline for
// long; implementations that render to a terminal or forward over a
// channel should buffer or drop rather than stall a stage worker.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a plain function to an EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// NopEventSink discards every event. Used as the default when the caller
// supplies none.
var NopEventSink EventSink = EventSinkFunc(func(Event) {})

// ProgressCallback reports total completed pages after each batch
// completes. completed_pages is strictly increasing and equals the
// document's total page count on clean completion. Panics or errors from
// the callback are recovered, logged, and ignored — they must never take
// down the pipeline.
type ProgressCallback func(completedPages int)
