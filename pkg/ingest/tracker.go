package ingest

import (
	"sync"

	"github.com/athrael-soju/Snappy-sub001/pkg/types"
)

// batchCounter tracks how many terminal stages have reported for one
// batch. It is removed from the tracker's map the instant it reaches
// numTerminalStages, which is what makes "complete" a one-time transition.
type batchCounter struct {
	stagesDone int
	pages      int
}

// CompletionTracker releases admission permits and invokes the caller's
// progress callback exactly once per batch, only once every terminal stage
// (storage, OCR if enabled, upsert) has reported. It deliberately is not a
// sync.WaitGroup: a WaitGroup has no notion of batch identity, and the
// admission permit released on completion must be released exactly once
// per batch, not once the Nth call happens to occur.
type CompletionTracker struct {
	mu                sync.Mutex
	counters          map[types.BatchKey]*batchCounter
	numTerminalStages int

	completedPages int64
	semaphore      chan struct{}
	progressCB     ProgressCallback
	sink           EventSink
	logger         Logger
}

// NewCompletionTracker builds a tracker. numTerminalStages is 2 (storage,
// upsert) or 3 (storage, OCR, upsert) depending on whether OCR is enabled.
func NewCompletionTracker(numTerminalStages int, semaphore chan struct{}, progressCB ProgressCallback, sink EventSink, logger Logger) *CompletionTracker {
	if sink == nil {
		sink = NopEventSink
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &CompletionTracker{
		counters:          make(map[types.BatchKey]*batchCounter),
		numTerminalStages: numTerminalStages,
		semaphore:         semaphore,
		progressCB:        progressCB,
		sink:              sink,
		logger:            logger,
	}
}

// MarkStageComplete records that one terminal stage finished batch
// (documentID, batchID) covering pages pages. On the transition to "every
// terminal stage has reported", it releases one admission permit and
// invokes the progress callback with the new running total, exactly once.
func (t *CompletionTracker) MarkStageComplete(documentID string, batchID int, pages int) {
	key := types.BatchKey{DocumentID: documentID, BatchID: batchID}

	t.mu.Lock()
	c, ok := t.counters[key]
	if !ok {
		c = &batchCounter{pages: pages}
		t.counters[key] = c
	}
	c.stagesDone++

	done := c.stagesDone == t.numTerminalStages
	var completed int64
	if done {
		t.completedPages += int64(c.pages)
		completed = t.completedPages
		delete(t.counters, key)
	}
	t.mu.Unlock()

	if !done {
		return
	}

	if t.semaphore != nil {
		<-t.semaphore
	}

	t.sink.Emit(BatchCompleted{DocumentID: documentID, BatchID: batchID, Pages: c.pages})

	if t.progressCB != nil {
		t.invokeCallback(int(completed))
	}
}

// invokeCallback calls the progress callback with a panic guard; the spec
// requires callback failures to be caught, logged, and ignored rather than
// propagated into the pipeline.
func (t *CompletionTracker) invokeCallback(completedPages int) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warnf("progress callback panicked: %v", r)
		}
	}()
	t.progressCB(completedPages)
}

// CompletedPages returns the running total of pages whose batch has fully
// completed.
func (t *CompletionTracker) CompletedPages() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.completedPages)
}

// Pending returns the number of batches with at least one but not all
// terminal stages reported. Used by tests asserting clean teardown leaves
// no dangling counters.
func (t *CompletionTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counters)
}
