package ingest

import "testing"

func TestCompletionTracker_ReleasesOnLastStage(t *testing.T) {
	sem := make(chan struct{}, 1)
	sem <- struct{}{} // one permit held, as the rasterizer would before dispatch

	var progressed []int
	tracker := NewCompletionTracker(2, sem, func(completed int) {
		progressed = append(progressed, completed)
	}, nil, nil)

	tracker.MarkStageComplete("doc-1", 0, 4)
	if len(sem) != 1 {
		t.Fatalf("expected semaphore still held after first stage, len=%d", len(sem))
	}
	if len(progressed) != 0 {
		t.Fatalf("expected no progress callback before all stages report, got %v", progressed)
	}

	tracker.MarkStageComplete("doc-1", 0, 4)
	if len(sem) != 0 {
		t.Fatalf("expected semaphore released after last stage, len=%d", len(sem))
	}
	if len(progressed) != 1 || progressed[0] != 4 {
		t.Fatalf("expected one progress callback with 4, got %v", progressed)
	}
	if tracker.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tracker.Pending())
	}
}

func TestCompletionTracker_AccumulatesAcrossBatches(t *testing.T) {
	var total int
	tracker := NewCompletionTracker(1, nil, func(completed int) {
		total = completed
	}, nil, nil)

	tracker.MarkStageComplete("doc-1", 0, 4)
	tracker.MarkStageComplete("doc-1", 1, 3)

	if total != 7 {
		t.Errorf("CompletedPages progression ended at %d, want 7", total)
	}
	if tracker.CompletedPages() != 7 {
		t.Errorf("CompletedPages() = %d, want 7", tracker.CompletedPages())
	}
}

func TestCompletionTracker_CallbackPanicRecovered(t *testing.T) {
	tracker := NewCompletionTracker(1, nil, func(int) {
		panic("boom")
	}, nil, NopLogger{})

	// Must not panic the test.
	tracker.MarkStageComplete("doc-1", 0, 1)

	if tracker.CompletedPages() != 1 {
		t.Errorf("CompletedPages() = %d, want 1 (panic must not block accounting)", tracker.CompletedPages())
	}
}

func TestCompletionTracker_PendingTracksPartialBatches(t *testing.T) {
	tracker := NewCompletionTracker(3, nil, nil, nil, nil)

	tracker.MarkStageComplete("doc-1", 0, 4)
	if tracker.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1 after one of three stages reports", tracker.Pending())
	}
	tracker.MarkStageComplete("doc-1", 0, 4)
	tracker.MarkStageComplete("doc-1", 0, 4)
	if tracker.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 once all three stages report", tracker.Pending())
	}
}
