package ingest

import (
	"fmt"
	"os"
)

// Logger is the minimal seam the pipeline needs to surface WARN-level
// events that a caller should be able to count or alarm on (registry join
// timeouts, a panicking progress callback). The teacher repository has no
// third-party structured-logging dependency anywhere in its tree — its
// cmd/ package writes straight to os.Stderr with fmt — so this keeps that
// same ambient choice rather than introducing one for a single call site.
type Logger interface {
	Warnf(format string, args ...interface{})
}

// StderrLogger is the default Logger, matching the teacher's cmd/ output
// style.
type StderrLogger struct{}

func (StderrLogger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "WARN: "+format+"\n", args...)
}

// NopLogger discards everything. Useful in tests that assert on event
// counts instead of log output.
type NopLogger struct{}

func (NopLogger) Warnf(string, ...interface{}) {}
