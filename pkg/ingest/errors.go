package ingest

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned (wrapped or bare, checked with errors.Is) when a
// document's ingestion was stopped cooperatively rather than failing. It is
// never conflated with a fatal error kind.
var ErrCancelled = errors.New("ingestion cancelled")

// Kind enumerates the caller-facing error taxonomy. Unlike the source,
// which distinguished cancellation from other errors by inspecting the
// exception message, every fatal path here carries an explicit Kind.
type Kind string

const (
	KindDecode      Kind = "decode"
	KindEmbedding   Kind = "embedding"
	KindStorage     Kind = "storage"
	KindOCR         Kind = "ocr"
	KindVectorStore Kind = "vector_store"
	KindConfig      Kind = "config"
)

// PipelineError is the typed fatal error the coordinator returns to the
// caller. BatchID and PageStart/PageEnd identify where in the document the failure
// occurred; Cause is the underlying error from the stage or client.
type PipelineError struct {
	Kind      Kind
	BatchID   int
	PageStart int
	PageEnd   int
	Cause     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("ingest: %s failure in batch %d (pages %d-%d): %v",
		e.Kind, e.BatchID, e.PageStart, e.PageEnd, e.Cause)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}
