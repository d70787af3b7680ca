package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/embedding"
	vecmath "github.com/athrael-soju/Snappy-sub001/pkg/math"
	"github.com/athrael-soju/Snappy-sub001/pkg/telemetry"
	"github.com/athrael-soju/Snappy-sub001/pkg/types"
	"go.opentelemetry.io/otel/trace"
)

// EmbeddingStage generates multi-vector embeddings for every page in a
// batch and forwards the result to the upsert queue. It is not a terminal
// stage: it never reports to the completion tracker.
type EmbeddingStage struct {
	provider embedding.Provider
	cfg      Config
	sink     EventSink
	tracer   *telemetry.Provider // nil disables span creation
}

// NewEmbeddingStage builds an EmbeddingStage backed by provider.
func NewEmbeddingStage(provider embedding.Provider, cfg Config, sink EventSink) *EmbeddingStage {
	if sink == nil {
		sink = NopEventSink
	}
	return &EmbeddingStage{provider: provider, cfg: cfg, sink: sink}
}

// ProcessBatch submits every page image as one request, optionally
// mean-pools the patch tokens into row/column prefetch vectors, and
// returns an EmbeddedBatch carrying the source batch's identifying fields
// forward verbatim.
func (s *EmbeddingStage) ProcessBatch(ctx context.Context, batch types.PageBatch) (*types.EmbeddedBatch, error) {
	var span trace.Span
	spanStart := time.Now()
	if s.tracer != nil {
		ctx, span = s.tracer.StartEmbed(ctx, batch.DocumentID, batch.BatchID)
		defer span.End()
	}
	fail := func(pipeErr *PipelineError) (*types.EmbeddedBatch, error) {
		if span != nil {
			telemetry.RecordError(span, pipeErr)
		}
		return nil, pipeErr
	}

	embeddings, err := s.provider.EmbedImages(ctx, batch.Images)
	if err != nil {
		return fail(&PipelineError{
			Kind: KindEmbedding, BatchID: batch.BatchID,
			PageStart: batch.PageStart, PageEnd: batch.PageStart + len(batch.Images) - 1,
			Cause: fmt.Errorf("embed batch: %w", err),
		})
	}
	if len(embeddings) != len(batch.Images) {
		return fail(&PipelineError{
			Kind: KindEmbedding, BatchID: batch.BatchID,
			PageStart: batch.PageStart, PageEnd: batch.PageStart + len(batch.Images) - 1,
			Cause: fmt.Errorf("embedding service returned %d results for %d images", len(embeddings), len(batch.Images)),
		})
	}

	original := make([]types.MultiVector, len(embeddings))
	for i, e := range embeddings {
		original[i] = types.MultiVector(e.Embedding)
	}

	var pooledRows, pooledCols []types.MultiVector
	if s.cfg.VectorMeanPoolingEnabled {
		pooledRows, pooledCols, err = s.meanPool(ctx, batch, embeddings)
		if err != nil {
			return fail(&PipelineError{
				Kind: KindEmbedding, BatchID: batch.BatchID,
				PageStart: batch.PageStart, PageEnd: batch.PageStart + len(batch.Images) - 1,
				Cause: fmt.Errorf("mean-pool patch grid: %w", err),
			})
		}
	}

	if span != nil {
		telemetry.RecordResult(span, len(batch.Images), time.Since(spanStart))
	}

	return &types.EmbeddedBatch{
		DocumentID:         batch.DocumentID,
		BatchID:            batch.BatchID,
		PageStart:          batch.PageStart,
		ImageIDs:           batch.ImageIDs,
		Metadata:           batch.Metadata,
		OriginalEmbeddings: original,
		PooledByRows:       pooledRows,
		PooledByColumns:    pooledCols,
	}, nil
}

// meanPool computes pooled_by_rows/pooled_by_columns prefetch vectors by
// mean-pooling each page's visual patch tokens (delimited by
// ImagePatchStart/ImagePatchLen) according to the patch-grid geometry
// get_patches reports for that page's dimensions.
func (s *EmbeddingStage) meanPool(ctx context.Context, batch types.PageBatch, embeddings []embedding.PatchEmbedding) ([]types.MultiVector, []types.MultiVector, error) {
	widths := make([]int, len(batch.Metadata))
	heights := make([]int, len(batch.Metadata))
	for i, m := range batch.Metadata {
		widths[i] = m.PageWidthPx
		heights[i] = m.PageHeightPx
	}

	grids, err := s.provider.GetPatches(ctx, widths, heights)
	if err != nil {
		return nil, nil, fmt.Errorf("get_patches: %w", err)
	}
	if len(grids) != len(embeddings) {
		return nil, nil, fmt.Errorf("get_patches returned %d grids for %d pages", len(grids), len(embeddings))
	}

	rows := make([]types.MultiVector, len(embeddings))
	cols := make([]types.MultiVector, len(embeddings))
	for i, e := range embeddings {
		patches := e.Embedding[e.ImagePatchStart : e.ImagePatchStart+e.ImagePatchLen]
		rows[i] = meanPoolRows(patches, grids[i].NPatchesX, grids[i].NPatchesY)
		cols[i] = meanPoolColumns(patches, grids[i].NPatchesX, grids[i].NPatchesY)
	}
	return rows, cols, nil
}

// meanPoolRows averages each row of the patch grid (nPatchesX consecutive
// tokens) into one vector per row, assuming row-major token order, via the
// shared vector-math package's MeanVector.
func meanPoolRows(patches [][]float32, nPatchesX, nPatchesY int) types.MultiVector {
	if nPatchesX <= 0 || nPatchesY <= 0 || len(patches) == 0 {
		return nil
	}
	dim := len(patches[0])
	out := make(types.MultiVector, 0, nPatchesY)
	for row := 0; row < nPatchesY; row++ {
		rowPatches := rowSlice(patches, row, nPatchesX)
		if len(rowPatches) == 0 {
			continue
		}
		mean := make([]float32, dim)
		vecmath.MeanVector(mean, rowPatches)
		out = append(out, mean)
	}
	return out
}

// meanPoolColumns averages each column of the patch grid into one vector
// per column.
func meanPoolColumns(patches [][]float32, nPatchesX, nPatchesY int) types.MultiVector {
	if nPatchesX <= 0 || nPatchesY <= 0 || len(patches) == 0 {
		return nil
	}
	dim := len(patches[0])
	out := make(types.MultiVector, 0, nPatchesX)
	for col := 0; col < nPatchesX; col++ {
		colPatches := columnSlice(patches, col, nPatchesX, nPatchesY)
		if len(colPatches) == 0 {
			continue
		}
		mean := make([]float32, dim)
		vecmath.MeanVector(mean, colPatches)
		out = append(out, mean)
	}
	return out
}

func rowSlice(patches [][]float32, row, nPatchesX int) [][]float32 {
	start := row * nPatchesX
	end := start + nPatchesX
	if start >= len(patches) {
		return nil
	}
	if end > len(patches) {
		end = len(patches)
	}
	return patches[start:end]
}

func columnSlice(patches [][]float32, col, nPatchesX, nPatchesY int) [][]float32 {
	out := make([][]float32, 0, nPatchesY)
	for row := 0; row < nPatchesY; row++ {
		idx := row*nPatchesX + col
		if idx >= len(patches) {
			break
		}
		out = append(out, patches[idx])
	}
	return out
}
