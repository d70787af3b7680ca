// Package embedding defines the multi-vector image embedding service
// consumed by the embedding stage. The backend itself is an opaque
// request/response collaborator; this package only describes the contract
// and a thin HTTP client for it.
package embedding

import (
	"context"
	"errors"
	"image"
)

// Common errors returned by embedding providers.
var (
	ErrEmptyInput     = errors.New("empty image batch")
	ErrRateLimited    = errors.New("rate limited by embedding service")
	ErrInvalidAPIKey  = errors.New("invalid API key")
	ErrModelNotFound  = errors.New("embedding model not found")
	ErrContextTooLong = errors.New("image batch exceeds model token budget")
)

// PatchEmbedding is one page's embedding result: a multi-vector plus the
// contiguous token range that corresponds to visual patches (as opposed to
// any leading text-prompt tokens the model prepends).
type PatchEmbedding struct {
	Embedding       [][]float32 // [tokens, dim]
	ImagePatchStart int
	ImagePatchLen   int
}

// PatchGrid describes how many patch columns/rows an image of given
// dimensions decomposes into; required to mean-pool by row or by column.
type PatchGrid struct {
	NPatchesX int
	NPatchesY int
}

// ModelInfo is returned by Info, probed at startup to confirm the
// vector-store's configured dimension matches the model actually serving
// embeddings.
type ModelInfo struct {
	Dim       int
	ModelName string
}

// Provider is the embedding service contract consumed by the embedding
// stage.
type Provider interface {
	// EmbedImages submits a full page-image batch as one request and
	// returns one PatchEmbedding per input image, aligned 1-to-1.
	EmbedImages(ctx context.Context, images []image.Image) ([]PatchEmbedding, error)

	// GetPatches is a pure function of image dimensions; required only
	// when pooled prefetch vectors are computed.
	GetPatches(ctx context.Context, widths, heights []int) ([]PatchGrid, error)

	// Info reports the model's embedding dimension and name.
	Info(ctx context.Context) (ModelInfo, error)
}
