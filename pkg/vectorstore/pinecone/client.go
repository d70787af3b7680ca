// Package pinecone implements vectorstore.Store against Pinecone, adapted
// from the teacher's Pinecone client: same connect/retry/backoff shape. A
// point's late-interaction original multi-vector has no Pinecone
// equivalent — its gRPC API upserts one dense vector per ID — so this
// backend carries only the row-pooled mean vector, a documented capability
// limit rather than a restriction on the pipeline itself.
package pinecone

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/types"
	"github.com/athrael-soju/Snappy-sub001/pkg/vectorstore"
	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config holds Pinecone client configuration.
type Config struct {
	APIKey    string
	IndexName string
	Namespace string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Stats tracks client operation metrics.
type Stats struct {
	UpsertedVectors int64
	FailedVectors   int64
	RetryCount      int64
	BatchCount      int64
}

// Client wraps the Pinecone gRPC client for vector operations.
type Client struct {
	cfg     Config
	pc      *pinecone.Client
	idxConn *pinecone.IndexConnection
	stats   *Stats
}

// NewClient creates a new Pinecone vector-store client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	idx, err := pc.DescribeIndex(ctx, cfg.IndexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %q: %w", cfg.IndexName, err)
	}

	idxConn, err := pc.Index(pinecone.NewIndexConnParams{
		Host:      idx.Host,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index: %w", err)
	}

	return &Client{cfg: cfg, pc: pc, idxConn: idxConn, stats: &Stats{}}, nil
}

// Upsert writes points with exponential-backoff retry, same as the
// teacher's batch upsert loop.
func (c *Client) Upsert(ctx context.Context, points []types.VectorPoint) error {
	if len(points) == 0 {
		return vectorstore.ErrEmptyBatch
	}

	pcVectors := make([]*pinecone.Vector, len(points))
	for i, p := range points {
		values := meanVectorOrFallback(p)
		metadata, err := convertMetadata(vectorstore.Payload(p))
		if err != nil {
			return fmt.Errorf("build metadata for point %s: %w", p.ID, err)
		}
		pcVectors[i] = &pinecone.Vector{
			Id:       p.ID,
			Values:   &values,
			Metadata: metadata,
		}
	}

	var lastErr error
	backoff := c.cfg.InitialBackoff
	retries := 0

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			retries = attempt
			atomic.AddInt64(&c.stats.RetryCount, 1)
			time.Sleep(backoff)
			backoff = time.Duration(math.Min(float64(backoff*2), float64(c.cfg.MaxBackoff)))
		}

		_, err := c.idxConn.UpsertVectors(ctx, pcVectors)
		if err == nil {
			atomic.AddInt64(&c.stats.UpsertedVectors, int64(len(points)))
			atomic.AddInt64(&c.stats.BatchCount, 1)
			return nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	atomic.AddInt64(&c.stats.FailedVectors, int64(len(points)))
	return fmt.Errorf("upsert failed after %d retries: %w", retries, lastErr)
}

// GetStats returns current operation statistics.
func (c *Client) GetStats() Stats {
	return Stats{
		UpsertedVectors: atomic.LoadInt64(&c.stats.UpsertedVectors),
		FailedVectors:   atomic.LoadInt64(&c.stats.FailedVectors),
		RetryCount:      atomic.LoadInt64(&c.stats.RetryCount),
		BatchCount:      atomic.LoadInt64(&c.stats.BatchCount),
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.idxConn != nil {
		return c.idxConn.Close()
	}
	return nil
}

// meanVectorOrFallback picks the row-pooled vector, falling back to the
// column-pooled one if rows were never computed.
func meanVectorOrFallback(p types.VectorPoint) []float32 {
	if len(p.PooledRows) > 0 {
		return p.PooledRows[0]
	}
	if len(p.PooledCols) > 0 {
		return p.PooledCols[0]
	}
	return nil
}

func convertMetadata(m map[string]interface{}) (*structpb.Struct, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return structpb.NewStruct(m)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "unavailable") ||
		strings.Contains(errStr, "temporarily")
}
