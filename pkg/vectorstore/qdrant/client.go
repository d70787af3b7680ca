// Package qdrant implements vectorstore.Store against Qdrant over gRPC,
// adapted from the teacher's retriever client: same dial/TLS setup, now
// pointed at Upsert instead of Search/Get, and carrying three named vectors
// per point so the late-interaction original embedding and both pooled
// prefetch vectors live in one collection.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/athrael-soju/Snappy-sub001/pkg/types"
	"github.com/athrael-soju/Snappy-sub001/pkg/vectorstore"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	vectorNameOriginal = "original"
	vectorNameRows     = "mean_pooling_rows"
	vectorNameColumns  = "mean_pooling_columns"
)

// Config holds Qdrant-specific configuration.
type Config struct {
	Host           string
	APIKey         string
	Collection     string
	UseTLS         bool
	GRPCPort       int
	TimeoutSeconds int
}

// Client implements vectorstore.Store for Qdrant.
type Client struct {
	cfg        Config
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
}

// NewClient creates a new Qdrant vector-store client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if cfg.GRPCPort <= 0 {
		cfg.GRPCPort = 6334
	}

	var opts []grpc.DialOption
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.GRPCPort)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", addr, err)
	}

	return &Client{
		cfg:        cfg,
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: cfg.Collection,
	}, nil
}

// Upsert writes points with three named vectors each (the original
// late-interaction multi-vector, flattened with a row count, plus the two
// mean-pooled prefetch vectors) and a JSON-ish payload.
func (c *Client) Upsert(ctx context.Context, points []types.VectorPoint) error {
	if len(points) == 0 {
		return vectorstore.ErrEmptyBatch
	}

	if c.cfg.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", c.cfg.APIKey)
	}

	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		named := &pb.NamedVectors{Vectors: map[string]*pb.Vector{}}

		if flat, rows := flattenMultiVector(p.Original); rows > 0 {
			count := uint32(rows)
			named.Vectors[vectorNameOriginal] = &pb.Vector{Data: flat, VectorsCount: &count}
		}
		if flat, rows := flattenMultiVector(p.PooledRows); rows > 0 {
			named.Vectors[vectorNameRows] = &pb.Vector{Data: flat}
		}
		if flat, rows := flattenMultiVector(p.PooledCols); rows > 0 {
			named.Vectors[vectorNameColumns] = &pb.Vector{Data: flat}
		}

		payload, err := structToPayload(vectorstore.Payload(p))
		if err != nil {
			return fmt.Errorf("build payload for point %s: %w", p.ID, err)
		}

		pbPoints[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vectors{Vectors: named}},
			Payload: payload,
		}
	}

	wait := true
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.collection,
		Points:         pbPoints,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// flattenMultiVector concatenates a [tokens, dim] matrix into one row-major
// slice, matching Qdrant's multivector wire representation (Data holds
// rows*dim values, VectorsCount reports rows).
func flattenMultiVector(mv types.MultiVector) ([]float32, int) {
	if len(mv) == 0 {
		return nil, 0
	}
	dim := mv.Dim()
	flat := make([]float32, 0, len(mv)*dim)
	for _, row := range mv {
		flat = append(flat, row...)
	}
	return flat, len(mv)
}

func structToPayload(m map[string]interface{}) (map[string]*pb.Value, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*pb.Value, len(s.Fields))
	for k, v := range s.Fields {
		out[k] = convertStructValue(v)
	}
	return out, nil
}

func convertStructValue(v *structpb.Value) *pb.Value {
	switch k := v.Kind.(type) {
	case *structpb.Value_NullValue:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case *structpb.Value_NumberValue:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: k.NumberValue}}
	case *structpb.Value_StringValue:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: k.StringValue}}
	case *structpb.Value_BoolValue:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: k.BoolValue}}
	default:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	}
}
