// Package objectstore defines the object storage backend consumed by the
// storage stage. No repository in the retrieval pack wires a dedicated
// S3/MinIO SDK (the pack's only "minio" reference is the unrelated
// highwayhash hash-function library), so the store is modeled directly off
// its wire contract — PUT {bucket, object_key, bytes, content_type} → URL
// — over plain HTTP, the same way the embedding and OCR services are.
package objectstore

import (
	"context"
	"strconv"
)

// Store is the object-store contract consumed by the storage stage.
// Delete and List exist for completeness but are not on the pipeline's
// critical path.
type Store interface {
	// Put uploads bytes under objectKey within bucket and returns a URL
	// the upserted vector-store record can reference.
	Put(ctx context.Context, bucket, objectKey string, data []byte, contentType string) (url string, err error)

	// Delete removes an object. Not called by the ingestion pipeline.
	Delete(ctx context.Context, bucket, objectKey string) error

	// List enumerates objects under a prefix. Not called by the ingestion
	// pipeline.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Key builds the hierarchical object key scheme the storage stage uses:
// {document_id}/{page_number}/{role}.{ext}.
func Key(documentID string, pageNumber int, role, ext string) string {
	return documentID + "/" + strconv.Itoa(pageNumber) + "/" + role + "." + ext
}
