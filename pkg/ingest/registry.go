package ingest

import (
	"sync"

	"github.com/athrael-soju/Snappy-sub001/pkg/types"
)

// Registry is a mutex-guarded map from BatchKey to a page-ordered slice of
// T, used to hand a producer stage's per-page results to the upsert stage.
// Put is write-once per key; Get removes the entry atomically so a clean
// pipeline run leaves the registry empty.
type Registry[T any] struct {
	mu sync.Mutex
	m  map[types.BatchKey][]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{m: make(map[types.BatchKey][]T)}
}

// Put inserts values under key. Calling Put twice for the same key before
// an intervening Get is a caller bug (each batch is published exactly once
// per producer); it silently overwrites rather than panicking, since a
// stage that double-publishes has already violated the pipeline's
// single-producer-per-key contract and failing loudly here would only
// obscure where the real bug is.
func (r *Registry[T]) Put(key types.BatchKey, values []T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[key] = values
}

// Get returns the value for key and removes it. ok is false if the key is
// absent.
func (r *Registry[T]) Get(key types.BatchKey) (values []T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	values, ok = r.m[key]
	if ok {
		delete(r.m, key)
	}
	return values, ok
}

// Clear drops every pending entry. Used during pipeline teardown on
// cancellation or fatal error.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m = make(map[types.BatchKey][]T)
}

// Len reports the number of pending (unread) entries. Used by tests to
// assert registry cleanup.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
