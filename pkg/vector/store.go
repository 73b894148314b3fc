// Package vector defines the contract over the embedded vector store
// and its chromem-go implementation.
package vector

import (
	"context"
	"errors"
	"fmt"
)

// Metadata keys used across the index.
const (
	MetaType         = "type" // "article" or "pdf"
	MetaArticleID    = "article_id"
	MetaAppName      = "app_name"
	MetaLanguage     = "language"
	MetaTitle        = "title"
	MetaSourcePath   = "source_path"
	MetaChunkOrdinal = "chunk_ordinal"
	MetaPageSpan     = "page_span"
)

// Record is one embedded document unit headed for the store.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Hit is a query result. Distance is engine-native (lower is better,
// never negative); normalized similarity is computed by the retriever.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// Store is the uniform contract over the embedding+ANN engine.
type Store interface {
	// Upsert writes records idempotently by ID, batching internally.
	Upsert(ctx context.Context, records []Record) error

	// Query returns up to k hits matching every filter predicate,
	// ordered by ascending distance.
	Query(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]Hit, error)

	// Count reports the number of records in the collection.
	Count(ctx context.Context) (int, error)

	// Reset destroys and recreates the collection.
	Reset(ctx context.Context) error

	Close() error
}

// StorageError wraps any failure of the underlying engine. Callers
// do not retry; retrieval-time callers degrade to the empty-context
// path instead.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
