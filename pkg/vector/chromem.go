package vector

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// upsertBatchSize bounds one engine submission.
const upsertBatchSize = 64

// ChromemStore implements Store on chromem-go, an embedded pure-Go
// vector database with file persistence. Vectors are pre-computed by
// the embedder; the collection's embedding function is never invoked.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	path       string
	mu         sync.RWMutex
}

// ChromemConfig configures the store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only
	// (used by tests).
	Path string

	// Compress enables gzip compression for persisted records.
	Compress bool

	// Collection is the collection name.
	Collection string
}

// identityEmbed guards against accidental text-side embedding.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
}

// NewChromemStore opens or creates the persisted collection.
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	var db *chromem.DB
	var err error

	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, &StorageError{Op: "open", Err: err}
		}
		slog.Info("Opened vector database", "path", cfg.Path)
	} else {
		db = chromem.NewDB()
		slog.Info("Created in-memory vector database (no persistence)")
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, identityEmbed)
	if err != nil {
		return nil, &StorageError{Op: "open collection", Err: err}
	}

	return &ChromemStore{
		db:         db,
		collection: col,
		name:       cfg.Collection,
		path:       cfg.Path,
	}, nil
}

// Upsert writes records in batches of upsertBatchSize. Re-adding an
// existing ID replaces the stored document, so re-indexing unchanged
// source is a no-op observable only through an unchanged Count.
func (s *ChromemStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.RLock()
	col := s.collection
	s.mu.RUnlock()

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}

		docs := make([]chromem.Document, 0, end-start)
		for _, rec := range records[start:end] {
			meta := make(map[string]string, len(rec.Metadata))
			for k, v := range rec.Metadata {
				meta[k] = v
			}
			docs = append(docs, chromem.Document{
				ID:        rec.ID,
				Content:   rec.Text,
				Metadata:  meta,
				Embedding: rec.Embedding,
			})
		}

		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return &StorageError{Op: "upsert", Err: err}
		}
	}

	return nil
}

// Query runs a cosine similarity search. chromem reports similarity
// s in [-1, 1]; the engine-native distance exposed here is 1-s,
// bounded by [0, 2].
func (s *ChromemStore) Query(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]Hit, error) {
	s.mu.RLock()
	col := s.collection
	s.mu.RUnlock()

	// chromem rejects k greater than the number of stored documents.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for key, val := range filter {
			where[key] = val
		}
	}

	results, err := col.QueryEmbedding(ctx, embedding, k, where, nil)
	if err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		meta := make(map[string]string, len(r.Metadata))
		for key, val := range r.Metadata {
			meta[key] = val
		}
		hits = append(hits, Hit{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: meta,
			Distance: 1 - float64(r.Similarity),
		})
	}

	return hits, nil
}

// Count reports the number of stored records.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collection.Count(), nil
}

// Reset destroys the collection and recreates it empty.
func (s *ChromemStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return &StorageError{Op: "reset", Err: err}
	}

	col, err := s.db.GetOrCreateCollection(s.name, nil, identityEmbed)
	if err != nil {
		return &StorageError{Op: "reset", Err: err}
	}
	s.collection = col

	slog.Info("Reset vector collection", "collection", s.name)
	return nil
}

// Path returns the persistence directory ("" for in-memory).
func (s *ChromemStore) Path() string { return s.path }

// Close is a no-op for chromem; persistence happens per write.
func (s *ChromemStore) Close() error { return nil }

var _ Store = (*ChromemStore)(nil)
