// Package embedder produces dense vectors via an Ollama backend.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rayied/cora/pkg/httpclient"
)

// Error wraps an embedding model failure.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("embedding failed: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// IsEmbeddingError reports whether err is (or wraps) an embedder Error.
func IsEmbeddingError(err error) bool {
	var ee *Error
	return errors.As(err, &ee)
}

// Embedder is the embedding capability consumed by the indexer and
// retriever.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// Ollama's llama runner crashes when it receives concurrent embedding
// requests, so all requests are serialized process-wide.
var ollamaEmbedMu sync.Mutex

// Config for the Ollama embedder.
type Config struct {
	Host       string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
}

// Ollama implements Embedder against POST /api/embeddings.
type Ollama struct {
	cfg    Config
	client *httpclient.Client
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllama builds an embedder from config.
func NewOllama(cfg Config) *Ollama {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")

	return &Ollama{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}
}

// Embed returns the embedding vector for text.
func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	slog.Debug("Ollama embedding request", "model", e.cfg.Model, "text_length", len(text))

	payload, err := json.Marshal(embedRequest{Model: e.cfg.Model, Prompt: text})
	if err != nil {
		return nil, &Error{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.Host+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("request to Ollama failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &Error{Err: fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))}
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if len(out.Embedding) == 0 {
		return nil, &Error{Err: fmt.Errorf("received empty embedding")}
	}

	return out.Embedding, nil
}

// Dimension returns the configured vector dimension.
func (e *Ollama) Dimension() int { return e.cfg.Dimension }

// ModelName returns the embedding model identifier.
func (e *Ollama) ModelName() string { return e.cfg.Model }

var _ Embedder = (*Ollama)(nil)
