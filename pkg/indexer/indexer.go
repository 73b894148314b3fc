// Package indexer ingests the knowledge base tree into the vector
// store: structured multilingual articles from JSON files and long
// documents from paginated PDFs.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rayied/cora/pkg/embedder"
	"github.com/rayied/cora/pkg/vector"
)

// Config controls one indexing run.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

// ItemError records one skipped source item. A malformed article
// never aborts the run.
type ItemError struct {
	Path string
	Item string
	Err  error
}

func (e ItemError) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s (%s): %v", e.Path, e.Item, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Result summarizes an indexing run.
type Result struct {
	Files           int
	ArticleVariants int
	Chunks          int
	Records         int
	Errors          []ItemError
}

// Indexer walks a source tree and upserts embedded records.
type Indexer struct {
	store vector.Store
	embed embedder.Embedder
	cfg   Config

	batch  []vector.Record
	result *Result
}

// New builds an Indexer.
func New(store vector.Store, embed embedder.Embedder, cfg Config) *Indexer {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 150
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 64
	}

	return &Indexer{store: store, embed: embed, cfg: cfg}
}

// RecordID derives the deterministic identity of one indexed record.
// Equal identity tuples and only equal identity tuples collide.
func RecordID(kind, sourceID, language string, ordinal int) string {
	sum := sha256.Sum256([]byte(kind + "|" + sourceID + "|" + language + "|" + strconv.Itoa(ordinal)))
	return hex.EncodeToString(sum[:16])
}

// Run indexes every .json and .pdf file under root. Files whose name
// contains "ignored" are skipped. Per-item failures are collected in
// the result; only store-level failures abort the run.
func (ix *Indexer) Run(ctx context.Context, root string) (*Result, error) {
	ix.batch = ix.batch[:0]
	ix.result = &Result{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := strings.ToLower(d.Name())
		if strings.Contains(name, "ignored") {
			slog.Info("Skipping ignored file", "path", path)
			return nil
		}

		switch filepath.Ext(name) {
		case ".json":
			ix.result.Files++
			return ix.indexJSONFile(ctx, path)
		case ".pdf":
			ix.result.Files++
			return ix.indexPDFFile(ctx, path)
		}
		return nil
	})
	if err != nil {
		return ix.result, err
	}

	if err := ix.flush(ctx); err != nil {
		return ix.result, err
	}

	slog.Info("Indexing complete",
		"files", ix.result.Files,
		"article_variants", ix.result.ArticleVariants,
		"chunks", ix.result.Chunks,
		"records", ix.result.Records,
		"errors", len(ix.result.Errors))

	return ix.result, nil
}

func (ix *Indexer) indexJSONFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		ix.result.Errors = append(ix.result.Errors, ItemError{Path: path, Err: err})
		return nil
	}

	articles, err := parseArticles(data)
	if err != nil {
		ix.result.Errors = append(ix.result.Errors, ItemError{Path: path, Err: err})
		return nil
	}

	slog.Debug("Processing article file", "path", path, "articles", len(articles))

	for _, article := range articles {
		variants := article.variants()
		if len(variants) == 0 {
			ix.result.Errors = append(ix.result.Errors, ItemError{
				Path: path,
				Item: fmt.Sprintf("article %s", article.ID),
				Err:  fmt.Errorf("no non-empty language variant"),
			})
			continue
		}

		for _, v := range variants {
			text := article.payload(v)

			emb, err := ix.embed.Embed(ctx, text)
			if err != nil {
				ix.result.Errors = append(ix.result.Errors, ItemError{
					Path: path,
					Item: fmt.Sprintf("article %s [%s]", article.ID, v.Language),
					Err:  err,
				})
				continue
			}

			rec := vector.Record{
				ID:        RecordID("article", string(article.ID), v.Language, 0),
				Text:      text,
				Embedding: emb,
				Metadata: map[string]string{
					vector.MetaType:      "article",
					vector.MetaArticleID: string(article.ID),
					vector.MetaAppName:   article.AppName,
					vector.MetaLanguage:  v.Language,
					vector.MetaTitle:     v.Title,
				},
			}

			ix.result.ArticleVariants++
			if err := ix.add(ctx, rec); err != nil {
				return err
			}
		}
	}

	return nil
}

func (ix *Indexer) indexPDFFile(ctx context.Context, path string) error {
	pages, err := extractPDFPages(path)
	if err != nil {
		ix.result.Errors = append(ix.result.Errors, ItemError{Path: path, Err: err})
		return nil
	}

	chunks := chunkPages(pages, chunkerConfig{Size: ix.cfg.ChunkSize, Overlap: ix.cfg.ChunkOverlap})
	slog.Debug("Processing PDF", "path", path, "pages", len(pages), "chunks", len(chunks))

	for _, chunk := range chunks {
		emb, err := ix.embed.Embed(ctx, chunk.Text)
		if err != nil {
			ix.result.Errors = append(ix.result.Errors, ItemError{
				Path: path,
				Item: fmt.Sprintf("chunk %d", chunk.Ordinal),
				Err:  err,
			})
			continue
		}

		rec := vector.Record{
			ID:        RecordID("pdf", path, detectChunkLanguage(chunk.Text), chunk.Ordinal),
			Text:      chunk.Text,
			Embedding: emb,
			Metadata: map[string]string{
				vector.MetaType:         "pdf",
				vector.MetaLanguage:     detectChunkLanguage(chunk.Text),
				vector.MetaSourcePath:   path,
				vector.MetaChunkOrdinal: strconv.Itoa(chunk.Ordinal),
				vector.MetaPageSpan:     fmt.Sprintf("%d-%d", chunk.FirstPage, chunk.LastPage),
			},
		}

		ix.result.Chunks++
		if err := ix.add(ctx, rec); err != nil {
			return err
		}
	}

	return nil
}

// add buffers a record and flushes when the batch is full.
func (ix *Indexer) add(ctx context.Context, rec vector.Record) error {
	ix.batch = append(ix.batch, rec)
	ix.result.Records++

	if len(ix.batch) >= ix.cfg.BatchSize {
		return ix.flush(ctx)
	}
	return nil
}

func (ix *Indexer) flush(ctx context.Context) error {
	if len(ix.batch) == 0 {
		return nil
	}

	if err := ix.store.Upsert(ctx, ix.batch); err != nil {
		return err
	}

	slog.Debug("Committed batch", "records", len(ix.batch))
	ix.batch = ix.batch[:0]
	return nil
}

// detectChunkLanguage takes a cheap script-based guess. Arabic-script
// text cannot be split between Arabic and the Kurdish variants without
// a real detector, so those map to "unknown" rather than a wrong code.
func detectChunkLanguage(text string) string {
	var latin, total int
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			latin++
			total++
		case r >= 0x0600 && r <= 0x06FF:
			total++
		}
	}

	if total > 0 && latin*2 > total {
		return "en"
	}
	return "unknown"
}
