// Package retriever turns a natural-language query into ranked,
// filtered, score-normalized hits from the vector store.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rayied/cora/pkg/embedder"
	"github.com/rayied/cora/pkg/observability"
	"github.com/rayied/cora/pkg/vector"
)

// Defaults for the retrieval knobs. The threshold is calibrated to the
// 1/(1+distance) normalization: barely relevant material lands around
// 0.25 and strong matches around 0.5.
const (
	DefaultTopK      = 3
	DefaultThreshold = 0.3

	// minRawHits is the floor on hits requested from the store before
	// threshold filtering.
	minRawHits = 3
)

// Hit is a store hit with its normalized similarity in (0, 1].
type Hit struct {
	ID         string
	Text       string
	Metadata   map[string]string
	Distance   float64
	Similarity float64
}

// Filter restricts retrieval by metadata equality. Zero values mean
// no restriction on that dimension.
type Filter struct {
	Language string
	AppName  string
	Type     string
}

func (f Filter) toMap() map[string]string {
	m := make(map[string]string, 3)
	if f.Language != "" {
		m[vector.MetaLanguage] = f.Language
	}
	if f.AppName != "" {
		m[vector.MetaAppName] = f.AppName
	}
	if f.Type != "" {
		m[vector.MetaType] = f.Type
	}
	return m
}

// Retriever performs semantic search over the knowledge base.
type Retriever struct {
	store vector.Store
	embed embedder.Embedder
}

// New builds a Retriever.
func New(store vector.Store, embed embedder.Embedder) *Retriever {
	return &Retriever{store: store, embed: embed}
}

// Similarity normalizes an engine distance into (0, 1].
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

// Retrieve returns up to k hits above threshold, ordered by descending
// similarity with ties broken by ascending record id.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filter Filter, threshold float64) ([]Hit, error) {
	tracer := observability.GetTracer("cora.retriever")
	ctx, span := tracer.Start(ctx, "retrieve")
	defer span.End()

	if k <= 0 {
		k = DefaultTopK
	}

	emb, err := r.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	kRaw := k
	if kRaw < minRawHits {
		kRaw = minRawHits
	}

	raw, err := r.store.Query(ctx, emb, kRaw, filter.toMap())
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(raw))
	for _, h := range raw {
		sim := Similarity(h.Distance)
		if sim < threshold {
			continue
		}
		hits = append(hits, Hit{
			ID:         h.ID,
			Text:       h.Text,
			Metadata:   h.Metadata,
			Distance:   h.Distance,
			Similarity: sim,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	observability.RetrievalHits.Observe(float64(len(hits)))
	return hits, nil
}

// RetrieveAndFormat retrieves and renders the context block consumed
// by the prompt assembler.
func (r *Retriever) RetrieveAndFormat(ctx context.Context, query string, k int, filter Filter, threshold float64) (string, []Hit, error) {
	hits, err := r.Retrieve(ctx, query, k, filter, threshold)
	if err != nil {
		return "", nil, err
	}
	return FormatContext(hits), hits, nil
}

// FormatContext renders hits as a retrieval context block.
func FormatContext(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}

	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}

		fmt.Fprintf(&b, "[Source %d] [type=%s]", i+1, h.Metadata[vector.MetaType])
		if id := h.Metadata[vector.MetaArticleID]; id != "" {
			fmt.Fprintf(&b, " [article_id=%s]", id)
		}
		if app := h.Metadata[vector.MetaAppName]; app != "" {
			fmt.Fprintf(&b, " [app=%s]", app)
		}
		if path := h.Metadata[vector.MetaSourcePath]; path != "" {
			fmt.Fprintf(&b, " [source=%s]", path)
		}
		fmt.Fprintf(&b, " [similarity=%.2f]\n%s", h.Similarity, h.Text)
	}

	return b.String()
}

// ArticleRecommendations runs the retrieval pipeline restricted to
// articles and projects the hits to unique article ids in ranked order.
func (r *Retriever) ArticleRecommendations(ctx context.Context, query string, k int, filter Filter) ([]string, error) {
	filter.Type = "article"

	hits, err := r.Retrieve(ctx, query, k, filter, DefaultThreshold)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		id := h.Metadata[vector.MetaArticleID]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	return ids, nil
}
