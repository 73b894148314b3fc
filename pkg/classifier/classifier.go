// Package classifier maps free-form ticket text to a routing
// decision with recommended knowledge base articles.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/rayied/cora/pkg/config"
	"github.com/rayied/cora/pkg/llm"
	"github.com/rayied/cora/pkg/observability"
	"github.com/rayied/cora/pkg/prompt"
	"github.com/rayied/cora/pkg/retriever"
	"github.com/rayied/cora/pkg/vector"
)

// ValidationError means the model produced parseable JSON that does
// not satisfy the result schema.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("classification result invalid: %s", e.Reason)
}

// Result is the routing decision for one ticket. Enum-ish fields are
// passed through as the model produced them; routing policy lives
// with the caller.
type Result struct {
	DetectedLanguage      string            `json:"detected_language" validate:"required"`
	DetectedDialect       string            `json:"detected_dialect" validate:"required"`
	Category              string            `json:"category" validate:"required"`
	IssueType             string            `json:"issue_type" validate:"required"`
	RoutingDepartment     string            `json:"routing_department" validate:"required"`
	RecommendedArticleIDs []string          `json:"recommended_article_ids"`
	Sentiment             string            `json:"sentiment" validate:"required"`
	Summaries             map[string]string `json:"summaries" validate:"required"`
}

// Classifier runs retrieval-augmented ticket classification.
type Classifier struct {
	retriever *retriever.Retriever
	llm       llm.Client
	validate  *validator.Validate
	cfg       config.ClassifyConfig
	topK      int
	threshold float64
}

// New builds a Classifier.
func New(ret *retriever.Retriever, client llm.Client, cfg *config.Config) *Classifier {
	return &Classifier{
		retriever: ret,
		llm:       client,
		validate:  validator.New(),
		cfg:       cfg.Classify,
		topK:      cfg.Retrieval.TopK,
		threshold: cfg.Retrieval.Threshold,
	}
}

// Classify produces a validated Result for one ticket text.
func (c *Classifier) Classify(ctx context.Context, text string) (*Result, error) {
	tracer := observability.GetTracer("cora.classifier")
	ctx, span := tracer.Start(ctx, "classify")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	// Retrieval failures degrade to classification without context.
	contextBlock, hits, err := c.retriever.RetrieveAndFormat(ctx, text, c.topK, retriever.Filter{}, c.threshold)
	if err != nil {
		slog.Warn("Retrieval failed, classifying without context", "error", err)
		contextBlock, hits = "", nil
	}

	raw, err := c.llm.GenerateJSON(ctx, prompt.ClassifySystem(contextBlock), text, llm.Options{
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		Seed:        c.cfg.Seed,
		NumPredict:  c.cfg.NumPredict,
		JSONFormat:  true,
	})
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("failed to decode: %v", err)}
	}

	if err := c.validateResult(&result); err != nil {
		return nil, err
	}

	if result.RecommendedArticleIDs == nil {
		result.RecommendedArticleIDs = []string{}
	}

	// A model that recommends nothing still gets the ranked article
	// candidates from retrieval.
	if len(result.RecommendedArticleIDs) == 0 {
		if ids := articleIDs(hits); len(ids) > 0 {
			result.RecommendedArticleIDs = ids
		}
	}

	return &result, nil
}

// validateResult enforces the required keys plus the summary
// language set, which the struct tags cannot express.
func (c *Classifier) validateResult(r *Result) error {
	if err := c.validate.Struct(r); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	if len(r.Summaries) != len(config.SupportedLanguages) {
		return &ValidationError{
			Reason: fmt.Sprintf("summaries has %d languages, want %d", len(r.Summaries), len(config.SupportedLanguages)),
		}
	}
	for _, lang := range config.SupportedLanguages {
		if _, ok := r.Summaries[lang]; !ok {
			return &ValidationError{Reason: fmt.Sprintf("summaries missing language %q", lang)}
		}
	}

	return nil
}

// articleIDs projects article hits to unique ids in ranked order.
func articleIDs(hits []retriever.Hit) []string {
	seen := make(map[string]bool, len(hits))
	var ids []string
	for _, h := range hits {
		id := h.Metadata[vector.MetaArticleID]
		if h.Metadata[vector.MetaType] != "article" || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
