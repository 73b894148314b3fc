package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayied/cora/pkg/config"
	"github.com/rayied/cora/pkg/llm"
	"github.com/rayied/cora/pkg/retriever"
	"github.com/rayied/cora/pkg/vector"
)

type fakeStore struct {
	hits []vector.Hit
}

func (f *fakeStore) Upsert(ctx context.Context, recs []vector.Record) error { return nil }

func (f *fakeStore) Query(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]vector.Hit, error) {
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) { return len(f.hits), nil }
func (f *fakeStore) Reset(ctx context.Context) error        { return nil }
func (f *fakeStore) Close() error                           { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) Dimension() int    { return 3 }
func (fakeEmbedder) ModelName() string { return "fake" }

type fakeLLM struct {
	raw  string
	err  error
	opts llm.Options
}

func (f *fakeLLM) Generate(ctx context.Context, system, prompt string, opts llm.Options) (string, error) {
	return "", fmt.Errorf("not used")
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, system, prompt string, opts llm.Options) (json.RawMessage, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.raw), nil
}

func (f *fakeLLM) Stream(ctx context.Context, system, prompt string, opts llm.Options) (<-chan llm.StreamChunk, error) {
	return nil, fmt.Errorf("not used")
}

const validResult = `{
	"detected_language": "en",
	"detected_dialect": "standard",
	"category": "network",
	"issue_type": "no_signal",
	"routing_department": "technical_support",
	"recommended_article_ids": ["7"],
	"sentiment": "negative",
	"summaries": {
		"en": "Customer has no signal.",
		"ar": "العميل بدون إشارة.",
		"ckb": "کڕیار هیچ سیگنالێکی نییە.",
		"kmr": "Xerîdar sînyal nîne."
	}
}`

func newTestClassifier(store *fakeStore, client llm.Client) *Classifier {
	cfg := &config.Config{}
	cfg.SetDefaults()

	ret := retriever.New(store, fakeEmbedder{})
	return New(ret, client, cfg)
}

func TestClassify(t *testing.T) {
	client := &fakeLLM{raw: validResult}
	c := newTestClassifier(&fakeStore{}, client)

	result, err := c.Classify(context.Background(), "my phone has no signal for three days")
	require.NoError(t, err)

	assert.Equal(t, "network", result.Category)
	assert.Equal(t, "technical_support", result.RoutingDepartment)
	assert.Equal(t, "negative", result.Sentiment)
	assert.Equal(t, []string{"7"}, result.RecommendedArticleIDs)
	assert.Len(t, result.Summaries, 4)

	// Deterministic decoding options.
	assert.Equal(t, 0.4, client.opts.Temperature)
	assert.Equal(t, 0.15, client.opts.TopP)
	assert.Equal(t, 42, client.opts.Seed)
	assert.True(t, client.opts.JSONFormat)
}

func TestClassifyMissingRequiredKey(t *testing.T) {
	raw := `{
		"detected_language": "en",
		"detected_dialect": "standard",
		"category": "network",
		"issue_type": "no_signal",
		"routing_department": "technical_support",
		"recommended_article_ids": [],
		"summaries": {"en": "x", "ar": "x", "ckb": "x", "kmr": "x"}
	}`
	c := newTestClassifier(&fakeStore{}, &fakeLLM{raw: raw})

	_, err := c.Classify(context.Background(), "ticket")
	require.Error(t, err)

	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestClassifyIncompleteSummaries(t *testing.T) {
	raw := `{
		"detected_language": "en",
		"detected_dialect": "standard",
		"category": "network",
		"issue_type": "no_signal",
		"routing_department": "technical_support",
		"recommended_article_ids": [],
		"sentiment": "neutral",
		"summaries": {"en": "x", "ar": "x"}
	}`
	c := newTestClassifier(&fakeStore{}, &fakeLLM{raw: raw})

	_, err := c.Classify(context.Background(), "ticket")
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "summaries")
}

func TestClassifyUnknownEnumValuesPassThrough(t *testing.T) {
	raw := `{
		"detected_language": "en",
		"detected_dialect": "standard",
		"category": "quantum_billing",
		"issue_type": "flux_capacitor",
		"routing_department": "time_travel_desk",
		"recommended_article_ids": [],
		"sentiment": "confused",
		"summaries": {"en": "x", "ar": "x", "ckb": "x", "kmr": "x"}
	}`
	c := newTestClassifier(&fakeStore{}, &fakeLLM{raw: raw})

	result, err := c.Classify(context.Background(), "ticket")
	require.NoError(t, err)
	assert.Equal(t, "quantum_billing", result.Category)
	assert.Equal(t, "time_travel_desk", result.RoutingDepartment)
}

func TestClassifyFallbackArticleRecommendations(t *testing.T) {
	raw := `{
		"detected_language": "en",
		"detected_dialect": "standard",
		"category": "network",
		"issue_type": "no_signal",
		"routing_department": "technical_support",
		"recommended_article_ids": [],
		"sentiment": "neutral",
		"summaries": {"en": "x", "ar": "x", "ckb": "x", "kmr": "x"}
	}`

	store := &fakeStore{hits: []vector.Hit{
		{ID: "1", Distance: 0.1, Metadata: map[string]string{vector.MetaType: "article", vector.MetaArticleID: "7"}},
		{ID: "2", Distance: 0.2, Metadata: map[string]string{vector.MetaType: "article", vector.MetaArticleID: "9"}},
	}}
	c := newTestClassifier(store, &fakeLLM{raw: raw})

	result, err := c.Classify(context.Background(), "ticket")
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "9"}, result.RecommendedArticleIDs)
}

func TestClassifyNilRecommendationsNormalized(t *testing.T) {
	raw := `{
		"detected_language": "en",
		"detected_dialect": "standard",
		"category": "general_inquiry",
		"issue_type": "small_talk",
		"routing_department": "general_support",
		"sentiment": "positive",
		"summaries": {"en": "x", "ar": "x", "ckb": "x", "kmr": "x"}
	}`
	c := newTestClassifier(&fakeStore{}, &fakeLLM{raw: raw})

	result, err := c.Classify(context.Background(), "hello there")
	require.NoError(t, err)
	assert.NotNil(t, result.RecommendedArticleIDs)
	assert.Empty(t, result.RecommendedArticleIDs)
}

func TestClassifyLLMFailurePropagates(t *testing.T) {
	c := newTestClassifier(&fakeStore{}, &fakeLLM{err: &llm.Error{Model: "m", Op: "generate_json", Err: fmt.Errorf("down")}})

	_, err := c.Classify(context.Background(), "ticket")
	require.Error(t, err)
	assert.True(t, llm.IsLLMError(err))
}
