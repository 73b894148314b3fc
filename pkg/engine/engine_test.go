package engine

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
	"github.com/rayied/cora/pkg/session"
	"github.com/rayied/cora/pkg/vector"
)

type fakeStore struct {
	hits []vector.Hit
	err  error
}

func (f *fakeStore) Upsert(ctx context.Context, recs []vector.Record) error { return nil }

func (f *fakeStore) Query(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]vector.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
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

// fakeTranslator prefixes translations so tests can observe them.
type fakeTranslator struct {
	detected string
	down     bool
}

func (f *fakeTranslator) Detect(ctx context.Context, text string) string {
	if f.detected == "" {
		return "en"
	}
	return f.detected
}

func (f *fakeTranslator) Translate(ctx context.Context, text, src, dst string) (string, bool) {
	if f.down || src == dst {
		return text, false
	}
	return fmt.Sprintf("[%s->%s] %s", src, dst, text), true
}

type fakeLLM struct {
	response string
	chunks   []string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, system, prompt string, opts llm.Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, system, prompt string, opts llm.Options) (json.RawMessage, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeLLM) Stream(ctx context.Context, system, prompt string, opts llm.Options) (<-chan llm.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for _, c := range f.chunks {
			out <- llm.StreamChunk{Text: c}
		}
	}()
	return out, nil
}

func articleHit(id, articleID string, distance float64) vector.Hit {
	return vector.Hit{
		ID:       id,
		Text:     "text " + id,
		Distance: distance,
		Metadata: map[string]string{
			vector.MetaType:      "article",
			vector.MetaArticleID: articleID,
			vector.MetaTitle:     "title " + articleID,
			vector.MetaAppName:   "MyRayied",
		},
	}
}

func newTestEngine(store *fakeStore, trans *fakeTranslator, client llm.Client) (*Engine, *session.Manager) {
	cfg := &config.Config{}
	cfg.SetDefaults()

	sessions := session.NewManager(cfg.Session.TTL)
	ret := retriever.New(store, fakeEmbedder{})
	return New(ret, trans, sessions, client, cfg), sessions
}

func TestAskHighConfidence(t *testing.T) {
	// distance 0.1 -> similarity 0.909.
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	eng, _ := newTestEngine(store, &fakeTranslator{}, &fakeLLM{response: "Yep, we support eSIM!"})

	result, err := eng.Ask(context.Background(), Request{Question: "Does Rayied support eSIM?"})
	require.NoError(t, err)

	assert.Equal(t, "Yep, we support eSIM!", result.Answer)
	assert.Equal(t, ConfidenceHigh, result.Confidence)
	assert.Equal(t, 1, result.RetrievedDocs)
	assert.Equal(t, "en", result.Language)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "7", result.Sources[0].ArticleID)
	assert.NotEmpty(t, result.SessionID)
}

func TestAskConfidenceTiers(t *testing.T) {
	cases := []struct {
		distance float64
		want     string
	}{
		{0.1, ConfidenceHigh},    // sim 0.909
		{0.5, ConfidenceMedium},  // sim 0.667
		{1.5, ConfidenceLow},     // sim 0.4
	}

	for _, tc := range cases {
		store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", tc.distance)}}
		eng, _ := newTestEngine(store, &fakeTranslator{}, &fakeLLM{response: "answer"})

		result, err := eng.Ask(context.Background(), Request{Question: "q"})
		require.NoError(t, err)
		assert.Equal(t, tc.want, result.Confidence, "distance %v", tc.distance)
	}
}

func TestAskNoHitsShortCircuits(t *testing.T) {
	eng, _ := newTestEngine(&fakeStore{}, &fakeTranslator{}, &fakeLLM{response: "should not be called"})

	result, err := eng.Ask(context.Background(), Request{Question: "something obscure"})
	require.NoError(t, err)

	assert.Contains(t, result.Answer, "don't have enough information")
	assert.Equal(t, ConfidenceLow, result.Confidence)
	assert.Empty(t, result.Sources)
	assert.Equal(t, 0, result.RetrievedDocs)
}

func TestAskRetrievalFailureDegrades(t *testing.T) {
	store := &fakeStore{err: &vector.StorageError{Op: "query", Err: fmt.Errorf("db gone")}}
	eng, _ := newTestEngine(store, &fakeTranslator{}, &fakeLLM{})

	result, err := eng.Ask(context.Background(), Request{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceLow, result.Confidence)
	assert.Empty(t, result.Sources)
}

func TestAskLLMFailure(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	eng, _ := newTestEngine(store, &fakeTranslator{}, &fakeLLM{err: fmt.Errorf("backend down")})

	_, err := eng.Ask(context.Background(), Request{Question: "q"})
	require.Error(t, err)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.NotEmpty(t, ee.Answer)
}

func TestAskDeadlineBreachDegradesToFallback(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	client := &fakeLLM{err: &llm.Error{Model: "m", Op: "generate", Err: context.DeadlineExceeded}}
	eng, sessions := newTestEngine(store, &fakeTranslator{}, client)

	result, err := eng.Ask(context.Background(), Request{Question: "q"})
	require.NoError(t, err)

	assert.Equal(t, ConfidenceLow, result.Confidence)
	assert.Contains(t, result.Answer, "try again")
	assert.NotEmpty(t, result.SessionID)
	assert.Empty(t, result.Sources)

	// The failed exchange must not pollute the session.
	assert.Equal(t, 0, sessions.Len(result.SessionID))
}

func TestAskTranslatesAnswerBack(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	trans := &fakeTranslator{detected: "ar"}
	eng, _ := newTestEngine(store, trans, &fakeLLM{response: "english answer"})

	result, err := eng.Ask(context.Background(), Request{Question: "سؤال"})
	require.NoError(t, err)

	assert.Equal(t, "ar", result.Language)
	assert.Equal(t, "[en->ar] english answer", result.Answer)
}

func TestAskTranslatorDownStaysEnglish(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	trans := &fakeTranslator{detected: "ar", down: true}
	eng, _ := newTestEngine(store, trans, &fakeLLM{response: "english answer"})

	result, err := eng.Ask(context.Background(), Request{Question: "سؤال"})
	require.NoError(t, err)
	assert.Equal(t, "english answer", result.Answer)
}

func TestAskCommitsSessionExchange(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	eng, sessions := newTestEngine(store, &fakeTranslator{}, &fakeLLM{response: "answer"})

	result, err := eng.Ask(context.Background(), Request{Question: "first question"})
	require.NoError(t, err)
	assert.Equal(t, 2, sessions.Len(result.SessionID))

	_, err = eng.Ask(context.Background(), Request{Question: "second question", SessionID: result.SessionID})
	require.NoError(t, err)
	assert.Equal(t, 4, sessions.Len(result.SessionID))
}

func TestAskFailureLeavesNoPartialTurn(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	eng, sessions := newTestEngine(store, &fakeTranslator{}, &fakeLLM{err: fmt.Errorf("down")})

	_, err := eng.Ask(context.Background(), Request{Question: "q", SessionID: "s"})
	require.Error(t, err)

	// The replacement session exists but holds no turns.
	assert.Equal(t, 1, sessions.Count())
}

func TestProjectSourcesDeduplicatesArticles(t *testing.T) {
	hits := []retriever.Hit{
		{ID: "1", Similarity: 0.9, Metadata: map[string]string{vector.MetaType: "article", vector.MetaArticleID: "7"}},
		{ID: "2", Similarity: 0.8, Metadata: map[string]string{vector.MetaType: "article", vector.MetaArticleID: "7"}},
		{ID: "3", Similarity: 0.7, Metadata: map[string]string{vector.MetaType: "pdf", vector.MetaSourcePath: "m.pdf"}},
	}

	sources := projectSources(hits)
	require.Len(t, sources, 2)
	assert.Equal(t, "7", sources[0].ArticleID)
	assert.Equal(t, 0.9, sources[0].Similarity)
	assert.Equal(t, "pdf", sources[1].Type)
	assert.Equal(t, "m.pdf", sources[1].File)
}

func TestAskStreamEnglish(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	eng, sessions := newTestEngine(store, &fakeTranslator{},
		&fakeLLM{chunks: []string{"Signal ", "issues ", "are the worst."}})

	sessionID, events, err := eng.AskStream(context.Background(), Request{Question: "no signal"})
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	var chunks []string
	var final *AnswerResult
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Final != nil {
			final = ev.Final
			continue
		}
		chunks = append(chunks, ev.Chunk)
	}

	assert.Equal(t, []string{"Signal ", "issues ", "are the worst."}, chunks)
	require.NotNil(t, final)
	assert.Equal(t, "Signal issues are the worst.", final.Answer)
	assert.Equal(t, sessionID, final.SessionID)
	assert.Equal(t, 2, sessions.Len(sessionID))
}

func TestAskStreamNonEnglishSingleChunk(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	trans := &fakeTranslator{detected: "ckb"}
	eng, _ := newTestEngine(store, trans, &fakeLLM{response: "english answer"})

	_, events, err := eng.AskStream(context.Background(), Request{Question: "پرسیار"})
	require.NoError(t, err)

	var chunks []string
	var final *AnswerResult
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Final != nil {
			final = ev.Final
			continue
		}
		chunks = append(chunks, ev.Chunk)
	}

	require.Len(t, chunks, 1)
	assert.Equal(t, "[en->ckb] english answer", chunks[0])
	require.NotNil(t, final)
	assert.Equal(t, "ckb", final.Language)
}

func TestAskStreamNoHits(t *testing.T) {
	eng, _ := newTestEngine(&fakeStore{}, &fakeTranslator{}, &fakeLLM{})

	_, events, err := eng.AskStream(context.Background(), Request{Question: "obscure"})
	require.NoError(t, err)

	var final *AnswerResult
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Final != nil {
			final = ev.Final
		}
	}

	require.NotNil(t, final)
	assert.Equal(t, ConfidenceLow, final.Confidence)
	assert.Contains(t, final.Answer, "don't have enough information")
}

func TestAskStreamErrorEvent(t *testing.T) {
	store := &fakeStore{hits: []vector.Hit{articleHit("a", "7", 0.1)}}
	eng, sessions := newTestEngine(store, &fakeTranslator{}, &fakeLLM{err: fmt.Errorf("down")})

	sessionID, events, err := eng.AskStream(context.Background(), Request{Question: "q"})
	require.NoError(t, err)

	var sawErr bool
	for ev := range events {
		if ev.Err != nil {
			sawErr = true
		}
	}
	assert.True(t, sawErr)
	assert.Equal(t, 0, sessions.Len(sessionID))
}
