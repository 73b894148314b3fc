// Package engine runs the question answering pipeline: session
// resolution, language detection, retrieval, prompt assembly,
// generation, translation back, and session commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rayied/cora/pkg/config"
	"github.com/rayied/cora/pkg/llm"
	"github.com/rayied/cora/pkg/observability"
	"github.com/rayied/cora/pkg/prompt"
	"github.com/rayied/cora/pkg/retriever"
	"github.com/rayied/cora/pkg/session"
	"github.com/rayied/cora/pkg/translator"
	"github.com/rayied/cora/pkg/vector"
)

// Confidence tiers attached to every answer.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// noInfoAnswer is returned when retrieval finds nothing relevant.
const noInfoAnswer = "I don't have enough information to answer that question. Please contact our support team for assistance."

// fallbackAnswer is returned when generation itself fails.
const fallbackAnswer = "I encountered an error while processing your question. Please try again."

// EngineError wraps a pipeline failure. The user-safe Answer field is
// always populated.
type EngineError struct {
	Answer string
	Err    error
}

func (e *EngineError) Error() string { return fmt.Sprintf("engine: %v", e.Err) }

func (e *EngineError) Unwrap() error { return e.Err }

// Source is one projected knowledge base hit.
type Source struct {
	Type       string  `json:"type"`
	ArticleID  string  `json:"article_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	App        string  `json:"app,omitempty"`
	File       string  `json:"file,omitempty"`
	Similarity float64 `json:"similarity"`
}

// AnswerResult is the terminal payload of both ask variants.
type AnswerResult struct {
	Answer        string   `json:"answer"`
	Sources       []Source `json:"sources"`
	Confidence    string   `json:"confidence"`
	RetrievedDocs int      `json:"retrieved_docs"`
	SessionID     string   `json:"session_id"`
	Language      string   `json:"language"`
}

// Ask parameters. Language and AppName are optional filters.
type Request struct {
	Question  string
	Language  string
	AppName   string
	SessionID string
}

// Engine wires the pipeline stages together.
type Engine struct {
	retriever *retriever.Retriever
	translate translator.Translator
	sessions  *session.Manager
	llm       llm.Client
	tokens    *prompt.TokenCounter
	qaCfg     config.QAConfig
	retCfg    config.RetrievalConfig
	transCfg  config.TranslatorConfig
	maxTurns  int
}

// New builds an Engine.
func New(
	ret *retriever.Retriever,
	trans translator.Translator,
	sessions *session.Manager,
	client llm.Client,
	cfg *config.Config,
) *Engine {
	counter, err := prompt.NewTokenCounter(cfg.LLM.Model)
	if err != nil {
		slog.Warn("Token counter unavailable, prompt accounting disabled", "error", err)
	}

	return &Engine{
		retriever: ret,
		translate: trans,
		sessions:  sessions,
		llm:       client,
		tokens:    counter,
		qaCfg:     cfg.QA,
		retCfg:    cfg.Retrieval,
		transCfg:  cfg.Translator,
		maxTurns:  cfg.Session.MaxTurns,
	}
}

// preamble is the work shared by Ask and AskStream up to the point
// where generation starts.
type preamble struct {
	sessionID string
	lang      string
	procQ     string
	hits      []retriever.Hit
	context   string
	system    string
	user      string
	sources   []Source
}

func (e *Engine) prepare(ctx context.Context, req Request) (*preamble, error) {
	sessionID, isNew := e.sessions.GetOrCreate(req.SessionID)
	if isNew && req.SessionID != "" {
		slog.Debug("Session expired or unknown, replaced", "old", req.SessionID, "new", sessionID)
	}

	lang := req.Language
	if lang == "" {
		dctx, cancel := context.WithTimeout(ctx, e.transCfg.Timeout)
		lang = e.translate.Detect(dctx, req.Question)
		cancel()
	}

	// Retrieval runs in the source language; the embedding model is
	// multilingual. Translate-first is available behind a flag for
	// corpora where the source-language recall is poor.
	procQ := req.Question
	if e.retCfg.TranslateForRetrieval && lang != "en" {
		tctx, cancel := context.WithTimeout(ctx, e.transCfg.Timeout)
		procQ, _ = e.translate.Translate(tctx, req.Question, lang, "en")
		cancel()
	}

	rctx, cancel := context.WithTimeout(ctx, e.retCfg.Timeout)
	defer cancel()

	hits, err := e.retriever.Retrieve(rctx, procQ, e.retCfg.TopK,
		retriever.Filter{AppName: req.AppName}, e.retCfg.Threshold)
	if err != nil {
		// Retrieval trouble degrades to the no-context path rather
		// than failing the request.
		slog.Warn("Retrieval failed, answering without context", "error", err)
		hits = nil
	}

	p := &preamble{
		sessionID: sessionID,
		lang:      lang,
		procQ:     procQ,
		hits:      hits,
		sources:   projectSources(hits),
	}

	if len(hits) == 0 {
		return p, nil
	}

	p.context = retriever.FormatContext(hits)
	history := e.sessions.History(sessionID, e.maxTurns)
	p.system = prompt.QASystem(p.context)
	p.user = prompt.QAUser(history, procQ)
	prompt.WarnIfOversized(e.tokens, "qa", p.system+p.user)

	return p, nil
}

// Ask answers a question in one shot.
func (e *Engine) Ask(ctx context.Context, req Request) (*AnswerResult, error) {
	tracer := observability.GetTracer("cora.engine")
	ctx, span := tracer.Start(ctx, "ask")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.qaCfg.TotalTimeout)
	defer cancel()

	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, &EngineError{Answer: fallbackAnswer, Err: err}
	}

	if len(p.hits) == 0 {
		answer := e.localized(ctx, noInfoAnswer, p.lang)
		e.sessions.AppendExchange(p.sessionID, req.Question, answer)
		return &AnswerResult{
			Answer:     answer,
			Sources:    []Source{},
			Confidence: ConfidenceLow,
			SessionID:  p.sessionID,
			Language:   p.lang,
		}, nil
	}

	english, err := e.llm.Generate(ctx, p.system, p.user, llm.Options{
		Temperature: e.qaCfg.Temperature,
		TopP:        e.qaCfg.TopP,
		NumPredict:  e.qaCfg.NumPredict,
	})
	if err != nil {
		// A breached deadline is not a server fault the caller can act
		// on; it degrades to the fallback answer at low confidence.
		// The failed exchange is not committed to the session.
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("Q&A deadline breached, returning fallback answer", "error", err)
			return &AnswerResult{
				Answer:     fallbackAnswer,
				Sources:    []Source{},
				Confidence: ConfidenceLow,
				SessionID:  p.sessionID,
				Language:   p.lang,
			}, nil
		}
		return nil, &EngineError{Answer: fallbackAnswer, Err: err}
	}

	answer := e.localized(ctx, english, p.lang)
	e.sessions.AppendExchange(p.sessionID, req.Question, answer)

	return &AnswerResult{
		Answer:        answer,
		Sources:       p.sources,
		Confidence:    confidence(p.hits, e.qaCfg),
		RetrievedDocs: len(p.hits),
		SessionID:     p.sessionID,
		Language:      p.lang,
	}, nil
}

// localized translates an English answer back to the customer's
// language. English and unknown languages pass through.
func (e *Engine) localized(ctx context.Context, english, lang string) string {
	if lang == "" || lang == "en" || lang == "auto" {
		return english
	}

	tctx, cancel := context.WithTimeout(ctx, e.transCfg.Timeout)
	defer cancel()

	out, _ := e.translate.Translate(tctx, english, "en", lang)
	return out
}

// confidence maps the best similarity to a tier.
func confidence(hits []retriever.Hit, cfg config.QAConfig) string {
	if len(hits) == 0 {
		return ConfidenceLow
	}

	best := hits[0].Similarity
	for _, h := range hits[1:] {
		if h.Similarity > best {
			best = h.Similarity
		}
	}

	switch {
	case best >= cfg.HighConfidence:
		return ConfidenceHigh
	case best >= cfg.MedConfidence:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// projectSources flattens hits into the API source shape. Article
// hits are deduplicated by article id; the ranked order makes the
// first occurrence the best one.
func projectSources(hits []retriever.Hit) []Source {
	sources := make([]Source, 0, len(hits))
	seen := make(map[string]bool)

	for _, h := range hits {
		sim := float64(int(h.Similarity*1000+0.5)) / 1000

		if h.Metadata[vector.MetaType] == "article" {
			id := h.Metadata[vector.MetaArticleID]
			if id != "" && seen[id] {
				continue
			}
			if id != "" {
				seen[id] = true
			}
			sources = append(sources, Source{
				Type:       "article",
				ArticleID:  id,
				Title:      h.Metadata[vector.MetaTitle],
				App:        h.Metadata[vector.MetaAppName],
				Similarity: sim,
			})
			continue
		}

		sources = append(sources, Source{
			Type:       "pdf",
			File:       h.Metadata[vector.MetaSourcePath],
			Similarity: sim,
		})
	}

	return sources
}
