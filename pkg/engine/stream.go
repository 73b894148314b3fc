package engine

import (
	"context"
	"strings"

	"github.com/rayied/cora/pkg/llm"
	"github.com/rayied/cora/pkg/observability"
)

// StreamEvent is one unit of a streamed answer. Exactly one of the
// fields is meaningful: text chunks first, then either a terminal
// result or an error, after which the channel closes.
type StreamEvent struct {
	Chunk string
	Final *AnswerResult
	Err   error
}

// AskStream answers a question as a chunk stream and reports the
// resolved session id up front so callers can surface it before the
// body starts. English questions stream model tokens directly; other
// languages generate the full English answer first, translate it,
// and emit the translation as a single chunk. The session exchange
// is committed only once the full answer has been observed, so an
// aborted stream leaves no partial turn behind.
func (e *Engine) AskStream(ctx context.Context, req Request) (string, <-chan StreamEvent, error) {
	tracer := observability.GetTracer("cora.engine")
	ctx, span := tracer.Start(ctx, "ask_stream")

	ctx, cancel := context.WithTimeout(ctx, e.qaCfg.TotalTimeout)

	p, err := e.prepare(ctx, req)
	if err != nil {
		cancel()
		span.End()
		return "", nil, &EngineError{Answer: fallbackAnswer, Err: err}
	}

	out := make(chan StreamEvent)

	go func() {
		defer close(out)
		defer cancel()
		defer span.End()

		if len(p.hits) == 0 {
			answer := e.localized(ctx, noInfoAnswer, p.lang)
			e.sessions.AppendExchange(p.sessionID, req.Question, answer)
			e.emit(ctx, out, StreamEvent{Chunk: answer})
			e.emit(ctx, out, StreamEvent{Final: &AnswerResult{
				Answer:     answer,
				Sources:    []Source{},
				Confidence: ConfidenceLow,
				SessionID:  p.sessionID,
				Language:   p.lang,
			}})
			return
		}

		opts := llm.Options{
			Temperature: e.qaCfg.Temperature,
			TopP:        e.qaCfg.TopP,
			NumPredict:  e.qaCfg.NumPredict,
		}

		if p.lang == "en" || p.lang == "" || p.lang == "auto" {
			e.streamEnglish(ctx, out, req, p, opts)
			return
		}
		e.streamTranslated(ctx, out, req, p, opts)
	}()

	return p.sessionID, out, nil
}

// streamEnglish forwards model tokens verbatim and commits the
// accumulated text afterwards.
func (e *Engine) streamEnglish(ctx context.Context, out chan<- StreamEvent, req Request, p *preamble, opts llm.Options) {
	chunks, err := e.llm.Stream(ctx, p.system, p.user, opts)
	if err != nil {
		e.emit(ctx, out, StreamEvent{Err: &EngineError{Answer: fallbackAnswer, Err: err}})
		return
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			e.emit(ctx, out, StreamEvent{Err: &EngineError{Answer: fallbackAnswer, Err: chunk.Err}})
			return
		}
		full.WriteString(chunk.Text)
		if !e.emit(ctx, out, StreamEvent{Chunk: chunk.Text}) {
			// Client went away. No session commit for a partial
			// answer.
			return
		}
	}

	answer := full.String()
	e.sessions.AppendExchange(p.sessionID, req.Question, answer)
	e.emit(ctx, out, StreamEvent{Final: &AnswerResult{
		Answer:        answer,
		Sources:       p.sources,
		Confidence:    confidence(p.hits, e.qaCfg),
		RetrievedDocs: len(p.hits),
		SessionID:     p.sessionID,
		Language:      p.lang,
	}})
}

// streamTranslated generates the complete English answer, translates
// it, and emits the translation as one chunk. Token-level streaming
// of a text that still has to round-trip a translator buys nothing.
func (e *Engine) streamTranslated(ctx context.Context, out chan<- StreamEvent, req Request, p *preamble, opts llm.Options) {
	english, err := e.llm.Generate(ctx, p.system, p.user, opts)
	if err != nil {
		e.emit(ctx, out, StreamEvent{Err: &EngineError{Answer: fallbackAnswer, Err: err}})
		return
	}

	answer := e.localized(ctx, english, p.lang)
	e.sessions.AppendExchange(p.sessionID, req.Question, answer)

	if !e.emit(ctx, out, StreamEvent{Chunk: answer}) {
		return
	}
	e.emit(ctx, out, StreamEvent{Final: &AnswerResult{
		Answer:        answer,
		Sources:       p.sources,
		Confidence:    confidence(p.hits, e.qaCfg),
		RetrievedDocs: len(p.hits),
		SessionID:     p.sessionID,
		Language:      p.lang,
	}})
}

// emit sends an event unless the consumer is gone.
func (e *Engine) emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
