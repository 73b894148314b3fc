// Package llm wraps the Ollama generate API behind a small client
// interface: strict-JSON generation for the classifier and token
// streaming for the Q&A engine.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rayied/cora/pkg/httpclient"
	"github.com/rayied/cora/pkg/observability"
)

// Error is the failure kind for generation calls.
type Error struct {
	Model string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s (%s): %v", e.Op, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsLLMError reports whether err is a generation failure.
func IsLLMError(err error) bool {
	var le *Error
	return errors.As(err, &le)
}

// Options are per-call generation knobs. Zero values are omitted
// from the request so Ollama applies its own defaults.
type Options struct {
	Model       string
	Temperature float64
	TopP        float64
	Seed        int
	NumPredict  int
	JSONFormat  bool
}

// StreamChunk is one unit of a streamed generation. Err is set on at
// most the final chunk before the channel closes.
type StreamChunk struct {
	Text string
	Err  error
}

// Client generates text against a model backend.
type Client interface {
	// Generate returns the complete response text.
	Generate(ctx context.Context, system, prompt string, opts Options) (string, error)

	// GenerateJSON returns a response validated to parse as JSON.
	// A malformed response is retried once with the identical
	// request before failing.
	GenerateJSON(ctx context.Context, system, prompt string, opts Options) (json.RawMessage, error)

	// Stream emits response tokens as they arrive. The channel
	// closes when the model reports done, on error, or when ctx is
	// cancelled. IdleTimeout bounds the gap between tokens.
	Stream(ctx context.Context, system, prompt string, opts Options) (<-chan StreamChunk, error)
}

// Config for the Ollama client.
type Config struct {
	Host    string
	Model   string
	Timeout time.Duration

	// IdleTimeout aborts a stream when no token arrives for this
	// long. Zero disables the watchdog.
	IdleTimeout time.Duration
}

// Ollama talks to a local Ollama daemon over /api/generate.
type Ollama struct {
	host        string
	model       string
	idleTimeout time.Duration
	client      *httpclient.Client

	// streamClient has no overall timeout; streams are bounded by
	// the caller's context and the idle watchdog instead.
	streamClient *http.Client
}

type generateRequest struct {
	Model   string                 `json:"model"`
	System  string                 `json:"system,omitempty"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllama builds a client for the given daemon.
func NewOllama(cfg Config) *Ollama {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Ollama{
		host:        strings.TrimSuffix(cfg.Host, "/"),
		model:       cfg.Model,
		idleTimeout: cfg.IdleTimeout,
		client: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithMaxRetries(1),
		),
		streamClient: &http.Client{},
	}
}

func (o *Ollama) buildRequest(system, prompt string, stream bool, opts Options) generateRequest {
	model := opts.Model
	if model == "" {
		model = o.model
	}

	options := map[string]interface{}{}
	if opts.Temperature != 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.TopP != 0 {
		options["top_p"] = opts.TopP
	}
	if opts.Seed != 0 {
		options["seed"] = opts.Seed
	}
	if opts.NumPredict != 0 {
		options["num_predict"] = opts.NumPredict
	}
	if len(options) == 0 {
		options = nil
	}

	req := generateRequest{
		Model:   model,
		System:  system,
		Prompt:  prompt,
		Stream:  stream,
		Options: options,
	}
	if opts.JSONFormat {
		req.Format = "json"
	}
	return req
}

// Generate runs a blocking completion and returns the full text.
func (o *Ollama) Generate(ctx context.Context, system, prompt string, opts Options) (string, error) {
	body := o.buildRequest(system, prompt, false, opts)

	resp, err := o.generateOnce(ctx, body)
	observability.ObserveLLMCall("generate", err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Response), nil
}

// GenerateJSON runs a completion in JSON mode and validates that the
// output parses. One retry with the identical request covers the
// occasional truncated object; a second failure is terminal.
func (o *Ollama) GenerateJSON(ctx context.Context, system, prompt string, opts Options) (json.RawMessage, error) {
	opts.JSONFormat = true
	body := o.buildRequest(system, prompt, false, opts)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			slog.Warn("Model returned malformed JSON, retrying once", "model", body.Model)
		}

		resp, err := o.generateOnce(ctx, body)
		observability.ObserveLLMCall("generate_json", err)
		if err != nil {
			return nil, err
		}

		raw := json.RawMessage(strings.TrimSpace(resp.Response))
		if json.Valid(raw) {
			return raw, nil
		}
		lastErr = fmt.Errorf("response is not valid JSON")
	}

	return nil, &Error{Model: body.Model, Op: "generate_json", Err: lastErr}
}

func (o *Ollama) generateOnce(ctx context.Context, body generateRequest) (*generateResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Model: body.Model, Op: "generate", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Model: body.Model, Op: "generate", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &Error{Model: body.Model, Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &Error{
			Model: body.Model,
			Op:    "generate",
			Err:   fmt.Errorf("status %d: %s", resp.StatusCode, apiErrorMessage(data)),
		}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Model: body.Model, Op: "generate", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if out.Error != "" {
		return nil, &Error{Model: body.Model, Op: "generate", Err: fmt.Errorf("%s", out.Error)}
	}

	return &out, nil
}

// Stream starts a streaming completion. The returned channel is
// closed when the model finishes, the context is cancelled, or the
// idle watchdog fires.
func (o *Ollama) Stream(ctx context.Context, system, prompt string, opts Options) (<-chan StreamChunk, error) {
	body := o.buildRequest(system, prompt, true, opts)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Model: body.Model, Op: "stream", Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, &Error{Model: body.Model, Op: "stream", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, &Error{Model: body.Model, Op: "stream", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &Error{
			Model: body.Model,
			Op:    "stream",
			Err:   fmt.Errorf("status %d: %s", resp.StatusCode, apiErrorMessage(data)),
		}
	}

	// Buffer of one so the terminal error never blocks against a
	// consumer that already gave up.
	out := make(chan StreamChunk, 1)

	// Idle watchdog: cancelling the request context closes the body,
	// which surfaces as a read error in the consumer loop.
	var idleFired atomic.Bool
	var idle *time.Timer
	if o.idleTimeout > 0 {
		idle = time.AfterFunc(o.idleTimeout, func() {
			idleFired.Store(true)
			cancel()
		})
	}

	go func() {
		defer close(out)
		defer cancel()
		defer resp.Body.Close()
		if idle != nil {
			defer idle.Stop()
		}

		var streamErr error
		reader := bufio.NewReader(resp.Body)

	loop:
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					switch {
					case idleFired.Load():
						streamErr = fmt.Errorf("no token received for %s", o.idleTimeout)
					case ctx.Err() != nil:
						streamErr = ctx.Err()
					default:
						streamErr = err
					}
				}
				break
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			var chunk generateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}

			if chunk.Error != "" {
				streamErr = fmt.Errorf("%s", chunk.Error)
				break
			}

			if idle != nil {
				idle.Reset(o.idleTimeout)
			}

			if chunk.Response != "" {
				select {
				case out <- StreamChunk{Text: chunk.Response}:
				case <-ctx.Done():
					streamErr = ctx.Err()
					break loop
				}
			}

			if chunk.Done {
				break
			}
		}

		observability.ObserveLLMCall("stream", streamErr)
		if streamErr != nil {
			select {
			case out <- StreamChunk{Err: &Error{Model: body.Model, Op: "stream", Err: streamErr}}:
			default:
			}
		}
	}()

	return out, nil
}

func apiErrorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

var _ Client = (*Ollama)(nil)
