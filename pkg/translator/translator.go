// Package translator wraps the external machine translation service.
// Translation is best-effort decoration: every failure degrades to a
// no-op rather than surfacing an error to callers.
package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rayied/cora/pkg/httpclient"
)

// DefaultTimeout is the hard ceiling on one translator call.
const DefaultTimeout = 5 * time.Second

// autoSource asks the service to detect the source language.
const autoSource = "auto"

// Translator detects languages and translates text.
type Translator interface {
	// Detect returns the language code of text, or "en" when
	// detection is unavailable.
	Detect(ctx context.Context, text string) string

	// Translate converts text from src to dst. The boolean reports
	// whether a translation actually happened; on any failure the
	// input is returned unchanged with false.
	Translate(ctx context.Context, text, src, dst string) (string, bool)
}

// Config for the HTTP client.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client calls a single /translate endpoint.
type Client struct {
	url     string
	timeout time.Duration
	client  *httpclient.Client
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang"`
}

// New builds a translator client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		url:     strings.TrimSuffix(cfg.URL, "/"),
		timeout: cfg.Timeout,
		client: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithMaxRetries(0),
		),
	}
}

// Detect asks the service for the language of text by requesting an
// auto-source translation and reading back the detected source.
func (c *Client) Detect(ctx context.Context, text string) string {
	resp, ok := c.call(ctx, translateRequest{Text: text, Source: autoSource, Target: "en"})
	if !ok || resp.SourceLang == "" {
		return "en"
	}
	return resp.SourceLang
}

// Translate converts text between languages. Identical src and dst is
// a no-op without a network call.
func (c *Client) Translate(ctx context.Context, text, src, dst string) (string, bool) {
	if src == dst || text == "" {
		return text, false
	}

	resp, ok := c.call(ctx, translateRequest{Text: text, Source: src, Target: dst})
	if !ok || resp.TranslatedText == "" {
		return text, false
	}
	return resp.TranslatedText, true
}

func (c *Client) call(ctx context.Context, reqBody translateRequest) (*translateResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/translate", bytes.NewReader(payload))
	if err != nil {
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Debug("Translator unavailable, continuing without translation", "error", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Debug("Translator returned non-OK status", "status", resp.StatusCode)
		return nil, false
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		slog.Debug("Translator returned malformed response", "error", err)
		return nil, false
	}

	return &out, true
}

var _ Translator = (*Client)(nil)
