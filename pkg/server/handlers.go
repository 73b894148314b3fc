package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rayied/cora/pkg/engine"
)

type askRequest struct {
	Question  string `json:"question"`
	Language  string `json:"language,omitempty"`
	AppName   string `json:"app_name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type classifyRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Cora",
		"version": Version,
		"endpoints": map[string]string{
			"POST /ask":        "answer a question",
			"POST /ask/stream": "answer a question as an NDJSON chunk stream",
			"POST /classify":   "classify a support ticket",
			"GET /health":      "liveness probe",
			"GET /metrics":     "Prometheus metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question must not be empty"})
		return
	}

	result, err := s.engine.Ask(r.Context(), engine.Request{
		Question:  req.Question,
		Language:  req.Language,
		AppName:   req.AppName,
		SessionID: req.SessionID,
	})
	if err != nil {
		slog.Error("Q&A request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to generate answer"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleAskStream answers over newline-delimited JSON: zero or more
// {"chunk": ...} events followed by one {"final": AnswerResult}. The
// session id is also surfaced up front in the X-Session-ID header so
// streaming clients do not have to wait for the terminal event.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question must not be empty"})
		return
	}

	sessionID, events, err := s.engine.AskStream(r.Context(), engine.Request{
		Question:  req.Question,
		Language:  req.Language,
		AppName:   req.AppName,
		SessionID: req.SessionID,
	})
	if err != nil {
		slog.Error("Stream setup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to generate answer"})
		return
	}

	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Session-ID", sessionID)

	enc := json.NewEncoder(w)

	writeEvent := func(v interface{}) {
		if err := enc.Encode(v); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			// The stream broke mid-answer. Emit a safe terminal
			// event and close; the status line is long gone.
			slog.Error("Stream failed", "error", ev.Err)
			var ee *engine.EngineError
			answer := "I encountered an error while processing your question. Please try again."
			if errors.As(ev.Err, &ee) && ee.Answer != "" {
				answer = ee.Answer
			}
			writeEvent(map[string]string{"chunk": answer})
			writeEvent(map[string]interface{}{"final": engine.AnswerResult{
				Answer:     answer,
				Sources:    []engine.Source{},
				Confidence: engine.ConfidenceLow,
				SessionID:  sessionID,
			}})
			return

		case ev.Final != nil:
			writeEvent(map[string]interface{}{"final": ev.Final})

		default:
			writeEvent(map[string]string{"chunk": ev.Chunk})
		}
	}
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text must not be empty"})
		return
	}

	result, err := s.classifier.Classify(r.Context(), req.Text)
	if err != nil {
		slog.Error("Classification failed", "error", err)

		// Model failures and schema violations are both opaque 500s;
		// only a timeout is distinguishable to the caller.
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "classification timed out"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to classify"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}
