package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request metrics for the HTTP boundary and the two engines.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cora_http_requests_total",
		Help: "HTTP requests by endpoint and status code.",
	}, []string{"endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cora_http_request_duration_seconds",
		Help:    "HTTP request latency by endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	LLMCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cora_llm_calls_total",
		Help: "LLM backend calls by mode (generate, stream) and outcome.",
	}, []string{"mode", "outcome"})

	RetrievalHits = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cora_retrieval_hits",
		Help:    "Number of hits surviving the similarity threshold per retrieval.",
		Buckets: []float64{0, 1, 2, 3, 5, 10},
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cora_active_sessions",
		Help: "Sessions currently held in memory.",
	})
)

// ObserveRequest records one completed HTTP request.
func ObserveRequest(endpoint, status string, start time.Time) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// ObserveLLMCall records one LLM backend call.
func ObserveLLMCall(mode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LLMCallsTotal.WithLabelValues(mode, outcome).Inc()
}
