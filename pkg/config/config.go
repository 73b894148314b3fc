// Package config holds the runtime configuration for the Cora service.
//
// Configuration is resolved in three layers, later layers winning:
// built-in defaults, an optional YAML file (cora.yaml), and
// environment variables. A .env / .env.local file is loaded before
// the environment is consulted.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CollectionName is the fixed name of the persisted vector collection.
const CollectionName = "rayied_knowledge_base"

const (
	defaultModel      = "qwen2.5:7b"
	defaultEmbedModel = "nomic-embed-text"
)

// SupportedLanguages enumerates the corpus language codes. The two
// Kurdish variants (Sorani, Kurmanji) are distinct languages here.
var SupportedLanguages = []string{"en", "ar", "ckb", "kmr"}

// Config is the root configuration for both the server and the indexer.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Translator TranslatorConfig `yaml:"translator"`
	Vector     VectorConfig     `yaml:"vector"`
	Session    SessionConfig    `yaml:"session"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	QA         QAConfig         `yaml:"qa"`
	Classify   ClassifyConfig   `yaml:"classify"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// LLMConfig locates the generative backend.
type LLMConfig struct {
	Host    string        `yaml:"host"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmbedderConfig locates the embedding backend.
type EmbedderConfig struct {
	Host       string        `yaml:"host"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// TranslatorConfig locates the external translation service.
type TranslatorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// VectorConfig controls the persisted vector store.
type VectorConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

// SessionConfig bounds conversational state.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxTurns      int           `yaml:"max_turns"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RetrievalConfig tunes semantic search.
type RetrievalConfig struct {
	TopK      int           `yaml:"top_k"`
	Threshold float64       `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`

	// TranslateForRetrieval switches to translate-then-search. The
	// default searches in the source language; the multilingual
	// embedding model makes that the simpler correct choice.
	TranslateForRetrieval bool `yaml:"translate_for_retrieval"`
}

// QAConfig holds generation options for the Q&A engine.
type QAConfig struct {
	Temperature    float64       `yaml:"temperature"`
	TopP           float64       `yaml:"top_p"`
	NumPredict     int           `yaml:"num_predict"`
	StreamIdle     time.Duration `yaml:"stream_idle"`
	TotalTimeout   time.Duration `yaml:"total_timeout"`
	HighConfidence float64       `yaml:"high_confidence"`
	MedConfidence  float64       `yaml:"medium_confidence"`
}

// ClassifyConfig holds generation options for the classifier.
type ClassifyConfig struct {
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	Seed        int           `yaml:"seed"`
	NumPredict  int           `yaml:"num_predict"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IndexerConfig controls knowledge base ingestion.
type IndexerConfig struct {
	DataDir      string `yaml:"data_dir"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	BatchSize    int    `yaml:"batch_size"`
}

// ServerConfig controls the HTTP boundary.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`
}

// TracingConfig controls the optional OpenTelemetry exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout or otlp
	Endpoint string `yaml:"endpoint"`
}

// Load reads configuration from an optional YAML file plus the
// environment. An empty path means environment and defaults only.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		expanded := ExpandEnvVarsInData(raw)
		out, err := yaml.Marshal(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to re-marshal expanded config: %w", err)
		}
		if err := yaml.Unmarshal(out, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides config fields from the documented environment
// variables. Env always wins over the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.LLM.Host = v
		if c.Embedder.Host == "" {
			c.Embedder.Host = v
		}
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		c.Embedder.Model = v
	}
	if v := os.Getenv("TRANSLATOR_API_URL"); v != "" {
		c.Translator.URL = v
	}
	if v := os.Getenv("CHROMA_PATH"); v != "" {
		c.Vector.Path = v
	}
	if v := os.Getenv("SESSION_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Session.TTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Session.MaxTurns = n
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// SetDefaults fills in every zero-valued knob.
func (c *Config) SetDefaults() {
	if c.LLM.Host == "" {
		c.LLM.Host = "http://localhost:11434"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Embedder.Host == "" {
		c.Embedder.Host = c.LLM.Host
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = defaultEmbedModel
	}
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = 768
	}
	if c.Embedder.Timeout == 0 {
		c.Embedder.Timeout = 30 * time.Second
	}
	if c.Embedder.MaxRetries == 0 {
		c.Embedder.MaxRetries = 3
	}

	if c.Translator.URL == "" {
		c.Translator.URL = "http://localhost:8000"
	}
	if c.Translator.Timeout == 0 {
		c.Translator.Timeout = 5 * time.Second
	}

	if c.Vector.Path == "" {
		c.Vector.Path = "./chroma_db"
	}

	if c.Session.TTL == 0 {
		c.Session.TTL = 30 * time.Minute
	}
	if c.Session.MaxTurns == 0 {
		c.Session.MaxTurns = 20
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = 5 * time.Minute
	}

	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 3
	}
	if c.Retrieval.Threshold == 0 {
		c.Retrieval.Threshold = 0.3
	}
	if c.Retrieval.Timeout == 0 {
		c.Retrieval.Timeout = 2 * time.Second
	}

	if c.QA.Temperature == 0 {
		c.QA.Temperature = 0.3
	}
	if c.QA.TopP == 0 {
		c.QA.TopP = 0.85
	}
	if c.QA.NumPredict == 0 {
		c.QA.NumPredict = 300
	}
	if c.QA.StreamIdle == 0 {
		c.QA.StreamIdle = 30 * time.Second
	}
	if c.QA.TotalTimeout == 0 {
		c.QA.TotalTimeout = 60 * time.Second
	}
	if c.QA.HighConfidence == 0 {
		c.QA.HighConfidence = 0.8
	}
	if c.QA.MedConfidence == 0 {
		c.QA.MedConfidence = 0.6
	}

	if c.Classify.Temperature == 0 {
		c.Classify.Temperature = 0.4
	}
	if c.Classify.TopP == 0 {
		c.Classify.TopP = 0.15
	}
	if c.Classify.Seed == 0 {
		c.Classify.Seed = 42
	}
	if c.Classify.NumPredict == 0 {
		c.Classify.NumPredict = 256
	}
	if c.Classify.Timeout == 0 {
		c.Classify.Timeout = 30 * time.Second
	}

	if c.Indexer.DataDir == "" {
		c.Indexer.DataDir = "./data"
	}
	if c.Indexer.ChunkSize == 0 {
		c.Indexer.ChunkSize = 1000
	}
	if c.Indexer.ChunkOverlap == 0 {
		c.Indexer.ChunkOverlap = 150
	}
	if c.Indexer.BatchSize == 0 {
		c.Indexer.BatchSize = 64
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8001
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Indexer.ChunkOverlap >= c.Indexer.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Indexer.ChunkOverlap, c.Indexer.ChunkSize)
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval threshold must be in [0, 1], got %v", c.Retrieval.Threshold)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.QA.MedConfidence > c.QA.HighConfidence {
		return fmt.Errorf("medium confidence cutoff (%v) above high cutoff (%v)",
			c.QA.MedConfidence, c.QA.HighConfidence)
	}
	if c.QA.NumPredict < 100 || c.QA.NumPredict > 500 {
		return fmt.Errorf("qa num_predict must be in [100, 500], got %d", c.QA.NumPredict)
	}
	return nil
}
