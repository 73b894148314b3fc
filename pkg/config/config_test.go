package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "http://localhost:11434", cfg.LLM.Host)
	assert.Equal(t, defaultModel, cfg.LLM.Model)
	assert.Equal(t, defaultEmbedModel, cfg.Embedder.Model)
	assert.Equal(t, 768, cfg.Embedder.Dimension)
	assert.Equal(t, "http://localhost:8000", cfg.Translator.URL)
	assert.Equal(t, "./chroma_db", cfg.Vector.Path)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 20, cfg.Session.MaxTurns)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 0.3, cfg.Retrieval.Threshold)
	assert.Equal(t, 1000, cfg.Indexer.ChunkSize)
	assert.Equal(t, 150, cfg.Indexer.ChunkOverlap)
	assert.Equal(t, 8001, cfg.Server.Port)
}

func TestSetDefaultsEmbedderInheritsLLMHost(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.Host = "http://ollama.internal:11434"
	cfg.SetDefaults()

	assert.Equal(t, "http://ollama.internal:11434", cfg.Embedder.Host)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("MODEL_NAME", "llama3.1:8b")
	t.Setenv("SESSION_TTL_SECONDS", "600")
	t.Setenv("MAX_TURNS", "5")
	t.Setenv("PORT", "9321")

	cfg := &Config{}
	cfg.applyEnv()

	assert.Equal(t, "http://gpu-box:11434", cfg.LLM.Host)
	assert.Equal(t, "llama3.1:8b", cfg.LLM.Model)
	assert.Equal(t, 10*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 5, cfg.Session.MaxTurns)
	assert.Equal(t, 9321, cfg.Server.Port)
}

func TestApplyEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("SESSION_TTL_SECONDS", "not-a-number")
	t.Setenv("PORT", "-1")

	cfg := &Config{}
	cfg.applyEnv()
	cfg.SetDefaults()

	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 8001, cfg.Server.Port)
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_CORA_MODEL", "qwen2.5:14b")

	dir := t.TempDir()
	path := filepath.Join(dir, "cora.yaml")
	data := `
llm:
  model: ${TEST_CORA_MODEL}
server:
  port: ${TEST_CORA_PORT:-8055}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5:14b", cfg.LLM.Model)
	assert.Equal(t, 8055, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	bad := &Config{}
	bad.SetDefaults()
	bad.Indexer.ChunkOverlap = bad.Indexer.ChunkSize
	assert.Error(t, bad.Validate())

	bad = &Config{}
	bad.SetDefaults()
	bad.Retrieval.Threshold = 1.5
	assert.Error(t, bad.Validate())

	bad = &Config{}
	bad.SetDefaults()
	bad.QA.MedConfidence = 0.9
	bad.QA.HighConfidence = 0.8
	assert.Error(t, bad.Validate())

	bad = &Config{}
	bad.SetDefaults()
	bad.QA.NumPredict = 50
	assert.Error(t, bad.Validate())
}
