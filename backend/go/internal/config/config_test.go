package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("app:\n  baseURL: https://ckd.example.org\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://ckd.example.org", cfg.App.BaseURL)
	assert.Equal(t, 3200, cfg.RAG.ChunkSize)
	assert.Equal(t, 30000, cfg.RAG.SectionPrefixLimit)
	assert.Equal(t, 6, cfg.RAG.SummaryConcurrency)
	assert.Equal(t, 3, cfg.RAG.EmbedConcurrency)
	assert.Equal(t, 3, cfg.RAG.EmbedMaxAttempts)
	assert.Equal(t, 12, cfg.RAG.CandidatePool)
	assert.Equal(t, 8, cfg.RAG.TopK)
	assert.Equal(t, 2500, cfg.RAG.ContextCap)
	assert.Equal(t, 2, cfg.RAG.PageSeparatorLength)
	assert.InDelta(t, 0.72, cfg.RAG.SimilarityThreshold, 1e-9)
	assert.InDelta(t, 1.0, cfg.RAG.SectionWeight, 1e-9)
	assert.Equal(t, 120*time.Second, Duration(cfg.RAG.CallTimeout, 0))
	assert.Equal(t, 500*time.Millisecond, Duration(cfg.RAG.EmbedBackoff, 0))
	assert.Equal(t, "mysql", cfg.Cache.Backend)
	assert.Equal(t, "milvus", cfg.VectorIndex.Backend)
}

func TestParse_KeepsExplicitValues(t *testing.T) {
	raw := `
rag:
  chunkSize: 1000
  topK: 4
  sectionWeight: 0.5
  pageSeparatorLength: -1
cache:
  backend: redis
`
	cfg, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 4, cfg.RAG.TopK)
	assert.InDelta(t, 0.5, cfg.RAG.SectionWeight, 1e-9)
	assert.Equal(t, 0, cfg.RAG.PageSeparatorLength)
	assert.Equal(t, "redis", cfg.Cache.Backend)
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("CKD_LLM_KEY", "sk-test")
	cfg, err := Parse([]byte("llm:\n  apiKey: ${CKD_LLM_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("app: [unterminated"))
	assert.Error(t, err)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9090\"\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, Duration("3s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("soon", time.Minute))
}
