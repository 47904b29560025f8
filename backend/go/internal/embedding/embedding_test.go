package embedding

import (
	"ckd-decision-support/backend/go/internal/config"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsUnknownProvider(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "cohere", Model: "m"})
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "openai"})
	assert.Error(t, err)
}

func TestOpenAIModel_EmbedBatchRestoresOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	m, err := NewOpenAIModel("sk-test", "text-embedding-3-small", srv.URL)
	require.NoError(t, err)

	vecs, err := m.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOllamaModel_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":      "nomic-embed-text",
			"embeddings": [][]float32{{0.5, 0.5}},
		})
	}))
	defer srv.Close()

	m, err := NewOllamaModel("nomic-embed-text", srv.URL)
	require.NoError(t, err)

	vec, err := m.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
}

func TestOllamaModel_RejectsBlankInputWithoutCalling(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	m, err := NewOllamaModel("nomic-embed-text", srv.URL)
	require.NoError(t, err)

	_, err = m.EmbedBatch(context.Background(), []string{"ok", "  "})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.False(t, called)
}

func TestOpenAIModel_RejectsEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   []map[string]interface{}{{"object": "embedding", "index": 0, "embedding": []float32{}}},
		})
	}))
	defer srv.Close()

	m, err := NewOpenAIModel("sk-test", "text-embedding-3-small", srv.URL)
	require.NoError(t, err)

	_, err = m.Embed(context.Background(), "egfr 42")
	assert.ErrorIs(t, err, ErrEmptyVector)
}

func TestOpenAIModel_SendsDimensions(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   []map[string]interface{}{{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	m, err := NewOpenAIModel("sk-test", "text-embedding-3-small", srv.URL)
	require.NoError(t, err)

	_, err = m.WithDimensions(4).Embed(context.Background(), "egfr 42")
	assert.InDelta(t, 4.0, body["dimensions"], 1e-9)
	assert.ErrorContains(t, err, "expected 4 dimensions")
}

func TestCheckVectors_MixedDimensions(t *testing.T) {
	err := checkVectors([][]float32{{1, 2}, {1}})
	assert.ErrorContains(t, err, "dimension 1")
}
