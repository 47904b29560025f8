package llm

import (
	"ckd-decision-support/backend/go/internal/config"
	"ckd-decision-support/backend/go/internal/models"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Errors(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "openai"})
	assert.Error(t, err)

	_, err = NewClient(config.LLMConfig{Provider: "claude", Model: "x"})
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

func TestSplitSystem(t *testing.T) {
	req := &models.GenerateContentRequest{Content: []models.Content{
		models.TextContent(models.SpeakerSystem, "be terse"),
		models.TextContent(models.SpeakerUser, "hello"),
	}}
	system, rest := splitSystem(req)
	assert.Equal(t, "be terse", system)
	require.Len(t, rest, 1)
	assert.Equal(t, models.SpeakerUser, rest[0].Role)
}

func TestOpenAI_GenerateContent(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "cmpl-1",
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": `{"ok":true}`}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAI("gpt-4o-mini", "sk-test", srv.URL)
	require.NoError(t, err)

	temp := float32(0.2)
	resp, err := c.GenerateContent(context.Background(), &models.GenerateContentRequest{
		Content: []models.Content{
			models.TextContent(models.SpeakerSystem, "sys"),
			models.TextContent(models.SpeakerUser, "user"),
		},
		Temperature: &temp,
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text())
	assert.Equal(t, "cmpl-1", resp.ResponseID)

	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.NotNil(t, got["response_format"])
	assert.InDelta(t, 0.2, got["temperature"], 1e-6)
}

func TestOpenAI_ZeroTemperatureIsSent(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "cmpl-2",
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{{"index": 0, "message": map[string]string{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAI("gpt-4o-mini", "sk-test", srv.URL)
	require.NoError(t, err)

	temp := float32(0)
	_, err = c.GenerateContent(context.Background(), &models.GenerateContentRequest{
		Content:     []models.Content{models.TextContent(models.SpeakerUser, "user")},
		Temperature: &temp,
	})
	require.NoError(t, err)
	require.Contains(t, got, "temperature")
	assert.InDelta(t, 0.0, got["temperature"], 1e-9)

	got = nil
	_, err = c.GenerateContent(context.Background(), &models.GenerateContentRequest{
		Content: []models.Content{models.TextContent(models.SpeakerUser, "user")},
	})
	require.NoError(t, err)
	assert.NotContains(t, got, "temperature")
}

func TestOllama_GenerateContent(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":    "llama3",
			"response": "summary text",
			"done":     true,
		})
	}))
	defer srv.Close()

	c, err := NewOllama("llama3", srv.URL)
	require.NoError(t, err)

	resp, err := c.GenerateContent(context.Background(), &models.GenerateContentRequest{
		Content: []models.Content{
			models.TextContent(models.SpeakerSystem, "sys"),
			models.TextContent(models.SpeakerUser, "user"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "summary text", resp.Text())
	assert.Equal(t, "sys", got["system"])
	assert.Equal(t, "user", got["prompt"])
}

func TestFromGenaiResponse_KeepsFirstCandidateText(t *testing.T) {
	resp := fromGenaiResponse(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("a"), genai.Text("b")}}},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
	}})
	assert.Equal(t, "ab", resp.Text())
	assert.Equal(t, "", fromGenaiResponse(nil).Text())
}
