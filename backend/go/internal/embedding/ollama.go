package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaModel 是一个用于 Ollama API 的 Embedding 模型客户端。
type OllamaModel struct {
	client *ollama.Client
	model  string
}

// NewOllamaModel 创建一个新的 OllamaModel 客户端。baseURL 为空时默认为 "http://localhost:11434"。
func NewOllamaModel(model, baseURL string) (*OllamaModel, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	hc := &http.Client{Timeout: 120 * time.Second}
	return &OllamaModel{client: ollama.NewClient(parsedURL, hc), model: model}, nil
}

// Embed 为单个文本生成嵌入向量。
func (m *OllamaModel) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch 为一批文本生成嵌入向量。
// 超出模型上下文的输入由服务端截断。
func (m *OllamaModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkInputs(texts); err != nil {
		return nil, err
	}
	truncate := true
	req := &ollama.EmbedRequest{Model: m.model, Truncate: &truncate}
	if len(texts) == 1 {
		req.Input = texts[0]
	} else {
		req.Input = texts
	}

	resp, err := m.client.Embed(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed (%s): %w", m.model, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	if err := checkVectors(resp.Embeddings); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
