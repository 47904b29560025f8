package embedding

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIModel 是一个用于 OpenAI API 的 Embedding 模型客户端。
type OpenAIModel struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIModel 创建一个新的 OpenAIModel 客户端。baseURL 为空时使用官方地址。
func NewOpenAIModel(apiKey, modelName, baseURL string) (*OpenAIModel, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIModel{client: openai.NewClientWithConfig(cfg), model: modelName}, nil
}

// WithDimensions 要求服务端把向量截短到 n 维（仅 text-embedding-3 系列支持），n <= 0 表示使用模型默认维度。
func (m *OpenAIModel) WithDimensions(n int) *OpenAIModel {
	m.dimensions = n
	return m
}

// Embed 使用 OpenAI API 为单个文本生成嵌入向量。
func (m *OpenAIModel) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch 使用 OpenAI API 为一批文本生成嵌入向量。
func (m *OpenAIModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkInputs(texts); err != nil {
		return nil, err
	}
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(m.model),
	}
	if m.dimensions > 0 {
		req.Dimensions = m.dimensions
	}
	resp, err := m.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// 服务端可能乱序返回，按 Index 放回原位。
	embeddings := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) {
			idx = i
		}
		embeddings[idx] = d.Embedding
	}
	if err := checkVectors(embeddings); err != nil {
		return nil, err
	}
	if m.dimensions > 0 && len(embeddings[0]) != m.dimensions {
		return nil, fmt.Errorf("expected %d dimensions, got %d", m.dimensions, len(embeddings[0]))
	}
	return embeddings, nil
}
