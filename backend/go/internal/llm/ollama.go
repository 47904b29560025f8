package llm

import (
	"ckd-decision-support/backend/go/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	olla "github.com/ollama/ollama/api"
)

// Ollama 是一个用于 Ollama API 的 LLM 客户端。
type Ollama struct {
	client *olla.Client
	model  string
}

// NewOllama 创建一个新的 Ollama 客户端。baseURL 为空时默认为 "http://localhost:11434"。
func NewOllama(model, baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	hc := &http.Client{Timeout: 120 * time.Second}
	return &Ollama{client: olla.NewClient(parsedURL, hc), model: model}, nil
}

// GenerateContent 使用 Ollama 的 generate 接口生成内容（非流式）。
func (o *Ollama) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	system, rest := splitSystem(req)

	stream := false
	genReq := &olla.GenerateRequest{
		Model:   o.model,
		System:  system,
		Prompt:  toOllamaPrompt(rest),
		Stream:  &stream,
		Options: map[string]interface{}{},
	}
	if req.Temperature != nil {
		genReq.Options["temperature"] = *req.Temperature
	}
	if req.MaxOutputTokens > 0 {
		genReq.Options["num_predict"] = req.MaxOutputTokens
	}
	if req.JSONMode {
		genReq.Format = json.RawMessage(`"json"`)
	}

	var result olla.GenerateResponse
	err := o.client.Generate(ctx, genReq, func(resp olla.GenerateResponse) error {
		result = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with ollama: %w", err)
	}

	return &models.GenerateContentResponse{
		Content:      []models.Content{models.TextContent(models.SpeakerModel, result.Response)},
		ModelVersion: result.Model,
	}, nil
}

// toOllamaPrompt 将所有文本部分拼接成一个提示字符串。
func toOllamaPrompt(content []models.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		for _, part := range c.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String()
}
