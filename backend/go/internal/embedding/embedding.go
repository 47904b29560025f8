package embedding

import (
	"ckd-decision-support/backend/go/internal/config"
	"fmt"
)

// New 根据配置创建 Embedding 模型实例。
//
// 支持的提供商: "openai"（BaseURL 可指向任何兼容服务）、"gemini"、"ollama"。
func New(cfg config.EmbeddingConfig) (Embedding, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is not configured")
	}
	switch ModelType(cfg.Provider) {
	case OpenAI:
		m, err := NewOpenAIModel(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return m.WithDimensions(cfg.Dimensions), nil
	case Google, "google":
		return NewGoogleModel(cfg.APIKey, cfg.Model)
	case Ollama:
		return NewOllamaModel(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
