package llm

import (
	"ckd-decision-support/backend/go/internal/config"
	"ckd-decision-support/backend/go/internal/models"
	"context"
	"fmt"
)

// LLM 定义了所有大型语言模型客户端必须实现的通用接口。
type LLM interface {
	GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error)
}

// NewClient 是一个工厂函数，根据提供的配置创建并返回一个实现了 LLM 接口的客户端。
func NewClient(cfg config.LLMConfig) (LLM, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("no model configured for %s provider", cfg.Provider)
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.Model, cfg.APIKey, cfg.BaseURL)
	case "ollama":
		return NewOllama(cfg.Model, cfg.BaseURL)
	case "gemini":
		return NewGemini(context.Background(), cfg.Model, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// splitSystem 把请求拆成系统指令和其余消息，供不区分角色的提供商使用。
func splitSystem(req *models.GenerateContentRequest) (string, []models.Content) {
	var system string
	rest := make([]models.Content, 0, len(req.Content))
	for _, c := range req.Content {
		if c.Role == models.SpeakerSystem {
			for _, p := range c.Parts {
				if p != nil {
					system += p.Text
				}
			}
			continue
		}
		rest = append(rest, c)
	}
	return system, rest
}
