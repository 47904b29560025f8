package llms

import (
	"ckd-decision-support/backend/go/internal/llm"
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"context"
	"fmt"
	"strings"
	"time"
)

// LLMAdapter adapts a project LLM client to the Completer interface.
// Every call runs under its own timeout; a timeout is reported as an ordinary error.
type LLMAdapter struct {
	client      llm.LLM
	timeout     time.Duration
	temperature float32
	maxTokens   int
}

// NewLLMAdapter creates a new adapter. temperature and maxTokens are defaults that
// individual calls can override through GenerationParams.
func NewLLMAdapter(client llm.LLM, timeout time.Duration, temperature float32, maxTokens int) *LLMAdapter {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LLMAdapter{client: client, timeout: timeout, temperature: temperature, maxTokens: maxTokens}
}

// Complete wraps the messages into a GenerateContentRequest, calls the client and
// unwraps the text of the response.
func (a *LLMAdapter) Complete(ctx context.Context, messages []schema.Message, params schema.GenerationParams) (string, error) {
	req := &models.GenerateContentRequest{
		Content:         make([]models.Content, 0, len(messages)),
		Temperature:     params.Temperature,
		MaxOutputTokens: params.MaxTokens,
		JSONMode:        params.JSON,
	}
	if req.Temperature == nil {
		t := a.temperature
		req.Temperature = &t
	}
	if req.MaxOutputTokens == 0 {
		req.MaxOutputTokens = a.maxTokens
	}
	for _, m := range messages {
		req.Content = append(req.Content, models.TextContent(toRole(m.Role), m.Content))
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.GenerateContent(callCtx, req)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("completion response was empty")
	}
	return text, nil
}

func toRole(role string) models.SpeakerRole {
	switch role {
	case schema.RoleSystem:
		return models.SpeakerSystem
	case "assistant", "model":
		return models.SpeakerAssistant
	default:
		return models.SpeakerUser
	}
}

// compile-time check to ensure LLMAdapter implements the Completer interface
var _ interfaces.Completer = (*LLMAdapter)(nil)
