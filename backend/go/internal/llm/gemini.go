package llm

import (
	"ckd-decision-support/backend/go/internal/models"
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini 是一个实现了 LLM 接口的结构体，用于与 Gemini API 交互。
// 每次请求都是独立的单轮调用，不保留会话历史。
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini 创建一个新的 Gemini 客户端。
func NewGemini(ctx context.Context, model, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, model: model}, nil
}

// GenerateContent 向 Gemini API 发送请求并返回响应。
func (g *Gemini) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	// 生成参数按请求设置，所以每次创建新的模型句柄。
	gm := g.client.GenerativeModel(g.model)
	system, rest := splitSystem(req)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if req.Temperature != nil {
		gm.SetTemperature(*req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.MaxOutputTokens))
	}
	if req.JSONMode {
		gm.ResponseMIMEType = "application/json"
	}

	resp, err := gm.GenerateContent(ctx, toGenaiParts(rest)...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}
	return fromGenaiResponse(resp), nil
}

// Close 释放底层 gRPC 连接。
func (g *Gemini) Close() error {
	return g.client.Close()
}

// toGenaiParts 将内部 Content 结构体转换为 GenAI Part 切片。
func toGenaiParts(content []models.Content) []genai.Part {
	var parts []genai.Part
	for _, c := range content {
		for _, p := range c.Parts {
			switch {
			case p == nil:
			case p.Text != "":
				parts = append(parts, genai.Text(p.Text))
			case p.InlineData != nil:
				parts = append(parts, genai.Blob{
					MIMEType: p.InlineData.MIMEType,
					Data:     p.InlineData.Data,
				})
			}
		}
	}
	return parts
}

// fromGenaiResponse 将 GenAI 响应转换为内部 GenerateContentResponse 结构体，只保留文本部分。
func fromGenaiResponse(resp *genai.GenerateContentResponse) *models.GenerateContentResponse {
	if resp == nil {
		return &models.GenerateContentResponse{}
	}
	var content []models.Content
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var parts []*models.Part
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				parts = append(parts, &models.Part{Text: string(t)})
			}
		}
		content = append(content, models.Content{Parts: parts, Role: models.SpeakerModel})
		// 只取第一个候选结果。
		break
	}
	return &models.GenerateContentResponse{Content: content}
}
