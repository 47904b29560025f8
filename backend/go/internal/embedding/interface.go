package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Embedding 定义了所有 embedding 模型需要实现的接口。
type Embedding interface {
	// Embed 为单个文本生成嵌入向量。
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 为一批文本生成嵌入向量，返回结果与输入顺序一致。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelType 是一个枚举类型，用于表示不同的模型厂商。
type ModelType string

const (
	OpenAI ModelType = "openai" // OpenAI 或兼容 OpenAI 接口的服务。
	Google ModelType = "gemini" // Google GenAI。
	Ollama ModelType = "ollama" // 本地 Ollama。
)

var (
	// ErrEmptyInput 表示待向量化的文本为空，不会发往提供商。
	ErrEmptyInput = errors.New("embedding input is empty")
	// ErrEmptyVector 表示提供商返回了空向量。
	ErrEmptyVector = errors.New("provider returned an empty vector")
)

func checkInputs(texts []string) error {
	if len(texts) == 0 {
		return ErrEmptyInput
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("input %d: %w", i, ErrEmptyInput)
		}
	}
	return nil
}

// checkVectors 确认每个向量非空且维度一致。
func checkVectors(vecs [][]float32) error {
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("vector %d: %w", i, ErrEmptyVector)
		}
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), len(vecs[0]))
		}
	}
	return nil
}
