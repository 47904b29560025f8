package models

import (
	"strings"
	"time"
)

// SpeakerRole 定义了消息发送者的角色。
type SpeakerRole string

const (
	SpeakerSystem    SpeakerRole = "system"
	SpeakerUser      SpeakerRole = "user"
	SpeakerAssistant SpeakerRole = "assistant"
	SpeakerModel     SpeakerRole = "model"
)

// Content 包含了构成单个消息的多个部分。
type Content struct {
	Parts []*Part     `json:"parts,omitempty"`
	Role  SpeakerRole `json:"role,omitempty"`
}

// Part 是消息的一个部分。协议流水线只发送文本，InlineData 保留给需要附带原文件的提供商。
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob 包含了内联的二进制数据。
type Blob struct {
	Data     []byte `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// GenerateContentRequest 定义了生成内容的请求结构。
type GenerateContentRequest struct {
	Content []Content `json:"content,omitempty"`
	// Temperature 为 nil 时使用提供商默认值。
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	// JSONMode 要求提供商尽量只输出 JSON（不支持时忽略）。
	JSONMode bool `json:"jsonMode,omitempty"`
}

// GenerateContentResponse 定义了生成内容的响应结构。
type GenerateContentResponse struct {
	Content      []Content `json:"content,omitempty"`
	CreateTime   time.Time `json:"createTime,omitempty"`
	ResponseID   string    `json:"responseId,omitempty"`
	ModelVersion string    `json:"modelVersion,omitempty"`
}

// Text 拼接响应中所有文本部分。
func (r *GenerateContentResponse) Text() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range r.Content {
		for _, p := range c.Parts {
			if p != nil {
				sb.WriteString(p.Text)
			}
		}
	}
	return sb.String()
}

// TextContent 是构造单段文本消息的便捷函数。
func TextContent(role SpeakerRole, text string) Content {
	return Content{Role: role, Parts: []*Part{{Text: text}}}
}
