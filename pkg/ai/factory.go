package ai

import (
	"context"
	"fmt"
	"strings"

	"lyricsync/pkg/ai/gemini"
	"lyricsync/pkg/ai/openai"
)

var (
	_ AiInterface = (*gemini.Gemini)(nil)
	_ AiInterface = (*openai.OpenAi)(nil)
)

// New 根据模型名称创建客户端，gemini 开头的走 gemini，其余走 OpenAI 兼容接口
func New(ctx context.Context, moduleName, apiKey, baseURL string) (AiInterface, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ai: api key is required")
	}
	if moduleName == "gemini" || strings.HasPrefix(moduleName, "gemini-") {
		model := moduleName
		if model == "gemini" {
			model = ""
		}
		return gemini.NewGemini(ctx, apiKey, model)
	}
	return openai.NewOpenAi(apiKey, moduleName, baseURL), nil
}
