package ai

import (
	"context"
)

// AiInterface 是文本模型的最小接口
type AiInterface interface {
	Name() string
	HandleText(ctx context.Context, msg string) (string, error)
}
