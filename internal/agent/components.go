package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/wwwzy/SREAgent/internal/config"
)

// NewChatModel 初始化 Ark ChatModel，所有 agent 与所有会话共享同一实例
func NewChatModel(ctx context.Context, arkConfig config.ArkConfig) (*ark.ChatModel, error) {
	if arkConfig.APIKey == "" || arkConfig.ModelID == "" {
		return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
	}

	cfg := &ark.ChatModelConfig{
		APIKey:  arkConfig.APIKey,
		Model:   arkConfig.ModelID,
		BaseURL: arkConfig.BaseURL,
	}
	if arkConfig.Temperature > 0 {
		temperature := arkConfig.Temperature
		cfg.Temperature = &temperature
	}
	if arkConfig.MaxTokens > 0 {
		maxTokens := arkConfig.MaxTokens
		cfg.MaxTokens = &maxTokens
	}
	if arkConfig.Timeout > 0 {
		timeout := arkConfig.Timeout
		cfg.Timeout = &timeout
	}

	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init ark chat model: %w", err)
	}

	return chatModel, nil
}
