// Package ui 定义对话前端的公共接口，并提供基于标准输入输出的控制台实现。
package ui

import (
	"context"

	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/engine"
)

// ChatBackend 由 *chat.Service 实现。
type ChatBackend interface {
	Chat(ctx context.Context, req chat.Request, sink engine.Sink) (*chat.Reply, error)
	Reset(sessionID string) bool
	ClearTarget(sessionID string, namespace, pod bool) bool
	Keyword() string
	Team() string
	Agents() []string
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	// SessionID 为空时由前端生成
	SessionID string
	Namespace string
	Pod       string
	// ShowProgress 为 true 时实时展示各 agent 的可见消息
	ShowProgress bool
}
