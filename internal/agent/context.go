package agent

import (
	"context"
)

type traceIDKey struct{}
type sessionIDKey struct{}
type agentNameKey struct{}

// WithTraceID 将 TraceID 注入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID 从 context 获取 TraceID
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithSessionID 将会话 ID 注入 context，审计与日志按会话聚合时使用
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithAgentName 记录当前发起工具调用的 agent
func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, agentNameKey{}, name)
}

func GetAgentName(ctx context.Context) string {
	if v, ok := ctx.Value(agentNameKey{}).(string); ok {
		return v
	}
	return ""
}
