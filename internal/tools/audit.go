package tools

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/storage"
)

const (
	auditTruncateLimit = 2048

	auditRunning = "running"
	auditSuccess = "success"
	auditFailed  = "failed"
)

// AuditStore 为审计记录的持久化接口，由 *storage.Storage 实现。
type AuditStore interface {
	InsertAuditRecord(ctx context.Context, rec *storage.AuditRecord) error
	UpdateAuditRecord(ctx context.Context, id uint64, up storage.AuditUpdate) error
}

// AuditedTool 在工具执行前后写入审计记录
type AuditedTool struct {
	impl   tool.InvokableTool
	store  AuditStore
	logger *zap.Logger
}

// NewAuditWrapper 返回包装工具的函数；store 为 nil 时原样返回工具。
func NewAuditWrapper(store AuditStore, logger *zap.Logger) func(tool.InvokableTool) tool.InvokableTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(t tool.InvokableTool) tool.InvokableTool {
		if store == nil || t == nil {
			return t
		}
		if _, ok := t.(*AuditedTool); ok {
			return t
		}
		return &AuditedTool{impl: t, store: store, logger: logger}
	}
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	action := "unknown"
	if info, err := t.impl.Info(ctx); err == nil && info != nil {
		action = info.Name
	}

	record := &storage.AuditRecord{
		TraceID:    agent.GetTraceID(ctx),
		SessionID:  agent.GetSessionID(ctx),
		Agent:      agent.GetAgentName(ctx),
		Action:     action,
		ParamsJSON: truncate(argumentsInJSON, auditTruncateLimit),
		Status:     auditRunning,
		StartedAt:  time.Now().UTC(),
	}
	log := t.logger.With(zap.String("trace_id", record.TraceID), zap.String("tool", action))

	// 审计失败不阻断工具执行
	if err := t.store.InsertAuditRecord(ctx, record); err != nil {
		log.Warn("insert audit record failed", zap.Error(err))
	}

	result, runErr := t.impl.InvokableRun(ctx, argumentsInJSON, opts...)

	if record.ID == 0 {
		return result, runErr
	}
	finishedAt := time.Now().UTC()
	status := auditSuccess
	update := storage.AuditUpdate{Status: &status, FinishedAt: &finishedAt}
	if runErr != nil {
		status = auditFailed
		msg := truncate(runErr.Error(), auditTruncateLimit)
		update.ErrorMessage = &msg
	} else {
		out := truncate(result, auditTruncateLimit)
		update.ResultJSON = &out
	}
	if err := t.store.UpdateAuditRecord(ctx, record.ID, update); err != nil {
		log.Warn("update audit record failed", zap.Uint64("audit_id", record.ID), zap.Error(err))
	}
	return result, runErr
}

// truncate 按字节上限截断，不切断多字节字符。
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
