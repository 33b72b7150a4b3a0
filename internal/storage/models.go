package storage

import "time"

// AuditRecord 记录一次工具调用及其结果，用于审计、追溯与后续分析。
//
// 一条审计记录对应 agent 的一次工具调用（例如：查询指标、搜索日志、重启 deployment）。
// 复杂入参/输出统一以 JSON 字符串存放，便于快速落地与版本演进。
type AuditRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// TraceID 串联一次请求内的所有工具调用与运行记录。
	TraceID string `gorm:"size:64;index"`
	// SessionID 为发起请求的会话（可选）。
	SessionID string `gorm:"size:64;index"`
	// Agent 为发起调用的 agent 名称。
	Agent string `gorm:"size:64;index"`
	// Action 为工具名，例如 query_multiple_metrics / restart_deployment。
	Action string `gorm:"size:128;not null;index"`
	// ParamsJSON 存放工具调用参数（JSON 字符串）。
	ParamsJSON string `gorm:"type:text"`
	// ResultJSON 存放工具输出（截断后的 JSON 字符串）。
	ResultJSON string `gorm:"type:text"`
	// Status 表示执行状态（running/success/failed）。
	Status string `gorm:"size:32;not null;index"`
	// ErrorMessage 存放失败时的错误信息。
	ErrorMessage string `gorm:"type:text"`
	// StartedAt/FinishedAt 表示调用起止时间。统计耗时可用 FinishedAt-StartedAt。
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time `gorm:"index"`
	// CreatedAt 为记录写入数据库的时间，默认自动填充。
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}

// RunRecord 记录一次对话运行的摘要。对话内容本身不落库，只保留终止原因与统计信息。
type RunRecord struct {
	ID        uint64 `gorm:"primaryKey"`
	TraceID   string `gorm:"size:64;not null;uniqueIndex"`
	SessionID string `gorm:"size:64;index"`
	// Team 为运行的团队（chat/metric/log/action），Mode 为 swarm/team。
	Team string `gorm:"size:32;not null;index"`
	Mode string `gorm:"size:16;not null"`
	// Reason 为终止原因（max_turns/keyword/error/cancelled）。
	Reason string `gorm:"size:32;not null;index"`
	// Participants 为参与发言的 agent，逗号分隔。
	Participants string `gorm:"type:text"`
	EventCount   int    `gorm:"not null"`
	// QuestionChars/AnswerChars 只记录长度，不保存原文。
	QuestionChars int       `gorm:"not null"`
	AnswerChars   int       `gorm:"not null"`
	Summarized    bool      `gorm:"not null"`
	ErrorMessage  string    `gorm:"type:text"`
	StartedAt     time.Time `gorm:"not null;index"`
	FinishedAt    time.Time
	CreatedAt     time.Time `gorm:"not null;autoCreateTime;index"`
}
