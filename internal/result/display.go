package result

import (
	"fmt"
	"strings"

	"github.com/wwwzy/SREAgent/internal/engine"
)

// 展示记录类型
const (
	DisplayMessage  = "message"
	DisplayThinking = "thinking"
	DisplayHandoff  = "handoff"
)

// DisplayRecord 是推送给前端的单条可见消息。
type DisplayRecord struct {
	Type     string         `json:"type"`
	Agent    string         `json:"agent"`
	Content  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Visible  bool           `json:"-"`
}

// 内部对象或调试输出的特征
var debugPatterns = []string{
	"messages=[",
	"TextMessage(",
	"ToolCallRequestEvent(",
	"ToolCallExecutionEvent(",
	"HandoffMessage(",
	"FunctionCall(",
	"FunctionExecutionResult(",
	"models_usage=",
	"created_at=datetime",
	"RequestUsage(",
	"id='",
	"source='",
	"metadata=",
	"tool_call_id",
	"ToolCall(",
}

// 系统提示类消息（小写匹配）；终止关键字另按配置精确匹配
var systemKeywords = []string{
	"transferred to",
	"adopting the role",
	"handoff",
	"transfer",
}

var thinkingKeywords = []string{
	"checking",
	"searching",
	"querying",
	"analyzing",
}

var displayNames = map[string]string{
	"chat_orchestrator":      "🎯 Team Lead",
	"metric_expert":          "📊 Metric Expert",
	"log_expert":             "📋 Log Analyst",
	"analysis_agent":         "🔬 Data Analyst",
	"report_agent":           "📈 Reporter",
	"presentation_agent":     "🎨 Presenter",
	"prometheus_query_agent": "📊 Prometheus Query",
}

var handoffGreetings = map[string]string{
	"chat_orchestrator":  "coordinating the team",
	"metric_expert":      "analyzing metric data",
	"log_expert":         "checking the logs",
	"analysis_agent":     "running a detailed analysis",
	"report_agent":       "writing the report",
	"presentation_agent": "organizing the results",
}

// DisplayName 返回 agent 的展示名称，未登记时转为 Title Case。
func DisplayName(name string) string {
	if label, ok := displayNames[name]; ok {
		return label
	}
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// FormatForDisplay 将事件转换为展示记录；返回 false 表示该事件不应展示给用户。
// keyword 为运行使用的终止关键字，为空时取默认值；带关键字的消息视为系统消息，最终回答另行下发。
func FormatForDisplay(ev engine.Event, keyword string) (*DisplayRecord, bool) {
	if keyword == "" {
		keyword = engine.DefaultTerminalKeyword
	}
	switch ev.Kind {
	case engine.KindHandoff:
		target := ev.Target
		if target == "" {
			target = "expert"
		}
		greeting, ok := handoffGreetings[target]
		if !ok {
			greeting = "starting work"
		}
		return &DisplayRecord{
			Type:     DisplayHandoff,
			Agent:    ev.Source,
			Content:  fmt.Sprintf("👉 Connecting to %s... (%s)", DisplayName(target), greeting),
			Metadata: map[string]any{"target": ev.Target},
			Visible:  true,
		}, true
	case engine.KindMessage:
	default:
		return nil, false
	}

	if ev.Source == engine.SourceUser {
		return nil, false
	}

	content := strings.TrimSpace(ev.Content)
	if content == "" || isDebug(content) || isSystem(content, keyword) {
		return nil, false
	}

	content = cleanContent(content, keyword)
	if content == "" {
		return nil, false
	}

	return &DisplayRecord{
		Type:    categorize(content),
		Agent:   DisplayName(ev.Source),
		Content: content,
		Metadata: map[string]any{
			"message_type": string(ev.Kind),
			"length":       len(content),
		},
		Visible: true,
	}, true
}

func isDebug(s string) bool {
	for _, p := range debugPatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func isSystem(s, keyword string) bool {
	if strings.Contains(s, keyword) {
		return true
	}
	lower := strings.ToLower(s)
	for _, k := range systemKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// cleanContent 去掉终止关键字以及摘要块。
func cleanContent(s, keyword string) string {
	s = strings.TrimSpace(summaryBlock.ReplaceAllString(s, ""))
	if strings.Contains(s, keyword) {
		return StripKeyword(s, keyword)
	}
	return s
}

func categorize(s string) string {
	lower := strings.ToLower(s)
	for _, k := range thinkingKeywords {
		if strings.Contains(lower, k) {
			return DisplayThinking
		}
	}
	return DisplayMessage
}
