// Package result 从引擎事件中提取面向用户的答案、参与者与发现，并过滤仅供内部使用的事件。
//
// 终止关键字与 [CONTEXT_SUMMARY] 标记是 agent 文本输出与程序之间的约定，
// 只在本包中解析，其他组件不直接检查原始文本中的控制信号。
package result

import (
	"regexp"
	"strings"

	"github.com/wwwzy/SREAgent/internal/engine"
)

const (
	// SummaryOpen/SummaryClose 包裹编排 agent 输出的上下文摘要
	SummaryOpen  = "[CONTEXT_SUMMARY]"
	SummaryClose = "[/CONTEXT_SUMMARY]"

	FallbackAnswer = "Analysis completed. Please let me know if you need more information."
	NoResponse     = "No response generated"

	minAnswerLen   = 30
	minFallbackLen = 20
	minFindingLen  = 100
)

// 发现分类
const (
	FindingMetrics      = "metrics"
	FindingLogs         = "logs"
	FindingAnalysis     = "analysis"
	FindingReport       = "report"
	FindingPresentation = "presentation"
)

// findingSources 将事件来源映射到发现分类。
var findingSources = map[string]string{
	"metric_expert":      FindingMetrics,
	"log_expert":         FindingLogs,
	"analysis_agent":     FindingAnalysis,
	"report_agent":       FindingReport,
	"presentation_agent": FindingPresentation,
}

var summaryBlock = regexp.MustCompile(`(?s)\[CONTEXT_SUMMARY\].*?\[/CONTEXT_SUMMARY\]`)

// FinalAnswer 逆序扫描事件，返回第一条足够有意义的 agent 消息。
func FinalAnswer(events []engine.Event, keyword string) string {
	if len(events) == 0 {
		return NoResponse
	}

	// 1. 优先：关键字之前或本身长度足够的消息
	for i := len(events) - 1; i >= 0; i-- {
		content, ok := candidate(events[i])
		if !ok {
			continue
		}
		if keyword != "" {
			if idx := strings.Index(content, keyword); idx >= 0 {
				before := trimTrailing(content[:idx])
				if len(before) > minAnswerLen {
					return before
				}
				continue
			}
		}
		if len(content) > minAnswerLen {
			return content
		}
	}

	// 2. 退而求其次：去掉关键字后长度超过较低阈值的消息
	for i := len(events) - 1; i >= 0; i-- {
		content, ok := candidate(events[i])
		if !ok {
			continue
		}
		cleaned := StripKeyword(content, keyword)
		if len(cleaned) > minFallbackLen {
			return cleaned
		}
	}

	return FallbackAnswer
}

// candidate 返回可作为答案的文本：仅 agent 的 message 事件，排除序列化对象文本与摘要块。
func candidate(ev engine.Event) (string, bool) {
	if ev.Kind != engine.KindMessage || ev.Source == "" || ev.Source == engine.SourceUser || ev.Source == engine.SourceEngine {
		return "", false
	}
	content := strings.TrimSpace(summaryBlock.ReplaceAllString(ev.Content, ""))
	if content == "" || isSerialized(content) {
		return "", false
	}
	return content, true
}

func isSerialized(s string) bool {
	return strings.HasPrefix(s, "messages=[") || strings.Contains(s, "TextMessage(")
}

// StripKeyword 去掉关键字及其后的内容，并清理结尾标点。
func StripKeyword(s, keyword string) string {
	if keyword != "" {
		if idx := strings.Index(s, keyword); idx >= 0 {
			s = s[:idx]
		}
	}
	return trimTrailing(s)
}

func trimTrailing(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "!.,; \t\n")
}

// Participants 返回所有事件来源（去重，首次出现顺序），不含 user 与引擎自身。
func Participants(events []engine.Event) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ev := range events {
		if ev.Source == "" || ev.Source == engine.SourceUser || ev.Source == engine.SourceEngine || seen[ev.Source] {
			continue
		}
		seen[ev.Source] = true
		out = append(out, ev.Source)
	}
	return out
}

// FindingsByAgent 按来源分类收集较长的 agent 消息。
func FindingsByAgent(events []engine.Event, keyword string) map[string][]string {
	findings := map[string][]string{
		FindingMetrics:      {},
		FindingLogs:         {},
		FindingAnalysis:     {},
		FindingReport:       {},
		FindingPresentation: {},
	}
	for _, ev := range events {
		if ev.Kind != engine.KindMessage {
			continue
		}
		category, ok := findingSources[ev.Source]
		if !ok {
			continue
		}
		content := strings.TrimSpace(ev.Content)
		if len(content) < minFindingLen || (keyword != "" && strings.Contains(content, keyword)) {
			continue
		}
		findings[category] = append(findings[category], content)
	}
	return findings
}

// ContextSummary 在 source 的消息中逆序查找摘要标记，返回去除首尾空白后的内容。
// 标记缺失或不完整时跳过该消息继续查找。
func ContextSummary(events []engine.Event, source string) (string, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Kind != engine.KindMessage || ev.Source != source {
			continue
		}
		start := strings.Index(ev.Content, SummaryOpen)
		if start < 0 {
			continue
		}
		rest := ev.Content[start+len(SummaryOpen):]
		end := strings.Index(rest, SummaryClose)
		if end < 0 {
			continue
		}
		summary := strings.TrimSpace(rest[:end])
		if summary == "" {
			continue
		}
		return summary, true
	}
	return "", false
}
