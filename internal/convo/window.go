// Package convo 维护跨请求的对话历史，并把历史与当前问题拼装为交给引擎的任务文本。
package convo

import (
	"fmt"
	"strings"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/result"
)

const (
	DefaultHistoryCap  = 10
	DefaultTaskEntries = 4
	DefaultEntryLimit  = 300
	DefaultSkipLimit   = 2000
	DefaultFindingsCap = 3

	// 构建任务时最多回看的历史条数
	lookback = 10

	PreviousAnalysisPlaceholder = "[Previous analysis provided]"

	closingInstruction = "\nPlease help the user by engaging the appropriate expert agents. Continue the conversation naturally based on the context."
)

// Window 是历史裁剪参数。
type Window struct {
	HistoryCap  int `mapstructure:"history_cap"`
	TaskEntries int `mapstructure:"task_entries"`
	EntryLimit  int `mapstructure:"entry_limit"`
	SkipLimit   int `mapstructure:"skip_limit"`
	FindingsCap int `mapstructure:"findings_cap"`
}

func DefaultWindow() Window {
	return Window{
		HistoryCap:  DefaultHistoryCap,
		TaskEntries: DefaultTaskEntries,
		EntryLimit:  DefaultEntryLimit,
		SkipLimit:   DefaultSkipLimit,
		FindingsCap: DefaultFindingsCap,
	}
}

func (w Window) withDefaults() Window {
	d := DefaultWindow()
	if w.HistoryCap <= 0 {
		w.HistoryCap = d.HistoryCap
	}
	if w.TaskEntries <= 0 {
		w.TaskEntries = d.TaskEntries
	}
	if w.EntryLimit <= 0 {
		w.EntryLimit = d.EntryLimit
	}
	if w.SkipLimit <= 0 {
		w.SkipLimit = d.SkipLimit
	}
	if w.FindingsCap <= 0 {
		w.FindingsCap = d.FindingsCap
	}
	return w
}

// NewState 创建使用该窗口上限的会话状态。
func (w Window) NewState() *State {
	w = w.withDefaults()
	return &State{historyCap: w.HistoryCap, findingsCap: w.FindingsCap}
}

// BuildTask 将历史、当前问题与上下文字段拼装为任务文本。
func (w Window) BuildTask(userMessage string, st *State) string {
	w = w.withDefaults()

	var (
		history   []Exchange
		namespace string
		pod       string
		findings  []string
	)
	if st != nil {
		snap := st.Snapshot()
		history, namespace, pod, findings = snap.History, snap.Namespace, snap.Pod, snap.Findings
	}

	var b strings.Builder

	// 1. 历史摘要：过滤工具消息，过长的 assistant 消息以占位符替代
	if len(history) > 0 {
		b.WriteString("Previous Conversation Summary:\n")

		recent := history
		if len(recent) > lookback {
			recent = recent[len(recent)-lookback:]
		}
		filtered := make([]Exchange, 0, len(recent))
		for _, ex := range recent {
			if ex.Role == RoleTool || ex.Role == RoleFunction {
				continue
			}
			if strings.Contains(ex.Content, "tool_calls") || len(ex.Content) > w.SkipLimit {
				if ex.Role == RoleAssistant {
					filtered = append(filtered, Exchange{Role: ex.Role, Content: PreviousAnalysisPlaceholder})
				}
				continue
			}
			filtered = append(filtered, ex)
		}

		if len(filtered) > w.TaskEntries {
			filtered = filtered[len(filtered)-w.TaskEntries:]
		}
		for _, ex := range filtered {
			content := ex.Content
			if len(content) > w.EntryLimit {
				content = truncate(content, w.EntryLimit) + "..."
			}
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(ex.Role), content)
		}
		b.WriteString("\n")
	}

	// 2. 当前问题
	fmt.Fprintf(&b, "Current User Question: %s\n\n", userMessage)

	// 3. 上下文字段
	if namespace != "" {
		fmt.Fprintf(&b, "Namespace: %s\n", namespace)
	}
	if pod != "" {
		fmt.Fprintf(&b, "Pod: %s\n", pod)
	}
	if len(findings) > 0 {
		fmt.Fprintf(&b, "\nPrevious Findings:\n%s\n", strings.Join(findings, "\n"))
	}

	b.WriteString(closingInstruction)
	return b.String()
}

// ExtractSummary 返回编排 agent 最近一次输出的上下文摘要。
func (w Window) ExtractSummary(events []engine.Event) (string, bool) {
	return result.ContextSummary(events, agent.ChatOrchestrator)
}

// truncate 按字节上限截断，但不拆开 UTF-8 字符。
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
