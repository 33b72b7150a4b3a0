package convo

import (
	"strings"
	"sync"
)

// 历史条目角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleFunction  = "function"
)

// Exchange 是历史中的一条记录。
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Summary 表示 Content 是编排 agent 的摘要而不是完整回答
	Summary bool `json:"summary,omitempty"`
}

// Snapshot 是某一时刻会话状态的拷贝。
type Snapshot struct {
	History   []Exchange
	Namespace string
	Pod       string
	Findings  []string
}

// State 是单个会话的对话状态，仅保存在进程内存中。
type State struct {
	mu sync.Mutex

	history   []Exchange
	namespace string
	pod       string
	findings  []string

	historyCap  int
	findingsCap int
}

// NewState 使用默认窗口创建会话状态。
func NewState() *State {
	return DefaultWindow().NewState()
}

// AppendExchange 追加一条记录，超过上限时从最旧的开始淘汰。
func (s *State) AppendExchange(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Exchange{Role: role, Content: content})
}

func (s *State) appendLocked(ex Exchange) {
	s.history = append(s.history, ex)
	if over := len(s.history) - s.historyCap; over > 0 {
		// 复制到新切片，避免底层数组无限增长
		s.history = append([]Exchange(nil), s.history[over:]...)
	}
}

// Record 记录一轮问答：有摘要时保存摘要，否则保存完整回答。
func (s *State) Record(userMessage, answer, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLocked(Exchange{Role: RoleUser, Content: userMessage})
	summary = strings.TrimSpace(summary)
	switch {
	case summary != "":
		s.appendLocked(Exchange{Role: RoleAssistant, Content: summary, Summary: true})
	case answer != "":
		s.appendLocked(Exchange{Role: RoleAssistant, Content: answer})
	}
}

// SetTarget 更新目标 namespace/pod，空值不覆盖已有值。
func (s *State) SetTarget(namespace, pod string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if namespace != "" {
		s.namespace = namespace
	}
	if pod != "" {
		s.pod = pod
	}
}

// ClearTarget 清除指定的目标字段；SetTarget 的空值不会覆盖已有值，需要显式清除。
func (s *State) ClearTarget(namespace, pod bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if namespace {
		s.namespace = ""
	}
	if pod {
		s.pod = ""
	}
}

// AddFinding 记录一条发现摘要，只保留最近的若干条。
func (s *State) AddFinding(finding string) {
	finding = strings.TrimSpace(finding)
	if finding == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, finding)
	if over := len(s.findings) - s.findingsCap; over > 0 {
		s.findings = append([]string(nil), s.findings[over:]...)
	}
}

func (s *State) History() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exchange(nil), s.history...)
}

func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		History:   append([]Exchange(nil), s.history...),
		Namespace: s.namespace,
		Pod:       s.pod,
		Findings:  append([]string(nil), s.findings...),
	}
}

// Clear 清空历史与上下文字段。
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.namespace = ""
	s.pod = ""
	s.findings = nil
}
