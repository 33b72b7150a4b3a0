package engine

import "time"

// Kind 是事件类型。
type Kind string

const (
	KindMessage         Kind = "message"
	KindToolCallRequest Kind = "tool_call_request"
	KindToolCallResult  Kind = "tool_call_result"
	KindHandoff         Kind = "handoff"
	KindStop            Kind = "stop"
)

// 非 agent 的事件来源
const (
	SourceUser   = "user"
	SourceEngine = "engine"
)

// ToolCall 描述一次工具调用请求。
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult 描述一次工具调用结果；Error 非空表示调用失败，运行继续。
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Event 是一次运行中产生的不可变记录，Seq 在运行内严格递增。
type Event struct {
	Seq        int         `json:"seq"`
	Source     string      `json:"source"`
	Kind       Kind        `json:"kind"`
	Content    string      `json:"content,omitempty"`
	Target     string      `json:"target,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Time       time.Time   `json:"time"`
}

// State 是引擎运行的生命周期状态。
type State int

const (
	StateIdle State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Reason 是终止原因。
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonMaxTurns  Reason = "max_turns"
	ReasonKeyword   Reason = "keyword"
	ReasonError     Reason = "error"
	ReasonCancelled Reason = "cancelled"
)

// RunResult 是一次运行的完整输出。
// Events 为按序的非终止事件（数量不超过 MaxEvents）；Stop 为唯一的终止事件。
type RunResult struct {
	Events []Event
	Stop   Event
	State  State
	Reason Reason
	Err    error
}
