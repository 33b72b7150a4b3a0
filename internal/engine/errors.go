package engine

import (
	"errors"
	"fmt"
)

// 引擎边界上的错误类别
var (
	ErrNoParticipants = errors.New("no participants")
	ErrInvalidHandoff = errors.New("invalid handoff target")
	ErrModel          = errors.New("model call failed")
	ErrCancelled      = errors.New("run cancelled")
	ErrInternal       = errors.New("internal engine failure")
)

// UserSafeMessage 是运行出错时展示给用户的文本，原始错误只写日志。
const UserSafeMessage = "I encountered an error while processing your request. Please try again."

// RunError 携带错误类别与出错的 agent。
type RunError struct {
	Kind  error
	Agent string
	Err   error
}

func (e *RunError) Error() string {
	msg := e.Kind.Error()
	if e.Agent != "" {
		msg = fmt.Sprintf("%s (agent %s)", msg, e.Agent)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap 同时暴露类别与底层错误，便于 errors.Is 判断。
func (e *RunError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
