package agent

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Handoff 描述一条允许的交接边。
type Handoff struct {
	Target      string
	Description string
}

// Agent 是一次运行中的参与者：名称、能力分类、允许的交接目标与工具。
// 每次请求都会新建实例，运行之间不保留状态；Tools 与模型客户端为共享引用。
type Agent struct {
	Name        string
	Category    string
	Description string
	Handoffs    []Handoff
	Tools       []tool.InvokableTool
}

// HandoffTargets 返回允许交接的目标名称（声明顺序）。
func (a *Agent) HandoffTargets() []string {
	out := make([]string, 0, len(a.Handoffs))
	for _, h := range a.Handoffs {
		out = append(out, h.Target)
	}
	return out
}

func (a *Agent) CanHandoffTo(target string) bool {
	for _, h := range a.Handoffs {
		if h.Target == target {
			return true
		}
	}
	return false
}

// Tool 按名称查找 agent 持有的工具。
func (a *Agent) Tool(ctx context.Context, name string) (tool.InvokableTool, bool) {
	for _, t := range a.Tools {
		info, err := t.Info(ctx)
		if err != nil || info == nil {
			continue
		}
		if info.Name == name {
			return t, true
		}
	}
	return nil, false
}

// ToolInfos 收集工具的 schema，供模型绑定。
func (a *Agent) ToolInfos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(a.Tools))
	for _, t := range a.Tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}
