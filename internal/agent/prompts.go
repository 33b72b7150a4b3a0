package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// HandoffToolPrefix 是交接工具名的前缀，模型通过调用 transfer_to_<agent> 交出控制权。
const HandoffToolPrefix = "transfer_to_"

// SystemPromptTemplate 定义每个 agent 的系统提示词模板
// 包含动态变量: {name}, {description}, {handoffs}, {keyword}, {time}
const SystemPromptTemplate = `You are {name}, a member of a Kubernetes SRE assistant team.
{description}

Current time: {time}
{handoffs}
Use your tools when they help. Report tool failures honestly instead of guessing.
When the user's question has been fully answered, end your final message with {keyword}.`

// NewChatTemplate 创建系统消息 + 对话历史的模板
func NewChatTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(SystemPromptTemplate),
		// "history" 为共享对话记录与本轮工具往返
		schema.MessagesPlaceholder("history", true),
	)
}

// PromptOptions 控制模板变量。
type PromptOptions struct {
	Keyword string
	// OfferHandoffs 为 false 时（轮转模式）不在提示词中列出交接工具
	OfferHandoffs bool
	Now           time.Time
}

// Messages 使用模板为该 agent 生成完整的模型输入
func (a *Agent) Messages(ctx context.Context, history []*schema.Message, opts PromptOptions) ([]*schema.Message, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	vars := map[string]any{
		"name":        a.Name,
		"description": a.Description,
		"handoffs":    a.handoffSection(opts.OfferHandoffs),
		"keyword":     opts.Keyword,
		"time":        now.Format(time.RFC3339),
		"history":     history,
	}
	msgs, err := NewChatTemplate().Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("format prompt for %s: %w", a.Name, err)
	}
	return msgs, nil
}

func (a *Agent) handoffSection(offer bool) string {
	if !offer || len(a.Handoffs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You can transfer control to another agent by calling one of these tools:\n")
	for _, h := range a.Handoffs {
		b.WriteString("- ")
		b.WriteString(HandoffToolPrefix + h.Target)
		b.WriteString(": ")
		b.WriteString(h.Description)
		b.WriteString("\n")
	}
	return b.String()
}

// HandoffToolInfos 为每个允许的交接目标生成一个无参工具
func (a *Agent) HandoffToolInfos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(a.Handoffs))
	for _, h := range a.Handoffs {
		out = append(out, &schema.ToolInfo{
			Name:        HandoffToolPrefix + h.Target,
			Desc:        h.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		})
	}
	return out
}

// HandoffTarget 从工具名中解析交接目标
func HandoffTarget(toolName string) (string, bool) {
	if !strings.HasPrefix(toolName, HandoffToolPrefix) {
		return "", false
	}
	target := strings.TrimPrefix(toolName, HandoffToolPrefix)
	if target == "" {
		return "", false
	}
	return target, true
}
