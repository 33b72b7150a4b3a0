package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/metrics"
)

const (
	NodeModel = "agent_model_node"
	NodeTools = "agent_tools_node"
)

// turnState 在单个回合的图中流转。
type turnState struct {
	run   *run
	agent *agent.Agent

	// 本回合内的工具往返消息，只对当前 agent 可见
	local []*schema.Message
	// 模型本次请求、尚未执行的工具调用
	pending []schema.ToolCall
	// 与工具调用同时请求的交接，在工具执行完后生效
	pendingHandoff string

	iterations int
	handoff    string
	finished   bool
}

// buildTurnGraph 构建一个回合的处理流程：
// START -> model -> (tools -> model)* -> END
// 工具按请求顺序逐个执行，不并发。
func (e *Engine) buildTurnGraph(ctx context.Context) (compose.Runnable[turnState, turnState], error) {
	g := compose.NewGraph[turnState, turnState]()

	// 1. 添加节点
	if err := g.AddLambdaNode(NodeModel, compose.InvokableLambda(e.modelNode)); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(NodeTools, compose.InvokableLambda(e.toolsNode)); err != nil {
		return nil, err
	}

	// 2. 添加边
	if err := g.AddEdge(compose.START, NodeModel); err != nil {
		return nil, err
	}

	// 3. 添加分支
	// model -> tools OR END
	if err := g.AddBranch(NodeModel, compose.NewGraphBranch(func(ctx context.Context, st turnState) (string, error) {
		if st.finished {
			return compose.END, nil
		}
		return NodeTools, nil
	}, map[string]bool{NodeTools: true, compose.END: true})); err != nil {
		return nil, err
	}

	// tools -> model OR END (loop back)
	if err := g.AddBranch(NodeTools, compose.NewGraphBranch(func(ctx context.Context, st turnState) (string, error) {
		if st.finished {
			return compose.END, nil
		}
		return NodeModel, nil
	}, map[string]bool{NodeModel: true, compose.END: true})); err != nil {
		return nil, err
	}

	// 4. 编译：每轮 model + tools 两步，另留余量给 START/END
	return g.Compile(ctx,
		compose.WithGraphName("agent_turn"),
		compose.WithMaxRunSteps(2*e.cfg.MaxToolIterations+4),
	)
}

// modelNode 调用模型并根据返回决定：继续执行工具、交接，或输出消息结束回合。
func (e *Engine) modelNode(ctx context.Context, st turnState) (turnState, error) {
	r := st.run
	if r.done() {
		st.finished = true
		return st, nil
	}
	if ctx.Err() != nil {
		r.cancel(ctx.Err())
		st.finished = true
		return st, nil
	}

	swarm := e.cfg.Mode == ModeSwarm

	// 1. 准备输入：系统提示词 + 共享记录 + 本回合工具往返
	history := append(r.history(st.agent.Name), st.local...)
	msgs, err := st.agent.Messages(ctx, history, agent.PromptOptions{
		Keyword:       e.cfg.TerminalKeyword,
		OfferHandoffs: swarm,
		Now:           e.now(),
	})
	if err != nil {
		r.fail(&RunError{Kind: ErrInternal, Agent: st.agent.Name, Err: err})
		st.finished = true
		return st, nil
	}

	// 2. 绑定工具（业务工具 + 交接工具）
	infos, err := st.agent.ToolInfos(ctx)
	if err != nil {
		r.fail(&RunError{Kind: ErrInternal, Agent: st.agent.Name, Err: err})
		st.finished = true
		return st, nil
	}
	if swarm {
		infos = append(infos, st.agent.HandoffToolInfos()...)
	}
	cm := e.model
	if len(infos) > 0 {
		cm, err = e.model.WithTools(infos)
		if err != nil {
			r.fail(&RunError{Kind: ErrModel, Agent: st.agent.Name, Err: err})
			st.finished = true
			return st, nil
		}
	}

	// 3. 调用模型；取消信号不打断进行中的调用
	resp, err := cm.Generate(context.WithoutCancel(ctx), msgs)
	if err != nil {
		r.fail(&RunError{Kind: ErrModel, Agent: st.agent.Name, Err: err})
		st.finished = true
		return st, nil
	}
	st.iterations++

	// 4. 拆分业务工具调用与交接（只采用第一个交接）
	var calls []schema.ToolCall
	for _, tc := range resp.ToolCalls {
		if target, ok := agent.HandoffTarget(tc.Function.Name); ok && swarm {
			if st.pendingHandoff == "" {
				st.pendingHandoff = target
			}
			continue
		}
		calls = append(calls, tc)
	}

	if len(calls) > 0 {
		st.local = append(st.local, &schema.Message{
			Role:      schema.Assistant,
			Content:   resp.Content,
			ToolCalls: calls,
		})
		st.pending = calls
		return st, nil
	}

	if st.pendingHandoff != "" {
		e.finishWithHandoff(ctx, &st)
		return st, nil
	}

	r.say(ctx, st.agent.Name, resp.Content)
	st.finished = true
	return st, nil
}

// toolsNode 逐个执行工具调用，每个调用产生 request/result 两个事件。
func (e *Engine) toolsNode(ctx context.Context, st turnState) (turnState, error) {
	r := st.run
	calls := st.pending
	st.pending = nil

	var outputs []string
	for _, tc := range calls {
		if r.done() {
			break
		}
		if ctx.Err() != nil {
			r.cancel(ctx.Err())
			break
		}

		call := &ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		if r.emit(ctx, Event{Source: st.agent.Name, Kind: KindToolCallRequest, ToolCall: call}) {
			break
		}

		result := e.invokeTool(ctx, st.agent, tc)
		st.local = append(st.local, &schema.Message{
			Role:       schema.Tool,
			Content:    result.Content,
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
		})
		outputs = append(outputs, result.Content)
		r.emit(ctx, Event{Source: st.agent.Name, Kind: KindToolCallResult, ToolResult: result})
	}

	switch {
	case r.done():
		st.finished = true
	case st.pendingHandoff != "":
		e.finishWithHandoff(ctx, &st)
	case st.iterations >= e.cfg.MaxToolIterations:
		// 工具轮次用尽：以工具输出汇总作为本回合消息
		r.say(ctx, st.agent.Name, strings.Join(outputs, "\n"))
		st.finished = true
	}
	return st, nil
}

func (e *Engine) finishWithHandoff(ctx context.Context, st *turnState) {
	if st.run.handoff(ctx, st.agent, st.pendingHandoff) {
		st.handoff = st.pendingHandoff
	}
	st.finished = true
}

// invokeTool 在工具边界捕获所有失败（包括 panic），失败写入结果的 Error 字段。
func (e *Engine) invokeTool(ctx context.Context, a *agent.Agent, tc schema.ToolCall) (result *ToolResult) {
	name := tc.Function.Name
	result = &ToolResult{CallID: tc.ID, Name: name}

	defer func() {
		if rec := recover(); rec != nil {
			result.Error = fmt.Sprintf("tool panicked: %v", rec)
		}
		if result.Error != "" {
			result.Content = errorPayload(result.Error)
		}
		metrics.RecordToolCall(name, result.Error != "")
	}()

	t, ok := a.Tool(ctx, name)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool %q", name)
		return result
	}
	if e.wrap != nil {
		t = e.wrap(t)
	}

	// 参数 JSON 不完整时（例如只包含 { ），补全为 {}
	args := strings.TrimSpace(tc.Function.Arguments)
	if args == "" || args == "{" {
		args = "{}"
	}

	out, err := t.InvokableRun(agent.WithAgentName(context.WithoutCancel(ctx), a.Name), args)
	if err != nil {
		e.logger.Warn("tool call failed", zap.String("agent", a.Name), zap.String("tool", name), zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.Content = out
	return result
}

func errorPayload(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"tool failed"}`
	}
	return string(data)
}
