package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/logging"
	"github.com/wwwzy/SREAgent/internal/metrics"
)

// Mode 决定下一位发言者的选择方式。
type Mode string

const (
	// ModeSwarm 按交接事件跳转，无交接时按轮转顺序。
	ModeSwarm Mode = "swarm"
	// ModeTeam 严格轮转，不提供交接工具。
	ModeTeam Mode = "team"
)

const (
	DefaultMaxEvents         = 20
	DefaultTerminalKeyword   = "TERMINATE"
	DefaultMaxToolIterations = 5
)

// Config 是引擎的终止与调度参数。
type Config struct {
	Mode Mode
	// MaxEvents 为非终止事件总数上限（含用户任务事件）
	MaxEvents         int
	TerminalKeyword   string
	MaxToolIterations int
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeSwarm
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.TerminalKeyword == "" {
		c.TerminalKeyword = DefaultTerminalKeyword
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = DefaultMaxToolIterations
	}
	return c
}

// Sink 按顺序接收每个事件（包括终止事件）。返回的错误只记录，不会中断运行。
type Sink func(ctx context.Context, ev Event) error

// ToolWrapper 在调用前包装工具，例如审计。
type ToolWrapper func(tool.InvokableTool) tool.InvokableTool

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

func WithToolWrapper(w ToolWrapper) Option {
	return func(e *Engine) { e.wrap = w }
}

// WithClock 替换时间来源（测试使用）。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine 运行一组 agent 的回合制对话。Engine 本身无会话状态，可被并发的多次运行共享。
type Engine struct {
	model  model.ToolCallingChatModel
	cfg    Config
	logger *zap.Logger
	wrap   ToolWrapper
	now    func() time.Time

	turn compose.Runnable[turnState, turnState]
}

// New 编译单个回合的执行图并返回引擎。
func New(ctx context.Context, cm model.ToolCallingChatModel, cfg Config, opts ...Option) (*Engine, error) {
	if cm == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	e := &Engine{
		model:  cm,
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	turn, err := e.buildTurnGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("build turn graph: %w", err)
	}
	e.turn = turn
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Run 以 task 作为用户消息启动一次运行，直到触发终止条件。
// 无论如何终止，返回的 RunResult 都包含完整事件序列与唯一的终止事件；
// 仅在 Reason 为 error 时返回非空 error。
func (e *Engine) Run(ctx context.Context, task string, participants []*agent.Agent, sink Sink) (*RunResult, error) {
	r := &run{
		engine:       e,
		participants: participants,
		index:        make(map[string]int, len(participants)),
		sink:         sink,
		state:        StateIdle,
		logger:       e.logger.With(zap.String("trace_id", agent.GetTraceID(ctx))),
	}
	for i, p := range participants {
		r.index[p.Name] = i
	}

	if len(participants) == 0 {
		r.fail(&RunError{Kind: ErrNoParticipants})
		return r.finish(ctx)
	}

	r.state = StateRunning
	if r.emit(ctx, Event{Source: SourceUser, Kind: KindMessage, Content: task}) {
		return r.finish(ctx)
	}
	r.thread = append(r.thread, threadEntry{source: SourceUser, content: task})

	current := 0
	for !r.done() {
		// 协作式取消：只在回合之间检查
		if ctx.Err() != nil {
			r.cancel(ctx.Err())
			break
		}

		speaker := participants[current]
		out, err := e.turn.Invoke(ctx, turnState{run: r, agent: speaker})
		if err != nil && !r.done() {
			if ctx.Err() != nil {
				r.cancel(ctx.Err())
			} else {
				r.fail(&RunError{Kind: ErrInternal, Agent: speaker.Name, Err: err})
			}
		}
		if r.done() {
			break
		}

		if e.cfg.Mode == ModeSwarm && out.handoff != "" {
			current = r.index[out.handoff]
			continue
		}
		current = (current + 1) % len(participants)
	}

	return r.finish(ctx)
}

type threadEntry struct {
	source  string
	content string
}

// run 是一次运行的可变状态，只被运行所在的 goroutine 访问。
type run struct {
	engine       *Engine
	participants []*agent.Agent
	index        map[string]int
	sink         Sink
	logger       *zap.Logger

	events []Event
	thread []threadEntry

	state  State
	reason Reason
	err    error
}

func (r *run) done() bool {
	return r.reason != ReasonNone
}

// emit 追加事件、推送给 sink，并检查终止条件；返回 true 表示运行应停止。
func (r *run) emit(ctx context.Context, ev Event) bool {
	ev.Seq = len(r.events) + 1
	ev.Time = r.engine.now()
	r.events = append(r.events, ev)
	r.deliver(ctx, ev)

	cfg := r.engine.cfg
	switch {
	case ev.Kind == KindMessage && ev.Source != SourceUser && strings.Contains(ev.Content, cfg.TerminalKeyword):
		r.reason = ReasonKeyword
	case len(r.events) >= cfg.MaxEvents:
		r.reason = ReasonMaxTurns
	}
	return r.done()
}

func (r *run) deliver(ctx context.Context, ev Event) {
	if r.sink == nil {
		return
	}
	if err := r.sink(ctx, ev); err != nil {
		metrics.SinkErrorsTotal.Inc()
		r.logger.Warn("stream sink failed", zap.Int("seq", ev.Seq), zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func (r *run) fail(err *RunError) {
	if r.done() {
		return
	}
	r.reason = ReasonError
	r.err = err
}

func (r *run) cancel(cause error) {
	if r.done() {
		return
	}
	r.reason = ReasonCancelled
	r.err = &RunError{Kind: ErrCancelled, Err: cause}
}

// finish 产生唯一的终止事件。
func (r *run) finish(ctx context.Context) (*RunResult, error) {
	cfg := r.engine.cfg
	stop := Event{Seq: len(r.events) + 1, Source: SourceEngine, Kind: KindStop, Time: r.engine.now()}
	switch r.reason {
	case ReasonMaxTurns:
		stop.Content = fmt.Sprintf("Maximum number of messages %d reached, current message count: %d", cfg.MaxEvents, len(r.events))
	case ReasonKeyword:
		stop.Content = fmt.Sprintf("Text '%s' mentioned", cfg.TerminalKeyword)
	case ReasonCancelled:
		stop.Content = "Run cancelled"
	case ReasonError:
		stop.Content = UserSafeMessage
		r.logger.Error("engine run failed", zap.Error(r.err))
	}
	r.state = StateTerminated
	r.deliver(ctx, stop)

	res := &RunResult{
		Events: r.events,
		Stop:   stop,
		State:  r.state,
		Reason: r.reason,
		Err:    r.err,
	}
	if r.reason == ReasonError {
		return res, r.err
	}
	return res, nil
}

// history 将共享记录转换为 speaker 视角的消息：自己的发言为 assistant，其他来源为 user。
func (r *run) history(speaker string) []*schema.Message {
	out := make([]*schema.Message, 0, len(r.thread))
	for _, t := range r.thread {
		switch t.source {
		case SourceUser:
			out = append(out, schema.UserMessage(t.content))
		case speaker:
			out = append(out, schema.AssistantMessage(t.content, nil))
		default:
			out = append(out, &schema.Message{
				Role:    schema.User,
				Name:    t.source,
				Content: fmt.Sprintf("[%s]: %s", t.source, t.content),
			})
		}
	}
	return out
}

func (r *run) say(ctx context.Context, source, content string) {
	r.thread = append(r.thread, threadEntry{source: source, content: content})
	r.emit(ctx, Event{Source: source, Kind: KindMessage, Content: content})
}

// handoff 校验目标后记录交接事件；目标非法时以错误终止运行。
func (r *run) handoff(ctx context.Context, from *agent.Agent, target string) bool {
	if _, ok := r.index[target]; !ok || !from.CanHandoffTo(target) {
		r.fail(&RunError{Kind: ErrInvalidHandoff, Agent: from.Name, Err: fmt.Errorf("target %q", target)})
		return false
	}
	metrics.HandoffsTotal.WithLabelValues(from.Name, target).Inc()
	r.thread = append(r.thread, threadEntry{
		source:  from.Name,
		content: fmt.Sprintf("Transferred to %s, adopting the role of %s immediately.", target, target),
	})
	r.emit(ctx, Event{Source: from.Name, Kind: KindHandoff, Target: target})
	return true
}
