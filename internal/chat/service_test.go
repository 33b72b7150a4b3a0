package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/convo"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/metrics"
	"github.com/wwwzy/SREAgent/internal/registry"
	"github.com/wwwzy/SREAgent/internal/result"
	"github.com/wwwzy/SREAgent/internal/storage"
)

// scriptedModel 按 agent 名称依次返回预设回复。
type scriptedModel struct {
	mu      sync.Mutex
	replies map[string][]*schema.Message
	failFor string
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{replies: make(map[string][]*schema.Message)}
}

func (m *scriptedModel) script(agentName string, msgs ...*schema.Message) *scriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[agentName] = append(m.replies[agentName], msgs...)
	return m
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ""
	if len(input) > 0 {
		rest := strings.TrimPrefix(input[0].Content, "You are ")
		if i := strings.Index(rest, ","); i > 0 {
			name = rest[:i]
		}
	}
	if name == m.failFor {
		return nil, errors.New("upstream 503")
	}
	queue := m.replies[name]
	if len(queue) == 0 {
		return schema.AssistantMessage(fmt.Sprintf("%s has nothing further to add.", name), nil), nil
	}
	m.replies[name] = queue[1:]
	return queue[0], nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

type targetsTool struct{}

func (targetsTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "get_targets", Desc: "targets"}, nil
}

func (targetsTool) InvokableRun(context.Context, string, ...tool.Option) (string, error) {
	return `{"active_targets":3,"healthy_targets":3}`, nil
}

type memoryRuns struct {
	mu   sync.Mutex
	recs []storage.RunRecord
}

func (s *memoryRuns) InsertRunRecord(_ context.Context, rec *storage.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *memoryRuns) all() []storage.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.RunRecord(nil), s.recs...)
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func callMsg(calls ...schema.ToolCall) *schema.Message {
	return &schema.Message{Role: schema.Assistant, ToolCalls: calls}
}

func text(s string) *schema.Message {
	return schema.AssistantMessage(s, nil)
}

func newService(t *testing.T, m *scriptedModel, cfg Config, opts ...Option) *Service {
	t.Helper()
	return newServiceWithEngine(t, m, engine.Config{MaxEvents: 20}, cfg, opts...)
}

func newServiceWithEngine(t *testing.T, m *scriptedModel, ecfg engine.Config, cfg Config, opts ...Option) *Service {
	t.Helper()
	reg := registry.New(nil)
	reg.Register(registry.CategoryMetrics, targetsTool{})

	dir, err := agent.NewDirectory(agent.TeamChat, reg)
	require.NoError(t, err)
	eng, err := engine.New(context.Background(), m, ecfg)
	require.NoError(t, err)
	svc, err := NewService(eng, dir, cfg, opts...)
	require.NoError(t, err)
	return svc
}

const metricFinding = "All three node exporters are up and answering scrapes. CPU usage stays below 20% on every node and memory is stable."

func scriptHealthCheck(m *scriptedModel) {
	m.script(agent.ChatOrchestrator, callMsg(call("h1", "transfer_to_metric_expert", "{}")))
	m.script(agent.MetricExpert,
		callMsg(call("c1", "get_targets", "{}")),
		text(metricFinding),
	)
	m.script(agent.LogExpert, callMsg(call("h2", "transfer_to_chat_orchestrator", "{}")))
	m.script(agent.ChatOrchestrator, text("The cluster looks healthy: all 3 scrape targets are up and CPU is low.\n"+
		"[CONTEXT_SUMMARY]User asked about cluster health; all targets up, CPU low.[/CONTEXT_SUMMARY]\nTERMINATE"))
}

func TestChat_HandoffRoundTrip(t *testing.T) {
	m := newScriptedModel()
	scriptHealthCheck(m)
	runs := &memoryRuns{}
	svc := newService(t, m, Config{}, WithStore(runs))

	var events []engine.Event
	sink := func(_ context.Context, ev engine.Event) error {
		events = append(events, ev)
		return nil
	}

	reply, err := svc.Chat(context.Background(), Request{SessionID: "s1", Message: "How healthy is the cluster?", Namespace: "prod"}, sink)
	require.NoError(t, err)

	assert.Equal(t, "s1", reply.SessionID)
	assert.NotEmpty(t, reply.TraceID)
	assert.Equal(t, engine.ReasonKeyword, reply.Reason)
	assert.Equal(t, "The cluster looks healthy: all 3 scrape targets are up and CPU is low", reply.Answer)
	assert.Equal(t, "User asked about cluster health; all targets up, CPU low.", reply.Summary)
	assert.Equal(t, []string{agent.ChatOrchestrator, agent.MetricExpert, agent.LogExpert}, reply.Participants)
	assert.Equal(t, []string{metricFinding}, reply.Findings[result.FindingMetrics])
	assert.Len(t, reply.Findings, 5)

	require.NotEmpty(t, events)
	assert.Equal(t, engine.SourceUser, events[0].Source)
	assert.Contains(t, events[0].Content, "Current User Question: How healthy is the cluster?")
	assert.Contains(t, events[0].Content, "Namespace: prod")
	assert.Equal(t, engine.KindStop, events[len(events)-1].Kind)

	history, ok := svc.History("s1")
	require.True(t, ok)
	require.Len(t, history, 2)
	assert.Equal(t, convo.Exchange{Role: convo.RoleUser, Content: "How healthy is the cluster?"}, history[0])
	assert.Equal(t, "User asked about cluster health; all targets up, CPU low.", history[1].Content)
	assert.True(t, history[1].Summary)

	recs := runs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, reply.TraceID, recs[0].TraceID)
	assert.Equal(t, "keyword", recs[0].Reason)
	assert.Equal(t, "chat", recs[0].Team)
	assert.Equal(t, "swarm", recs[0].Mode)
	assert.True(t, recs[0].Summarized)
	assert.Equal(t, "chat_orchestrator,metric_expert,log_expert", recs[0].Participants)
}

func TestChat_FollowUpSeesPreviousSummaryAndFindings(t *testing.T) {
	m := newScriptedModel()
	scriptHealthCheck(m)
	svc := newService(t, m, Config{})

	_, err := svc.Chat(context.Background(), Request{SessionID: "s1", Message: "How healthy is the cluster?"}, nil)
	require.NoError(t, err)

	m.script(agent.ChatOrchestrator, text("Memory is also fine, nothing is close to its limit. TERMINATE"))
	var task string
	sink := func(_ context.Context, ev engine.Event) error {
		if ev.Source == engine.SourceUser {
			task = ev.Content
		}
		return nil
	}
	reply, err := svc.Chat(context.Background(), Request{SessionID: "s1", Message: "And memory?"}, sink)
	require.NoError(t, err)
	assert.Equal(t, "Memory is also fine, nothing is close to its limit", reply.Answer)

	assert.Contains(t, task, "Previous Conversation Summary:\nUSER: How healthy is the cluster?\nASSISTANT: User asked about cluster health; all targets up, CPU low.\n")
	assert.Contains(t, task, "Current User Question: And memory?")
	assert.Contains(t, task, "Previous Findings:\nmetrics: All three node exporters are up")

	history, _ := svc.History("s1")
	require.Len(t, history, 4)
	// 没有摘要时保存完整回答
	assert.Equal(t, "Memory is also fine, nothing is close to its limit", history[3].Content)
}

func TestChat_EngineErrorReturnsUserSafeAnswer(t *testing.T) {
	m := newScriptedModel()
	m.failFor = agent.ChatOrchestrator
	runs := &memoryRuns{}
	svc := newService(t, m, Config{}, WithStore(runs))

	reply, err := svc.Chat(context.Background(), Request{SessionID: "s1", Message: "hi"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrModel))
	require.NotNil(t, reply)
	assert.Equal(t, engine.UserSafeMessage, reply.Answer)
	assert.Equal(t, engine.ReasonError, reply.Reason)

	history, ok := svc.History("s1")
	require.True(t, ok)
	assert.Empty(t, history)

	recs := runs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "error", recs[0].Reason)
	assert.Contains(t, recs[0].ErrorMessage, "upstream 503")
}

func TestChat_CancelledBeforeStart(t *testing.T) {
	svc := newService(t, newScriptedModel(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply, err := svc.Chat(ctx, Request{SessionID: "s1", Message: "hi"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrCancelled))
	assert.Equal(t, engine.ReasonCancelled, reply.Reason)

	history, _ := svc.History("s1")
	assert.Empty(t, history)
}

func TestChat_Validation(t *testing.T) {
	svc := newService(t, newScriptedModel(), Config{})
	_, err := svc.Chat(context.Background(), Request{Message: "   "}, nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 0, svc.Sessions())
}

func TestChat_NewSessionIDWhenEmpty(t *testing.T) {
	m := newScriptedModel().script(agent.ChatOrchestrator, text("Hello! Ask me anything about your cluster. TERMINATE"))
	svc := newService(t, m, Config{})

	reply, err := svc.Chat(context.Background(), Request{Message: "hello"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, reply.SessionID)
	assert.Equal(t, []string{agent.ChatOrchestrator}, reply.Participants)

	_, ok := svc.History(reply.SessionID)
	assert.True(t, ok)
}

func TestSessions_EvictionAndReset(t *testing.T) {
	m := newScriptedModel().script(agent.ChatOrchestrator,
		text("First session answer, nothing is wrong here. TERMINATE"),
		text("Second session answer, nothing is wrong either. TERMINATE"),
	)
	svc := newService(t, m, Config{MaxSessions: 1})
	before := testutil.ToFloat64(metrics.ActiveSessions)

	_, err := svc.Chat(context.Background(), Request{SessionID: "a", Message: "one"}, nil)
	require.NoError(t, err)
	_, err = svc.Chat(context.Background(), Request{SessionID: "b", Message: "two"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.Sessions())
	_, ok := svc.History("a")
	assert.False(t, ok)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ActiveSessions))

	assert.True(t, svc.Reset("b"))
	history, _ := svc.History("b")
	assert.Empty(t, history)
	assert.False(t, svc.Reset("a"))

	svc.Remove("b")
	assert.Equal(t, 0, svc.Sessions())
	assert.Equal(t, before, testutil.ToFloat64(metrics.ActiveSessions))
}

func TestChat_ConcurrentSessions(t *testing.T) {
	m := newScriptedModel()
	for i := 0; i < 8; i++ {
		m.script(agent.ChatOrchestrator, text("Everything in this namespace looks normal to me. TERMINATE"))
	}
	svc := newService(t, m, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Chat(context.Background(), Request{SessionID: fmt.Sprintf("s%d", i), Message: "status?"}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, svc.Sessions())
}

func TestChat_MaxTurnsReturnsLastQualifyingMessage(t *testing.T) {
	const oomFinding = "Found OOMKilled events for checkout-7d9f in the last 30 minutes of logs."

	m := newScriptedModel()
	m.script(agent.ChatOrchestrator, text("Looking into it."))
	m.script(agent.MetricExpert, text("Memory on the checkout pods climbed to 94% of the limit within an hour."))
	m.script(agent.LogExpert, text(oomFinding))
	m.script(agent.AnalysisAgent, text("Still checking."))
	runs := &memoryRuns{}
	svc := newServiceWithEngine(t, m, engine.Config{MaxEvents: 5}, Config{}, WithStore(runs))

	reply, err := svc.Chat(context.Background(), Request{SessionID: "cap", Message: "why is checkout crashing?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, engine.ReasonMaxTurns, reply.Reason)
	assert.Equal(t, oomFinding, reply.Answer)
	assert.NotEqual(t, result.FallbackAnswer, reply.Answer)
	assert.Equal(t, []string{agent.ChatOrchestrator, agent.MetricExpert, agent.LogExpert, agent.AnalysisAgent}, reply.Participants)

	recs := runs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(engine.ReasonMaxTurns), recs[0].Reason)
	assert.Equal(t, 5, recs[0].EventCount)

	// 达到上限的运行也会记入历史
	history, ok := svc.History("cap")
	require.True(t, ok)
	require.Len(t, history, 2)
	assert.Equal(t, oomFinding, history[1].Content)
}

func TestChat_ClearTarget(t *testing.T) {
	m := newScriptedModel()
	m.script(agent.ChatOrchestrator,
		text("Payments looks fine from here, nothing stands out. TERMINATE"),
		text("Checked the whole cluster and nothing stands out. TERMINATE"),
	)
	svc := newService(t, m, Config{})

	assert.False(t, svc.ClearTarget("missing", true, true))

	var tasks []string
	sink := func(_ context.Context, ev engine.Event) error {
		if ev.Source == engine.SourceUser {
			tasks = append(tasks, ev.Content)
		}
		return nil
	}
	_, err := svc.Chat(context.Background(), Request{SessionID: "t1", Message: "why slow?", Namespace: "payments", Pod: "api-0"}, sink)
	require.NoError(t, err)

	require.True(t, svc.ClearTarget("t1", true, false))
	_, err = svc.Chat(context.Background(), Request{SessionID: "t1", Message: "and now?"}, sink)
	require.NoError(t, err)

	require.Len(t, tasks, 2)
	assert.Contains(t, tasks[0], "Namespace: payments")
	assert.NotContains(t, tasks[1], "Namespace: payments")
	assert.Contains(t, tasks[1], "Pod: api-0")
	assert.Equal(t, engine.DefaultTerminalKeyword, svc.Keyword())
}
