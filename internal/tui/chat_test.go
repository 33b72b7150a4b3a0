package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/ui"
)

type fakeBackend struct {
	requests []chat.Request
	resets   int
	cleared  [][2]bool
}

func (f *fakeBackend) Chat(ctx context.Context, req chat.Request, sink engine.Sink) (*chat.Reply, error) {
	f.requests = append(f.requests, req)
	if sink != nil {
		_ = sink(ctx, engine.Event{Seq: 1, Source: engine.SourceUser, Kind: engine.KindMessage, Content: req.Message, Time: time.Now()})
		_ = sink(ctx, engine.Event{Seq: 2, Source: "log_expert", Kind: engine.KindMessage, Content: "No errors in the last hour.", Time: time.Now()})
	}
	return &chat.Reply{SessionID: req.SessionID, Answer: "Logs are clean.", Reason: engine.ReasonKeyword}, nil
}

func (f *fakeBackend) ClearTarget(_ string, namespace, pod bool) bool {
	f.cleared = append(f.cleared, [2]bool{namespace, pod})
	return true
}

func (f *fakeBackend) Reset(string) bool { f.resets++; return true }
func (f *fakeBackend) Keyword() string   { return "DONE" }
func (f *fakeBackend) Team() string      { return "chat" }
func (f *fakeBackend) Agents() []string  { return []string{"chat_orchestrator", "log_expert"} }

func update(t *testing.T, m chatModel, msg tea.Msg) (chatModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	cm, ok := next.(chatModel)
	require.True(t, ok)
	return cm, cmd
}

func TestChatModelRunsConversation(t *testing.T) {
	backend := &fakeBackend{}
	m := newChatModel(context.Background(), backend, ui.ChatOptions{SessionID: "s1", Namespace: "shop", ShowProgress: true})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m.input.SetValue("any errors in checkout?")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, m.thinking)
	require.NotNil(t, m.pending)

	// 依次消费后台推送：一条 agent 记录，然后是最终回复
	for m.thinking {
		msg := waitFor(m.pending)()
		require.NotNil(t, msg)
		m, _ = update(t, m, msg)
	}

	require.Len(t, backend.requests, 1)
	assert.Equal(t, "s1", backend.requests[0].SessionID)
	assert.Equal(t, "shop", backend.requests[0].Namespace)

	require.Len(t, m.entries, 3)
	assert.Equal(t, entryUser, m.entries[0].kind)
	assert.Equal(t, entryAgent, m.entries[1].kind)
	assert.Equal(t, "📋 Log Analyst", m.entries[1].agent)
	assert.Equal(t, entryAnswer, m.entries[2].kind)
	assert.Equal(t, "Logs are clean.", m.entries[2].content)

	for m.streaming {
		m, _ = update(t, m, streamTickMsg{})
	}
	assert.Contains(t, m.View(), "SREAgent Chat")
}

func TestChatModelReset(t *testing.T) {
	backend := &fakeBackend{}
	m := newChatModel(context.Background(), backend, ui.ChatOptions{})
	m.entries = []entry{{kind: entryUser, content: "hi"}}

	m.input.SetValue("/reset")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.entries)
	assert.Equal(t, 1, backend.resets)
	assert.Empty(t, backend.requests)
	assert.NotEmpty(t, m.opts.SessionID)
}

func TestChatModelTargetCommands(t *testing.T) {
	backend := &fakeBackend{}
	m := newChatModel(context.Background(), backend, ui.ChatOptions{SessionID: "s1", Namespace: "shop", Pod: "web-0"})

	m.input.SetValue("/ns")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.opts.Namespace)
	assert.Equal(t, "web-0", m.opts.Pod)

	m.input.SetValue("/ns billing")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "billing", m.opts.Namespace)

	assert.Equal(t, [][2]bool{{true, false}}, backend.cleared)
	assert.Empty(t, backend.requests)
}
