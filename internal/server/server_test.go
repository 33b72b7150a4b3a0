package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/config"
	"github.com/wwwzy/SREAgent/internal/convo"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/monitor"
	"github.com/wwwzy/SREAgent/internal/result"
)

type fakeChat struct {
	mu       sync.Mutex
	requests []chat.Request
	sessions map[string][]convo.Exchange
}

func newFakeChat() *fakeChat {
	return &fakeChat{sessions: map[string][]convo.Exchange{}}
}

func (f *fakeChat) Chat(ctx context.Context, req chat.Request, sink engine.Sink) (*chat.Reply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, chat.ErrEmptyMessage
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if req.SessionID == "" {
		req.SessionID = "generated"
	}
	f.sessions[req.SessionID] = append(f.sessions[req.SessionID],
		convo.Exchange{Role: convo.RoleUser, Content: req.Message},
		convo.Exchange{Role: convo.RoleAssistant, Content: "All good."})
	f.mu.Unlock()

	if sink != nil {
		now := time.Now()
		events := []engine.Event{
			{Seq: 1, Source: engine.SourceUser, Kind: engine.KindMessage, Content: req.Message, Time: now},
			{Seq: 2, Source: "chat_orchestrator", Kind: engine.KindHandoff, Target: "metric_expert", Time: now},
			{Seq: 3, Source: "metric_expert", Kind: engine.KindMessage, Content: "CPU usage is below 20% on every node.", Time: now},
		}
		for _, ev := range events {
			if err := sink(ctx, ev); err != nil {
				return nil, err
			}
		}
	}
	return &chat.Reply{
		SessionID:    req.SessionID,
		TraceID:      "trace-1",
		Answer:       "All good.",
		Participants: []string{"chat_orchestrator", "metric_expert"},
		Reason:       engine.ReasonKeyword,
	}, nil
}

func (f *fakeChat) History(id string) ([]convo.Exchange, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.sessions[id]
	return h, ok
}

func (f *fakeChat) Reset(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return false
	}
	f.sessions[id] = nil
	return true
}

func (f *fakeChat) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
}

func (f *fakeChat) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeChat) Keyword() string  { return "TERMINATE" }
func (f *fakeChat) Team() string     { return "chat" }
func (f *fakeChat) Agents() []string { return []string{"chat_orchestrator", "metric_expert"} }

type fakeHealth []monitor.BackendStatus

func (h fakeHealth) Status() []monitor.BackendStatus { return h }

type fakeDecider struct{}

func (fakeDecider) Decide(_ context.Context, inc chat.Incident) (*chat.Decision, error) {
	return &chat.Decision{TraceID: "d-1", Approval: result.ApprovalApproved, Confidence: 0.9, Reasoning: "restart " + inc.Resource}, nil
}

func newTestServer(t *testing.T, deps Deps) (*Server, *fakeChat) {
	t.Helper()
	fc := newFakeChat()
	if deps.Chat == nil {
		deps.Chat = fc
	}
	s, err := New(config.ServerConfig{Addr: ":0"}, deps, nil)
	require.NoError(t, err)
	return s, fc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Deps{
		Version: "test",
		Health: fakeHealth{
			{Name: "loki", Up: false, Error: "connection refused"},
			{Name: "prometheus", Up: true},
		},
	})

	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Len(t, resp.Backends, 2)
}

func TestHealthWithoutProber(t *testing.T) {
	s, _ := newTestServer(t, Deps{})
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Deps{})
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestChatEndpoint(t *testing.T) {
	s, fc := newTestServer(t, Deps{})

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/chat", `{"session_id":"s1","message":"check cpu","namespace":"shop"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply chat.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "All good.", reply.Answer)
	assert.Equal(t, "s1", reply.SessionID)
	require.Len(t, fc.requests, 1)
	assert.Equal(t, "shop", fc.requests[0].Namespace)

	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/chat", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/chat", `{"msg":"typo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/chat", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	s, _ := newTestServer(t, Deps{})
	h := s.Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/sessions/s1/history", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/sessions/s1/reset", "").Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/chat", `{"session_id":"s1","message":"hi"}`).Code)

	rec := do(t, h, http.MethodGet, "/api/v1/sessions/s1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"hi"`)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/v1/sessions/s1/reset", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/v1/sessions/s1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/sessions/s1/history", "").Code)

	rec = do(t, h, http.MethodGet, "/api/v1/team", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "metric_expert")
}

func TestDecideEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Deps{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/decide", `{"namespace":"shop","resource_name":"web"}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	s, _ = newTestServer(t, Deps{Decider: fakeDecider{}})
	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/decide", `{"event_type":"CrashLoopBackOff","namespace":"shop","resource_name":"web"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var dec chat.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dec))
	assert.Equal(t, result.ApprovalApproved, dec.Approval)
	assert.Equal(t, "restart web", dec.Reasoning)
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketChat(t *testing.T) {
	s, fc := newTestServer(t, Deps{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session_id=ws-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ready := readMessage(t, conn)
	assert.Equal(t, MessageConnection, ready.Type)
	assert.Equal(t, "ws-1", ready.Metadata["session_id"])

	require.NoError(t, conn.WriteJSON(WSRequest{Type: "chat", Message: "check cpu", Pod: "web-0"}))

	assert.Equal(t, MessageProcessing, readMessage(t, conn).Type)

	// 用户任务事件不会推送
	handoff := readMessage(t, conn)
	assert.Equal(t, result.DisplayHandoff, handoff.Type)
	assert.Contains(t, handoff.Message, "Metric Expert")

	finding := readMessage(t, conn)
	assert.Equal(t, result.DisplayMessage, finding.Type)
	assert.Equal(t, "📊 Metric Expert", finding.Agent)
	assert.Equal(t, "CPU usage is below 20% on every node.", finding.Message)

	done := readMessage(t, conn)
	assert.Equal(t, MessageComplete, done.Type)
	assert.Equal(t, "All good.", done.Message)
	assert.Equal(t, "trace-1", done.Metadata["trace_id"])

	fc.mu.Lock()
	require.Len(t, fc.requests, 1)
	assert.Equal(t, "ws-1", fc.requests[0].SessionID)
	assert.Equal(t, "web-0", fc.requests[0].Pod)
	fc.mu.Unlock()

	require.NoError(t, conn.WriteJSON(WSRequest{Type: "chat", Message: ""}))
	assert.Equal(t, MessageError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WSRequest{Type: MessageReset}))
	assert.Equal(t, MessageReset, readMessage(t, conn).Type)
}

func TestNewRequiresChat(t *testing.T) {
	_, err := New(config.ServerConfig{}, Deps{}, nil)
	assert.Error(t, err)
}
