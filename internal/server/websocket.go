package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/result"
)

// WebSocket 消息类型；展示记录沿用 result.Display* 类型
const (
	MessageConnection = "connection_status"
	MessageProcessing = "processing"
	MessageComplete   = "chat_complete"
	MessageError      = "error"
	MessageHeartbeat  = "heartbeat"
	MessageReset      = "reset"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 30 * time.Second
)

// WSMessage 是服务端推送的消息。
type WSMessage struct {
	Type      string         `json:"type"`
	Agent     string         `json:"agent,omitempty"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WSRequest 是客户端发送的消息，type 为 chat 或 reset。
type WSRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Pod       string `json:"pod,omitempty"`
}

// 不做来源校验：服务不提供鉴权，部署时由前置网关负责
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsConn struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	sessionID string
	keyword   string
	logger    *zap.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	c := &wsConn{
		conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
		sessionID: sessionID,
		logger:    s.logger.With(zap.String("session_id", sessionID)),
	}
	defer func() {
		cancel()
		_ = conn.Close()
		c.logger.Info("websocket connection closed")
	}()
	c.logger.Info("websocket connection established")

	go c.heartbeat()

	if err := c.send(&WSMessage{
		Type:    MessageConnection,
		Message: "Multi-agent SRE assistant ready",
		Metadata: map[string]any{
			"status":     "ready",
			"session_id": sessionID,
			"team":       s.deps.Chat.Team(),
			"agents":     s.deps.Chat.Agents(),
		},
	}); err != nil {
		return
	}

	reqs := make(chan WSRequest)
	go c.readLoop(reqs)
	for req := range reqs {
		s.process(c, req)
	}
}

// readLoop 读取客户端消息；连接断开时取消正在进行的运行。
func (c *wsConn) readLoop(out chan<- WSRequest) {
	defer close(out)
	defer c.cancel()
	for {
		var req WSRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		select {
		case out <- req:
		case <-c.ctx.Done():
			return
		}
	}
}

func (s *Server) process(c *wsConn, req WSRequest) {
	c.keyword = s.deps.Chat.Keyword()
	switch req.Type {
	case "chat", "":
	case MessageReset:
		s.deps.Chat.Reset(c.sessionID)
		_ = c.send(&WSMessage{Type: MessageReset, Metadata: map[string]any{"session_id": c.sessionID}})
		return
	default:
		c.sendError("unsupported message type: " + req.Type)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		c.sendError(chat.ErrEmptyMessage.Error())
		return
	}
	if req.SessionID != "" {
		c.sessionID = req.SessionID
	}
	_ = c.send(&WSMessage{Type: MessageProcessing, Message: "👋 Let me help you with that..."})

	reply, err := s.deps.Chat.Chat(c.ctx, chat.Request{
		SessionID: c.sessionID,
		Message:   req.Message,
		Namespace: req.Namespace,
		Pod:       req.Pod,
	}, c.sink)
	if reply == nil {
		c.logger.Error("chat failed", zap.Error(err))
		c.sendError(engine.UserSafeMessage)
		return
	}
	if err != nil && !errors.Is(err, engine.ErrCancelled) {
		c.logger.Warn("chat finished with error", zap.String("trace_id", reply.TraceID), zap.Error(err))
	}
	_ = c.send(&WSMessage{
		Type:    MessageComplete,
		Message: reply.Answer,
		Metadata: map[string]any{
			"session_id":          reply.SessionID,
			"trace_id":            reply.TraceID,
			"agents_participated": reply.Participants,
			"findings":            reply.Findings,
			"reason":              reply.Reason,
		},
	})
}

// sink 把可见事件转换为展示记录推送给客户端。
func (c *wsConn) sink(_ context.Context, ev engine.Event) error {
	rec, ok := result.FormatForDisplay(ev, c.keyword)
	if !ok {
		return nil
	}
	return c.send(&WSMessage{
		Type:      rec.Type,
		Agent:     rec.Agent,
		Message:   rec.Content,
		Metadata:  rec.Metadata,
		Timestamp: ev.Time,
	})
}

func (c *wsConn) send(msg *WSMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) sendError(msg string) {
	_ = c.send(&WSMessage{Type: MessageError, Message: msg})
}

func (c *wsConn) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(&WSMessage{Type: MessageHeartbeat}); err != nil {
				return
			}
		}
	}
}
