// Package chat 将注册表、引擎、上下文窗口与结果提取串联为按会话的问答服务。
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/convo"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/logging"
	"github.com/wwwzy/SREAgent/internal/metrics"
	"github.com/wwwzy/SREAgent/internal/result"
	"github.com/wwwzy/SREAgent/internal/storage"
)

const (
	DefaultMaxSessions = 1000

	// 写入上下文的单条发现摘要长度上限
	findingPreview = 200
)

// ErrEmptyMessage 表示请求消息为空。
var ErrEmptyMessage = errors.New("message is empty")

// findingOrder 为写入会话上下文时的发现分类顺序
var findingOrder = []string{
	result.FindingMetrics,
	result.FindingLogs,
	result.FindingAnalysis,
	result.FindingReport,
	result.FindingPresentation,
}

// RunStore 持久化运行记录，由 *storage.Storage 实现。
type RunStore interface {
	InsertRunRecord(ctx context.Context, rec *storage.RunRecord) error
}

type Config struct {
	// MaxSessions 为内存中保留的会话数上限，超出时淘汰最久未使用的会话。
	MaxSessions int
	Window      convo.Window
}

type Request struct {
	// SessionID 为空时创建新会话。
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Namespace string `json:"namespace,omitempty"`
	Pod       string `json:"pod,omitempty"`
}

type Reply struct {
	SessionID    string              `json:"session_id"`
	TraceID      string              `json:"trace_id"`
	Answer       string              `json:"answer"`
	Participants []string            `json:"participants"`
	Findings     map[string][]string `json:"findings"`
	Summary      string              `json:"summary,omitempty"`
	Reason       engine.Reason       `json:"reason"`
}

type session struct {
	// mu 保证同一会话同时只处理一个请求
	mu    sync.Mutex
	state *convo.State
}

type Option func(*Service)

func WithStore(s RunStore) Option {
	return func(svc *Service) { svc.store = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(svc *Service) { svc.logger = logging.OrNop(l) }
}

// Service 是多会话的问答入口，可被并发调用。
type Service struct {
	cfg       Config
	engine    *engine.Engine
	directory *agent.Directory
	store     RunStore
	logger    *zap.Logger

	mu       sync.Mutex
	sessions *lru.Cache[string, *session]
}

func NewService(eng *engine.Engine, dir *agent.Directory, cfg Config, opts ...Option) (*Service, error) {
	if eng == nil || dir == nil {
		return nil, errors.New("engine and directory are required")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	s := &Service{
		cfg:       cfg,
		engine:    eng,
		directory: dir,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := lru.NewWithEvict(cfg.MaxSessions, func(id string, _ *session) {
		metrics.ActiveSessions.Dec()
		s.logger.Debug("session evicted", zap.String("session_id", id))
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	s.sessions = cache
	return s, nil
}

// Team 返回服务使用的团队名称。
func (s *Service) Team() string {
	return s.directory.Team().Name
}

// Agents 返回团队成员名称（声明顺序）。
func (s *Service) Agents() []string {
	return s.directory.Names()
}

// Keyword 返回运行使用的终止关键字，供前端过滤展示记录。
func (s *Service) Keyword() string {
	return s.engine.Config().TerminalKeyword
}

// ClearTarget 清除会话记住的 namespace 和/或 pod，会话不存在时返回 false。
func (s *Service) ClearTarget(sessionID string, namespace, pod bool) bool {
	s.mu.Lock()
	sess, ok := s.sessions.Peek(sessionID)
	s.mu.Unlock()
	if ok {
		sess.state.ClearTarget(namespace, pod)
	}
	return ok
}

// session 返回已有会话或新建一个。
func (s *Service) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions.Get(id); ok {
		return sess
	}
	sess := &session{state: s.cfg.Window.NewState()}
	s.sessions.Add(id, sess)
	metrics.ActiveSessions.Inc()
	return sess
}

// History 返回会话历史的副本，会话不存在时返回 false。
func (s *Service) History(sessionID string) ([]convo.Exchange, bool) {
	s.mu.Lock()
	sess, ok := s.sessions.Peek(sessionID)
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sess.state.History(), true
}

// Reset 清空会话历史与上下文字段。
func (s *Service) Reset(sessionID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions.Peek(sessionID)
	s.mu.Unlock()
	if ok {
		sess.state.Clear()
	}
	return ok
}

// Remove 删除会话。
func (s *Service) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Remove(sessionID)
}

// Sessions 返回内存中的会话数。
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}

// Chat 处理一条用户消息：拼装任务、用新建的 agent 运行引擎、提取结果并记录历史。
// sink 非空时按顺序收到每个事件。引擎出错时 Reply.Answer 为面向用户的通用提示，同时返回错误。
func (s *Service) Chat(ctx context.Context, req Request, sink engine.Sink) (*Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	traceID := uuid.NewString()

	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.state.SetTarget(strings.TrimSpace(req.Namespace), strings.TrimSpace(req.Pod))
	task := s.cfg.Window.BuildTask(message, sess.state)

	ctx = agent.WithSessionID(agent.WithTraceID(ctx, traceID), sessionID)
	log := s.logger.With(zap.String("session_id", sessionID), zap.String("trace_id", traceID))

	team := s.directory.Team().Name
	mode := string(s.engine.Config().Mode)
	keyword := s.engine.Config().TerminalKeyword

	started := time.Now()
	res, runErr := s.engine.Run(ctx, task, s.directory.GetAll(), sink)
	elapsed := time.Since(started)

	metrics.RunsTotal.WithLabelValues(team, mode, string(res.Reason)).Inc()
	metrics.RunDuration.WithLabelValues(team).Observe(elapsed.Seconds())
	metrics.RunEvents.WithLabelValues(team).Observe(float64(len(res.Events)))

	reply := &Reply{
		SessionID:    sessionID,
		TraceID:      traceID,
		Reason:       res.Reason,
		Participants: result.Participants(res.Events),
		Findings:     result.FindingsByAgent(res.Events, keyword),
	}

	switch res.Reason {
	case engine.ReasonError:
		reply.Answer = engine.UserSafeMessage
		log.Error("chat run failed", zap.Error(runErr))
	case engine.ReasonCancelled:
		reply.Answer = result.FinalAnswer(res.Events, keyword)
		runErr = res.Err
		log.Info("chat run cancelled", zap.Duration("elapsed", elapsed))
	default:
		reply.Answer = result.FinalAnswer(res.Events, keyword)
		if summary, ok := s.cfg.Window.ExtractSummary(res.Events); ok {
			reply.Summary = summary
		}
		sess.state.Record(message, reply.Answer, reply.Summary)
		for _, category := range findingOrder {
			if found := reply.Findings[category]; len(found) > 0 {
				sess.state.AddFinding(category + ": " + preview(found[len(found)-1], findingPreview))
			}
		}
		log.Info("chat run completed",
			zap.String("reason", string(res.Reason)),
			zap.Strings("participants", reply.Participants),
			zap.Int("events", len(res.Events)),
			zap.Duration("elapsed", elapsed))
	}

	s.saveRun(ctx, log, &storage.RunRecord{
		TraceID:       traceID,
		SessionID:     sessionID,
		Team:          team,
		Mode:          mode,
		Reason:        string(res.Reason),
		Participants:  strings.Join(reply.Participants, ","),
		EventCount:    len(res.Events),
		QuestionChars: len(message),
		AnswerChars:   len(reply.Answer),
		Summarized:    reply.Summary != "",
		ErrorMessage:  errorText(res.Err),
		StartedAt:     started.UTC(),
		FinishedAt:    started.Add(elapsed).UTC(),
	})

	if runErr != nil {
		return reply, runErr
	}
	return reply, nil
}

func (s *Service) saveRun(ctx context.Context, log *zap.Logger, rec *storage.RunRecord) {
	if s.store == nil {
		return
	}
	// 请求被取消时仍然落库
	if err := s.store.InsertRunRecord(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("insert run record failed", zap.Error(err))
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
