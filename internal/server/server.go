// Package server 提供 HTTP 接口：健康检查、Prometheus 指标、JSON 问答与 WebSocket 流式问答。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/config"
	"github.com/wwwzy/SREAgent/internal/convo"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/logging"
	"github.com/wwwzy/SREAgent/internal/monitor"
)

// ChatService 由 *chat.Service 实现。
type ChatService interface {
	Chat(ctx context.Context, req chat.Request, sink engine.Sink) (*chat.Reply, error)
	History(sessionID string) ([]convo.Exchange, bool)
	Reset(sessionID string) bool
	Remove(sessionID string)
	Sessions() int
	Keyword() string
	Team() string
	Agents() []string
}

// Decider 由 *chat.Decider 实现。
type Decider interface {
	Decide(ctx context.Context, inc chat.Incident) (*chat.Decision, error)
}

// HealthReporter 由 *monitor.HealthProber 实现。
type HealthReporter interface {
	Status() []monitor.BackendStatus
}

type Deps struct {
	Chat    ChatService
	Decider Decider
	Health  HealthReporter
	Version string
}

type Server struct {
	deps   Deps
	logger *zap.Logger
	router *mux.Router
	http   *http.Server
	// baseCtx 在 Shutdown 时取消，用于结束仍在进行的 WebSocket 会话
	baseCtx context.Context
	cancel  context.CancelFunc
}

func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Chat == nil {
		return nil, errors.New("chat service is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		logger:  logging.OrNop(logger),
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/team", s.handleTeam).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/decide", s.handleDecide).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleRemove).Methods(http.MethodDelete)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe 阻塞直到 Shutdown；正常关闭时返回 nil。
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.http.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("graceful shutdown timed out, closing connections")
		return s.http.Close()
	}
	return err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
