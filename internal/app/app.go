// Package app 在启动时一次性构建进程内共享的组件。
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/config"
	"github.com/wwwzy/SREAgent/internal/convo"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/kube"
	"github.com/wwwzy/SREAgent/internal/logging"
	"github.com/wwwzy/SREAgent/internal/loki"
	"github.com/wwwzy/SREAgent/internal/monitor"
	"github.com/wwwzy/SREAgent/internal/prometheus"
	"github.com/wwwzy/SREAgent/internal/registry"
	"github.com/wwwzy/SREAgent/internal/storage"
	"github.com/wwwzy/SREAgent/internal/tools"
)

// AppContext 持有所有会话共享的只读组件；会话状态在 Chat 服务内部。
type AppContext struct {
	Config   *config.Config
	Logger   *zap.Logger
	Storage  *storage.Storage
	Backends tools.Backends
	Registry *registry.Registry
	Chat     *chat.Service
	Decider  *chat.Decider
	Monitor  *monitor.Manager

	ownLogger bool
}

type options struct {
	logger   *zap.Logger
	model    model.ToolCallingChatModel
	backends *tools.Backends
}

type Option func(*options)

// WithLogger 使用调用方的 logger，Close 时不会 Sync。
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithChatModel 替换默认的 Ark 模型。
func WithChatModel(m model.ToolCallingChatModel) Option {
	return func(o *options) { o.model = m }
}

// WithBackends 跳过根据配置创建后端客户端。
func WithBackends(b tools.Backends) Option {
	return func(o *options) { o.backends = &b }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*AppContext, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &AppContext{Config: cfg, Logger: o.logger}
	if a.Logger == nil {
		l, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		a.Logger = l
		a.ownLogger = true
	}

	cm := o.model
	if cm == nil {
		ark, err := agent.NewChatModel(ctx, cfg.Ark)
		if err != nil {
			a.Close()
			return nil, err
		}
		cm = ark
	}

	storeCfg := cfg.Storage
	storeCfg.Logger = a.Logger.Named("storage")
	store, err := storage.Open(ctx, storeCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.Storage = store

	if o.backends != nil {
		a.Backends = *o.backends
	} else {
		a.Backends = NewBackends(cfg, a.Logger)
	}

	a.Registry = registry.New(a.Logger.Named("registry"))
	a.Registry.Initialize(ctx, tools.Sources(a.Backends)...)

	wrapper := engine.WithToolWrapper(tools.NewAuditWrapper(store, a.Logger.Named("audit")))

	chatDir, err := agent.NewDirectory(cfg.Workflow.Team, a.Registry)
	if err != nil {
		a.Close()
		return nil, err
	}
	chatEngine, err := engine.New(ctx, cm, engineConfig(cfg.Workflow, chatDir.Team()), engine.WithLogger(a.Logger.Named("engine")), wrapper)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	a.Chat, err = chat.NewService(chatEngine, chatDir, chat.Config{
		MaxSessions: cfg.Sessions.MaxSessions,
		Window:      window(cfg.Context),
	}, chat.WithStore(store), chat.WithLogger(a.Logger.Named("chat")))
	if err != nil {
		a.Close()
		return nil, err
	}

	actionDir, err := agent.NewDirectory(agent.TeamAction, a.Registry)
	if err != nil {
		a.Close()
		return nil, err
	}
	actionCfg := engineConfig(cfg.Workflow, actionDir.Team())
	// 决策流程使用团队自身的条数上限
	actionCfg.MaxEvents = actionDir.Team().MaxMessages
	actionEngine, err := engine.New(ctx, cm, actionCfg, engine.WithLogger(a.Logger.Named("engine")), wrapper)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create action engine: %w", err)
	}
	a.Decider, err = chat.NewDecider(actionEngine, actionDir, store, a.Logger.Named("decide"))
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.Monitor, err = newMonitor(cfg.Monitor, store, a.Backends, a.Logger.Named("monitor")); err != nil {
		a.Close()
		return nil, err
	}

	a.Logger.Info("app initialized",
		zap.String("team", chatDir.Team().Name),
		zap.String("mode", string(chatEngine.Config().Mode)),
		zap.Any("tools", a.Registry.Summary(ctx)))
	return a, nil
}

// Close 停止后台任务并释放存储与日志资源，可重复调用。
func (a *AppContext) Close() {
	if a == nil {
		return
	}
	if a.Monitor != nil {
		a.Monitor.Stop()
		if err := a.Monitor.Wait(); err != nil {
			a.Logger.Warn("monitor stopped with error", zap.Error(err))
		}
		a.Monitor = nil
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil && a.Logger != nil {
			a.Logger.Warn("close storage failed", zap.Error(err))
		}
		a.Storage = nil
	}
	if a.ownLogger && a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// NewBackends 根据配置创建后端客户端；创建失败的后端置空，对应分类在注册表中为空。
func NewBackends(cfg *config.Config, logger *zap.Logger) tools.Backends {
	var b tools.Backends
	if p, err := prometheus.NewClient(cfg.Prometheus, logger); err != nil {
		logger.Warn("prometheus client unavailable", zap.Error(err))
	} else {
		b.Prometheus = p
	}
	b.Loki = loki.NewClient(cfg.Loki, logger)
	if k, err := kube.NewClient(cfg.Kubernetes, logger); err != nil {
		logger.Warn("kubernetes client unavailable", zap.Error(err))
	} else {
		b.Kube = k
	}
	return b
}

func newMonitor(cfg monitor.Config, store *storage.Storage, b tools.Backends, logger *zap.Logger) (*monitor.Manager, error) {
	m, err := monitor.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	rc, err := monitor.NewRetentionCollector(store, logger)
	if err != nil {
		return nil, err
	}
	var targets []monitor.Target
	if b.Prometheus != nil {
		targets = append(targets, monitor.Target{Name: "prometheus", Ping: b.Prometheus.Ping})
	}
	if b.Loki != nil {
		targets = append(targets, monitor.Target{Name: "loki", Ping: b.Loki.Ping})
	}
	if b.Kube != nil {
		targets = append(targets, monitor.Target{Name: "kubernetes", Ping: b.Kube.Ping})
	}
	p, err := monitor.NewHealthProber(logger, targets...)
	if err != nil {
		return nil, err
	}
	return m.WithRetention(rc).WithProber(p), nil
}

func engineConfig(w config.WorkflowConfig, team agent.TeamSpec) engine.Config {
	maxEvents := w.MaxMessages
	if maxEvents <= 0 {
		maxEvents = team.MaxMessages
	}
	return engine.Config{
		Mode:              engine.Mode(w.Mode),
		MaxEvents:         maxEvents,
		TerminalKeyword:   w.TerminalKeyword,
		MaxToolIterations: w.MaxToolIterations,
	}
}

func window(c config.ContextConfig) convo.Window {
	return convo.Window{
		HistoryCap:  c.HistoryCap,
		TaskEntries: c.TaskEntries,
		EntryLimit:  c.EntryLimit,
		SkipLimit:   c.SkipLimit,
		FindingsCap: c.FindingsCap,
	}
}
