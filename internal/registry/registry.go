package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/logging"
)

// 能力分类
const (
	CategoryKubernetes = "kubernetes"
	CategoryLogs       = "logs"
	CategoryMetrics    = "metrics"
	CategoryActions    = "actions"
	CategoryValidation = "validation"
)

// DefaultCategories 在注册表创建时即存在（即使为空）。
var DefaultCategories = []string{
	CategoryKubernetes,
	CategoryLogs,
	CategoryMetrics,
	CategoryActions,
	CategoryValidation,
}

// agentCategories 将 agent 类型映射到其可用的能力分类。
// 协调类 agent 不直接使用工具。
var agentCategories = map[string][]string{
	"loki_agent":             {CategoryLogs},
	"loki_query_agent":       {CategoryLogs},
	"log_expert":             {CategoryLogs},
	"prometheus_agent":       {CategoryMetrics},
	"prometheus_query_agent": {CategoryMetrics},
	"metric_analyzer_agent":  {CategoryMetrics},
	"anomaly_detector_agent": {CategoryMetrics},
	"metric_expert":          {CategoryMetrics},
	"triage_agent":           {CategoryKubernetes},
	"analysis_agent":         {CategoryKubernetes},
	"recommendation_agent":   {CategoryActions},
	"guard_agent":            {CategoryValidation},
	"orchestrator_leader":    nil,
	"log_coordinator":        nil,
	"metric_coordinator":     nil,
	"action_coordinator":     nil,
}

// Source 是某个分类的工具来源；Load 失败只影响本分类。
type Source struct {
	Category string
	Load     func(ctx context.Context) ([]tool.InvokableTool, error)
}

// Registry 保存 分类 -> 工具列表 的映射。
// Initialize 之后视为只读，可被多个会话并发读取。
type Registry struct {
	mu         sync.RWMutex
	categories map[string][]tool.InvokableTool
	once       sync.Once
	logger     *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	r := &Registry{
		categories: make(map[string][]tool.InvokableTool, len(DefaultCategories)),
		logger:     logging.OrNop(logger),
	}
	for _, c := range DefaultCategories {
		r.categories[c] = nil
	}
	return r
}

// Initialize 只在第一次调用时加载所有来源，后续调用直接返回。
func (r *Registry) Initialize(ctx context.Context, sources ...Source) {
	r.once.Do(func() {
		for _, src := range sources {
			tools, err := src.Load(ctx)
			if err != nil {
				r.logger.Warn("tool source failed, category skipped",
					zap.String("category", src.Category), zap.Error(err))
				continue
			}
			r.Register(src.Category, tools...)
		}
		r.logger.Info("tool registry initialized", zap.Any("summary", r.counts()))
	})
}

// Register 向分类追加工具；未知分类会被自动创建。
func (r *Registry) Register(category string, tools ...tool.InvokableTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[category] = append(r.categories[category], tools...)
	r.logger.Debug("tools registered",
		zap.String("category", category), zap.Int("count", len(tools)))
}

// Get 按注册顺序返回分类下的工具；未知分类返回空切片。
func (r *Registry) Get(category string) []tool.InvokableTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.categories[category]
	out := make([]tool.InvokableTool, len(src))
	copy(out, src)
	return out
}

// GetForAgent 通过静态表拼接 agent 类型对应的所有分类工具。
func (r *Registry) GetForAgent(kind string) []tool.InvokableTool {
	var out []tool.InvokableTool
	for _, c := range CategoriesFor(kind) {
		out = append(out, r.Get(c)...)
	}
	if out == nil {
		out = []tool.InvokableTool{}
	}
	return out
}

// CategoriesFor 返回 agent 类型绑定的分类。
func CategoriesFor(kind string) []string {
	return agentCategories[kind]
}

func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.categories))
	for c := range r.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// All 返回全部工具，按分类名排序后再按注册顺序。
func (r *Registry) All() []tool.InvokableTool {
	var out []tool.InvokableTool
	for _, c := range r.Categories() {
		out = append(out, r.Get(c)...)
	}
	return out
}

// Lookup 按工具名查找。
func (r *Registry) Lookup(ctx context.Context, name string) (tool.InvokableTool, bool) {
	for _, t := range r.All() {
		info, err := t.Info(ctx)
		if err != nil || info == nil {
			continue
		}
		if info.Name == name {
			return t, true
		}
	}
	return nil, false
}

// CategorySummary 描述一个分类的注册情况。
type CategorySummary struct {
	Category string
	Count    int
	Tools    []string
}

func (r *Registry) Summary(ctx context.Context) []CategorySummary {
	var out []CategorySummary
	for _, c := range r.Categories() {
		tools := r.Get(c)
		s := CategorySummary{Category: c, Count: len(tools)}
		for _, t := range tools {
			name := "unknown"
			if info, err := t.Info(ctx); err == nil && info != nil {
				name = info.Name
			}
			s.Tools = append(s.Tools, name)
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.categories))
	for c, tools := range r.categories {
		out[c] = len(tools)
	}
	return out
}

// String 便于日志输出。
func (s CategorySummary) String() string {
	return fmt.Sprintf("%s(%d)", s.Category, s.Count)
}
