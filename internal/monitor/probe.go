package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wwwzy/SREAgent/internal/logging"
	"github.com/wwwzy/SREAgent/internal/metrics"
)

// Target 为一个被探测的后端，Ping 返回 nil 表示可达。
type Target struct {
	Name string
	Ping func(ctx context.Context) error
}

// BackendStatus 为某个后端最近一次探测的结果。
type BackendStatus struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthProber 周期性探测后端并更新 sreagent_backend_up。
type HealthProber struct {
	cfg ProbeConfig

	targets []Target
	logger  *zap.Logger

	mu     sync.RWMutex
	status map[string]BackendStatus
}

func NewHealthProber(logger *zap.Logger, targets ...Target) (*HealthProber, error) {
	for _, t := range targets {
		if t.Name == "" || t.Ping == nil {
			return nil, fmt.Errorf("invalid probe target %q", t.Name)
		}
	}
	return &HealthProber{
		targets: targets,
		logger:  logging.OrNop(logger),
		status:  make(map[string]BackendStatus, len(targets)),
	}, nil
}

func (p *HealthProber) Run(ctx context.Context) error {
	if p == nil {
		return errors.New("health prober not initialized")
	}
	p.cfg = p.cfg.withDefaults()

	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce 并发探测全部后端；单个后端失败不影响其他后端。
func (p *HealthProber) ProbeOnce(ctx context.Context) []BackendStatus {
	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Probe.Timeout
	}

	results := make([]BackendStatus, len(p.targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range p.targets {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			err := t.Ping(pctx)
			st := BackendStatus{Name: t.Name, Up: err == nil, CheckedAt: time.Now().UTC()}
			if err != nil {
				st.Error = err.Error()
				if p.cfg.OnError != nil {
					p.cfg.OnError(fmt.Errorf("probe %s: %w", t.Name, err))
				}
			}
			results[i] = st
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range results {
		prev, seen := p.status[st.Name]
		if !seen || prev.Up != st.Up {
			if st.Up {
				p.logger.Info("backend reachable", zap.String("backend", st.Name))
			} else {
				p.logger.Warn("backend unreachable", zap.String("backend", st.Name), zap.String("error", st.Error))
			}
		}
		p.status[st.Name] = st
		up := 0.0
		if st.Up {
			up = 1
		}
		metrics.BackendUp.WithLabelValues(st.Name).Set(up)
	}
	return results
}

// Status 返回最近一次探测结果，按名称排序。
func (p *HealthProber) Status() []BackendStatus {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]BackendStatus, 0, len(p.status))
	for _, st := range p.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
