package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Manager 统一启动与停止后台任务（记录清理与后端探测）。
type Manager struct {
	cfg Config

	retention *RetentionCollector
	prober    *HealthProber

	started atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	runErrMu sync.Mutex
	runErr   error
}

func NewManager(cfg Config) (*Manager, error) {
	cfg.Retention = cfg.Retention.withDefaults()
	cfg.Probe = cfg.Probe.withDefaults()
	return &Manager{cfg: cfg}, nil
}

func (m *Manager) WithRetention(c *RetentionCollector) *Manager {
	if m == nil {
		return nil
	}
	m.retention = c
	if m.retention != nil {
		m.retention.cfg = m.cfg.Retention
	}
	return m
}

func (m *Manager) WithProber(p *HealthProber) *Manager {
	if m == nil {
		return nil
	}
	m.prober = p
	if m.prober != nil {
		m.prober.cfg = m.cfg.Probe
	}
	return m
}

// Prober 返回探测器，未配置时为 nil。
func (m *Manager) Prober() *HealthProber {
	if m == nil {
		return nil
	}
	return m.prober
}

func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.cfg.Retention.Enabled {
		if m.retention == nil {
			m.cancel()
			return errors.New("retention collector is required when retention enabled")
		}
		m.spawn(runCtx, m.retention.Run)
	}

	if m.cfg.Probe.Enabled {
		if m.prober == nil {
			m.cancel()
			return errors.New("health prober is required when probe enabled")
		}
		m.spawn(runCtx, m.prober.Run)
	}

	return nil
}

// spawn 运行后台任务；第一个非取消错误会停止全部任务并由 Wait 返回。
func (m *Manager) spawn(ctx context.Context, run func(context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.runErrMu.Lock()
			if m.runErr == nil {
				m.runErr = err
			}
			m.runErrMu.Unlock()
			m.cancel()
		}
	}()
}

func (m *Manager) Stop() {
	if m == nil || m.cancel == nil {
		return
	}
	m.cancel()
}

func (m *Manager) Wait() error {
	if m == nil {
		return nil
	}
	m.wg.Wait()
	m.runErrMu.Lock()
	defer m.runErrMu.Unlock()
	return m.runErr
}
