package monitor

import (
	"time"
)

type ErrorHandler func(err error)

// RetentionConfig 控制审计/运行记录的定期清理。
type RetentionConfig struct {
	// Enabled 控制清理任务是否启用。
	Enabled bool `mapstructure:"enabled"`

	// Interval 为清理周期；启动时会先执行一次。
	Interval time.Duration `mapstructure:"interval"`
	// AuditKeep/RunKeep 为两类记录的保留时长，早于 now-Keep 的记录会被删除。
	AuditKeep time.Duration `mapstructure:"audit_keep"`
	RunKeep   time.Duration `mapstructure:"run_keep"`

	// BatchRows 为单次 DELETE 的最大行数，避免长时间持有 SQLite 写锁。
	BatchRows int `mapstructure:"batch_rows"`
	// IdleSleep 为两批删除之间的停顿，给在线写入让出锁。
	IdleSleep time.Duration `mapstructure:"idle_sleep"`

	OnError ErrorHandler `mapstructure:"-"`
}

// ProbeConfig 控制后端健康探测。
type ProbeConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Interval 为探测周期；Timeout 为单个后端单次探测的超时。
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`

	OnError ErrorHandler `mapstructure:"-"`
}

type Config struct {
	Retention RetentionConfig `mapstructure:"retention"`
	Probe     ProbeConfig     `mapstructure:"probe"`
}

func DefaultConfig() Config {
	return Config{
		Retention: RetentionConfig{
			Enabled:   true,
			Interval:  time.Hour,
			AuditKeep: 7 * 24 * time.Hour,
			RunKeep:   30 * 24 * time.Hour,
			BatchRows: 500,
			IdleSleep: 50 * time.Millisecond,
		},
		Probe: ProbeConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
	}
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	d := DefaultConfig().Retention
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.AuditKeep <= 0 {
		c.AuditKeep = d.AuditKeep
	}
	if c.RunKeep <= 0 {
		c.RunKeep = d.RunKeep
	}
	if c.BatchRows <= 0 {
		c.BatchRows = d.BatchRows
	}
	if c.IdleSleep < 0 {
		c.IdleSleep = 0
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	d := DefaultConfig().Probe
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}
