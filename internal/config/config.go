package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wwwzy/SREAgent/internal/kube"
	"github.com/wwwzy/SREAgent/internal/logging"
	"github.com/wwwzy/SREAgent/internal/loki"
	"github.com/wwwzy/SREAgent/internal/monitor"
	"github.com/wwwzy/SREAgent/internal/prometheus"
	"github.com/wwwzy/SREAgent/internal/storage"
)

type ArkConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	ModelID     string        `mapstructure:"model_id"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WorkflowConfig 控制一次运行的调度与终止条件。
type WorkflowConfig struct {
	// Team 为使用的团队（chat/metric/log/action）
	Team string `mapstructure:"team"`
	// Mode 为 swarm 或 team
	Mode string `mapstructure:"mode"`
	// MaxMessages 为 0 时使用团队自身的上限
	MaxMessages       int    `mapstructure:"max_messages"`
	TerminalKeyword   string `mapstructure:"terminal_keyword"`
	MaxToolIterations int    `mapstructure:"max_tool_iterations"`
}

// ContextConfig 为会话历史裁剪参数，与 convo.Window 一一对应。
type ContextConfig struct {
	HistoryCap  int `mapstructure:"history_cap"`
	TaskEntries int `mapstructure:"task_entries"`
	EntryLimit  int `mapstructure:"entry_limit"`
	SkipLimit   int `mapstructure:"skip_limit"`
	FindingsCap int `mapstructure:"findings_cap"`
}

type SessionsConfig struct {
	MaxSessions int `mapstructure:"max_sessions"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Config struct {
	Ark        ArkConfig         `mapstructure:"ark"`
	Prometheus prometheus.Config `mapstructure:"prometheus"`
	Loki       loki.Config       `mapstructure:"loki"`
	Kubernetes kube.Config       `mapstructure:"kubernetes"`
	Workflow   WorkflowConfig    `mapstructure:"workflow"`
	Context    ContextConfig     `mapstructure:"context"`
	Sessions   SessionsConfig    `mapstructure:"sessions"`
	Server     ServerConfig      `mapstructure:"server"`
	Storage    storage.Config    `mapstructure:"storage"`
	Monitor    monitor.Config    `mapstructure:"monitor"`
	Log        logging.Config    `mapstructure:"log"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sreagent")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// SREAGENT_PROMETHEUS_URL -> prometheus.url
	v.SetEnvPrefix("SREAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只认识已知的 key，默认值必须全部注册，环境变量才能覆盖
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Ark.APIKey == "" {
		return fmt.Errorf("ark.api_key is required (or set ARK_API_KEY env var)")
	}
	if c.Ark.ModelID == "" {
		return fmt.Errorf("ark.model_id is required (or set ARK_MODEL_ID env var)")
	}
	switch c.Workflow.Mode {
	case "", "swarm", "team":
	default:
		return fmt.Errorf("workflow.mode must be swarm or team, got %q", c.Workflow.Mode)
	}
	if c.Workflow.MaxMessages < 0 {
		return fmt.Errorf("workflow.max_messages must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", d.Ark.BaseURL)
	v.SetDefault("ark.temperature", d.Ark.Temperature)
	v.SetDefault("ark.max_tokens", d.Ark.MaxTokens)
	v.SetDefault("ark.timeout", d.Ark.Timeout)

	_ = v.BindEnv("ark.api_key", "ARK_API_KEY")
	_ = v.BindEnv("ark.model_id", "ARK_MODEL_ID")
	_ = v.BindEnv("ark.base_url", "ARK_BASE_URL")

	v.SetDefault("prometheus.url", d.Prometheus.URL)
	v.SetDefault("prometheus.timeout", d.Prometheus.Timeout)

	v.SetDefault("loki.url", d.Loki.URL)
	v.SetDefault("loki.timeout", d.Loki.Timeout)
	v.SetDefault("loki.mock", d.Loki.Mock)

	v.SetDefault("kubernetes.kubeconfig", "")
	v.SetDefault("kubernetes.in_cluster", d.Kubernetes.InCluster)
	v.SetDefault("kubernetes.namespace", d.Kubernetes.Namespace)

	v.SetDefault("workflow.team", d.Workflow.Team)
	v.SetDefault("workflow.mode", d.Workflow.Mode)
	v.SetDefault("workflow.max_messages", d.Workflow.MaxMessages)
	v.SetDefault("workflow.terminal_keyword", d.Workflow.TerminalKeyword)
	v.SetDefault("workflow.max_tool_iterations", d.Workflow.MaxToolIterations)

	v.SetDefault("context.history_cap", d.Context.HistoryCap)
	v.SetDefault("context.task_entries", d.Context.TaskEntries)
	v.SetDefault("context.entry_limit", d.Context.EntryLimit)
	v.SetDefault("context.skip_limit", d.Context.SkipLimit)
	v.SetDefault("context.findings_cap", d.Context.FindingsCap)

	v.SetDefault("sessions.max_sessions", d.Sessions.MaxSessions)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.max_open_conns", 0)
	v.SetDefault("storage.max_idle_conns", 0)
	v.SetDefault("storage.conn_max_lifetime", time.Duration(0))
	v.SetDefault("storage.slow_query", d.Storage.SlowQuery)

	v.SetDefault("monitor.retention.enabled", d.Monitor.Retention.Enabled)
	v.SetDefault("monitor.retention.interval", d.Monitor.Retention.Interval)
	v.SetDefault("monitor.retention.audit_keep", d.Monitor.Retention.AuditKeep)
	v.SetDefault("monitor.retention.run_keep", d.Monitor.Retention.RunKeep)
	v.SetDefault("monitor.retention.batch_rows", d.Monitor.Retention.BatchRows)
	v.SetDefault("monitor.retention.idle_sleep", d.Monitor.Retention.IdleSleep)
	v.SetDefault("monitor.probe.enabled", d.Monitor.Probe.Enabled)
	v.SetDefault("monitor.probe.interval", d.Monitor.Probe.Interval)
	v.SetDefault("monitor.probe.timeout", d.Monitor.Probe.Timeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)
}

func DefaultConfig() Config {
	return Config{
		Ark: ArkConfig{
			BaseURL:     "https://ark.cn-beijing.volces.com/api/v3",
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     2 * time.Minute,
		},
		Prometheus: prometheus.Config{
			URL:     "http://localhost:9090",
			Timeout: 30 * time.Second,
		},
		Loki: loki.Config{
			URL:     "http://localhost:3100",
			Timeout: 30 * time.Second,
		},
		Kubernetes: kube.Config{
			Namespace: "default",
		},
		Workflow: WorkflowConfig{
			Team:              "chat",
			Mode:              "swarm",
			TerminalKeyword:   "TERMINATE",
			MaxToolIterations: 5,
		},
		Context: ContextConfig{
			HistoryCap:  10,
			TaskEntries: 4,
			EntryLimit:  300,
			SkipLimit:   2000,
			FindingsCap: 3,
		},
		Sessions: SessionsConfig{MaxSessions: 1000},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Storage: storage.Config{
			Path:        "sreagent.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
			SlowQuery:   500 * time.Millisecond,
		},
		Monitor: monitor.DefaultConfig(),
		Log:     logging.DefaultConfig(),
	}
}
