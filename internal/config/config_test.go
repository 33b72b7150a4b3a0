package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/SREAgent/internal/monitor"
)

func TestLoad_Defaults(t *testing.T) {
	// 设置必填环境变量，绕过 Validate 检查
	t.Setenv("ARK_API_KEY", "dummy-key")
	t.Setenv("ARK_MODEL_ID", "dummy-model")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "dummy-key", cfg.Ark.APIKey)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sreagent.db", cfg.Storage.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.Storage.SlowQuery)
	assert.Equal(t, "chat", cfg.Workflow.Team)
	assert.Equal(t, "swarm", cfg.Workflow.Mode)
	assert.Equal(t, "TERMINATE", cfg.Workflow.TerminalKeyword)
	assert.Equal(t, 10, cfg.Context.HistoryCap)
	assert.Equal(t, 1000, cfg.Sessions.MaxSessions)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:9090", cfg.Prometheus.URL)
	assert.Equal(t, 7*24*time.Hour, cfg.Monitor.Retention.AuditKeep)
	assert.True(t, cfg.Monitor.Probe.Enabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	content := []byte(`
ark:
  api_key: "file-key"
  model_id: "file-model"
  temperature: 0.5
prometheus:
  url: "http://prometheus.monitoring:9090"
loki:
  mock: true
kubernetes:
  namespace: "payments"
workflow:
  team: "log"
  mode: "team"
  max_messages: 8
context:
  history_cap: 4
storage:
  path: "test.db"
  busy_timeout: "10s"
monitor:
  retention:
    audit_keep: "48h"
  probe:
    enabled: false
log:
  level: "debug"
`)
	require.NoError(t, os.WriteFile(configFile, content, 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.Ark.APIKey)
	assert.InDelta(t, 0.5, float64(cfg.Ark.Temperature), 1e-6)
	assert.Equal(t, "http://prometheus.monitoring:9090", cfg.Prometheus.URL)
	assert.True(t, cfg.Loki.Mock)
	assert.Equal(t, "payments", cfg.Kubernetes.Namespace)
	assert.Equal(t, "log", cfg.Workflow.Team)
	assert.Equal(t, "team", cfg.Workflow.Mode)
	assert.Equal(t, 8, cfg.Workflow.MaxMessages)
	assert.Equal(t, 4, cfg.Context.HistoryCap)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 4, cfg.Context.TaskEntries)
	assert.Equal(t, "test.db", cfg.Storage.Path)
	assert.Equal(t, 10*time.Second, cfg.Storage.BusyTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Monitor.Retention.AuditKeep)
	assert.False(t, cfg.Monitor.Probe.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ARK_API_KEY", "env-key")
	t.Setenv("ARK_MODEL_ID", "env-model")
	t.Setenv("SREAGENT_PROMETHEUS_URL", "http://env-prometheus:9090")
	t.Setenv("SREAGENT_WORKFLOW_MAX_MESSAGES", "12")
	t.Setenv("SREAGENT_LOG_LEVEL", "warn")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Ark.APIKey)
	assert.Equal(t, "env-model", cfg.Ark.ModelID)
	assert.Equal(t, "http://env-prometheus:9090", cfg.Prometheus.URL)
	assert.Equal(t, 12, cfg.Workflow.MaxMessages)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("ARK_API_KEY", "dummy-key")
	t.Setenv("ARK_MODEL_ID", "dummy-model")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sreagent.db", cfg.Storage.Path)
	assert.Equal(t, monitor.DefaultConfig().Retention.Interval, cfg.Monitor.Retention.Interval)
	assert.Equal(t, 5, cfg.Workflow.MaxToolIterations)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorContains(t, cfg.Validate(), "ark.api_key")

	cfg.Ark.APIKey = "key"
	assert.ErrorContains(t, cfg.Validate(), "ark.model_id")

	cfg.Ark.ModelID = "model"
	assert.NoError(t, cfg.Validate())

	cfg.Workflow.Mode = "roundrobin"
	assert.ErrorContains(t, cfg.Validate(), "workflow.mode")

	cfg.Workflow.Mode = "team"
	cfg.Workflow.MaxMessages = -1
	assert.ErrorContains(t, cfg.Validate(), "max_messages")
}
