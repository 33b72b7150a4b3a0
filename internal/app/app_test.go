package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/config"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/loki"
	"github.com/wwwzy/SREAgent/internal/registry"
	"github.com/wwwzy/SREAgent/internal/tools"
)

// directModel 让每个 agent 直接给出带关键字的回答。
type directModel struct{}

func (directModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("The cluster looks healthy. TERMINATE", nil), nil
}

func (m directModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, _ := m.Generate(ctx, in, opts...)
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m directModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Ark.APIKey = "key"
	cfg.Ark.ModelID = "model"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "sreagent.db")
	return &cfg
}

func TestNewWiresComponents(t *testing.T) {
	ctx := context.Background()
	lokiClient := loki.NewClient(loki.Config{Mock: true}, nil)

	a, err := New(ctx, testConfig(t),
		WithLogger(zap.NewNop()),
		WithChatModel(directModel{}),
		WithBackends(tools.Backends{Loki: lokiClient}))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Len(t, a.Registry.Get(registry.CategoryLogs), 3)
	assert.Empty(t, a.Registry.Get(registry.CategoryMetrics))
	assert.Equal(t, agent.TeamChat, a.Chat.Team())

	st := a.Monitor.Prober().ProbeOnce(ctx)
	require.Len(t, st, 1)
	assert.Equal(t, "loki", st[0].Name)
	assert.True(t, st[0].Up)

	reply, err := a.Chat.Chat(ctx, chat.Request{Message: "is the cluster healthy?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.ReasonKeyword, reply.Reason)
	assert.Contains(t, reply.Answer, "healthy")

	runs, err := a.Storage.CountRunRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), runs)
}

func TestNewRejectsUnknownTeam(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.Team = "billing"

	_, err := New(context.Background(), cfg, WithLogger(zap.NewNop()), WithChatModel(directModel{}), WithBackends(tools.Backends{}))
	assert.ErrorContains(t, err, "unknown team")
}

func TestEngineConfigFallsBackToTeamLimit(t *testing.T) {
	team := agent.TeamSpec{Name: "chat", MaxMessages: 20}

	cfg := engineConfig(config.WorkflowConfig{Mode: "team"}, team)
	assert.Equal(t, 20, cfg.MaxEvents)
	assert.Equal(t, engine.ModeTeam, cfg.Mode)

	cfg = engineConfig(config.WorkflowConfig{MaxMessages: 6}, team)
	assert.Equal(t, 6, cfg.MaxEvents)
}
