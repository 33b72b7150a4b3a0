package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/registry"
	"github.com/wwwzy/SREAgent/internal/result"
)

func newDecider(t *testing.T, m *scriptedModel, store RunStore) *Decider {
	t.Helper()
	dir, err := agent.NewDirectory(agent.TeamAction, registry.New(nil))
	require.NoError(t, err)
	eng, err := engine.New(context.Background(), m, engine.Config{MaxEvents: dir.Team().MaxMessages})
	require.NoError(t, err)
	d, err := NewDecider(eng, dir, store, nil)
	require.NoError(t, err)
	return d
}

func TestDecideApproved(t *testing.T) {
	m := newScriptedModel()
	m.script("recommendation_agent", text("Restart deployment web in dry run mode to clear the crash loop."))
	m.script("guard_agent", text("The restart is reversible and limited to a single deployment."))
	m.script("approval_agent", text("DECISION: APPROVED\nCONFIDENCE: 0.85\nTERMINATE"))

	runs := &memoryRuns{}
	d := newDecider(t, m, runs)

	dec, err := d.Decide(context.Background(), Incident{
		EventType: "CrashLoopBackOff",
		Namespace: "shop",
		Resource:  "web",
		EventData: map[string]any{"restarts": 7},
	})
	require.NoError(t, err)
	assert.Equal(t, result.ApprovalApproved, dec.Approval)
	assert.InDelta(t, 0.85, dec.Confidence, 1e-9)
	assert.Equal(t, []string{"recommendation_agent", "guard_agent", "approval_agent"}, dec.Participants)
	assert.NotEmpty(t, dec.TraceID)

	recs := runs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, agent.TeamAction, recs[0].Team)
	assert.Equal(t, dec.TraceID, recs[0].TraceID)
}

func TestDecideModelFailureNeedsHuman(t *testing.T) {
	m := newScriptedModel()
	m.failFor = "recommendation_agent"
	d := newDecider(t, m, nil)

	dec, err := d.Decide(context.Background(), Incident{Namespace: "shop", Resource: "web"})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrModel)
	assert.Equal(t, result.ApprovalRequiresHuman, dec.Approval)
	assert.Equal(t, engine.UserSafeMessage, dec.Reasoning)
}

func TestDecideValidation(t *testing.T) {
	d := newDecider(t, newScriptedModel(), nil)
	_, err := d.Decide(context.Background(), Incident{Namespace: "shop"})
	assert.Error(t, err)
}

func TestIncidentTask(t *testing.T) {
	task, err := incidentTask(Incident{EventType: "OOMKilled", Namespace: "shop", Resource: "cart", EventData: map[string]any{"limit": "512Mi"}})
	require.NoError(t, err)
	assert.Contains(t, task, "Event Type: OOMKilled")
	assert.Contains(t, task, "Namespace: shop")
	assert.Contains(t, task, `Event Data: {"limit":"512Mi"}`)
}
