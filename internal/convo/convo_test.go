package convo

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/SREAgent/internal/engine"
)

func TestBuildTask_EmptyHistory(t *testing.T) {
	w := DefaultWindow()
	task := w.BuildTask("Why is my pod crashing?", NewState())

	assert.Equal(t, 1, strings.Count(task, "Current User Question: Why is my pod crashing?"))
	assert.NotContains(t, task, "Previous Conversation")
	assert.True(t, strings.HasSuffix(task, closingInstruction))
}

func TestBuildTask_NilState(t *testing.T) {
	task := DefaultWindow().BuildTask("hello", nil)
	assert.Equal(t, "Current User Question: hello\n\n"+closingInstruction, task)
}

func TestBuildTask_FiltersAndTruncatesHistory(t *testing.T) {
	w := DefaultWindow()
	st := w.NewState()
	st.AppendExchange(RoleUser, "first question")
	st.AppendExchange(RoleAssistant, "first answer")
	st.AppendExchange(RoleTool, `{"result": 1}`)
	st.AppendExchange(RoleUser, "second question")
	st.AppendExchange(RoleAssistant, strings.Repeat("x", 2500))
	st.AppendExchange(RoleUser, strings.Repeat("y", 400))
	st.AppendExchange(RoleAssistant, "the call had tool_calls inside")

	task := w.BuildTask("third question", st)

	// 最近 4 条过滤后的记录
	want := "Previous Conversation Summary:\n" +
		"USER: second question\n" +
		"ASSISTANT: " + PreviousAnalysisPlaceholder + "\n" +
		"USER: " + strings.Repeat("y", 300) + "...\n" +
		"ASSISTANT: " + PreviousAnalysisPlaceholder + "\n" +
		"\n" +
		"Current User Question: third question\n\n" +
		closingInstruction
	assert.Equal(t, want, task)
}

func TestBuildTask_ContextFields(t *testing.T) {
	w := DefaultWindow()
	st := w.NewState()
	st.SetTarget("payments", "api-7d9f")
	st.AddFinding("memory at limit")

	task := w.BuildTask("still failing?", st)
	assert.Contains(t, task, "Current User Question: still failing?\n\nNamespace: payments\nPod: api-7d9f\n")
	assert.Contains(t, task, "\nPrevious Findings:\nmemory at limit\n")
}

func TestClearTarget(t *testing.T) {
	w := DefaultWindow()
	st := w.NewState()
	st.SetTarget("payments", "api-7d9f")

	// 空值不会覆盖已有目标
	st.SetTarget("", "")
	assert.Equal(t, "payments", st.Snapshot().Namespace)

	st.ClearTarget(true, false)
	snap := st.Snapshot()
	assert.Empty(t, snap.Namespace)
	assert.Equal(t, "api-7d9f", snap.Pod)

	task := w.BuildTask("still failing?", st)
	assert.NotContains(t, task, "Namespace:")
	assert.Contains(t, task, "Pod: api-7d9f\n")
}

func TestAppendExchange_EvictsOldestFirst(t *testing.T) {
	st := DefaultWindow().NewState()
	for i := 0; i < 12; i++ {
		st.AppendExchange(RoleUser, fmt.Sprintf("m%d", i))
	}
	require.Equal(t, 10, st.Len())

	st.AppendExchange(RoleAssistant, "m12")
	history := st.History()
	require.Len(t, history, 10)
	for i, ex := range history {
		assert.Equal(t, fmt.Sprintf("m%d", i+3), ex.Content)
	}
}

func TestAppendExchange_CapHoldsForEveryCall(t *testing.T) {
	for _, limit := range []int{1, 2, 6, 10} {
		st := Window{HistoryCap: limit}.NewState()
		for i := 0; i < 3*limit; i++ {
			st.AppendExchange(RoleUser, fmt.Sprintf("%d", i))
			assert.LessOrEqual(t, st.Len(), limit)

			history := st.History()
			first := i + 1 - len(history)
			for j, ex := range history {
				assert.Equal(t, fmt.Sprintf("%d", first+j), ex.Content)
			}
		}
	}
}

func TestRecord_PrefersSummary(t *testing.T) {
	st := NewState()
	st.Record("q1", "a long answer", "  short summary ")
	st.Record("q2", "plain answer", "")

	history := st.History()
	require.Len(t, history, 4)
	assert.Equal(t, Exchange{Role: RoleAssistant, Content: "short summary", Summary: true}, history[1])
	assert.Equal(t, Exchange{Role: RoleAssistant, Content: "plain answer"}, history[3])
}

func TestAddFinding_Capped(t *testing.T) {
	st := Window{FindingsCap: 2}.NewState()
	st.AddFinding("a")
	st.AddFinding(" ")
	st.AddFinding("b")
	st.AddFinding("c")
	assert.Equal(t, []string{"b", "c"}, st.Snapshot().Findings)
}

func TestClear(t *testing.T) {
	st := NewState()
	st.Record("q", "a", "")
	st.SetTarget("ns", "pod")
	st.AddFinding("f")
	st.Clear()

	snap := st.Snapshot()
	assert.Empty(t, snap.History)
	assert.Empty(t, snap.Namespace)
	assert.Empty(t, snap.Pod)
	assert.Empty(t, snap.Findings)
}

func TestExtractSummary_RoundTrip(t *testing.T) {
	w := DefaultWindow()
	task := w.BuildTask("check api latency", NewState())

	events := []engine.Event{
		{Seq: 1, Source: engine.SourceUser, Kind: engine.KindMessage, Content: task},
		{Seq: 2, Source: "chat_orchestrator", Kind: engine.KindMessage, Content: "Latency is fine.\n[CONTEXT_SUMMARY]\n  api p99 latency 120ms, healthy \n[/CONTEXT_SUMMARY]\nTERMINATE"},
	}
	summary, ok := w.ExtractSummary(events)
	require.True(t, ok)
	assert.Equal(t, "api p99 latency 120ms, healthy", summary)

	_, ok = w.ExtractSummary(events[:1])
	assert.False(t, ok)
}

func TestState_ConcurrentAppend(t *testing.T) {
	st := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				st.AppendExchange(RoleUser, "x")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, DefaultHistoryCap, st.Len())
}
