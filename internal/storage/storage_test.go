package storage

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sreagent.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestDSNFromConfig(t *testing.T) {
	dsn, err := dsnFromConfig(Config{Path: "/var/lib/sreagent/sreagent.db", EnableWAL: true, BusyTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse dsn %q: %v", dsn, err)
	}
	want := []string{"busy_timeout(2000)", "journal_mode(WAL)", "synchronous(NORMAL)"}
	got := u.Query()["_pragma"]
	if len(got) != len(want) {
		t.Fatalf("pragmas = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pragma[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// 内存库不启用 WAL
	dsn, err = dsnFromConfig(Config{InMemory: true, EnableWAL: true})
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	u, _ = url.Parse(dsn)
	if u.Opaque != "sreagent" || u.Query().Get("mode") != "memory" {
		t.Fatalf("unexpected memory dsn %q", dsn)
	}
	if pragmas := u.Query()["_pragma"]; len(pragmas) != 1 || pragmas[0] != "busy_timeout(5000)" {
		t.Fatalf("memory pragmas = %v", pragmas)
	}
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(context.Background(), Config{InMemory: true, Path: "storage_test_mem"})
	if err != nil {
		t.Fatalf("open in-memory storage: %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestAuditInsertQueryUpdate(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := AuditRecord{
		TraceID:    "trace-1",
		SessionID:  "session-1",
		Agent:      "metric_analyst",
		Action:     "query_multiple_metrics",
		ParamsJSON: `{"metric_names":["up"]}`,
		Status:     "running",
		StartedAt:  time.Now().Add(-1 * time.Second).UTC(),
	}
	if err := s.InsertAuditRecord(ctx, &rec); err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected audit id to be set")
	}

	got, err := s.QueryAuditRecords(ctx, AuditQuery{TraceID: "trace-1", Limit: 10})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(got))
	}
	if got[0].Status != "running" || got[0].Agent != "metric_analyst" {
		t.Fatalf("unexpected record: status=%s agent=%s", got[0].Status, got[0].Agent)
	}

	status := "success"
	result := `{"ok":true}`
	finished := time.Now().UTC()
	if err := s.UpdateAuditRecord(ctx, rec.ID, AuditUpdate{
		Status:     &status,
		ResultJSON: &result,
		FinishedAt: &finished,
	}); err != nil {
		t.Fatalf("update audit: %v", err)
	}

	got2, err := s.QueryAuditRecords(ctx, AuditQuery{SessionID: "session-1", Agent: "metric_analyst", Limit: 10})
	if err != nil {
		t.Fatalf("query audit after update: %v", err)
	}
	if len(got2) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(got2))
	}
	if got2[0].Status != "success" || got2[0].ResultJSON != result {
		t.Fatalf("unexpected updated record: status=%s result=%s", got2[0].Status, got2[0].ResultJSON)
	}

	none, err := s.QueryAuditRecords(ctx, AuditQuery{Agent: "log_analyst"})
	if err != nil {
		t.Fatalf("query other agent: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no records for other agent, got %d", len(none))
	}
}

func TestUpdateAuditRecordNotFound(t *testing.T) {
	s := openTestStorage(t)

	status := "failed"
	err := s.UpdateAuditRecord(context.Background(), 42, AuditUpdate{Status: &status})
	if !IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := s.UpdateAuditRecord(context.Background(), 42, AuditUpdate{}); err != nil {
		t.Fatalf("empty update should be a no-op, got %v", err)
	}
}

func TestRunRecordInsertQuery(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	recs := []RunRecord{
		{TraceID: "t1", SessionID: "s1", Team: "chat", Mode: "swarm", Reason: "keyword", Participants: "chat_orchestrator,metric_analyst", EventCount: 7, CreatedAt: base},
		{TraceID: "t2", SessionID: "s1", Team: "chat", Mode: "swarm", Reason: "max_turns", EventCount: 20, CreatedAt: base.Add(time.Minute)},
		{TraceID: "t3", SessionID: "s2", Team: "log", Mode: "team", Reason: "error", ErrorMessage: "model unavailable", CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range recs {
		if err := s.InsertRunRecord(ctx, &recs[i]); err != nil {
			t.Fatalf("insert run %d: %v", i, err)
		}
	}

	if err := s.InsertRunRecord(ctx, &RunRecord{TraceID: "t1", Team: "chat", Mode: "swarm", Reason: "keyword"}); err == nil {
		t.Fatalf("expected duplicate trace id to fail")
	}
	if err := s.InsertRunRecord(ctx, &RunRecord{Team: "chat"}); err == nil {
		t.Fatalf("expected empty trace id to fail")
	}

	got, err := s.QueryRunRecords(ctx, RunQuery{SessionID: "s1", Desc: true})
	if err != nil {
		t.Fatalf("query runs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}
	if got[0].TraceID != "t2" || got[1].TraceID != "t1" {
		t.Fatalf("unexpected order: %s, %s", got[0].TraceID, got[1].TraceID)
	}

	failed, err := s.QueryRunRecords(ctx, RunQuery{Reason: "error"})
	if err != nil {
		t.Fatalf("query failed runs: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "model unavailable" {
		t.Fatalf("unexpected failed runs: %+v", failed)
	}
}

func TestRetentionDeletesInBatches(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)
	for i := 0; i < 5; i++ {
		if err := s.InsertAuditRecord(ctx, &AuditRecord{Action: "get_pod_status", Status: "success", CreatedAt: old}); err != nil {
			t.Fatalf("insert old audit: %v", err)
		}
	}
	if err := s.InsertAuditRecord(ctx, &AuditRecord{Action: "get_pod_status", Status: "success", CreatedAt: now}); err != nil {
		t.Fatalf("insert new audit: %v", err)
	}
	if err := s.InsertRunRecord(ctx, &RunRecord{TraceID: "old", Team: "chat", Mode: "swarm", Reason: "keyword", CreatedAt: old}); err != nil {
		t.Fatalf("insert old run: %v", err)
	}
	if err := s.InsertRunRecord(ctx, &RunRecord{TraceID: "new", Team: "chat", Mode: "swarm", Reason: "keyword", CreatedAt: now}); err != nil {
		t.Fatalf("insert new run: %v", err)
	}

	cut := now.Add(-24 * time.Hour)
	var deleted int64
	rounds := 0
	for {
		aff, err := s.DeleteAuditRecordsBeforeLimited(ctx, cut, 2)
		if err != nil {
			t.Fatalf("delete audits: %v", err)
		}
		if aff == 0 {
			break
		}
		deleted += aff
		rounds++
	}
	if deleted != 5 || rounds != 3 {
		t.Fatalf("expected 5 audits deleted in 3 rounds, got %d in %d", deleted, rounds)
	}

	aff, err := s.DeleteRunRecordsBeforeLimited(ctx, cut, 0)
	if err != nil {
		t.Fatalf("delete runs: %v", err)
	}
	if aff != 1 {
		t.Fatalf("expected 1 run deleted, got %d", aff)
	}

	audits, err := s.QueryAuditRecords(ctx, AuditQuery{})
	if err != nil {
		t.Fatalf("query audits: %v", err)
	}
	runs, err := s.QueryRunRecords(ctx, RunQuery{})
	if err != nil {
		t.Fatalf("query runs: %v", err)
	}
	if len(audits) != 1 || len(runs) != 1 || runs[0].TraceID != "new" {
		t.Fatalf("unexpected remaining rows: audits=%d runs=%d", len(audits), len(runs))
	}
}

func TestCountRecords(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.InsertAuditRecord(ctx, &AuditRecord{Action: "get_targets", Status: "success"}); err != nil {
			t.Fatalf("insert audit: %v", err)
		}
	}
	if err := s.InsertRunRecord(ctx, &RunRecord{TraceID: "t1", Team: "chat", Mode: "swarm", Reason: "keyword"}); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	audits, err := s.CountAuditRecords(ctx)
	if err != nil {
		t.Fatalf("count audits: %v", err)
	}
	runs, err := s.CountRunRecords(ctx)
	if err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if audits != 3 || runs != 1 {
		t.Fatalf("unexpected counts: audits=%d runs=%d", audits, runs)
	}
}
