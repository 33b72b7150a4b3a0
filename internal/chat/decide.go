package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/logging"
	"github.com/wwwzy/SREAgent/internal/metrics"
	"github.com/wwwzy/SREAgent/internal/result"
	"github.com/wwwzy/SREAgent/internal/storage"
)

// Incident 是需要给出处置结论的集群事件。
type Incident struct {
	EventType string         `json:"event_type"`
	Namespace string         `json:"namespace"`
	Resource  string         `json:"resource_name"`
	EventData map[string]any `json:"event_data,omitempty"`
}

type Decision struct {
	TraceID      string   `json:"correlation_id"`
	Approval     string   `json:"decision"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	Participants []string `json:"participants"`
}

// Decider 用 action 团队对单个事件做一次性决策，不保留会话状态。
type Decider struct {
	engine    *engine.Engine
	directory *agent.Directory
	store     RunStore
	logger    *zap.Logger
}

func NewDecider(eng *engine.Engine, dir *agent.Directory, store RunStore, logger *zap.Logger) (*Decider, error) {
	if eng == nil || dir == nil {
		return nil, errors.New("engine and directory are required")
	}
	return &Decider{engine: eng, directory: dir, store: store, logger: logging.OrNop(logger)}, nil
}

func (d *Decider) Decide(ctx context.Context, inc Incident) (*Decision, error) {
	if strings.TrimSpace(inc.Namespace) == "" || strings.TrimSpace(inc.Resource) == "" {
		return nil, errors.New("namespace and resource_name are required")
	}
	task, err := incidentTask(inc)
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	ctx = agent.WithTraceID(ctx, traceID)
	log := d.logger.With(zap.String("trace_id", traceID), zap.String("namespace", inc.Namespace), zap.String("resource", inc.Resource))

	team := d.directory.Team().Name
	mode := string(d.engine.Config().Mode)

	started := time.Now()
	res, runErr := d.engine.Run(ctx, task, d.directory.GetAll(), nil)
	elapsed := time.Since(started)

	metrics.RunsTotal.WithLabelValues(team, mode, string(res.Reason)).Inc()
	metrics.RunDuration.WithLabelValues(team).Observe(elapsed.Seconds())
	metrics.RunEvents.WithLabelValues(team).Observe(float64(len(res.Events)))

	out := &Decision{TraceID: traceID, Participants: result.Participants(res.Events)}
	if runErr != nil || res.Reason == engine.ReasonCancelled {
		// 运行失败时交给人工
		out.Approval = result.ApprovalRequiresHuman
		out.Reasoning = engine.UserSafeMessage
		if runErr == nil {
			runErr = res.Err
		}
		log.Error("decision run failed", zap.Error(runErr))
	} else {
		dec := result.ExtractDecision(res.Events)
		out.Approval = dec.Approval
		out.Confidence = dec.Confidence
		out.Reasoning = dec.Reasoning
		log.Info("decision made", zap.String("decision", out.Approval), zap.Float64("confidence", out.Confidence), zap.Duration("elapsed", elapsed))
	}

	if d.store != nil {
		rec := &storage.RunRecord{
			TraceID:       traceID,
			Team:          team,
			Mode:          mode,
			Reason:        string(res.Reason),
			Participants:  strings.Join(out.Participants, ","),
			EventCount:    len(res.Events),
			QuestionChars: len(task),
			AnswerChars:   len(out.Reasoning),
			ErrorMessage:  errorText(res.Err),
			StartedAt:     started.UTC(),
			FinishedAt:    started.Add(elapsed).UTC(),
		}
		if err := d.store.InsertRunRecord(context.WithoutCancel(ctx), rec); err != nil {
			log.Warn("insert run record failed", zap.Error(err))
		}
	}

	return out, runErr
}

func incidentTask(inc Incident) (string, error) {
	data := "{}"
	if len(inc.EventData) > 0 {
		raw, err := json.Marshal(inc.EventData)
		if err != nil {
			return "", fmt.Errorf("encode event data: %w", err)
		}
		data = string(raw)
	}
	var b strings.Builder
	b.WriteString("Kubernetes Incident Detected:\n\n")
	if inc.EventType != "" {
		fmt.Fprintf(&b, "Event Type: %s\n", inc.EventType)
	}
	fmt.Fprintf(&b, "Namespace: %s\nResource: %s\nEvent Data: %s\n\n", inc.Namespace, inc.Resource, data)
	b.WriteString("Please analyze this incident and recommend appropriate actions.")
	return b.String(), nil
}
