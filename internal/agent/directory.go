package agent

import (
	"errors"
	"fmt"

	"github.com/wwwzy/SREAgent/internal/registry"
)

// 对话团队中的 agent 名称
const (
	ChatOrchestrator  = "chat_orchestrator"
	MetricExpert      = "metric_expert"
	LogExpert         = "log_expert"
	AnalysisAgent     = "analysis_agent"
	ReportAgent       = "report_agent"
	PresentationAgent = "presentation_agent"
)

// 团队名称
const (
	TeamChat   = "chat"
	TeamMetric = "metric"
	TeamLog    = "log"
	TeamAction = "action"
)

// Spec 是静态声明的一行：agent 名称、能力分类、描述与允许的交接边。
type Spec struct {
	Name        string
	Category    string
	Description string
	Handoffs    []Handoff
}

// TeamSpec 声明一个团队：成员（声明顺序即轮转顺序）与默认的消息上限。
type TeamSpec struct {
	Name        string
	Agents      []Spec
	MaxMessages int
}

// ErrUnknownAgent 表示在静态表中找不到该 agent。
var ErrUnknownAgent = errors.New("unknown agent")

// Teams 是进程启动时声明的静态表，运行期只读。
// 交接图允许出现环（例如 metric_expert <-> log_expert），终止由引擎的条数/关键字条件保证。
var Teams = map[string]TeamSpec{
	TeamChat: {
		Name:        TeamChat,
		MaxMessages: 20,
		Agents: []Spec{
			{
				Name:        ChatOrchestrator,
				Description: "Conversation router. Understand the user's intent, engage the right experts and answer the user directly when no expert is needed. After your final answer add a compact summary of this exchange between [CONTEXT_SUMMARY] and [/CONTEXT_SUMMARY].",
				Handoffs: []Handoff{
					{Target: MetricExpert, Description: "Hand off to metric expert for Prometheus queries and resource analysis"},
					{Target: LogExpert, Description: "Hand off to log expert for Loki queries and log analysis"},
					{Target: AnalysisAgent, Description: "Hand off to analysis agent for comprehensive root cause analysis"},
					{Target: ReportAgent, Description: "Hand off to report agent when user requests a report or summary"},
					{Target: PresentationAgent, Description: "Hand off to presentation agent to format technical data into beautiful markdown"},
				},
			},
			{
				Name:        MetricExpert,
				Category:    registry.CategoryMetrics,
				Description: "Prometheus specialist. Query CPU, memory, disk and availability metrics and explain what they show.",
				Handoffs: []Handoff{
					{Target: ChatOrchestrator, Description: "Return to orchestrator with metric findings"},
					{Target: LogExpert, Description: "Hand off to log expert if logs are needed to explain metrics"},
				},
			},
			{
				Name:        LogExpert,
				Category:    registry.CategoryLogs,
				Description: "Loki specialist. Search pod and application logs for errors, exceptions and recurring patterns.",
				Handoffs: []Handoff{
					{Target: ChatOrchestrator, Description: "Return to orchestrator with log findings"},
					{Target: MetricExpert, Description: "Hand off to metric expert if metrics context is needed"},
				},
			},
			{
				Name:        AnalysisAgent,
				Category:    registry.CategoryKubernetes,
				Description: "Root cause analyst. Correlate metric, log and cluster findings into a diagnosis with evidence.",
				Handoffs: []Handoff{
					{Target: ChatOrchestrator, Description: "Return to orchestrator with analysis results"},
					{Target: MetricExpert, Description: "Request additional metrics if needed for analysis"},
					{Target: LogExpert, Description: "Request additional logs if needed for analysis"},
				},
			},
			{
				Name:        ReportAgent,
				Description: "Report writer. Turn the findings of this conversation into a structured incident report.",
				Handoffs: []Handoff{
					{Target: ChatOrchestrator, Description: "Return to orchestrator with generated report"},
				},
			},
			{
				Name:        PresentationAgent,
				Description: "Presentation specialist. Format technical data from other agents as readable markdown.",
				Handoffs: []Handoff{
					{Target: ChatOrchestrator, Description: "Return to orchestrator with beautifully formatted response"},
				},
			},
		},
	},
	TeamMetric: {
		Name:        TeamMetric,
		MaxMessages: 20,
		Agents: []Spec{
			{
				Name:        "prometheus_query_agent",
				Category:    registry.CategoryMetrics,
				Description: "Run Prometheus queries for the requested resources.",
				Handoffs:    []Handoff{{Target: "metric_analyzer_agent", Description: "Hand off raw metrics for analysis"}},
			},
			{
				Name:        "metric_analyzer_agent",
				Description: "Interpret metric series and describe trends.",
				Handoffs: []Handoff{
					{Target: "prometheus_query_agent", Description: "Request more metrics"},
					{Target: "anomaly_detector_agent", Description: "Hand off trends for anomaly detection"},
				},
			},
			{
				Name:        "anomaly_detector_agent",
				Description: "Flag anomalous values and explain their severity.",
				Handoffs:    []Handoff{{Target: "metric_analyzer_agent", Description: "Return anomalies to the analyzer"}},
			},
		},
	},
	TeamLog: {
		Name:        TeamLog,
		MaxMessages: 15,
		Agents: []Spec{
			{
				Name:        "loki_query_agent",
				Category:    registry.CategoryLogs,
				Description: "Query Loki for the relevant log streams.",
				Handoffs: []Handoff{
					{Target: "log_summarizer_agent", Description: "Hand off logs for summarization"},
					{Target: "log_pattern_agent", Description: "Hand off logs for pattern detection"},
				},
			},
			{
				Name:        "log_summarizer_agent",
				Description: "Summarize log findings.",
				Handoffs: []Handoff{
					{Target: "loki_query_agent", Description: "Request more logs"},
					{Target: "log_pattern_agent", Description: "Hand off for pattern detection"},
				},
			},
			{
				Name:        "log_pattern_agent",
				Description: "Detect recurring error patterns in logs.",
				Handoffs:    []Handoff{{Target: "log_summarizer_agent", Description: "Return patterns to the summarizer"}},
			},
		},
	},
	TeamAction: {
		Name:        TeamAction,
		MaxMessages: 10,
		Agents: []Spec{
			{
				Name:        "recommendation_agent",
				Category:    registry.CategoryActions,
				Description: "Suggest remediation actions for the findings. Use dry runs only.",
				Handoffs:    []Handoff{{Target: "guard_agent", Description: "Hand off recommendations for safety validation"}},
			},
			{
				Name:        "guard_agent",
				Category:    registry.CategoryValidation,
				Description: "Validate proposed actions for safety and blast radius.",
				Handoffs: []Handoff{
					{Target: "recommendation_agent", Description: "Send back unsafe recommendations"},
					{Target: "approval_agent", Description: "Hand off validated actions for approval"},
				},
			},
			{
				Name:        "approval_agent",
				Description: "Make the final decision. Answer with 'DECISION: APPROVED', 'DECISION: APPROVED WITH CAUTION' or 'DECISION: REJECTED' and 'CONFIDENCE: <0-1>'.",
			},
		},
	},
}

// Directory 根据静态表和共享的工具注册表创建 agent。
type Directory struct {
	team     TeamSpec
	registry *registry.Registry
}

// NewDirectory 返回指定团队的目录，并校验交接边都指向已声明的 agent。
func NewDirectory(team string, reg *registry.Registry) (*Directory, error) {
	spec, ok := Teams[team]
	if !ok {
		return nil, fmt.Errorf("unknown team %q", team)
	}
	d := &Directory{team: spec, registry: reg}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) Team() TeamSpec {
	return d.team
}

// Names 返回声明顺序的 agent 名称。
func (d *Directory) Names() []string {
	out := make([]string, 0, len(d.team.Agents))
	for _, s := range d.team.Agents {
		out = append(out, s.Name)
	}
	return out
}

// Validate 检查交接目标是否都在本团队中声明。
func (d *Directory) Validate() error {
	declared := make(map[string]bool, len(d.team.Agents))
	for _, s := range d.team.Agents {
		if declared[s.Name] {
			return fmt.Errorf("team %s: duplicate agent %s", d.team.Name, s.Name)
		}
		declared[s.Name] = true
	}
	for _, s := range d.team.Agents {
		for _, h := range s.Handoffs {
			if !declared[h.Target] {
				return fmt.Errorf("team %s: %s hands off to undeclared agent %s", d.team.Name, s.Name, h.Target)
			}
		}
	}
	return nil
}

// CreateAgent 新建一个 agent 实例，工具来自其声明分类。
func (d *Directory) CreateAgent(name string) (*Agent, error) {
	for _, s := range d.team.Agents {
		if s.Name == name {
			return d.build(s), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
}

// GetAll 按声明顺序新建所有 agent。
func (d *Directory) GetAll() []*Agent {
	out := make([]*Agent, 0, len(d.team.Agents))
	for _, s := range d.team.Agents {
		out = append(out, d.build(s))
	}
	return out
}

func (d *Directory) build(s Spec) *Agent {
	a := &Agent{
		Name:        s.Name,
		Category:    s.Category,
		Description: s.Description,
		Handoffs:    append([]Handoff(nil), s.Handoffs...),
	}
	if s.Category != "" && d.registry != nil {
		a.Tools = d.registry.Get(s.Category)
	}
	return a
}
