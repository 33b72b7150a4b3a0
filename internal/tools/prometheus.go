package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/SREAgent/internal/prometheus"
)

var timeParams = map[string]*schema.ParameterInfo{
	"start_time": {
		Desc: "Optional start time (RFC3339, 'YYYY-MM-DD HH:MM:SS', unix seconds) or duration like 1h (means now-1h). Setting start or end switches to a range query.",
		Type: schema.String,
	},
	"end_time": {
		Desc: "Optional end time, same formats as start_time. Defaults to now for range queries.",
		Type: schema.String,
	},
	"step": {
		Desc: "Range query resolution step, e.g. 1m (default) or 5m",
		Type: schema.String,
	},
}

func withTimeParams(params map[string]*schema.ParameterInfo) map[string]*schema.ParameterInfo {
	for k, v := range timeParams {
		params[k] = v
	}
	return params
}

type timeArgs struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Step      string `json:"step"`
}

func (a timeArgs) timeRange(now time.Time) (prometheus.TimeRange, error) {
	var (
		tr  prometheus.TimeRange
		err error
	)
	if tr.Start, err = optionalTime(a.StartTime, now); err != nil {
		return tr, err
	}
	if tr.End, err = optionalTime(a.EndTime, now); err != nil {
		return tr, err
	}
	if s := clean(a.Step); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return tr, fmt.Errorf("invalid step %q: %w", s, err)
		}
		tr.Step = d
	}
	return tr, nil
}

// QueryMultipleMetricsTool 分别查询多个指标
type QueryMultipleMetricsTool struct {
	client *prometheus.Client
}

func (t *QueryMultipleMetricsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "query_multiple_metrics",
		Desc: "Query specific Prometheus metrics one by one. Each metric gets its own result or error, and the number of series per metric is limited to avoid data overload.",
		ParamsOneOf: schema.NewParamsOneOfByParams(withTimeParams(map[string]*schema.ParameterInfo{
			"metric_names": {
				Desc:     "Metric names to query, e.g. [\"up\", \"node_load1\"]",
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Required: true,
			},
			"hostname": {
				Desc: "Optional hostname; matches instance=~\".*<hostname>.*\"",
				Type: schema.String,
			},
			"limit_per_metric": {
				Desc: "Maximum number of series per metric (default 50)",
				Type: schema.Integer,
			},
		})),
	}, nil
}

func (t *QueryMultipleMetricsTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("prometheus client not initialized")
	}
	var args struct {
		timeArgs
		MetricNames    stringList `json:"metric_names"`
		Hostname       string     `json:"hostname"`
		LimitPerMetric int        `json:"limit_per_metric"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	if len(args.MetricNames) == 0 {
		return "", fmt.Errorf("metric_names is required")
	}
	tr, err := args.timeRange(time.Now())
	if err != nil {
		return "", err
	}
	res := t.client.QueryMultipleMetrics(ctx, args.MetricNames, clean(args.Hostname), args.LimitPerMetric, tr)
	return marshalResult(res)
}

// QueryEssentialMetricsTool 查询固定的关键系统指标
type QueryEssentialMetricsTool struct {
	client *prometheus.Client
}

func (t *QueryEssentialMetricsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "query_essential_metrics",
		Desc: "Get essential node metrics: availability, CPU usage %, memory usage %, disk usage % and load average. At most 10 series per metric.",
		ParamsOneOf: schema.NewParamsOneOfByParams(withTimeParams(map[string]*schema.ParameterInfo{
			"hostname": {
				Desc: "Optional hostname filter",
				Type: schema.String,
			},
		})),
	}, nil
}

func (t *QueryEssentialMetricsTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("prometheus client not initialized")
	}
	var args struct {
		timeArgs
		Hostname string `json:"hostname"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	tr, err := args.timeRange(time.Now())
	if err != nil {
		return "", err
	}
	return marshalResult(t.client.QueryEssentialMetrics(ctx, clean(args.Hostname), tr))
}

// GetMetricNamesTool 列出可用指标名
type GetMetricNamesTool struct {
	client *prometheus.Client
}

func (t *GetMetricNamesTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_metric_names",
		Desc: "List metric names known to Prometheus. Use filter to narrow the list, e.g. 'memory'.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"filter": {
				Desc: "Optional case-insensitive substring filter",
				Type: schema.String,
			},
		}),
	}, nil
}

func (t *GetMetricNamesTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("prometheus client not initialized")
	}
	var args struct {
		Filter string `json:"filter"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	names, err := t.client.MetricNames(ctx, clean(args.Filter))
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{
		"status":        "success",
		"filter":        clean(args.Filter),
		"total_metrics": len(names),
		"metrics":       names,
	})
}

// GetTargetsTool 查看抓取目标健康状况
type GetTargetsTool struct {
	client *prometheus.Client
}

func (t *GetTargetsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        "get_targets",
		Desc:        "Get Prometheus scrape targets with a healthy/unhealthy summary.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

func (t *GetTargetsTool) InvokableRun(ctx context.Context, _ string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("prometheus client not initialized")
	}
	res, err := t.client.Targets(ctx)
	if err != nil {
		return "", err
	}
	return marshalResult(res)
}

// PrometheusTools 返回指标分类下的工具
func PrometheusTools(c *prometheus.Client) []tool.InvokableTool {
	return []tool.InvokableTool{
		&QueryMultipleMetricsTool{client: c},
		&QueryEssentialMetricsTool{client: c},
		&GetMetricNamesTool{client: c},
		&GetTargetsTool{client: c},
	}
}
