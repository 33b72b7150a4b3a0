package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/SREAgent/internal/loki"
)

// AnalyzePodErrorsTool 统计 pod 的错误日志
type AnalyzePodErrorsTool struct {
	client *loki.Client
}

func (t *AnalyzePodErrorsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "analyze_pod_errors",
		Desc: "Analyze error, exception, failure and panic log lines of one pod within a time window.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"namespace": {
				Desc:     "Kubernetes namespace",
				Type:     schema.String,
				Required: true,
			},
			"pod_name": {
				Desc:     "Pod name",
				Type:     schema.String,
				Required: true,
			},
			"time_window_minutes": {
				Desc: "How many minutes back to analyze (default 30)",
				Type: schema.Integer,
			},
		}),
	}, nil
}

func (t *AnalyzePodErrorsTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("loki client not initialized")
	}
	var args struct {
		Namespace         string `json:"namespace"`
		PodName           string `json:"pod_name"`
		TimeWindowMinutes int    `json:"time_window_minutes"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	ns, pod := clean(args.Namespace), clean(args.PodName)
	if ns == "" || pod == "" {
		return "", fmt.Errorf("namespace and pod_name are required")
	}
	return marshalResult(t.client.AnalyzePodErrors(ctx, ns, pod, args.TimeWindowMinutes))
}

// GetApplicationLogsTool 按 app 标签获取日志
type GetApplicationLogsTool struct {
	client *loki.Client
}

func (t *GetApplicationLogsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_application_logs",
		Desc: "Get logs of an application by its app label, optionally filtered by namespace and log level.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"app_label": {
				Desc:     "Value of the app label",
				Type:     schema.String,
				Required: true,
			},
			"namespace": {
				Desc: "Optional Kubernetes namespace",
				Type: schema.String,
			},
			"log_level": {
				Desc: "Optional level filter for JSON logs (e.g. error, warn)",
				Type: schema.String,
			},
			"time_window_minutes": {
				Desc: "How many minutes back to query (default 60)",
				Type: schema.Integer,
			},
			"limit": {
				Desc: "Maximum number of log entries (default 100)",
				Type: schema.Integer,
			},
		}),
	}, nil
}

func (t *GetApplicationLogsTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("loki client not initialized")
	}
	var args struct {
		AppLabel          string `json:"app_label"`
		Namespace         string `json:"namespace"`
		LogLevel          string `json:"log_level"`
		TimeWindowMinutes int    `json:"time_window_minutes"`
		Limit             int    `json:"limit"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	app := clean(args.AppLabel)
	if app == "" {
		return "", fmt.Errorf("app_label is required")
	}
	res := t.client.ApplicationLogs(ctx, app, clean(args.Namespace), clean(args.LogLevel), args.TimeWindowMinutes, args.Limit)
	return marshalResult(res)
}

// SearchLogsByPatternTool 按正则搜索日志
type SearchLogsByPatternTool struct {
	client *loki.Client
}

func (t *SearchLogsByPatternTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "search_logs_by_pattern",
		Desc: "Search logs with a regular expression, optionally within one namespace.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"pattern": {
				Desc:     "Regular expression, e.g. (?i)timeout",
				Type:     schema.String,
				Required: true,
			},
			"namespace": {
				Desc: "Optional Kubernetes namespace",
				Type: schema.String,
			},
			"time_window_minutes": {
				Desc: "How many minutes back to search (default 30)",
				Type: schema.Integer,
			},
			"limit": {
				Desc: "Maximum number of log entries (default 50)",
				Type: schema.Integer,
			},
		}),
	}, nil
}

func (t *SearchLogsByPatternTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("loki client not initialized")
	}
	var args struct {
		Pattern           string `json:"pattern"`
		Namespace         string `json:"namespace"`
		TimeWindowMinutes int    `json:"time_window_minutes"`
		Limit             int    `json:"limit"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	pattern := clean(args.Pattern)
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	return marshalResult(t.client.SearchByPattern(ctx, pattern, clean(args.Namespace), args.TimeWindowMinutes, args.Limit))
}

// LokiTools 返回日志分类下的工具
func LokiTools(c *loki.Client) []tool.InvokableTool {
	return []tool.InvokableTool{
		&AnalyzePodErrorsTool{client: c},
		&GetApplicationLogsTool{client: c},
		&SearchLogsByPatternTool{client: c},
	}
}
