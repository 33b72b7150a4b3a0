package loki

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxRecentErrors = 10
	maxErrorLine    = 200
	podErrorLimit   = 500
)

// PodErrorReport 是 analyze_pod_errors 的结果。
type PodErrorReport struct {
	Tool              string         `json:"tool"`
	Pod               string         `json:"pod"`
	Namespace         string         `json:"namespace"`
	TimeWindowMinutes int            `json:"time_window_minutes"`
	TotalEntries      int            `json:"total_entries"`
	ErrorPatterns     map[string]int `json:"error_patterns,omitempty"`
	RecentErrors      []Entry        `json:"recent_errors,omitempty"`
	Summary           string         `json:"summary,omitempty"`
	Recommendation    string         `json:"recommendation,omitempty"`
	MockData          bool           `json:"mock_data,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// AnalyzePodErrors 统计 pod 在时间窗口内的错误类日志。
func (c *Client) AnalyzePodErrors(ctx context.Context, namespace, pod string, windowMinutes int) *PodErrorReport {
	if windowMinutes <= 0 {
		windowMinutes = 30
	}
	out := &PodErrorReport{Tool: "analyze_pod_errors", Pod: pod, Namespace: namespace, TimeWindowMinutes: windowMinutes}
	if c.mock {
		return c.mockPodErrors(out)
	}

	now := c.now()
	streams, err := c.QueryRange(ctx, QueryRequest{
		Query: fmt.Sprintf(`{namespace="%s", pod="%s"} |~ "(?i)(error|exception|failed|panic)"`, namespace, pod),
		Start: now.Add(-time.Duration(windowMinutes) * time.Minute),
		End:   now,
		Limit: podErrorLimit,
	})
	if err != nil {
		c.logger.Error("pod error analysis failed", zap.String("pod", pod), zap.Error(err))
		out.Error = err.Error()
		return out
	}

	entries := Flatten(streams)
	out.TotalEntries = len(entries)
	out.ErrorPatterns = make(map[string]int)
	for i, e := range entries {
		lower := strings.ToLower(e.Line)
		for word, key := range map[string]string{"error": "errors", "exception": "exceptions", "failed": "failures", "panic": "panics"} {
			if strings.Contains(lower, word) {
				out.ErrorPatterns[key]++
			}
		}
		if i < maxRecentErrors {
			line := e.Line
			if len(line) > maxErrorLine {
				line = line[:maxErrorLine]
			}
			out.RecentErrors = append(out.RecentErrors, Entry{Timestamp: e.Timestamp, Line: line})
		}
	}
	out.Summary = fmt.Sprintf("Found %d error-related log entries in the last %d minutes", out.TotalEntries, windowMinutes)
	return out
}

// LogsReport 是 get_application_logs 与 search_logs_by_pattern 的结果。
type LogsReport struct {
	Tool              string  `json:"tool"`
	AppLabel          string  `json:"app_label,omitempty"`
	Pattern           string  `json:"pattern,omitempty"`
	Namespace         string  `json:"namespace,omitempty"`
	LogLevel          string  `json:"log_level,omitempty"`
	TimeWindowMinutes int     `json:"time_window_minutes"`
	TotalEntries      int     `json:"total_entries"`
	Logs              []Entry `json:"logs,omitempty"`
	Summary           string  `json:"summary,omitempty"`
	MockData          bool    `json:"mock_data,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// ApplicationLogs 按 app 标签（可选 namespace/级别）获取日志。
func (c *Client) ApplicationLogs(ctx context.Context, app, namespace, level string, windowMinutes, limit int) *LogsReport {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	if limit <= 0 {
		limit = 100
	}
	out := &LogsReport{Tool: "get_application_logs", AppLabel: app, Namespace: namespace, LogLevel: level, TimeWindowMinutes: windowMinutes}
	if c.mock {
		return c.mockApplicationLogs(out)
	}

	filters := []string{fmt.Sprintf(`app="%s"`, app)}
	if namespace != "" {
		filters = append(filters, fmt.Sprintf(`namespace="%s"`, namespace))
	}
	query := "{" + strings.Join(filters, ",") + "}"
	if level != "" {
		query += fmt.Sprintf(` | json | level="%s"`, strings.ToUpper(level))
	}

	return c.collect(ctx, out, query, windowMinutes, limit,
		func(n int) string { return fmt.Sprintf("Retrieved %d log entries for app '%s'", n, app) })
}

// SearchByPattern 按正则搜索日志。
func (c *Client) SearchByPattern(ctx context.Context, pattern, namespace string, windowMinutes, limit int) *LogsReport {
	if windowMinutes <= 0 {
		windowMinutes = 30
	}
	if limit <= 0 {
		limit = 50
	}
	out := &LogsReport{Tool: "search_logs_by_pattern", Pattern: pattern, Namespace: namespace, TimeWindowMinutes: windowMinutes}
	if c.mock {
		return c.mockPatternSearch(out)
	}

	selector := "{}"
	if namespace != "" {
		selector = fmt.Sprintf(`{namespace="%s"}`, namespace)
	}
	query := fmt.Sprintf(`%s |~ "%s"`, selector, pattern)

	return c.collect(ctx, out, query, windowMinutes, limit,
		func(n int) string { return fmt.Sprintf("Found %d log entries matching pattern '%s'", n, pattern) })
}

func (c *Client) collect(ctx context.Context, out *LogsReport, query string, windowMinutes, limit int, summary func(int) string) *LogsReport {
	now := c.now()
	streams, err := c.QueryRange(ctx, QueryRequest{
		Query: query,
		Start: now.Add(-time.Duration(windowMinutes) * time.Minute),
		End:   now,
		Limit: limit,
	})
	if err != nil {
		c.logger.Error("loki log query failed", zap.String("tool", out.Tool), zap.Error(err))
		out.Error = err.Error()
		return out
	}
	out.Logs = Flatten(streams)
	out.TotalEntries = len(out.Logs)
	out.Summary = summary(out.TotalEntries)
	return out
}
