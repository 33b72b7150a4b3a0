package loki

import (
	"fmt"
	"time"
)

// mock 模式下的固定示例数据，用于没有 Loki 的本地演示。

func (c *Client) mockPodErrors(out *PodErrorReport) *PodErrorReport {
	now := c.now()
	out.TotalEntries = 15
	out.ErrorPatterns = map[string]int{"errors": 8, "exceptions": 4, "failures": 3}
	out.RecentErrors = []Entry{
		{Timestamp: now.Add(-5 * time.Minute), Line: "java.lang.OutOfMemoryError: Java heap space"},
		{Timestamp: now.Add(-10 * time.Minute), Line: "ERROR: Database connection failed"},
		{Timestamp: now.Add(-15 * time.Minute), Line: "WARN: High CPU usage detected (85%)"},
	}
	out.Summary = fmt.Sprintf("Found 15 error-related log entries in the last %d minutes", out.TimeWindowMinutes)
	out.Recommendation = "Pod appears to be experiencing memory pressure and database connectivity issues"
	out.MockData = true
	return out
}

func (c *Client) mockApplicationLogs(out *LogsReport) *LogsReport {
	now := c.now()
	ns := out.Namespace
	if ns == "" {
		ns = "default"
	}
	labels := map[string]string{"app": out.AppLabel, "namespace": ns}
	out.TotalEntries = 45
	out.Logs = []Entry{
		{Timestamp: now.Add(-5 * time.Minute), Line: "[INFO] Application startup completed in 2.3 seconds", Labels: labels},
		{Timestamp: now.Add(-10 * time.Minute), Line: "[ERROR] Failed to connect to database: connection timeout", Labels: labels},
		{Timestamp: now.Add(-15 * time.Minute), Line: "[WARN] Memory usage above 80% threshold", Labels: labels},
		{Timestamp: now.Add(-20 * time.Minute), Line: "[INFO] Processing request for user ID: 12345", Labels: labels},
		{Timestamp: now.Add(-25 * time.Minute), Line: "[DEBUG] Cache hit for key: user_session_abc123", Labels: labels},
	}
	out.Summary = fmt.Sprintf("Retrieved 45 log entries for app '%s' showing normal operations with some database connectivity issues", out.AppLabel)
	out.MockData = true
	return out
}

func (c *Client) mockPatternSearch(out *LogsReport) *LogsReport {
	now := c.now()
	ns := out.Namespace
	if ns == "" {
		ns = "default"
	}
	p := out.Pattern
	entry := func(ago time.Duration, line, service string) Entry {
		return Entry{Timestamp: now.Add(-ago), Line: line, Labels: map[string]string{"namespace": ns, "service": service}}
	}
	out.TotalEntries = 12
	out.Logs = []Entry{
		entry(2*time.Minute, fmt.Sprintf("[ERROR] %s detected in payment processing module", p), "payment"),
		entry(5*time.Minute, fmt.Sprintf("[WARN] Potential %s in user authentication service", p), "auth"),
		entry(8*time.Minute, fmt.Sprintf("[ERROR] Critical %s in database connection pool", p), "database"),
		entry(12*time.Minute, fmt.Sprintf("[INFO] %s resolved through automatic retry mechanism", p), "retry"),
		entry(15*time.Minute, fmt.Sprintf("[DEBUG] Monitoring %s patterns in system metrics", p), "monitoring"),
	}
	out.Summary = fmt.Sprintf("Found 12 log entries matching pattern '%s' with 3 critical errors requiring attention", p)
	out.MockData = true
	return out
}
