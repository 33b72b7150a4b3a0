package prometheus

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
)

const (
	DefaultLimitPerMetric = 50
	DefaultStep           = time.Minute
	essentialTopN         = 10
)

// TimeRange 为空时执行即时查询。
type TimeRange struct {
	Start *time.Time
	End   *time.Time
	Step  time.Duration
}

func (r TimeRange) isRange() bool {
	return r.Start != nil || r.End != nil
}

// resolve 补全缺失的端点：起点默认一小时前，终点默认当前时间。
func (r TimeRange) resolve(now time.Time) *v1.Range {
	if !r.isRange() {
		return nil
	}
	out := v1.Range{Start: now.Add(-time.Hour), End: now, Step: r.Step}
	if r.Start != nil {
		out.Start = *r.Start
	}
	if r.End != nil {
		out.End = *r.End
	}
	if out.Step <= 0 {
		out.Step = DefaultStep
	}
	return &out
}

type Sample struct {
	Timestamp float64 `json:"timestamp"`
	Value     string  `json:"value"`
}

type Series struct {
	Metric map[string]string `json:"metric"`
	Values []Sample          `json:"values"`
}

// MetricResult 是单个指标查询的结果；Error 非空时其他字段可能为空。
type MetricResult struct {
	Query         string   `json:"query"`
	ResultType    string   `json:"result_type,omitempty"`
	SeriesCount   int      `json:"series_count"`
	Limited       bool     `json:"limited,omitempty"`
	OriginalCount int      `json:"original_count,omitempty"`
	Metrics       []Series `json:"metrics,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type QueryInfo struct {
	HostnameFilter    string `json:"hostname_filter,omitempty"`
	MetricsRequested  int    `json:"metrics_requested"`
	LimitPerMetric    int    `json:"limit_per_metric"`
	SuccessfulMetrics int    `json:"successful_metrics"`
	FailedMetrics     int    `json:"failed_metrics"`
	TotalSeries       int    `json:"total_series"`
}

type MultiMetricResult struct {
	Status        string                   `json:"status"`
	QueryInfo     QueryInfo                `json:"query_info"`
	MetricsByName map[string]*MetricResult `json:"metrics_by_name"`
}

// QueryMultipleMetrics 对每个指标分别查询（不拼接 OR），单个失败只记录在该指标的结果中。
func (c *Client) QueryMultipleMetrics(ctx context.Context, names []string, hostname string, limit int, tr TimeRange) *MultiMetricResult {
	if limit <= 0 {
		limit = DefaultLimitPerMetric
	}
	out := &MultiMetricResult{
		Status: "success",
		QueryInfo: QueryInfo{
			HostnameFilter:   hostname,
			MetricsRequested: len(names),
			LimitPerMetric:   limit,
		},
		MetricsByName: make(map[string]*MetricResult, len(names)),
	}
	r := tr.resolve(c.now())

	for _, name := range names {
		q := name
		if hostname != "" {
			q = fmt.Sprintf(`%s{%s}`, name, instanceMatcher(hostname))
		}
		res := c.run(ctx, q, r, limit)
		out.MetricsByName[name] = res
		if res.Error != "" {
			out.QueryInfo.FailedMetrics++
			continue
		}
		out.QueryInfo.SuccessfulMetrics++
		out.QueryInfo.TotalSeries += res.SeriesCount
	}

	c.logger.Info("multiple metrics query completed",
		zap.Int("successful", out.QueryInfo.SuccessfulMetrics),
		zap.Int("failed", out.QueryInfo.FailedMetrics),
		zap.Int("total_series", out.QueryInfo.TotalSeries))
	return out
}

// EssentialQueries 返回固定的五个关键指标查询，hostname 非空时按实例过滤。
func EssentialQueries(hostname string) map[string]string {
	if hostname == "" {
		return map[string]string{
			"system_up":            `up{job="node-exporter"}`,
			"cpu_usage_percent":    `100 - (avg by (instance) (rate(node_cpu_seconds_total{mode="idle"}[5m])) * 100)`,
			"memory_usage_percent": `(1 - (node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes)) * 100`,
			"disk_usage_percent":   `(1 - (node_filesystem_free_bytes{fstype!="tmpfs",fstype!="overlay"} / node_filesystem_size_bytes{fstype!="tmpfs",fstype!="overlay"})) * 100`,
			"load_average":         `node_load1`,
		}
	}
	inst := instanceMatcher(hostname)
	return map[string]string{
		"system_up":            fmt.Sprintf(`up{%s}`, inst),
		"cpu_usage_percent":    fmt.Sprintf(`100 - (avg by (instance) (rate(node_cpu_seconds_total{mode="idle",%s}[5m])) * 100)`, inst),
		"memory_usage_percent": fmt.Sprintf(`(1 - (node_memory_MemAvailable_bytes{%s} / node_memory_MemTotal_bytes{%s})) * 100`, inst, inst),
		"disk_usage_percent":   fmt.Sprintf(`(1 - (node_filesystem_free_bytes{%s,fstype!="tmpfs",fstype!="overlay"} / node_filesystem_size_bytes{%s,fstype!="tmpfs",fstype!="overlay"})) * 100`, inst, inst),
		"load_average":         fmt.Sprintf(`node_load1{%s}`, inst),
	}
}

// instanceMatcher 生成按主机名子串匹配 instance 的选择器，主机名按字面量处理。
func instanceMatcher(hostname string) string {
	return "instance=~" + strconv.Quote(".*"+regexp.QuoteMeta(hostname)+".*")
}

type EssentialResult struct {
	Status           string                   `json:"status"`
	HostnameFilter   string                   `json:"hostname_filter,omitempty"`
	Successful       int                      `json:"successful"`
	Failed           int                      `json:"failed"`
	EssentialMetrics map[string]*MetricResult `json:"essential_metrics"`
}

// QueryEssentialMetrics 查询 CPU/内存/磁盘使用率、可用性与负载，每项最多保留 10 条序列。
func (c *Client) QueryEssentialMetrics(ctx context.Context, hostname string, tr TimeRange) *EssentialResult {
	queries := EssentialQueries(hostname)
	out := &EssentialResult{
		Status:           "success",
		HostnameFilter:   hostname,
		EssentialMetrics: make(map[string]*MetricResult, len(queries)),
	}
	r := tr.resolve(c.now())
	for name, q := range queries {
		res := c.run(ctx, q, r, essentialTopN)
		out.EssentialMetrics[name] = res
		if res.Error != "" {
			out.Failed++
		} else {
			out.Successful++
		}
	}
	return out
}

func (c *Client) run(ctx context.Context, q string, r *v1.Range, limit int) *MetricResult {
	res := &MetricResult{Query: q}
	val, err := c.query(ctx, q, r)
	if err != nil {
		c.logger.Warn("prometheus query failed", zap.String("query", q), zap.Error(err))
		res.Error = err.Error()
		return res
	}

	series := convert(val)
	res.ResultType = val.Type().String()
	res.OriginalCount = len(series)
	if len(series) > limit {
		series = series[:limit]
		res.Limited = true
	}
	res.Metrics = series
	res.SeriesCount = len(series)
	return res
}

func convert(val model.Value) []Series {
	switch v := val.(type) {
	case model.Vector:
		out := make([]Series, 0, len(v))
		for _, s := range v {
			out = append(out, Series{
				Metric: labels(s.Metric),
				Values: []Sample{sample(s.Timestamp, s.Value)},
			})
		}
		return out
	case model.Matrix:
		out := make([]Series, 0, len(v))
		for _, s := range v {
			values := make([]Sample, 0, len(s.Values))
			for _, p := range s.Values {
				values = append(values, sample(p.Timestamp, p.Value))
			}
			out = append(out, Series{Metric: labels(s.Metric), Values: values})
		}
		return out
	case *model.Scalar:
		return []Series{{Metric: map[string]string{}, Values: []Sample{sample(v.Timestamp, v.Value)}}}
	default:
		return nil
	}
}

func labels(m model.Metric) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[string(k)] = string(v)
	}
	return out
}

func sample(ts model.Time, v model.SampleValue) Sample {
	return Sample{Timestamp: float64(ts) / 1000, Value: v.String()}
}
