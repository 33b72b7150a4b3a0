// Package tools 将 Prometheus、Loki 与 Kubernetes 后端包装为 eino 工具，并按能力分类注册。
package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 模型有时会把参数类型名或空值字面量当作参数值传入
var placeholderArgs = map[string]bool{
	"":       true,
	"string": true,
	"none":   true,
	"null":   true,
}

// clean 去除首尾空白，占位值视为空字符串。
func clean(s string) string {
	s = strings.TrimSpace(s)
	if placeholderArgs[strings.ToLower(s)] {
		return ""
	}
	return s
}

func decodeArgs(argumentsInJSON string, v any) error {
	if err := json.Unmarshal([]byte(argumentsInJSON), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// stringList 接受 JSON 数组或逗号分隔的字符串。
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = normalizeList(arr)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected a list of strings: %w", err)
	}
	*l = normalizeList(strings.Split(s, ","))
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = clean(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimeArg 解析时间参数：相对时长（10m/1h 表示 now-10m/now-1h）、RFC3339、日期或 Unix 秒。
func parseTimeArg(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("time string is empty")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d > 0 {
			d = -d
		}
		return now.Add(d).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if tm, err := time.Parse(layout, s); err == nil {
			return tm.UTC(), nil
		}
	}
	if sec, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(int64(sec), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format: %s (use RFC3339 or duration like 10m)", s)
}

// optionalTime 解析可选的时间参数，占位值返回 nil。
func optionalTime(s string, now time.Time) (*time.Time, error) {
	s = clean(s)
	if s == "" {
		return nil, nil
	}
	tm, err := parseTimeArg(s, now)
	if err != nil {
		return nil, err
	}
	return &tm, nil
}
