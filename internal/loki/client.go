// Package loki 是 Loki HTTP API 的轻量客户端以及面向 agent 的日志分析操作。
package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/logging"
)

const (
	DefaultURL     = "http://localhost:3100"
	DefaultTimeout = 30 * time.Second

	DirectionBackward = "backward"
	DirectionForward  = "forward"

	maxErrorBody = 512
)

type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Mock 为 true 时不访问 Loki，返回固定的示例数据
	Mock bool `mapstructure:"mock"`
}

// Entry 是一条日志。
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Line      string            `json:"message"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Stream 是同一组标签下的日志。
type Stream struct {
	Labels  map[string]string
	Entries []Entry
}

// QueryRequest 是 query_range 的参数。
type QueryRequest struct {
	Query     string
	Start     time.Time
	End       time.Time
	Limit     int
	Direction string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	mock       bool
	logger     *zap.Logger
	now        func() time.Time
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	l := logging.OrNop(logger).With(zap.String("component", "loki"))
	l.Info("loki client initialized", zap.String("url", cfg.URL), zap.Bool("mock", cfg.Mock))
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		mock:       cfg.Mock,
		logger:     l,
		now:        time.Now,
	}
}

func (c *Client) URL() string {
	return c.baseURL
}

func (c *Client) Mock() bool {
	return c.mock
}

// Ping 检查 /ready 接口。mock 模式下始终成功。
func (c *Client) Ping(ctx context.Context) error {
	if c.mock {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return fmt.Errorf("create ready request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("loki ready: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loki ready: status %d", resp.StatusCode)
	}
	return nil
}

type queryResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange 调用 GET /loki/api/v1/query_range，时间以纳秒 Unix 时间戳传递。
func (c *Client) QueryRange(ctx context.Context, q QueryRequest) ([]Stream, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Direction == "" {
		q.Direction = DirectionBackward
	}
	if q.End.IsZero() {
		q.End = c.now()
	}

	params := url.Values{}
	params.Set("query", q.Query)
	params.Set("start", strconv.FormatInt(q.Start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(q.End.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("direction", q.Direction)

	reqURL := fmt.Sprintf("%s/loki/api/v1/query_range?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}

	c.logger.Debug("executing loki query_range", zap.String("query", q.Query), zap.Int("limit", q.Limit))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query loki: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("loki query failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON response from loki: %w", err)
	}
	if payload.Status != "success" {
		return nil, fmt.Errorf("loki query failed: %s", payload.Error)
	}

	streams := make([]Stream, 0, len(payload.Data.Result))
	for _, r := range payload.Data.Result {
		s := Stream{Labels: r.Stream, Entries: make([]Entry, 0, len(r.Values))}
		for _, v := range r.Values {
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			s.Entries = append(s.Entries, Entry{Timestamp: time.Unix(0, ns).UTC(), Line: v[1], Labels: r.Stream})
		}
		streams = append(streams, s)
	}
	return streams, nil
}

// Flatten 合并所有 stream 的日志，按时间倒序排列。
func Flatten(streams []Stream) []Entry {
	var out []Entry
	for _, s := range streams {
		out = append(out, s.Entries...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
