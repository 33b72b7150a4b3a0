// Package prometheus 封装 Prometheus HTTP API，提供面向排障的批量指标查询。
package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/wwwzy/SREAgent/internal/logging"
)

const (
	DefaultURL     = "http://localhost:9090"
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Client 是 Prometheus 查询客户端，可被多个会话并发使用。
type Client struct {
	api     v1.API
	url     string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient 创建客户端；地址为空时使用默认地址。
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c, err := api.NewClient(api.Config{
		Address: strings.TrimSuffix(cfg.URL, "/"),
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	l := logging.OrNop(logger).With(zap.String("component", "prometheus"))
	l.Info("prometheus client initialized", zap.String("url", cfg.URL))
	return &Client{
		api:     v1.NewAPI(c),
		url:     cfg.URL,
		timeout: cfg.Timeout,
		logger:  l,
		now:     time.Now,
	}, nil
}

func (c *Client) URL() string {
	return c.url
}

// Ping 通过 buildinfo 接口检查服务是否可达。
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.api.Buildinfo(ctx); err != nil {
		return fmt.Errorf("prometheus buildinfo: %w", err)
	}
	return nil
}

// query 执行即时查询或区间查询（r 非空时）。
func (c *Client) query(ctx context.Context, q string, r *v1.Range) (model.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		val      model.Value
		warnings v1.Warnings
		err      error
	)
	if r != nil {
		val, warnings, err = c.api.QueryRange(ctx, q, *r)
	} else {
		val, warnings, err = c.api.Query(ctx, q, c.now())
	}
	if err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		c.logger.Warn("prometheus query warnings", zap.String("query", q), zap.Strings("warnings", warnings))
	}
	return val, nil
}

// MetricNames 返回 __name__ 的全部取值，filter 非空时按子串（忽略大小写）过滤。
func (c *Client) MetricNames(ctx context.Context, filter string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	values, _, err := c.api.LabelValues(ctx, model.MetricNameLabel, nil, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("label values: %w", err)
	}
	filter = strings.ToLower(strings.TrimSpace(filter))
	names := make([]string, 0, len(values))
	for _, v := range values {
		name := string(v)
		if filter != "" && !strings.Contains(strings.ToLower(name), filter) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Target 是抓取目标的精简视图。
type Target struct {
	ScrapePool string            `json:"scrape_pool"`
	ScrapeURL  string            `json:"scrape_url"`
	Health     string            `json:"health"`
	LastError  string            `json:"last_error,omitempty"`
	LastScrape time.Time         `json:"last_scrape"`
	Labels     map[string]string `json:"labels"`
}

type TargetsSummary struct {
	ActiveTargets    int      `json:"active_targets"`
	DroppedTargets   int      `json:"dropped_targets"`
	HealthyTargets   int      `json:"healthy_targets"`
	UnhealthyTargets int      `json:"unhealthy_targets"`
	Active           []Target `json:"active"`
}

func (c *Client) Targets(ctx context.Context) (*TargetsSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.api.Targets(ctx)
	if err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}
	out := &TargetsSummary{
		ActiveTargets:  len(res.Active),
		DroppedTargets: len(res.Dropped),
		Active:         make([]Target, 0, len(res.Active)),
	}
	for _, t := range res.Active {
		if t.Health == v1.HealthGood {
			out.HealthyTargets++
		} else {
			out.UnhealthyTargets++
		}
		labels := make(map[string]string, len(t.Labels))
		for k, v := range t.Labels {
			labels[string(k)] = string(v)
		}
		out.Active = append(out.Active, Target{
			ScrapePool: t.ScrapePool,
			ScrapeURL:  t.ScrapeURL,
			Health:     string(t.Health),
			LastError:  t.LastError,
			LastScrape: t.LastScrape,
			Labels:     labels,
		})
	}
	return out, nil
}
