package tools

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/tool"

	"github.com/wwwzy/SREAgent/internal/kube"
	"github.com/wwwzy/SREAgent/internal/loki"
	"github.com/wwwzy/SREAgent/internal/prometheus"
	"github.com/wwwzy/SREAgent/internal/registry"
)

// Backends 为工具使用的后端客户端，未配置的后端为 nil，对应分类保持为空。
type Backends struct {
	Prometheus *prometheus.Client
	Loki       *loki.Client
	Kube       *kube.Client
}

var (
	errNoPrometheus = errors.New("prometheus client not configured")
	errNoLoki       = errors.New("loki client not configured")
	errNoKube       = errors.New("kubernetes client not configured")
)

// Sources 返回各能力分类的工具来源。校验分类复用只读的集群查询工具。
func Sources(b Backends) []registry.Source {
	kubeLoad := func(build func(*kube.Client) []tool.InvokableTool) func(context.Context) ([]tool.InvokableTool, error) {
		return func(context.Context) ([]tool.InvokableTool, error) {
			if b.Kube == nil {
				return nil, errNoKube
			}
			return build(b.Kube), nil
		}
	}
	return []registry.Source{
		{
			Category: registry.CategoryMetrics,
			Load: func(context.Context) ([]tool.InvokableTool, error) {
				if b.Prometheus == nil {
					return nil, errNoPrometheus
				}
				return PrometheusTools(b.Prometheus), nil
			},
		},
		{
			Category: registry.CategoryLogs,
			Load: func(context.Context) ([]tool.InvokableTool, error) {
				if b.Loki == nil {
					return nil, errNoLoki
				}
				return LokiTools(b.Loki), nil
			},
		},
		{Category: registry.CategoryKubernetes, Load: kubeLoad(KubernetesTools)},
		{Category: registry.CategoryActions, Load: kubeLoad(ActionTools)},
		{Category: registry.CategoryValidation, Load: kubeLoad(KubernetesTools)},
	}
}
