package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/SREAgent/internal/kube"
)

// GetPodStatusTool 查看 pod 状态
type GetPodStatusTool struct {
	client *kube.Client
}

func (t *GetPodStatusTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_pod_status",
		Desc: "Get phase, readiness, restart count and waiting reason of a pod, or of the first pods in a namespace when pod_name is empty.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"namespace": {
				Desc: "Kubernetes namespace (defaults to the configured namespace)",
				Type: schema.String,
			},
			"pod_name": {
				Desc: "Optional pod name",
				Type: schema.String,
			},
		}),
	}, nil
}

func (t *GetPodStatusTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("kubernetes client not initialized")
	}
	var args struct {
		Namespace string `json:"namespace"`
		PodName   string `json:"pod_name"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	return marshalResult(t.client.PodStatus(ctx, clean(args.Namespace), clean(args.PodName)))
}

// GetRecentEventsTool 查看最近的事件
type GetRecentEventsTool struct {
	client *kube.Client
}

func (t *GetRecentEventsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_recent_events",
		Desc: "List recent Kubernetes events in a namespace, optionally only those about one resource.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"namespace": {
				Desc: "Kubernetes namespace (defaults to the configured namespace)",
				Type: schema.String,
			},
			"resource_name": {
				Desc: "Optional name of the involved object",
				Type: schema.String,
			},
			"limit": {
				Desc: "Maximum number of events (default 10)",
				Type: schema.Integer,
			},
		}),
	}, nil
}

func (t *GetRecentEventsTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("kubernetes client not initialized")
	}
	var args struct {
		Namespace    string `json:"namespace"`
		ResourceName string `json:"resource_name"`
		Limit        int    `json:"limit"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	return marshalResult(t.client.RecentEvents(ctx, clean(args.Namespace), clean(args.ResourceName), args.Limit))
}

// RestartDeploymentTool 滚动重启 deployment
type RestartDeploymentTool struct {
	client *kube.Client
}

func (t *RestartDeploymentTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "restart_deployment",
		Desc: "Trigger a rolling restart of a deployment. Runs as a dry run unless dry_run is explicitly false.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"namespace": {
				Desc: "Kubernetes namespace (defaults to the configured namespace)",
				Type: schema.String,
			},
			"deployment_name": {
				Desc:     "Deployment to restart",
				Type:     schema.String,
				Required: true,
			},
			"dry_run": {
				Desc: "Only validate, do not restart (default true)",
				Type: schema.Boolean,
			},
		}),
	}, nil
}

func (t *RestartDeploymentTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("kubernetes client not initialized")
	}
	var args struct {
		Namespace      string `json:"namespace"`
		DeploymentName string `json:"deployment_name"`
		DryRun         *bool  `json:"dry_run"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	name := clean(args.DeploymentName)
	if name == "" {
		return "", fmt.Errorf("deployment_name is required")
	}
	dryRun := args.DryRun == nil || *args.DryRun
	return marshalResult(t.client.RestartDeployment(ctx, clean(args.Namespace), name, dryRun))
}

// KubernetesTools 返回只读的集群查询工具
func KubernetesTools(c *kube.Client) []tool.InvokableTool {
	return []tool.InvokableTool{
		&GetPodStatusTool{client: c},
		&GetRecentEventsTool{client: c},
	}
}

// ActionTools 返回会修改集群的工具
func ActionTools(c *kube.Client) []tool.InvokableTool {
	return []tool.InvokableTool{
		&RestartDeploymentTool{client: c},
	}
}
