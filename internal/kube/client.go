// Package kube 通过 client-go 读取 pod 状态与事件，并提供重启 deployment 的操作。
package kube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/wwwzy/SREAgent/internal/logging"
)

const (
	RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

	maxPodsListed = 5
)

type Config struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	InCluster  bool   `mapstructure:"in_cluster"`
	// Namespace 是工具参数缺省时使用的 namespace
	Namespace string `mapstructure:"namespace"`
}

// Client 包装 kubernetes.Interface，测试中可注入 fake clientset。
type Client struct {
	cs        kubernetes.Interface
	namespace string
	logger    *zap.Logger
	now       func() time.Time
}

// NewClient 根据配置构建 clientset：in_cluster 优先，否则读取 kubeconfig（缺省 ~/.kube/config）。
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	restCfg, err := buildRestConfig(cfg)
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes clientset: %w", err)
	}
	return NewFromClientset(cs, cfg.Namespace, logger), nil
}

func NewFromClientset(cs kubernetes.Interface, namespace string, logger *zap.Logger) *Client {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &Client{
		cs:        cs,
		namespace: namespace,
		logger:    logging.OrNop(logger).With(zap.String("component", "kubernetes")),
		now:       time.Now,
	}
}

func buildRestConfig(cfg Config) (*rest.Config, error) {
	if cfg.InCluster {
		c, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
		return c, nil
	}
	path := cfg.Kubeconfig
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".kube", "config")
		}
	}
	c, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("failed to build client config: %w", err)
	}
	return c, nil
}

func (c *Client) ns(namespace string) string {
	if strings.TrimSpace(namespace) == "" {
		return c.namespace
	}
	return namespace
}

// Ping 请求 API server 版本信息。
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cs.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("kubernetes server version: %w", err)
	}
	return ctx.Err()
}

type PodInfo struct {
	Name      string     `json:"name"`
	Namespace string     `json:"namespace"`
	Phase     string     `json:"phase"`
	Ready     string     `json:"ready"`
	Restarts  int32      `json:"restarts"`
	Reason    string     `json:"reason,omitempty"`
	Created   *time.Time `json:"created,omitempty"`
}

type PodStatusReport struct {
	Namespace string    `json:"namespace"`
	TotalPods int       `json:"total_pods"`
	Pods      []PodInfo `json:"pods"`
	Error     string    `json:"error,omitempty"`
}

// PodStatus 返回指定 pod 的状态；pod 为空时列出 namespace 下前 5 个 pod。
func (c *Client) PodStatus(ctx context.Context, namespace, pod string) *PodStatusReport {
	namespace = c.ns(namespace)
	out := &PodStatusReport{Namespace: namespace}

	if pod != "" {
		p, err := c.cs.CoreV1().Pods(namespace).Get(ctx, pod, metav1.GetOptions{})
		if err != nil {
			c.logger.Warn("get pod failed", zap.String("namespace", namespace), zap.String("pod", pod), zap.Error(err))
			out.Error = fmt.Sprintf("Kubernetes API error: %v", err)
			return out
		}
		out.TotalPods = 1
		out.Pods = []PodInfo{podInfo(p)}
		return out
	}

	list, err := c.cs.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		c.logger.Warn("list pods failed", zap.String("namespace", namespace), zap.Error(err))
		out.Error = fmt.Sprintf("Kubernetes API error: %v", err)
		return out
	}
	out.TotalPods = len(list.Items)
	for i := range list.Items {
		if i >= maxPodsListed {
			break
		}
		out.Pods = append(out.Pods, podInfo(&list.Items[i]))
	}
	return out
}

func podInfo(p *corev1.Pod) PodInfo {
	info := PodInfo{
		Name:      p.Name,
		Namespace: p.Namespace,
		Phase:     string(p.Status.Phase),
		Reason:    p.Status.Reason,
	}
	var ready int
	for _, cs := range p.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
		info.Restarts += cs.RestartCount
		// 容器处于等待状态时的原因（例如 CrashLoopBackOff）更能说明问题
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" && info.Reason == "" {
			info.Reason = cs.State.Waiting.Reason
		}
	}
	info.Ready = fmt.Sprintf("%d/%d", ready, len(p.Status.ContainerStatuses))
	if !p.CreationTimestamp.IsZero() {
		t := p.CreationTimestamp.UTC()
		info.Created = &t
	}
	return info
}

type EventInfo struct {
	Type      string     `json:"type"`
	Reason    string     `json:"reason"`
	Message   string     `json:"message"`
	Kind      string     `json:"kind"`
	Object    string     `json:"object"`
	Count     int32      `json:"count"`
	FirstTime *time.Time `json:"first_time,omitempty"`
	LastTime  *time.Time `json:"last_time,omitempty"`
}

type EventsReport struct {
	Namespace   string      `json:"namespace"`
	TotalEvents int         `json:"total_events"`
	Events      []EventInfo `json:"events"`
	Error       string      `json:"error,omitempty"`
}

// RecentEvents 列出 namespace 下的事件，resource 非空时按涉及对象名称过滤。
func (c *Client) RecentEvents(ctx context.Context, namespace, resource string, limit int) *EventsReport {
	namespace = c.ns(namespace)
	if limit <= 0 {
		limit = 10
	}
	out := &EventsReport{Namespace: namespace}

	list, err := c.cs.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{Limit: int64(limit)})
	if err != nil {
		c.logger.Warn("list events failed", zap.String("namespace", namespace), zap.Error(err))
		out.Error = fmt.Sprintf("Kubernetes API error: %v", err)
		return out
	}
	for _, e := range list.Items {
		if resource != "" && e.InvolvedObject.Name != resource {
			continue
		}
		if len(out.Events) >= limit {
			break
		}
		out.Events = append(out.Events, eventInfo(e))
	}
	out.TotalEvents = len(out.Events)
	return out
}

func eventInfo(e corev1.Event) EventInfo {
	info := EventInfo{
		Type:    e.Type,
		Reason:  e.Reason,
		Message: e.Message,
		Kind:    e.InvolvedObject.Kind,
		Object:  e.InvolvedObject.Name,
		Count:   e.Count,
	}
	if !e.FirstTimestamp.IsZero() {
		t := e.FirstTimestamp.UTC()
		info.FirstTime = &t
	}
	if !e.LastTimestamp.IsZero() {
		t := e.LastTimestamp.UTC()
		info.LastTime = &t
	}
	return info
}

type RestartReport struct {
	Operation  string `json:"operation"`
	Namespace  string `json:"namespace"`
	Deployment string `json:"deployment"`
	DryRun     bool   `json:"dry_run"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RestartDeployment 通过更新 pod 模板上的 restartedAt 注解触发滚动重启。
// dryRun 时只校验 deployment 存在，不做修改。
func (c *Client) RestartDeployment(ctx context.Context, namespace, name string, dryRun bool) *RestartReport {
	namespace = c.ns(namespace)
	out := &RestartReport{Operation: "restart_deployment", Namespace: namespace, Deployment: name, DryRun: dryRun}

	if _, err := c.cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{}); err != nil {
		out.Status = "failed"
		out.Error = fmt.Sprintf("Kubernetes API error: %v", err)
		return out
	}
	if dryRun {
		out.Status = "dry_run_success"
		out.Message = "Dry run: would restart deployment"
		return out
	}

	patch := fmt.Sprintf(`{"spec":{"template":{"metadata":{"annotations":{%q:%q}}}}}`,
		RestartedAtAnnotation, c.now().UTC().Format(time.RFC3339))
	_, err := c.cs.AppsV1().Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		c.logger.Error("restart deployment failed", zap.String("namespace", namespace), zap.String("deployment", name), zap.Error(err))
		out.Status = "failed"
		out.Error = fmt.Sprintf("Kubernetes API error: %v", err)
		return out
	}
	c.logger.Info("deployment restart initiated", zap.String("namespace", namespace), zap.String("deployment", name))
	out.Status = "success"
	out.Message = "Deployment restart initiated"
	return out
}
