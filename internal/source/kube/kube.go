// Package kube lists project quota allocations from Kubernetes clusters.
//
// A project is a set of namespaces sharing a project label. The quota of a
// namespace is the sum of the hard limits of its ResourceQuotas: limits.cpu
// and limits.memory, falling back to requests.cpu and requests.memory when
// a quota sets no limit.
package kube

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/edvin/quotausage/internal/config"
	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/retry"
)

// Cluster is one cluster to read from.
type Cluster struct {
	Name              string
	Client            kubernetes.Interface
	ProjectLabel      string
	CloudIDAnnotation string
}

// Source lists namespace quotas across clusters.
type Source struct {
	clusters []Cluster
	logger   zerolog.Logger
}

func New(clusters []Cluster, logger zerolog.Logger) *Source {
	return &Source{
		clusters: clusters,
		logger:   logger.With().Str("component", "kube-source").Logger(),
	}
}

// NewFromConfig builds clients for the configured clusters. A cluster
// without a kubeconfig uses the in-cluster service account.
func NewFromConfig(cfgs []config.ClusterConfig, logger zerolog.Logger) (*Source, error) {
	clusters := make([]Cluster, 0, len(cfgs))
	for _, c := range cfgs {
		restCfg, err := restConfig(c)
		if err != nil {
			return nil, fmt.Errorf("load config for cluster %s: %w", c.Name, err)
		}
		client, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("create client for cluster %s: %w", c.Name, err)
		}
		clusters = append(clusters, Cluster{
			Name:              c.Name,
			Client:            client,
			ProjectLabel:      c.ProjectLabel,
			CloudIDAnnotation: c.CloudIDAnnotation,
		})
	}
	return New(clusters, logger), nil
}

func restConfig(c config.ClusterConfig) (*rest.Config, error) {
	if c.Kubeconfig == "" {
		return rest.InClusterConfig()
	}
	rules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: c.Kubeconfig}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: c.Context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

// ListQuotas returns one entry per project namespace in every cluster. The
// listing is complete or fails as a whole.
func (s *Source) ListQuotas(ctx context.Context) ([]model.ClusterQuota, error) {
	var out []model.ClusterQuota
	for _, c := range s.clusters {
		quotas, err := listCluster(ctx, c)
		if err != nil {
			if apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err) {
				err = retry.Permanent(err)
			}
			return nil, fmt.Errorf("cluster %s: %w", c.Name, err)
		}
		s.logger.Debug().Str("cluster", c.Name).Int("namespaces", len(quotas)).Msg("listed namespace quotas")
		out = append(out, quotas...)
	}
	return out, nil
}

func listCluster(ctx context.Context, c Cluster) ([]model.ClusterQuota, error) {
	nsList, err := c.Client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{LabelSelector: c.ProjectLabel})
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	rqList, err := c.Client.CoreV1().ResourceQuotas(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list resource quotas: %w", err)
	}

	byNamespace := make(map[string][]corev1.ResourceQuota)
	for _, rq := range rqList.Items {
		byNamespace[rq.Namespace] = append(byNamespace[rq.Namespace], rq)
	}

	var out []model.ClusterQuota
	for _, ns := range nsList.Items {
		if strings.HasPrefix(ns.Name, "kube-") {
			continue
		}
		project := strings.TrimSpace(ns.Labels[c.ProjectLabel])
		if project == "" {
			continue
		}

		cpu, mem := decimal.Zero, decimal.Zero
		for _, rq := range byNamespace[ns.Name] {
			cpu = cpu.Add(hardLimit(rq.Spec.Hard, corev1.ResourceLimitsCPU, corev1.ResourceRequestsCPU))
			mem = mem.Add(hardLimit(rq.Spec.Hard, corev1.ResourceLimitsMemory, corev1.ResourceRequestsMemory))
		}

		out = append(out, model.ClusterQuota{
			Cluster:     c.Name,
			CloudID:     strings.TrimSpace(ns.Annotations[c.CloudIDAnnotation]),
			ProjectName: project,
			Namespace:   ns.Name,
			CPUQuota:    cpu,
			MemQuota:    mem,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out, nil
}

func hardLimit(hard corev1.ResourceList, name, fallback corev1.ResourceName) decimal.Decimal {
	q, ok := hard[name]
	if !ok {
		q, ok = hard[fallback]
	}
	if !ok {
		return decimal.Zero
	}
	return quantity(q)
}

// quantity converts a Kubernetes quantity to an exact decimal, so that 500m
// is 0.5 and 1Gi is 1073741824.
func quantity(q resource.Quantity) decimal.Decimal {
	d, err := decimal.NewFromString(q.AsDec().String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
