// Package kubernetes wraps the client-go calls the harness needs: pod lifecycle, readiness
// watching and command execution inside containers.
package kubernetes

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Client talks to one namespace of a cluster.
type Client struct {
	Config    *rest.Config
	Clientset kubernetes.Interface
	Namespace string

	log     *zap.Logger
	watcher *PodWatcher
}

// DefaultKubeconfig returns ~/.kube/config, or "" when there is no home directory.
func DefaultKubeconfig() string {
	if home := homedir.HomeDir(); home != "" {
		return filepath.Join(home, ".kube", "config")
	}
	return ""
}

// NewClient builds a client from a kubeconfig file and falls back to the in-cluster
// configuration when kubeconfig is empty.
func NewClient(kubeconfig, namespace string, logger *zap.Logger) (*Client, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return NewClientFromClientset(clientset, cfg, namespace, logger), nil
}

// NewClientFromClientset wraps an existing clientset, e.g. a fake one in tests.
func NewClientFromClientset(cs kubernetes.Interface, cfg *rest.Config, namespace string, logger *zap.Logger) *Client {
	if namespace == "" {
		namespace = apiv1.NamespaceDefault
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kubernetes")
	return &Client{
		Config:    cfg,
		Clientset: cs,
		Namespace: namespace,
		log:       logger,
		watcher:   NewPodWatcher(cs.CoreV1().Pods(namespace), logger),
	}
}

// Start runs the pod watcher until ctx is done.
func (c *Client) Start(ctx context.Context) {
	c.watcher.Start(ctx)
}
