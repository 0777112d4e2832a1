package kubernetes

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	apiv1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RunningPodSpec identifies a pod that reached the running state.
type RunningPodSpec struct {
	PodName       string `yaml:"podName"`
	ContainerName string `yaml:"containerName"`
	PodIP         string `yaml:"podIP"`
}

// CreateRunningPod creates pod and waits until it is running and ready.
func (c *Client) CreateRunningPod(ctx context.Context, pod *apiv1.Pod) (RunningPodSpec, error) {
	pods := c.Clientset.CoreV1().Pods(c.Namespace)
	created, err := pods.Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return RunningPodSpec{}, fmt.Errorf("creating pod %s: %w", pod.Name, err)
	}
	c.log.Debug("pod created", zap.String("pod", created.Name))

	running, err := c.watcher.WaitForPodReady(ctx, created.Name)
	if err != nil {
		return RunningPodSpec{}, fmt.Errorf("waiting for pod %s: %w", created.Name, err)
	}
	spec := RunningPodSpec{PodName: running.Name, PodIP: running.Status.PodIP}
	if len(running.Spec.Containers) > 0 {
		spec.ContainerName = running.Spec.Containers[0].Name
	}
	c.log.Info("pod running", zap.String("pod", spec.PodName), zap.String("ip", spec.PodIP))
	return spec, nil
}

// DeletePod removes a pod immediately. A pod that is already gone is not an error.
func (c *Client) DeletePod(ctx context.Context, name string) error {
	grace := int64(0)
	err := c.Clientset.CoreV1().Pods(c.Namespace).Delete(ctx, name, metav1.DeleteOptions{GracePeriodSeconds: &grace})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// DeletePodsByLabel removes every pod matching selector.
func (c *Client) DeletePodsByLabel(ctx context.Context, selector string) error {
	list, err := c.Clientset.CoreV1().Pods(c.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return fmt.Errorf("listing pods %s: %w", selector, err)
	}
	var errs []error
	for _, pod := range list.Items {
		if err := c.DeletePod(ctx, pod.Name); err != nil {
			errs = append(errs, fmt.Errorf("deleting pod %s: %w", pod.Name, err))
		}
	}
	return errors.Join(errs...)
}
