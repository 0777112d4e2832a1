package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	apiv1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	corev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/cache"
	toolsWatch "k8s.io/client-go/tools/watch"
)

// Waiting reasons after which a node pod will not become ready without intervention.
var fatalWaitingReasons = map[string]bool{
	"ErrImagePull":               true,
	"ImagePullBackOff":           true,
	"InvalidImageName":           true,
	"CreateContainerConfigError": true,
	"CrashLoopBackOff":           true,
}

var errPodWatchClosed = errors.New("pod watch closed")

// PodWatcher keeps one watch on the namespace and hands pod updates to whoever waits for
// that pod to come up.
type PodWatcher struct {
	pods corev1.PodInterface
	log  *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan *apiv1.Pod
}

func NewPodWatcher(pods corev1.PodInterface, logger *zap.Logger) *PodWatcher {
	return &PodWatcher{
		pods:    pods,
		log:     logger,
		waiters: make(map[string]chan *apiv1.Pod),
	}
}

// Start runs Watch in the background until ctx is done.
func (w *PodWatcher) Start(ctx context.Context) {
	go func() {
		if err := w.Watch(ctx); err != nil {
			w.log.Error("pod watch stopped", zap.Error(err))
		}
	}()
}

// WaitForPodReady returns once every container of the pod is ready. It fails early when the
// pod fails or a container is stuck on an image or crash loop.
func (w *PodWatcher) WaitForPodReady(ctx context.Context, name string) (*apiv1.Pod, error) {
	updates := w.subscribe(name)
	defer w.unsubscribe(name)

	// subscribed first so an update between Get and the first receive is kept
	if pod, err := w.pods.Get(ctx, name, metav1.GetOptions{}); err == nil {
		if done, err := podDone(pod); done {
			return pod, err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case pod := <-updates:
			if done, err := podDone(pod); done {
				return pod, err
			}
		}
	}
}

func (w *PodWatcher) subscribe(name string) chan *apiv1.Pod {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.waiters[name]
	if !ok {
		ch = make(chan *apiv1.Pod, 16)
		w.waiters[name] = ch
	}
	return ch
}

func (w *PodWatcher) unsubscribe(name string) {
	w.mu.Lock()
	delete(w.waiters, name)
	w.mu.Unlock()
}

// podDone reports whether waiting on pod is over, and with which error.
func podDone(pod *apiv1.Pod) (bool, error) {
	switch pod.Status.Phase {
	case apiv1.PodFailed:
		return true, fmt.Errorf("pod %s failed: %s", pod.Name, pod.Status.Message)
	case apiv1.PodSucceeded:
		return true, fmt.Errorf("pod %s exited", pod.Name)
	case apiv1.PodRunning:
	default:
		return false, nil
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && fatalWaitingReasons[cs.State.Waiting.Reason] {
			return true, fmt.Errorf("pod %s container %s: %s", pod.Name, cs.Name, cs.State.Waiting.Reason)
		}
		if !cs.Ready {
			return false, nil
		}
	}
	return true, nil
}

// Watch forwards pod updates in the namespace to their waiters. A waiter that is not keeping
// up loses updates, the watch itself never blocks.
func (w *PodWatcher) Watch(ctx context.Context) error {
	lw := &cache.ListWatch{
		WatchFunc: func(opts metav1.ListOptions) (watch.Interface, error) {
			return w.pods.Watch(ctx, opts)
		},
	}
	rw, err := toolsWatch.NewRetryWatcher("1", lw)
	if err != nil {
		return fmt.Errorf("starting pod watch: %w", err)
	}
	defer rw.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-rw.ResultChan():
			if !ok {
				return errPodWatchClosed
			}
			if ev.Type == watch.Deleted || ev.Type == watch.Error {
				continue
			}
			pod, ok := ev.Object.(*apiv1.Pod)
			if !ok {
				continue
			}
			w.notify(pod)
		}
	}
}

func (w *PodWatcher) notify(pod *apiv1.Pod) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.waiters[pod.Name]
	if !ok {
		return
	}
	select {
	case ch <- pod:
	default:
		w.log.Debug("dropped pod update", zap.String("pod", pod.Name))
	}
}
