package kubernetes

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	"github.com/idlab-discover/sdnscen/internal/emulation"
)

// ExecShell runs command through sh -c in a container. A nonzero exit is reported in the
// result, transport failures as ErrBackendUnavailable.
func (c *Client) ExecShell(ctx context.Context, pod, container, command string) (emulation.CommandResult, error) {
	if c.Config == nil {
		return emulation.CommandResult{}, emulation.Unavailable("exec", errors.New("no rest config"))
	}
	c.log.Debug("exec", zap.String("pod", pod), zap.String("command", command))

	req := c.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(c.Namespace).
		SubResource("exec").
		VersionedParams(&apiv1.PodExecOptions{
			Container: container,
			Command:   []string{"sh", "-c", command},
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.Config, "POST", req.URL())
	if err != nil {
		return emulation.CommandResult{}, emulation.Unavailable("exec", err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	res := emulation.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	if err != nil {
		return res, emulation.Unavailable(fmt.Sprintf("exec in %s/%s", pod, container), err)
	}
	return res, nil
}
