// Package netns realises topology graphs on the local Linux host: every host is a named
// network namespace, every switch is an Open vSwitch bridge in the root namespace and every
// link is a veth pair. Switches connect to an OpenFlow controller.
package netns

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/idlab-discover/sdnscen/internal/emulation"
)

// Runner executes a process on the local host.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (emulation.CommandResult, error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (emulation.CommandResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// backgrounded children may keep the output pipes open
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	res := emulation.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, emulation.Unavailable(name, err)
	}
	return res, nil
}
