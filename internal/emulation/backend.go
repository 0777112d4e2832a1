// Package emulation defines the network emulation backend the scenario harness drives:
// something that realises a topology graph, runs commands on its nodes and flips interface
// state. Concrete backends live in the netns and kube subpackages.
package emulation

import (
	"context"

	"github.com/idlab-discover/sdnscen/internal/topology"
)

// Handle identifies one realised network within a backend.
type Handle string

type CommandResult struct {
	Stdout   string `yaml:"stdout,omitempty"`
	Stderr   string `yaml:"stderr,omitempty"`
	ExitCode int    `yaml:"exitCode"`
}

// Backend realises a topology graph. A backend models a single virtual network at a time.
//
// RunCommand only returns an error when the command could not be run at all. A command that
// ran and exited nonzero is reported through CommandResult.ExitCode; use Check to turn that
// into a CommandError.
type Backend interface {
	BuildNetwork(ctx context.Context, g *topology.Graph) (Handle, error)
	Start(ctx context.Context, h Handle) error
	Stop(ctx context.Context, h Handle) error
	SetInterfaceStatus(ctx context.Context, h Handle, node, iface string, status topology.LinkStatus) error
	RunCommand(ctx context.Context, h Handle, node, command string) (CommandResult, error)
}

// Check returns a *CommandError when res carries a nonzero exit code.
func Check(res CommandResult, node, command string) error {
	if res.ExitCode == 0 {
		return nil
	}
	return &CommandError{Node: node, Command: command, ExitCode: res.ExitCode, Stderr: res.Stderr}
}

// Run executes command on node and folds a nonzero exit code into the returned error.
func Run(ctx context.Context, b Backend, h Handle, node, command string) (CommandResult, error) {
	res, err := b.RunCommand(ctx, h, node, command)
	if err != nil {
		return res, err
	}
	return res, Check(res, node, command)
}
