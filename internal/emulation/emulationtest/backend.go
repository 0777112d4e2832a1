// Package emulationtest provides an in-memory emulation backend that records every call.
// It backs dry runs of the CLI and the orchestrator tests.
package emulationtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

type Op string

const (
	OpBuild     Op = "build"
	OpStart     Op = "start"
	OpStop      Op = "stop"
	OpSetStatus Op = "set-status"
	OpRun       Op = "run"
)

// Call is one recorded backend invocation.
type Call struct {
	Op      Op
	Node    string
	Iface   string
	Status  topology.LinkStatus
	Command string
}

// Responder produces the result of RunCommand. A nil Responder answers every command with
// exit code 0 and no output.
type Responder func(node, command string) (emulation.CommandResult, error)

// Backend is a recording emulation.Backend. Fail makes the named operation return the given
// error; Hang makes it block until its context is done.
type Backend struct {
	Responder Responder
	Fail      map[Op]error
	Hang      map[Op]bool

	mu      sync.Mutex
	calls   []Call
	graph   *topology.Graph
	handle  emulation.Handle
	started bool
	ifaces  map[string]topology.LinkStatus
	seq     int
}

var _ emulation.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{}
}

func (b *Backend) record(ctx context.Context, c Call) error {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	err := b.Fail[c.Op]
	hang := b.Hang[c.Op]
	b.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (b *Backend) BuildNetwork(ctx context.Context, g *topology.Graph) (emulation.Handle, error) {
	if err := b.record(ctx, Call{Op: OpBuild}); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle != "" {
		return "", emulation.ErrNetworkActive
	}
	b.seq++
	b.graph = g.Clone()
	b.handle = emulation.Handle(fmt.Sprintf("rec-%d", b.seq))
	b.ifaces = make(map[string]topology.LinkStatus)
	for _, l := range g.Links {
		b.ifaces[l.IfaceA()] = topology.StatusUp
		b.ifaces[l.IfaceB()] = topology.StatusUp
	}
	return b.handle, nil
}

func (b *Backend) check(h emulation.Handle) error {
	if h == "" || h != b.handle {
		return fmt.Errorf("%w: %q", emulation.ErrUnknownHandle, h)
	}
	return nil
}

func (b *Backend) Start(ctx context.Context, h emulation.Handle) error {
	if err := b.record(ctx, Call{Op: OpStart}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(h); err != nil {
		return err
	}
	b.started = true
	return nil
}

func (b *Backend) Stop(ctx context.Context, h emulation.Handle) error {
	if err := b.record(ctx, Call{Op: OpStop}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(h); err != nil {
		return err
	}
	b.started = false
	b.handle = ""
	return nil
}

func (b *Backend) SetInterfaceStatus(ctx context.Context, h emulation.Handle, node, iface string, status topology.LinkStatus) error {
	if err := b.record(ctx, Call{Op: OpSetStatus, Node: node, Iface: iface, Status: status}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(h); err != nil {
		return err
	}
	if _, ok := b.ifaces[iface]; !ok {
		return fmt.Errorf("%w: interface %s on %s", emulation.ErrUnknownNode, iface, node)
	}
	b.ifaces[iface] = status
	return nil
}

func (b *Backend) RunCommand(ctx context.Context, h emulation.Handle, node, command string) (emulation.CommandResult, error) {
	if err := b.record(ctx, Call{Op: OpRun, Node: node, Command: command}); err != nil {
		return emulation.CommandResult{}, err
	}
	b.mu.Lock()
	err := b.check(h)
	if err == nil {
		if _, ok := b.graph.Node(node); !ok {
			err = fmt.Errorf("%w: %s", emulation.ErrUnknownNode, node)
		}
	}
	respond := b.Responder
	b.mu.Unlock()
	if err != nil {
		return emulation.CommandResult{}, err
	}
	if respond == nil {
		return emulation.CommandResult{}, nil
	}
	return respond(node, command)
}

// Calls returns a copy of the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallsOf returns the recorded calls of one operation.
func (b *Backend) CallsOf(op Op) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// InterfaceStatus reports the last status set on iface.
func (b *Backend) InterfaceStatus(iface string) topology.LinkStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ifaces[iface]
}

func (b *Backend) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Active reports whether a network has been built and not yet stopped.
func (b *Backend) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle != ""
}
