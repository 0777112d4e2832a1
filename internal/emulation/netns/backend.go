package netns

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

type Options struct {
	// Controller is the OpenFlow target handed to ovs-vsctl set-controller.
	Controller string `yaml:"controller"`
	// Protocols restricts the OpenFlow versions of every bridge.
	Protocols string `yaml:"protocols"`
	// Shaping is merged over the bandwidth and delay of each link.
	Shaping emulation.Shaping `yaml:"shaping,omitempty"`
	Runner  Runner            `yaml:"-"`
}

type Backend struct {
	opts Options
	ovs  emulation.OVS
	log  *zap.Logger

	mu  sync.Mutex
	net *network
}

type network struct {
	handle  emulation.Handle
	graph   *topology.Graph
	started bool
}

var _ emulation.Backend = (*Backend)(nil)

func New(opts Options, logger *zap.Logger) *Backend {
	if opts.Controller == "" {
		opts.Controller = emulation.DefaultController
	}
	if opts.Protocols == "" {
		opts.Protocols = emulation.DefaultProtocols
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		opts: opts,
		ovs:  emulation.OVS{Controller: opts.Controller, Protocols: opts.Protocols},
		log:  logger.Named("netns"),
	}
}

func (b *Backend) vsctl(ctx context.Context, args []string) error {
	res, err := b.opts.Runner.Run(ctx, "ovs-vsctl", args...)
	if err != nil {
		return err
	}
	return emulation.Check(res, "root", b.ovs.Shell(args))
}

func (b *Backend) BuildNetwork(ctx context.Context, g *topology.Graph) (emulation.Handle, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.net != nil {
		return "", fmt.Errorf("%w: %s", emulation.ErrNetworkActive, b.net.handle)
	}
	n := &network{handle: emulation.Handle("netns-" + uuid.NewString()[:8]), graph: g.Clone()}
	if err := b.build(ctx, n.graph); err != nil {
		if cleanupErr := b.teardown(context.WithoutCancel(ctx), n.graph); cleanupErr != nil {
			b.log.Warn("cleanup after failed build", zap.Error(cleanupErr))
		}
		return "", err
	}
	b.net = n
	b.log.Info("network built", zap.String("handle", string(n.handle)),
		zap.Int("nodes", len(g.Nodes)), zap.Int("links", len(g.Links)))
	return n.handle, nil
}

func (b *Backend) build(ctx context.Context, g *topology.Graph) error {
	for _, sw := range g.Switches() {
		if err := b.vsctl(ctx, b.ovs.AddBridge(sw.ID, sw.DPID)); err != nil {
			return fmt.Errorf("creating bridge %s: %w", sw.ID, err)
		}
	}
	for _, h := range g.Hosts() {
		if err := addNamespace(h.ID); err != nil {
			return fmt.Errorf("creating namespace %s: %w", h.ID, err)
		}
	}
	for _, l := range g.Links {
		if err := addVeth(l); err != nil {
			return fmt.Errorf("creating link %s: %w", l, err)
		}
		for _, end := range endpoints(g, l) {
			if end.node.IsHost() {
				if err := attachHost(end.node, end.iface, end.port, end.mac); err != nil {
					return fmt.Errorf("attaching %s: %w", end.iface, err)
				}
				continue
			}
			if err := b.vsctl(ctx, b.ovs.AddPort(end.node.ID, end.iface, end.port)); err != nil {
				return fmt.Errorf("adding port %s: %w", end.iface, err)
			}
		}
	}
	return nil
}

type endpoint struct {
	node  topology.Node
	iface string
	port  int
	mac   string
}

func endpoints(g *topology.Graph, l topology.Link) []endpoint {
	a, _ := g.Node(l.A)
	z, _ := g.Node(l.B)
	macA, macZ := l.MACA, l.MACB
	if macA == "" && l.PortA == 0 {
		macA = a.MAC
	}
	if macZ == "" && l.PortB == 0 {
		macZ = z.MAC
	}
	return []endpoint{
		{node: a, iface: l.IfaceA(), port: l.PortA, mac: macA},
		{node: z, iface: l.IfaceB(), port: l.PortB, mac: macZ},
	}
}

// carriesAddress reports whether the host interface on port gets the host IPv4 address:
// its first port, and any other port pinned to the host MAC.
func carriesAddress(host topology.Node, port int, mac string) bool {
	if host.IPv4 == "" {
		return false
	}
	return port == 0 || (mac != "" && mac == host.MAC)
}

func (b *Backend) lookup(h emulation.Handle) (*network, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.net == nil || b.net.handle != h {
		return nil, fmt.Errorf("%w: %q", emulation.ErrUnknownHandle, h)
	}
	return b.net, nil
}

// Start brings every interface up, applies link shaping and points the bridges at the
// controller.
func (b *Backend) Start(ctx context.Context, h emulation.Handle) error {
	n, err := b.lookup(h)
	if err != nil {
		return err
	}
	for _, l := range n.graph.Links {
		for _, end := range endpoints(n.graph, l) {
			if err := setLinkState(end.node, end.iface, true); err != nil {
				return fmt.Errorf("bringing up %s: %w", end.iface, err)
			}
		}
		shaping := emulation.MergeShaping(emulation.LinkShaping(l), b.opts.Shaping)
		if shaping.IsZero() {
			continue
		}
		for _, end := range endpoints(n.graph, l) {
			cmd, err := shaping.TCCommand(end.iface)
			if err != nil {
				return fmt.Errorf("shaping %s: %w", end.iface, err)
			}
			if _, err := emulation.Run(ctx, b, h, end.node.ID, cmd); err != nil {
				return fmt.Errorf("shaping %s: %w", end.iface, err)
			}
		}
	}
	for _, sw := range n.graph.Switches() {
		if err := b.vsctl(ctx, b.ovs.SetController(sw.ID)); err != nil {
			return fmt.Errorf("connecting %s to controller: %w", sw.ID, err)
		}
	}
	b.mu.Lock()
	n.started = true
	b.mu.Unlock()
	b.log.Info("network started", zap.String("handle", string(h)), zap.String("controller", b.opts.Controller))
	return nil
}

func (b *Backend) Stop(ctx context.Context, h emulation.Handle) error {
	n, err := b.lookup(h)
	if err != nil {
		return err
	}
	err = b.teardown(ctx, n.graph)
	b.mu.Lock()
	b.net = nil
	b.mu.Unlock()
	b.log.Info("network stopped", zap.String("handle", string(h)), zap.Error(err))
	return err
}

// teardown removes whatever exists of g and keeps going past individual failures.
func (b *Backend) teardown(ctx context.Context, g *topology.Graph) error {
	var errs []error
	for _, sw := range g.Switches() {
		if err := b.vsctl(ctx, b.ovs.DelBridge(sw.ID)); err != nil {
			errs = append(errs, err)
		}
	}
	for _, l := range g.Links {
		if err := delLink(l.IfaceA()); err != nil {
			errs = append(errs, err)
		}
	}
	for _, h := range g.Hosts() {
		if err := delNamespace(h.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) SetInterfaceStatus(ctx context.Context, h emulation.Handle, node, iface string, status topology.LinkStatus) error {
	n, err := b.lookup(h)
	if err != nil {
		return err
	}
	nd, ok := n.graph.Node(node)
	if !ok {
		return fmt.Errorf("%w: %s", emulation.ErrUnknownNode, node)
	}
	owner, _, ok := n.graph.InterfaceOwner(iface)
	if !ok || owner != node {
		return fmt.Errorf("%w: interface %s on %s", emulation.ErrUnknownNode, iface, node)
	}
	b.log.Debug("set interface", zap.String("node", node), zap.String("iface", iface), zap.String("status", string(status)))
	return setLinkState(nd, iface, status == topology.StatusUp)
}

// RunCommand runs command through sh, inside the namespace of a host or in the root namespace
// for a switch.
func (b *Backend) RunCommand(ctx context.Context, h emulation.Handle, node, command string) (emulation.CommandResult, error) {
	n, err := b.lookup(h)
	if err != nil {
		return emulation.CommandResult{}, err
	}
	nd, ok := n.graph.Node(node)
	if !ok {
		return emulation.CommandResult{}, fmt.Errorf("%w: %s", emulation.ErrUnknownNode, node)
	}
	if nd.IsHost() {
		return b.opts.Runner.Run(ctx, "ip", "netns", "exec", node, "sh", "-c", command)
	}
	return b.opts.Runner.Run(ctx, "sh", "-c", command)
}
