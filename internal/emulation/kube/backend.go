// Package kube realises topology graphs on a Kubernetes cluster. Every node is a pod; every
// link is a pair of VXLAN interfaces tunnelled over the pod network, one in each endpoint pod.
// Switch pods run Open vSwitch and connect to the OpenFlow controller.
package kube

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	apiv1 "k8s.io/api/core/v1"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/kubernetes"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

// VXLANPort is the UDP destination port of every link tunnel.
const VXLANPort = 4789

// Cluster is the subset of the Kubernetes client the backend uses.
type Cluster interface {
	CreateRunningPod(ctx context.Context, pod *apiv1.Pod) (kubernetes.RunningPodSpec, error)
	DeletePodsByLabel(ctx context.Context, selector string) error
	ExecShell(ctx context.Context, pod, container, command string) (emulation.CommandResult, error)
}

type Options struct {
	Pods PodOptions `yaml:"pods"`
	// Controller is the OpenFlow target, reachable from the switch pods.
	Controller string            `yaml:"controller"`
	Protocols  string            `yaml:"protocols"`
	Shaping    emulation.Shaping `yaml:"shaping,omitempty"`
	// Parallelism bounds concurrent pod operations. Default 8.
	Parallelism int `yaml:"parallelism"`
}

type Backend struct {
	cluster Cluster
	opts    Options
	ovs     emulation.OVS
	log     *zap.Logger

	mu  sync.Mutex
	net *network
}

type network struct {
	handle emulation.Handle
	graph  *topology.Graph
	pods   map[string]kubernetes.RunningPodSpec
}

var _ emulation.Backend = (*Backend)(nil)

func New(cluster Cluster, opts Options, logger *zap.Logger) *Backend {
	if opts.Controller == "" {
		opts.Controller = emulation.DefaultController
	}
	if opts.Protocols == "" {
		opts.Protocols = emulation.DefaultProtocols
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cluster: cluster,
		opts:    opts,
		ovs:     emulation.OVS{Controller: opts.Controller, Protocols: opts.Protocols},
		log:     logger.Named("kube"),
	}
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
	n := &network{
		handle: emulation.Handle("sdn-" + uuid.NewString()[:8]),
		graph:  g.Clone(),
		pods:   make(map[string]kubernetes.RunningPodSpec, len(g.Nodes)),
	}
	if err := b.build(ctx, n); err != nil {
		if cleanupErr := b.cluster.DeletePodsByLabel(context.WithoutCancel(ctx), selector(n.handle)); cleanupErr != nil {
			b.log.Warn("cleanup after failed build", zap.Error(cleanupErr))
		}
		return "", err
	}
	b.net = n
	b.log.Info("network built", zap.String("handle", string(n.handle)), zap.Int("pods", len(n.pods)))
	return n.handle, nil
}

func (b *Backend) build(ctx context.Context, n *network) error {
	var mu sync.Mutex
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(b.opts.Parallelism)
	for _, node := range n.graph.Nodes {
		node := node
		eg.Go(func() error {
			spec, err := b.cluster.CreateRunningPod(ectx, BuildNodePod(string(n.handle), node, b.opts.Pods))
			if err != nil {
				return emulation.Unavailable("creating pod for "+node.ID, err)
			}
			mu.Lock()
			n.pods[node.ID] = spec
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	podIPs := make(map[string]string, len(n.pods))
	for id, spec := range n.pods {
		podIPs[id] = spec.PodIP
	}
	return b.eachNode(ctx, n, func(node topology.Node) []string {
		return SetupCommands(n.graph, node, podIPs, b.ovs)
	})
}

// eachNode runs the commands produced for every node, nodes in parallel and each node's
// commands in order.
func (b *Backend) eachNode(ctx context.Context, n *network, commands func(topology.Node) []string) error {
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(b.opts.Parallelism)
	for _, node := range n.graph.Nodes {
		node := node
		cmds := commands(node)
		if len(cmds) == 0 {
			continue
		}
		eg.Go(func() error {
			script := strings.Join(cmds, " && ")
			res, err := b.exec(ectx, n, node.ID, script)
			if err == nil {
				err = emulation.Check(res, node.ID, script)
			}
			if err != nil {
				return fmt.Errorf("configuring %s: %w", node.ID, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// SetupCommands creates the VXLAN end of every link of node. Link i uses VNI i+1 towards the
// pod of the opposite node. Underlay routes to peer pods are pinned first so the emulated
// addresses cannot shadow them.
func SetupCommands(g *topology.Graph, node topology.Node, podIPs map[string]string, ovs emulation.OVS) []string {
	var cmds []string
	if !node.IsHost() {
		cmds = append(cmds, ovs.Shell(ovs.AddBridge(node.ID, node.DPID)))
	}
	for i, l := range g.Links {
		var iface, peer, mac string
		var port int
		switch node.ID {
		case l.A:
			iface, peer, port, mac = l.IfaceA(), l.B, l.PortA, l.MACA
		case l.B:
			iface, peer, port, mac = l.IfaceB(), l.A, l.PortB, l.MACB
		default:
			continue
		}
		remote := podIPs[peer]
		cmds = append(cmds,
			fmt.Sprintf("ip route replace %s/32 $(ip route get %s | head -n1 | sed -e 's/^[^ ]* //' -e 's/ src .*//' -e 's/ uid .*//')", remote, remote),
			fmt.Sprintf("ip link add %s type vxlan id %d remote %s dstport %d dev eth0", iface, i+1, remote, VXLANPort),
		)
		if node.IsHost() {
			if mac == "" && port == 0 {
				mac = node.MAC
			}
			if mac != "" {
				cmds = append(cmds, fmt.Sprintf("ip link set dev %s address %s", iface, mac))
			}
			// the backup ports of a multi-homed host carry its address too
			if node.IPv4 != "" && (port == 0 || (mac != "" && mac == node.MAC)) {
				cmds = append(cmds, fmt.Sprintf("ip addr add %s dev %s", node.IPv4, iface))
			}
			continue
		}
		cmds = append(cmds, ovs.Shell(ovs.AddPort(node.ID, iface, port)))
	}
	return cmds
}

// StartCommands brings the link interfaces of node up, shapes them and, for switches,
// connects the bridge to the controller.
func StartCommands(g *topology.Graph, node topology.Node, ovs emulation.OVS, extra emulation.Shaping) ([]string, error) {
	var cmds []string
	for _, l := range g.Links {
		var iface string
		switch node.ID {
		case l.A:
			iface = l.IfaceA()
		case l.B:
			iface = l.IfaceB()
		default:
			continue
		}
		cmds = append(cmds, "ip link set dev "+iface+" up")
		shaping := emulation.MergeShaping(emulation.LinkShaping(l), extra)
		if shaping.IsZero() {
			continue
		}
		tc, err := shaping.TCCommand(iface)
		if err != nil {
			return nil, fmt.Errorf("shaping %s: %w", iface, err)
		}
		cmds = append(cmds, tc)
	}
	if !node.IsHost() {
		cmds = append(cmds, ovs.Shell(ovs.SetController(node.ID)))
	}
	return cmds, nil
}

func (b *Backend) lookup(h emulation.Handle) (*network, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.net == nil || b.net.handle != h {
		return nil, fmt.Errorf("%w: %q", emulation.ErrUnknownHandle, h)
	}
	return b.net, nil
}

func (b *Backend) Start(ctx context.Context, h emulation.Handle) error {
	n, err := b.lookup(h)
	if err != nil {
		return err
	}
	start := make(map[string][]string, len(n.graph.Nodes))
	for _, node := range n.graph.Nodes {
		cmds, err := StartCommands(n.graph, node, b.ovs, b.opts.Shaping)
		if err != nil {
			return err
		}
		start[node.ID] = cmds
	}
	if err := b.eachNode(ctx, n, func(node topology.Node) []string { return start[node.ID] }); err != nil {
		return err
	}
	b.log.Info("network started", zap.String("handle", string(h)), zap.String("controller", b.opts.Controller))
	return nil
}

func (b *Backend) Stop(ctx context.Context, h emulation.Handle) error {
	if _, err := b.lookup(h); err != nil {
		return err
	}
	err := b.cluster.DeletePodsByLabel(ctx, selector(h))
	b.mu.Lock()
	b.net = nil
	b.mu.Unlock()
	b.log.Info("network stopped", zap.String("handle", string(h)), zap.Error(err))
	return err
}

func (b *Backend) SetInterfaceStatus(ctx context.Context, h emulation.Handle, node, iface string, status topology.LinkStatus) error {
	n, err := b.lookup(h)
	if err != nil {
		return err
	}
	owner, _, ok := n.graph.InterfaceOwner(iface)
	if !ok || owner != node {
		return fmt.Errorf("%w: interface %s on %s", emulation.ErrUnknownNode, iface, node)
	}
	_, err = emulation.Run(ctx, b, h, node, fmt.Sprintf("ip link set dev %s %s", iface, status))
	return err
}

func (b *Backend) RunCommand(ctx context.Context, h emulation.Handle, node, command string) (emulation.CommandResult, error) {
	n, err := b.lookup(h)
	if err != nil {
		return emulation.CommandResult{}, err
	}
	return b.exec(ctx, n, node, command)
}

func (b *Backend) exec(ctx context.Context, n *network, node, command string) (emulation.CommandResult, error) {
	spec, ok := n.pods[node]
	if !ok {
		return emulation.CommandResult{}, fmt.Errorf("%w: %s", emulation.ErrUnknownNode, node)
	}
	return b.cluster.ExecShell(ctx, spec.PodName, ContainerName, command)
}

func selector(h emulation.Handle) string {
	return LabelNetwork + "=" + string(h)
}
