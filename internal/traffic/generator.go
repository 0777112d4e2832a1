package traffic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/metrics"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

// Roles of launched commands.
const (
	RoleServer = "server"
	RoleClient = "client"
)

// Handle identifies a backgrounded traffic command. It is only used for logging and reports.
type Handle struct {
	ID      string `yaml:"id"`
	Node    string `yaml:"node"`
	Role    string `yaml:"role"`
	Command string `yaml:"command"`
}

// Launch records one start attempt.
type Launch struct {
	Handle Handle `yaml:"handle"`
	Error  string `yaml:"error,omitempty"`
}

// Rand is the randomness RandomCrossTraffic draws from. *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// RateRange bounds random client rates in Mbps, both ends inclusive.
type RateRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (r RateRange) Validate() error {
	if r.Min < 1 || r.Max < r.Min {
		return fmt.Errorf("%w: rate range [%d,%d]", topology.ErrInvalidParameter, r.Min, r.Max)
	}
	return nil
}

type Options struct {
	// Parallelism bounds concurrent pair starts. Default 4.
	Parallelism int
	Rand        Rand
	Metrics     *metrics.Metrics
}

// Generator starts traffic on the nodes of one realised network.
type Generator struct {
	backend emulation.Backend
	handle  emulation.Handle
	graph   *topology.Graph
	opts    Options
	log     *zap.Logger

	seq      atomic.Int64
	mu       sync.Mutex
	launches []Launch
}

func NewGenerator(backend emulation.Backend, h emulation.Handle, g *topology.Graph, opts Options, logger *zap.Logger) *Generator {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		backend: backend,
		handle:  h,
		graph:   g,
		opts:    opts,
		log:     logger.Named("traffic"),
	}
}

// StartServer forks an iperf server on node.
func (gen *Generator) StartServer(ctx context.Context, node string, proto Proto, port int) (Handle, error) {
	cmd := Background(IperfServer(proto, port), LogFile(RoleServer, node, port))
	return gen.start(ctx, node, RoleServer, cmd)
}

// StartClient forks an iperf client on node sending to targetIP.
func (gen *Generator) StartClient(ctx context.Context, node, targetIP string, proto Proto, port, rateMbps, durationSec int) (Handle, error) {
	cmd := Background(IperfClient(targetIP, proto, port, rateMbps, durationSec), LogFile(RoleClient, node, port))
	return gen.start(ctx, node, RoleClient, cmd)
}

func (gen *Generator) start(ctx context.Context, node, role, cmd string) (Handle, error) {
	h := Handle{
		ID:      fmt.Sprintf("%s-%s-%d", role, node, gen.seq.Add(1)),
		Node:    node,
		Role:    role,
		Command: cmd,
	}
	_, err := emulation.Run(ctx, gen.backend, gen.handle, node, cmd)
	gen.opts.Metrics.TrafficStart(role, err)
	gen.record(h, err)
	if err != nil {
		gen.log.Warn("traffic start failed", zap.String("id", h.ID), zap.String("node", node), zap.Error(err))
		return h, err
	}
	gen.log.Info("traffic started", zap.String("id", h.ID), zap.String("node", node), zap.String("command", cmd))
	return h, nil
}

func (gen *Generator) record(h Handle, err error) {
	l := Launch{Handle: h}
	if err != nil {
		l.Error = err.Error()
	}
	gen.mu.Lock()
	gen.launches = append(gen.launches, l)
	gen.mu.Unlock()
}

// Launches returns every start attempt so far, in completion order.
func (gen *Generator) Launches() []Launch {
	gen.mu.Lock()
	defer gen.mu.Unlock()
	return append([]Launch(nil), gen.launches...)
}

// Pair is one source/destination assignment of RandomCrossTraffic.
type Pair struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	RateMbps    int    `yaml:"rateMbps"`
}

// PlanCrossTraffic draws one destination and one rate per source. Draws happen in source
// order: destination first, then rate.
func PlanCrossTraffic(r Rand, sources, destinations []string, rates RateRange) ([]Pair, error) {
	if len(destinations) == 0 {
		return nil, fmt.Errorf("%w: no destinations for cross traffic", topology.ErrInvalidParameter)
	}
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(sources))
	for _, src := range sources {
		dst := destinations[r.Intn(len(destinations))]
		rate := rates.Min + r.Intn(rates.Max-rates.Min+1)
		pairs = append(pairs, Pair{Source: src, Destination: dst, RateMbps: rate})
	}
	return pairs, nil
}

// RandomCrossTraffic starts UDP flows from every source to a randomly chosen destination at a
// random rate. Each destination's server is started once, before any of its clients; clients
// of a destination whose server failed are skipped. Destinations are handled concurrently.
// Failures do not stop the other pairs and are returned joined.
func (gen *Generator) RandomCrossTraffic(ctx context.Context, sources, destinations []string, rates RateRange, durationSec int) ([]Pair, error) {
	r := gen.opts.Rand
	if r == nil {
		return nil, errors.New("cross traffic needs a random source")
	}
	pairs, err := PlanCrossTraffic(r, sources, destinations, rates)
	if err != nil {
		return nil, err
	}

	var order []string
	byDst := make(map[string][]Pair)
	for _, p := range pairs {
		if _, ok := byDst[p.Destination]; !ok {
			order = append(order, p.Destination)
		}
		byDst[p.Destination] = append(byDst[p.Destination], p)
	}

	p := pool.New().WithErrors().WithMaxGoroutines(gen.opts.Parallelism)
	for _, dst := range order {
		dst := dst
		p.Go(func() error {
			return gen.startDestination(ctx, dst, byDst[dst], durationSec)
		})
	}
	return pairs, p.Wait()
}

func (gen *Generator) startDestination(ctx context.Context, dst string, pairs []Pair, durationSec int) error {
	node, ok := gen.graph.Node(dst)
	if !ok || node.IPv4 == "" {
		return fmt.Errorf("%w: cross traffic destination %s", emulation.ErrUnknownNode, dst)
	}
	if _, err := gen.StartServer(ctx, dst, UDP, DefaultPort); err != nil {
		srcs := make([]string, 0, len(pairs))
		for _, p := range pairs {
			srcs = append(srcs, p.Source)
		}
		return fmt.Errorf("server on %s, skipped clients %s: %w", dst, strings.Join(srcs, ","), err)
	}
	var errs []error
	for _, p := range pairs {
		gen.log.Info("random cross traffic",
			zap.String("src", p.Source), zap.String("dst", node.Addr()), zap.Int("rateMbps", p.RateMbps))
		if _, err := gen.StartClient(ctx, p.Source, node.Addr(), UDP, DefaultPort, p.RateMbps, durationSec); err != nil {
			errs = append(errs, fmt.Errorf("client %s -> %s: %w", p.Source, dst, err))
		}
	}
	return errors.Join(errs...)
}

// Foreground runs an iperf client to completion and parses its final report.
func (gen *Generator) Foreground(ctx context.Context, node, targetIP string, proto Proto, port, rateMbps, durationSec int) (IperfResult, error) {
	cmd := strings.Join(IperfClient(targetIP, proto, port, rateMbps, durationSec), " ")
	res, err := emulation.Run(ctx, gen.backend, gen.handle, node, cmd)
	gen.opts.Metrics.TrafficStart("foreground", err)
	if err != nil {
		return IperfResult{Node: node, Target: targetIP, Output: res.Stdout}, err
	}
	out, err := ParseIperf(res.Stdout)
	out.Node, out.Target = node, targetIP
	if err != nil {
		return out, fmt.Errorf("foreground stream %s -> %s: %w", node, targetIP, err)
	}
	gen.log.Info("foreground stream finished",
		zap.String("node", node), zap.String("target", targetIP), zap.Float64("mbps", out.BandwidthMbps))
	return out, nil
}

// Ping sends count echo requests from src to dstIP. Exit code 1 means no reply came back and
// yields an unreachable result; any other nonzero exit is an error.
func (gen *Generator) Ping(ctx context.Context, src, dstIP string, count int) (PingResult, error) {
	cmd := strings.Join(Ping(dstIP, count), " ")
	res, err := gen.backend.RunCommand(ctx, gen.handle, src, cmd)
	if err != nil {
		return PingResult{Src: src, Dst: dstIP}, err
	}
	if res.ExitCode != 0 && res.ExitCode != 1 {
		return PingResult{Src: src, Dst: dstIP, Output: res.Stdout}, emulation.Check(res, src, cmd)
	}
	out, err := ParsePing(res.Stdout)
	out.Src, out.Dst = src, dstIP
	if err != nil {
		if res.ExitCode == 1 {
			// no summary at all, e.g. network unreachable before any packet left
			return out, nil
		}
		return out, fmt.Errorf("ping %s -> %s: %w", src, dstIP, err)
	}
	gen.log.Info("ping",
		zap.String("src", src), zap.String("dst", dstIP),
		zap.Int("received", out.Received), zap.Float64("loss", out.LossPercent))
	return out, nil
}
