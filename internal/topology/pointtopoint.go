package topology

import (
	"fmt"
	"strings"
	"time"
)

// Pair is one undirected edge of an ad hoc graph.
type Pair struct {
	A, B string
}

// PointToPointConfig describes an arbitrary host/switch graph. Node kinds come from the id
// prefix: h for hosts, anything else is a switch. Host ids need a numeric suffix since their
// MAC is derived from it.
type PointToPointConfig struct {
	// Nodes optionally fixes node order; nodes only named by edges are appended in order of
	// first appearance.
	Nodes []string
	Edges []Pair
}

// PointToPoint builds an ad hoc graph and rejects it with ErrDisconnectedGraph when a node
// cannot be reached from the first one.
func PointToPoint(cfg PointToPointConfig) (*Graph, error) {
	return pointToPoint("pointtopoint", cfg, map[string]string{"edges": FormatEdges(cfg.Edges)})
}

func pointToPoint(name string, cfg PointToPointConfig, params map[string]string) (*Graph, error) {
	if len(cfg.Edges) == 0 && len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("%w: point-to-point graph needs at least one edge", ErrInvalidParameter)
	}
	b := newBuilder(name, params)
	seen := make(map[string]bool)
	// derived MACs and datapath ids, so that h1 and h01 cannot share one
	derived := make(map[string]string)
	claim := func(id, addr string) error {
		if other, dup := derived[addr]; dup {
			return fmt.Errorf("%w: nodes %s and %s map to the same address %s", ErrInvalidParameter, other, id, addr)
		}
		derived[addr] = id
		return nil
	}
	hosts := 0
	add := func(id string) error {
		if seen[id] {
			return nil
		}
		if id == "" {
			return fmt.Errorf("%w: empty node id", ErrInvalidParameter)
		}
		seen[id] = true
		if !strings.HasPrefix(id, "h") {
			dpid, _ := DPIDFor(id)
			if dpid != "" {
				if err := claim(id, "dpid "+dpid); err != nil {
					return err
				}
			}
			b.g.Nodes = append(b.g.Nodes, Node{ID: id, Kind: KindSwitch, Role: RoleEdge, DPID: dpid})
			b.ports[id] = 0
			return nil
		}
		mac, err := MACFor(id)
		if err != nil {
			return fmt.Errorf("%w: host id %q needs a numeric suffix", ErrInvalidParameter, id)
		}
		if err := claim(id, mac); err != nil {
			return err
		}
		hosts++
		ip, err := IPv4For(0, hosts)
		if err != nil {
			return err
		}
		b.addHostNode(Node{ID: id, Kind: KindHost, Role: RoleHost, MAC: mac, IPv4: ip})
		return nil
	}
	for _, id := range cfg.Nodes {
		if err := add(id); err != nil {
			return nil, err
		}
	}
	for _, e := range cfg.Edges {
		if err := add(e.A); err != nil {
			return nil, err
		}
		if err := add(e.B); err != nil {
			return nil, err
		}
		if e.A == e.B {
			return nil, fmt.Errorf("%w: self loop on %q", ErrInvalidParameter, e.A)
		}
		if _, dup := b.g.LinkIndex(e.A, e.B); dup {
			return nil, fmt.Errorf("%w: duplicate edge %s-%s", ErrInvalidParameter, e.A, e.B)
		}
		b.addLink(e.A, e.B)
	}
	if missing := b.g.Unreachable(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: unreachable from %s: %s", ErrDisconnectedGraph, b.g.Nodes[0].ID, strings.Join(missing, ","))
	}
	return b.graph()
}

// ParseEdges reads "h1-s1;s1-s2" style edge lists. Commas are accepted as separators too.
func ParseEdges(s string) ([]Pair, error) {
	var out []Pair
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' || r == ' ' }) {
		a, z, ok := strings.Cut(f, "-")
		if !ok || a == "" || z == "" {
			return nil, fmt.Errorf("%w: malformed edge %q", ErrInvalidParameter, f)
		}
		out = append(out, Pair{A: a, B: z})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no edges in %q", ErrInvalidParameter, s)
	}
	return out, nil
}

func FormatEdges(edges []Pair) string {
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = e.A + "-" + e.B
	}
	return strings.Join(parts, ";")
}

// Triangle is three hosts, each behind its own switch, with the switches fully meshed.
func Triangle() (*Graph, error) {
	edges := []Pair{
		{"h1", "s1"}, {"h2", "s2"}, {"h3", "s3"},
		{"s1", "s2"}, {"s1", "s3"}, {"s2", "s3"},
	}
	return pointToPoint("triangle", PointToPointConfig{
		Nodes: []string{"h1", "h2", "h3", "s1", "s2", "s3"},
		Edges: edges,
	}, map[string]string{})
}

// StarConfig puts every host on one switch.
type StarConfig struct {
	// Hosts defaults to 2.
	Hosts int
}

func Star(cfg StarConfig) (*Graph, error) {
	if cfg.Hosts < 1 || cfg.Hosts > MaxHosts {
		return nil, fmt.Errorf("%w: hosts must be in [1,%d], got %d", ErrInvalidParameter, MaxHosts, cfg.Hosts)
	}
	b := newBuilder("single", map[string]string{"hosts": fmt.Sprint(cfg.Hosts)})
	hosts := make([]string, 0, cfg.Hosts)
	for i := 0; i < cfg.Hosts; i++ {
		h, err := b.addHost(0)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	s := b.addSwitch(RoleEdge)
	for _, h := range hosts {
		b.addLink(h, s)
	}
	return b.graph()
}

// DumbbellConfig describes a core switch between two leaf switches. Each leaf carries a
// number of fixed hosts addressed 10.0.0.x and randomly loaded hosts addressed 10.0.<leaf>.x.
type DumbbellConfig struct {
	// FixedPerLeaf defaults to 2. The first fixed host of each leaf gets the stream link.
	FixedPerLeaf int
	// RandomPerLeaf defaults to 3.
	RandomPerLeaf int
	// CoreBandwidthMbps and CoreDelay shape the core-leaf links. Defaults 100 and 5ms.
	CoreBandwidthMbps uint
	CoreDelay         time.Duration
	// StreamBandwidthMbps shapes the stream host links. Default 50.
	StreamBandwidthMbps uint
	// HostBandwidthMbps and HostDelay shape every other host link. Defaults 20 and 2ms.
	HostBandwidthMbps uint
	HostDelay         time.Duration
}

func DefaultDumbbellConfig() DumbbellConfig {
	return DumbbellConfig{
		FixedPerLeaf:        2,
		RandomPerLeaf:       3,
		CoreBandwidthMbps:   100,
		CoreDelay:           5 * time.Millisecond,
		StreamBandwidthMbps: 50,
		HostBandwidthMbps:   20,
		HostDelay:           2 * time.Millisecond,
	}
}

// MaxDumbbellFixed keeps the 2*FixedPerLeaf fixed hosts within 10.0.0.1-10.0.0.254.
const MaxDumbbellFixed = 127

func Dumbbell(cfg DumbbellConfig) (*Graph, error) {
	// fixed hosts stay inside 10.0.0.0/24, below the random hosts' 10.0.<leaf>.x
	if cfg.FixedPerLeaf < 1 || cfg.FixedPerLeaf > MaxDumbbellFixed {
		return nil, fmt.Errorf("%w: fixed_per_leaf must be in [1,%d], got %d", ErrInvalidParameter, MaxDumbbellFixed, cfg.FixedPerLeaf)
	}
	if cfg.RandomPerLeaf < 0 || cfg.RandomPerLeaf > 245 {
		return nil, fmt.Errorf("%w: random_per_leaf must be in [0,245], got %d", ErrInvalidParameter, cfg.RandomPerLeaf)
	}
	b := newBuilder("dumbbell", map[string]string{
		"fixed_per_leaf":  fmt.Sprint(cfg.FixedPerLeaf),
		"random_per_leaf": fmt.Sprint(cfg.RandomPerLeaf),
	})
	core := b.addSwitch(RoleCore)
	leaves := []string{b.addSwitch(RoleLeaf), b.addSwitch(RoleLeaf)}
	for _, leaf := range leaves {
		l := b.addLink(core, leaf)
		l.BandwidthMbps, l.Delay = cfg.CoreBandwidthMbps, cfg.CoreDelay
	}
	for _, leaf := range leaves {
		for j := 0; j < cfg.FixedPerLeaf; j++ {
			h, err := b.addHost(0)
			if err != nil {
				return nil, err
			}
			l := b.addLink(h, leaf)
			l.BandwidthMbps, l.Delay = cfg.HostBandwidthMbps, cfg.HostDelay
			if j == 0 {
				l.BandwidthMbps = cfg.StreamBandwidthMbps
			}
		}
	}
	for i, leaf := range leaves {
		for j := 0; j < cfg.RandomPerLeaf; j++ {
			id := b.alloc.NextHostID()
			mac, err := MACFor(id)
			if err != nil {
				return nil, err
			}
			b.addHostNode(Node{
				ID:   id,
				Kind: KindHost,
				Role: RoleHost,
				MAC:  mac,
				IPv4: fmt.Sprintf("10.0.%d.%d/8", i+1, 10+j),
			})
			l := b.addLink(id, leaf)
			l.BandwidthMbps, l.Delay = cfg.HostBandwidthMbps, cfg.HostDelay
		}
	}
	return b.graph()
}

// DumbbellRandomHosts returns the random host ids hanging off the given leaf (1 or 2).
func DumbbellRandomHosts(g *Graph, leaf int) []string {
	prefix := fmt.Sprintf("10.0.%d.", leaf)
	var out []string
	for _, n := range g.Hosts() {
		if strings.HasPrefix(n.IPv4, prefix) {
			out = append(out, n.ID)
		}
	}
	return out
}
