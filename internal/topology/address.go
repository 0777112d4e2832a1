package topology

import (
	"fmt"
	"strconv"
)

// Size limits of the built-in families. Hosts are bounded by the 16 bit host part of
// IPv4For; switch counts keep graphs within what one backend can realise.
const (
	MaxHosts      = 0xfffe
	MaxFatTreeK   = 256
	MaxTreeDepth  = 16
	MaxSpineCount = 256
	MaxLeafCount  = 1024
)

// Allocator hands out node ids for one graph-construction session. Addresses are derived
// from the numeric part of an id only, so two allocators fed the same sequence of calls
// produce identical addressing.
type Allocator struct {
	hosts    int
	switches int
}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// NextHostID returns h1, h2, ...
func (a *Allocator) NextHostID() string {
	a.hosts++
	return "h" + strconv.Itoa(a.hosts)
}

// NextSwitchID returns s1, s2, ...
func (a *Allocator) NextSwitchID() string {
	a.switches++
	return "s" + strconv.Itoa(a.switches)
}

// MACFor derives the MAC of a node from its id. Hosts map to 00:00:00:00:XX:XX like
// Mininet's autoSetMacs; switches carry 01 in the third octet so the two never collide.
func MACFor(id string) (string, error) {
	kind, n, err := splitID(id)
	if err != nil {
		return "", err
	}
	var k byte
	if kind == 's' {
		k = 1
	}
	return fmt.Sprintf("00:00:%02x:%02x:%02x:%02x", k, byte(n>>16), byte(n>>8), byte(n)), nil
}

// DPIDFor derives the datapath id of a switch from its id.
func DPIDFor(id string) (string, error) {
	kind, n, err := splitID(id)
	if err != nil {
		return "", err
	}
	if kind != 's' {
		return "", fmt.Errorf("%w: %q is not a switch id", ErrInvalidParameter, id)
	}
	return fmt.Sprintf("%016x", n), nil
}

// IPv4For returns 10.<subnet>.<host/256>.<host%256>/8. Hosts of every subnet share the
// flat 10.0.0.0/8 broadcast domain of the emulated network.
func IPv4For(subnetIndex, hostIndex int) (string, error) {
	if subnetIndex < 0 || subnetIndex > 255 {
		return "", fmt.Errorf("%w: subnet index %d out of range [0,255]", ErrInvalidParameter, subnetIndex)
	}
	if hostIndex < 1 || hostIndex > 0xfffe {
		return "", fmt.Errorf("%w: host index %d out of range [1,65534]", ErrInvalidParameter, hostIndex)
	}
	return fmt.Sprintf("10.%d.%d.%d/8", subnetIndex, hostIndex>>8, hostIndex&0xff), nil
}

func splitID(id string) (byte, int, error) {
	if len(id) < 2 || (id[0] != 'h' && id[0] != 's') {
		return 0, 0, fmt.Errorf("%w: node id %q has no h/s prefix", ErrInvalidParameter, id)
	}
	n, err := strconv.Atoi(id[1:])
	if err != nil || n < 0 || n > 0xffffff {
		return 0, 0, fmt.Errorf("%w: node id %q has no numeric suffix", ErrInvalidParameter, id)
	}
	return id[0], n, nil
}

// builder accumulates nodes and links while tracking per-node port counters.
type builder struct {
	g     *Graph
	alloc *Allocator
	ports map[string]int
}

func newBuilder(name string, params map[string]string) *builder {
	return &builder{
		g:     &Graph{Name: name, Params: params},
		alloc: NewAllocator(),
		ports: make(map[string]int),
	}
}

func (b *builder) addSwitch(role Role) string {
	id := b.alloc.NextSwitchID()
	return b.addSwitchWithID(id, role)
}

func (b *builder) addSwitchWithID(id string, role Role) string {
	dpid, _ := DPIDFor(id)
	b.g.Nodes = append(b.g.Nodes, Node{ID: id, Kind: KindSwitch, Role: role, DPID: dpid})
	b.ports[id] = 0
	return id
}

// addHost allocates the next host and addresses it in the given subnet.
func (b *builder) addHost(subnet int) (string, error) {
	id := b.alloc.NextHostID()
	ip, err := IPv4For(subnet, b.alloc.hosts)
	if err != nil {
		return "", err
	}
	mac, err := MACFor(id)
	if err != nil {
		return "", err
	}
	b.addHostNode(Node{ID: id, Kind: KindHost, Role: RoleHost, MAC: mac, IPv4: ip})
	return id, nil
}

func (b *builder) addHostNode(n Node) {
	b.g.Nodes = append(b.g.Nodes, n)
	// Hosts number their interfaces from eth0.
	b.ports[n.ID] = -1
}

func (b *builder) nextPort(id string) int {
	b.ports[id]++
	return b.ports[id]
}

func (b *builder) addLink(a, z string) *Link {
	b.g.Links = append(b.g.Links, Link{
		A:      a,
		B:      z,
		PortA:  b.nextPort(a),
		PortB:  b.nextPort(z),
		Status: StatusUp,
	})
	return &b.g.Links[len(b.g.Links)-1]
}

func (b *builder) graph() (*Graph, error) {
	if err := b.g.Validate(); err != nil {
		return nil, err
	}
	return b.g, nil
}
