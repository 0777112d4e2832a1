// Package topology builds the virtual network graphs handed to an emulation backend.
// Every constructor is a pure function of its configuration: building the same family twice
// with the same parameters yields identical node ids, ports and addresses.
package topology

import (
	"fmt"
	"strings"
	"time"
)

type NodeKind string

const (
	KindSwitch NodeKind = "switch"
	KindHost   NodeKind = "host"
)

// Role is the layer a node occupies in its topology family.
type Role string

const (
	RoleCore        Role = "core"
	RoleAggregation Role = "aggregation"
	RoleEdge        Role = "edge"
	RoleLeaf        Role = "leaf"
	RoleSpine       Role = "spine"
	RoleHost        Role = "host"
)

type LinkStatus string

const (
	StatusUp   LinkStatus = "up"
	StatusDown LinkStatus = "down"
)

// ParseLinkStatus accepts "up" or "down" in any case.
func ParseLinkStatus(s string) (LinkStatus, error) {
	switch LinkStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusUp:
		return StatusUp, nil
	case StatusDown:
		return StatusDown, nil
	default:
		return "", fmt.Errorf("%w: link status %q", ErrInvalidParameter, s)
	}
}

type Node struct {
	ID   string   `yaml:"id"`
	Kind NodeKind `yaml:"kind"`
	Role Role     `yaml:"role"`
	// MAC is only set on hosts.
	MAC string `yaml:"mac,omitempty"`
	// IPv4 is the host address in CIDR notation.
	IPv4 string `yaml:"ipv4,omitempty"`
	// DPID is the 16 hex digit OpenFlow datapath id of a switch.
	DPID string `yaml:"dpid,omitempty"`
}

// Addr returns the IPv4 address of the node without its prefix length.
func (n Node) Addr() string {
	if i := strings.IndexByte(n.IPv4, '/'); i >= 0 {
		return n.IPv4[:i]
	}
	return n.IPv4
}

// DeviceID is the controller-side identifier of a switch.
func (n Node) DeviceID() string {
	if n.DPID == "" {
		return ""
	}
	return "of:" + n.DPID
}

func (n Node) IsHost() bool { return n.Kind == KindHost }

// Link is an undirected connection. Ports are numbered per node in link creation order,
// hosts from 0 and switches from 1.
type Link struct {
	A     string `yaml:"a"`
	B     string `yaml:"b"`
	PortA int    `yaml:"portA"`
	PortB int    `yaml:"portB"`
	// MACA and MACB pin the hardware address of an endpoint interface.
	MACA          string        `yaml:"macA,omitempty"`
	MACB          string        `yaml:"macB,omitempty"`
	BandwidthMbps uint          `yaml:"bandwidthMbps,omitempty"`
	Delay         time.Duration `yaml:"delay,omitempty"`
	Status        LinkStatus    `yaml:"status"`
}

// InterfaceName follows the Mininet convention <node>-eth<port>.
func InterfaceName(node string, port int) string {
	return fmt.Sprintf("%s-eth%d", node, port)
}

func (l Link) IfaceA() string { return InterfaceName(l.A, l.PortA) }
func (l Link) IfaceB() string { return InterfaceName(l.B, l.PortB) }

// Connects reports whether the link joins a and b, in either direction.
func (l Link) Connects(a, b string) bool {
	return (l.A == a && l.B == b) || (l.A == b && l.B == a)
}

// Other returns the endpoint opposite to id.
func (l Link) Other(id string) string {
	if l.A == id {
		return l.B
	}
	return l.A
}

func (l Link) String() string {
	return l.A + "-" + l.B
}
