package topology

import (
	"fmt"
	"sort"
)

// Graph is the node/link structure of a virtual network before an emulation backend
// realises it. Link status is the only field mutated after construction.
type Graph struct {
	Name   string            `yaml:"name"`
	Nodes  []Node            `yaml:"nodes"`
	Links  []Link            `yaml:"links"`
	Params map[string]string `yaml:"params,omitempty"`
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Hosts returns the host nodes in construction order.
func (g *Graph) Hosts() []Node {
	return g.filter(KindHost)
}

// Switches returns the switch nodes in construction order.
func (g *Graph) Switches() []Node {
	return g.filter(KindSwitch)
}

func (g *Graph) filter(kind NodeKind) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// NodesWithRole returns the nodes of the given role in construction order.
func (g *Graph) NodesWithRole(role Role) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	return out
}

// LinkIndex returns the position of the link joining a and b.
func (g *Graph) LinkIndex(a, b string) (int, bool) {
	for i, l := range g.Links {
		if l.Connects(a, b) {
			return i, true
		}
	}
	return -1, false
}

// LinksOf returns every link with id as an endpoint.
func (g *Graph) LinksOf(id string) []Link {
	var out []Link
	for _, l := range g.Links {
		if l.A == id || l.B == id {
			out = append(out, l)
		}
	}
	return out
}

// Neighbors returns the ids adjacent to id, in link order.
func (g *Graph) Neighbors(id string) []string {
	var out []string
	for _, l := range g.Links {
		switch id {
		case l.A:
			out = append(out, l.B)
		case l.B:
			out = append(out, l.A)
		}
	}
	return out
}

// InterfaceOwner maps an interface name back to the node and link it belongs to.
func (g *Graph) InterfaceOwner(iface string) (string, int, bool) {
	for i, l := range g.Links {
		if l.IfaceA() == iface {
			return l.A, i, true
		}
		if l.IfaceB() == iface {
			return l.B, i, true
		}
	}
	return "", -1, false
}

// Validate checks the structural invariants shared by all families: unique node ids,
// link endpoints that exist, no self loops and no duplicate links.
func (g *Graph) Validate() error {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: empty node id", ErrInvalidParameter)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidParameter, n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	pairs := make(map[[2]string]struct{}, len(g.Links))
	for _, l := range g.Links {
		if _, ok := ids[l.A]; !ok {
			return fmt.Errorf("%w: link %s references unknown node %q", ErrInvalidParameter, l, l.A)
		}
		if _, ok := ids[l.B]; !ok {
			return fmt.Errorf("%w: link %s references unknown node %q", ErrInvalidParameter, l, l.B)
		}
		if l.A == l.B {
			return fmt.Errorf("%w: self loop on %q", ErrInvalidParameter, l.A)
		}
		key := [2]string{l.A, l.B}
		if l.B < l.A {
			key = [2]string{l.B, l.A}
		}
		if _, dup := pairs[key]; dup {
			return fmt.Errorf("%w: duplicate link %s", ErrInvalidParameter, l)
		}
		pairs[key] = struct{}{}
	}
	return nil
}

// Unreachable returns the ids that cannot be reached from the first node, sorted.
func (g *Graph) Unreachable() []string {
	if len(g.Nodes) == 0 {
		return nil
	}
	seen := map[string]bool{g.Nodes[0].ID: true}
	queue := []string{g.Nodes[0].ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range g.Neighbors(cur) {
			if !seen[nb] {
				seen[nb] = true
				queue = append(queue, nb)
			}
		}
	}
	var out []string
	for _, n := range g.Nodes {
		if !seen[n.ID] {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy so a run can mutate link status without touching the original.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:  g.Name,
		Nodes: append([]Node(nil), g.Nodes...),
		Links: append([]Link(nil), g.Links...),
	}
	if g.Params != nil {
		c.Params = make(map[string]string, len(g.Params))
		for k, v := range g.Params {
			c.Params[k] = v
		}
	}
	return c
}
