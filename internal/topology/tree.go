package topology

import "fmt"

// TreeConfig sizes a complete fanout-ary switch tree.
type TreeConfig struct {
	// Depth is the number of switch levels. Default 2.
	Depth int
	// Fanout is the number of children per switch. Default 2.
	Fanout int
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{Depth: 2, Fanout: 2}
}

// Tree builds fanout^depth hosts below a tree of switches. Numbering is pre-order like
// Mininet's TreeTopo: a switch is numbered before its subtrees and linked to each child
// once the child's subtree is complete.
func Tree(cfg TreeConfig) (*Graph, error) {
	if cfg.Depth < 1 {
		return nil, fmt.Errorf("%w: tree depth must be >= 1, got %d", ErrInvalidParameter, cfg.Depth)
	}
	if cfg.Fanout < 1 {
		return nil, fmt.Errorf("%w: tree fanout must be >= 1, got %d", ErrInvalidParameter, cfg.Fanout)
	}
	if cfg.Depth > MaxTreeDepth {
		return nil, fmt.Errorf("%w: tree depth must be <= %d, got %d", ErrInvalidParameter, MaxTreeDepth, cfg.Depth)
	}
	if _, ok := treeHosts(cfg.Depth, cfg.Fanout); !ok {
		return nil, fmt.Errorf("%w: tree fanout^depth exceeds %d hosts", ErrInvalidParameter, MaxHosts)
	}
	b := newBuilder("tree", map[string]string{
		"depth":  fmt.Sprint(cfg.Depth),
		"fanout": fmt.Sprint(cfg.Fanout),
	})
	if _, err := b.addTree(cfg.Depth, cfg.Depth, cfg.Fanout); err != nil {
		return nil, err
	}
	return b.graph()
}

// treeHosts returns fanout^depth, or false once it passes MaxHosts.
func treeHosts(depth, fanout int) (int, bool) {
	hosts := 1
	for i := 0; i < depth; i++ {
		if hosts > MaxHosts/fanout {
			return 0, false
		}
		hosts *= fanout
	}
	return hosts, true
}

func (b *builder) addTree(depth, total, fanout int) (string, error) {
	if depth == 0 {
		return b.addHost(0)
	}
	role := RoleAggregation
	switch {
	case depth == total:
		role = RoleCore
	case depth == 1:
		role = RoleEdge
	}
	node := b.addSwitch(role)
	for i := 0; i < fanout; i++ {
		child, err := b.addTree(depth-1, total, fanout)
		if err != nil {
			return "", err
		}
		b.addLink(node, child)
	}
	return node, nil
}
