package topology

import "fmt"

// SpineLeafConfig sizes a two tier leaf-spine fabric.
type SpineLeafConfig struct {
	// SpineCount defaults to 2.
	SpineCount int
	// LeafCount defaults to 4.
	LeafCount int
	// HostsPerLeaf defaults to 1.
	HostsPerLeaf int
}

func DefaultSpineLeafConfig() SpineLeafConfig {
	return SpineLeafConfig{SpineCount: 2, LeafCount: 4, HostsPerLeaf: 1}
}

// SpineLeaf numbers spines s1..sS, leaves after them, and links every leaf to every spine
// before any host is attached.
func SpineLeaf(cfg SpineLeafConfig) (*Graph, error) {
	switch {
	case cfg.SpineCount < 1:
		return nil, fmt.Errorf("%w: spine_count must be >= 1, got %d", ErrInvalidParameter, cfg.SpineCount)
	case cfg.LeafCount < 1:
		return nil, fmt.Errorf("%w: leaf_count must be >= 1, got %d", ErrInvalidParameter, cfg.LeafCount)
	case cfg.HostsPerLeaf < 1:
		return nil, fmt.Errorf("%w: hosts_per_leaf must be >= 1, got %d", ErrInvalidParameter, cfg.HostsPerLeaf)
	case cfg.SpineCount > MaxSpineCount:
		return nil, fmt.Errorf("%w: spine_count must be <= %d, got %d", ErrInvalidParameter, MaxSpineCount, cfg.SpineCount)
	case cfg.LeafCount > MaxLeafCount:
		return nil, fmt.Errorf("%w: leaf_count must be <= %d, got %d", ErrInvalidParameter, MaxLeafCount, cfg.LeafCount)
	case cfg.HostsPerLeaf > MaxHosts/cfg.LeafCount:
		return nil, fmt.Errorf("%w: leaf_count*hosts_per_leaf exceeds %d hosts", ErrInvalidParameter, MaxHosts)
	}
	b := newBuilder("spineleaf", map[string]string{
		"spine_count":    fmt.Sprint(cfg.SpineCount),
		"leaf_count":     fmt.Sprint(cfg.LeafCount),
		"hosts_per_leaf": fmt.Sprint(cfg.HostsPerLeaf),
	})

	spines := make([]string, 0, cfg.SpineCount)
	for i := 0; i < cfg.SpineCount; i++ {
		spines = append(spines, b.addSwitch(RoleSpine))
	}
	leaves := make([]string, 0, cfg.LeafCount)
	for i := 0; i < cfg.LeafCount; i++ {
		leaves = append(leaves, b.addSwitch(RoleLeaf))
	}
	for _, leaf := range leaves {
		for _, spine := range spines {
			b.addLink(leaf, spine)
		}
	}
	for _, leaf := range leaves {
		for j := 0; j < cfg.HostsPerLeaf; j++ {
			h, err := b.addHost(0)
			if err != nil {
				return nil, err
			}
			b.addLink(h, leaf)
		}
	}
	return b.graph()
}
