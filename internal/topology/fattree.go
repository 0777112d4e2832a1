package topology

import "fmt"

// FatTreeConfig has no defaults: K must be given explicitly.
type FatTreeConfig struct {
	// K is the switch port count. It must be even and at least 2.
	K int
}

// FatTree builds a k-ary fat tree: (k/2)^2 core switches, then per pod k/2 aggregation and
// k/2 edge switches, with k/2 hosts per edge switch. Aggregation switch i of every pod links
// core switches [i*k/2, i*k/2+k/2), so each pod reaches every core switch exactly once.
func FatTree(cfg FatTreeConfig) (*Graph, error) {
	k := cfg.K
	if k < 2 || k%2 != 0 {
		return nil, fmt.Errorf("%w: fat-tree k must be even and >= 2, got %d", ErrInvalidParameter, k)
	}
	if k > MaxFatTreeK {
		return nil, fmt.Errorf("%w: fat-tree k must be <= %d, got %d", ErrInvalidParameter, MaxFatTreeK, k)
	}
	half := k / 2
	if k*half*half > MaxHosts {
		return nil, fmt.Errorf("%w: fat-tree k=%d exceeds the host address space", ErrInvalidParameter, k)
	}
	b := newBuilder("fattree", map[string]string{"k": fmt.Sprint(k)})

	cores := make([]string, 0, half*half)
	for i := 0; i < half*half; i++ {
		cores = append(cores, b.addSwitch(RoleCore))
	}
	for pod := 0; pod < k; pod++ {
		aggs := make([]string, 0, half)
		for i := 0; i < half; i++ {
			aggs = append(aggs, b.addSwitch(RoleAggregation))
		}
		edges := make([]string, 0, half)
		for i := 0; i < half; i++ {
			edges = append(edges, b.addSwitch(RoleEdge))
		}
		for _, edge := range edges {
			for _, agg := range aggs {
				b.addLink(edge, agg)
			}
		}
		for i, agg := range aggs {
			for _, core := range cores[i*half : i*half+half] {
				b.addLink(agg, core)
			}
		}
		// Host numbers come out as pod*(k/2)^2 + edge*(k/2) + j + 1.
		for _, edge := range edges {
			for j := 0; j < half; j++ {
				h, err := b.addHost(0)
				if err != nil {
					return nil, err
				}
				b.addLink(edge, h)
			}
		}
	}
	return b.graph()
}

// FatTreeNodeCount is (k/2)^2 + k*k + k*(k/2)*(k/2).
func FatTreeNodeCount(k int) int {
	half := k / 2
	return half*half + k*k + k*half*half
}
