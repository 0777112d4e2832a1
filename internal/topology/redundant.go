package topology

// RedundantDualPath builds two hosts joined by a primary path h1-s1-s2-h2 and a backup path
// h1-s3-s4-h2, with cross-links s1-s3 and s2-s4. Host addresses are pinned on both host
// ports so ARP resolves the same way whichever path is active.
func RedundantDualPath() (*Graph, error) {
	b := newBuilder("redundant", map[string]string{})

	h1 := Node{ID: "h1", Kind: KindHost, Role: RoleHost, MAC: "00:00:00:00:00:01", IPv4: "10.0.0.1/24"}
	h2 := Node{ID: "h2", Kind: KindHost, Role: RoleHost, MAC: "00:00:00:00:00:02", IPv4: "10.0.0.2/24"}
	b.addHostNode(h1)
	b.addHostNode(h2)
	s1 := b.addSwitch(RoleEdge)
	s2 := b.addSwitch(RoleEdge)
	s3 := b.addSwitch(RoleAggregation)
	s4 := b.addSwitch(RoleAggregation)

	b.addLink(h1.ID, s1).MACA = h1.MAC
	b.addLink(s1, s2)
	b.addLink(s2, h2.ID).MACB = h2.MAC

	b.addLink(h1.ID, s3).MACA = h1.MAC
	b.addLink(s3, s4)
	b.addLink(s4, h2.ID).MACB = h2.MAC

	b.addLink(s1, s3)
	b.addLink(s2, s4)
	return b.graph()
}

// PrimaryPath and BackupPath name the two host paths of RedundantDualPath.
var (
	PrimaryPath = []string{"h1", "s1", "s2", "h2"}
	BackupPath  = []string{"h1", "s3", "s4", "h2"}
)
