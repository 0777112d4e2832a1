package netns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

func TestEndpointsPinHostMAC(t *testing.T) {
	g, err := topology.RedundantDualPath()
	require.NoError(t, err)
	ends := endpoints(g, g.Links[3]) // h1-s3
	require.Len(t, ends, 2)
	assert.Equal(t, "h1-eth1", ends[0].iface)
	assert.Equal(t, "00:00:00:00:00:01", ends[0].mac)
	assert.Equal(t, "s3-eth1", ends[1].iface)
	assert.Empty(t, ends[1].mac)
}

func TestCarriesAddress(t *testing.T) {
	g, err := topology.RedundantDualPath()
	require.NoError(t, err)
	h1, _ := g.Node("h1")
	s1, _ := g.Node("s1")
	testCases := map[string]struct {
		node topology.Node
		port int
		mac  string
		want bool
	}{
		"first port":          {node: h1, port: 0, mac: h1.MAC, want: true},
		"backup port, pinned": {node: h1, port: 1, mac: h1.MAC, want: true},
		"other port":          {node: h1, port: 1, want: false},
		"foreign mac":         {node: h1, port: 1, mac: "00:00:00:00:00:02", want: false},
		"switch":              {node: s1, port: 1, want: false},
	}
	for name, tc := range testCases {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, carriesAddress(tc.node, tc.port, tc.mac))
		})
	}

	// every port of h1 ends up with the address, so either path can carry its traffic
	for _, l := range g.LinksOf("h1") {
		for _, end := range endpoints(g, l) {
			if end.node.ID == "h1" {
				assert.True(t, carriesAddress(end.node, end.port, end.mac), end.iface)
			}
		}
	}
}

func TestExecRunner(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)

	_, err = ExecRunner{}.Run(context.Background(), "/nonexistent/binary")
	assert.ErrorIs(t, err, emulation.ErrBackendUnavailable)
}

func TestUnknownHandle(t *testing.T) {
	b := New(Options{}, zaptest.NewLogger(t))
	_, err := b.RunCommand(context.Background(), "netns-missing", "h1", "true")
	assert.ErrorIs(t, err, emulation.ErrUnknownHandle)
	assert.ErrorIs(t, b.Stop(context.Background(), "netns-missing"), emulation.ErrUnknownHandle)
}
