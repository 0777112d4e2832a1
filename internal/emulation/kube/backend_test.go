package kube_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	apiv1 "k8s.io/api/core/v1"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/emulation/kube"
	"github.com/idlab-discover/sdnscen/internal/kubernetes"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

type fakeCluster struct {
	mu       sync.Mutex
	pods     map[string]*apiv1.Pod
	execs    map[string][]string
	deleted  []string
	failExec string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{pods: map[string]*apiv1.Pod{}, execs: map[string][]string{}}
}

func (f *fakeCluster) CreateRunningPod(_ context.Context, pod *apiv1.Pod) (kubernetes.RunningPodSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods[pod.Name] = pod
	return kubernetes.RunningPodSpec{
		PodName:       pod.Name,
		ContainerName: pod.Spec.Containers[0].Name,
		PodIP:         fmt.Sprintf("192.168.0.%d", len(f.pods)),
	}, nil
}

func (f *fakeCluster) DeletePodsByLabel(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, selector)
	return nil
}

func (f *fakeCluster) ExecShell(_ context.Context, pod, _, command string) (emulation.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[pod] = append(f.execs[pod], command)
	if f.failExec != "" && strings.Contains(command, f.failExec) {
		return emulation.CommandResult{ExitCode: 1, Stderr: "RTNETLINK answers: File exists"}, nil
	}
	return emulation.CommandResult{}, nil
}

func TestBackendLifecycle(t *testing.T) {
	cluster := newFakeCluster()
	b := kube.New(cluster, kube.Options{}, zaptest.NewLogger(t))
	g, err := topology.RedundantDualPath()
	require.NoError(t, err)
	ctx := context.Background()

	h, err := b.BuildNetwork(ctx, g)
	require.NoError(t, err)
	assert.Len(t, cluster.pods, 6)

	_, err = b.BuildNetwork(ctx, g)
	assert.ErrorIs(t, err, emulation.ErrNetworkActive)

	s1 := cluster.pods[kube.PodName(string(h), "s1")]
	require.NotNil(t, s1)
	assert.True(t, *s1.Spec.Containers[0].SecurityContext.Privileged)
	assert.Equal(t, "s1", s1.Labels[kube.LabelNode])

	require.NoError(t, b.Start(ctx, h))
	setup := cluster.execs[kube.PodName(string(h), "s1")]
	require.Len(t, setup, 2)
	assert.Contains(t, setup[0], "add-br s1")
	assert.Contains(t, setup[1], "set-controller s1 tcp:127.0.0.1:6653")

	require.NoError(t, b.SetInterfaceStatus(ctx, h, "s1", "s1-eth2", topology.StatusDown))
	last := cluster.execs[kube.PodName(string(h), "s1")]
	assert.Equal(t, "ip link set dev s1-eth2 down", last[len(last)-1])

	err = b.SetInterfaceStatus(ctx, h, "s2", "s1-eth2", topology.StatusDown)
	assert.ErrorIs(t, err, emulation.ErrUnknownNode)

	_, err = b.RunCommand(ctx, h, "h9", "true")
	assert.ErrorIs(t, err, emulation.ErrUnknownNode)

	require.NoError(t, b.Stop(ctx, h))
	assert.Equal(t, []string{kube.LabelNetwork + "=" + string(h)}, cluster.deleted)
	_, err = b.RunCommand(ctx, h, "h1", "true")
	assert.ErrorIs(t, err, emulation.ErrUnknownHandle)
}

func TestBuildFailureCleansUp(t *testing.T) {
	cluster := newFakeCluster()
	cluster.failExec = "type vxlan"
	b := kube.New(cluster, kube.Options{}, zaptest.NewLogger(t))
	g, err := topology.Star(topology.StarConfig{Hosts: 2})
	require.NoError(t, err)

	_, err = b.BuildNetwork(context.Background(), g)
	require.Error(t, err)
	var cmdErr *emulation.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Contains(t, err.Error(), "File exists")
	assert.Len(t, cluster.deleted, 1)
}

func TestSetupCommands(t *testing.T) {
	g, err := topology.RedundantDualPath()
	require.NoError(t, err)
	h1, _ := g.Node("h1")
	ips := map[string]string{"s1": "192.168.0.11", "s3": "192.168.0.13"}
	cmds := kube.SetupCommands(g, h1, ips, emulation.OVS{Protocols: "OpenFlow14"})

	assert.Equal(t, []string{
		"ip route replace 192.168.0.11/32 $(ip route get 192.168.0.11 | head -n1 | sed -e 's/^[^ ]* //' -e 's/ src .*//' -e 's/ uid .*//')",
		"ip link add h1-eth0 type vxlan id 1 remote 192.168.0.11 dstport 4789 dev eth0",
		"ip link set dev h1-eth0 address 00:00:00:00:00:01",
		"ip addr add 10.0.0.1/24 dev h1-eth0",
		"ip route replace 192.168.0.13/32 $(ip route get 192.168.0.13 | head -n1 | sed -e 's/^[^ ]* //' -e 's/ src .*//' -e 's/ uid .*//')",
		"ip link add h1-eth1 type vxlan id 4 remote 192.168.0.13 dstport 4789 dev eth0",
		"ip link set dev h1-eth1 address 00:00:00:00:00:01",
		"ip addr add 10.0.0.1/24 dev h1-eth1",
	}, cmds)

	// a single-homed host only addresses its first port
	g, err = topology.Star(topology.StarConfig{Hosts: 2})
	require.NoError(t, err)
	h2, _ := g.Node("h2")
	cmds = kube.SetupCommands(g, h2, map[string]string{"s1": "192.168.0.21"}, emulation.OVS{})
	assert.Equal(t, "ip addr add "+h2.IPv4+" dev h2-eth0", cmds[len(cmds)-1])
}

func TestStartCommandsShapeLinks(t *testing.T) {
	g, err := topology.Dumbbell(topology.DefaultDumbbellConfig())
	require.NoError(t, err)
	core, _ := g.Node("s1")
	cmds, err := kube.StartCommands(g, core, emulation.OVS{Controller: "tcp:10.96.0.10:6653"}, emulation.Shaping{})
	require.NoError(t, err)
	require.Len(t, cmds, 5)
	assert.Equal(t, "ip link set dev s1-eth1 up", cmds[0])
	assert.Contains(t, cmds[1], "tbf rate 100mbit")
	assert.Contains(t, cmds[1], "netem delay 5ms")
	assert.Equal(t, "ovs-vsctl set-controller s1 tcp:10.96.0.10:6653", cmds[4])
}

func TestBuildNodePod(t *testing.T) {
	pod := kube.BuildNodePod("sdn-1234", topology.Node{ID: "h1", Kind: topology.KindHost, Role: topology.RoleHost}, kube.PodOptions{})
	assert.Equal(t, "sdn-1234-h1", pod.Name)
	c := pod.Spec.Containers[0]
	assert.Equal(t, kube.ImageHost, c.Image)
	assert.Nil(t, c.SecurityContext.Privileged)
	assert.Equal(t, []apiv1.Capability{kube.CapabilityNetAdmin}, c.SecurityContext.Capabilities.Add)
	assert.Equal(t, "100m", c.Resources.Requests.Cpu().String())
	assert.Empty(t, c.Resources.Limits)
}
