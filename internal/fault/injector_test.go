package fault_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/emulation/emulationtest"
	"github.com/idlab-discover/sdnscen/internal/fault"
	"github.com/idlab-discover/sdnscen/internal/metrics"
	"github.com/idlab-discover/sdnscen/internal/sdn"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

type fakeFlows struct {
	mu        sync.Mutex
	installed []sdn.FlowRule
	removed   []string
	removeErr error
}

func (f *fakeFlows) InstallFlow(_ context.Context, rule sdn.FlowRule) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, rule)
	return "flow-" + string(rune('0'+len(f.installed))), nil
}

func (f *fakeFlows) RemoveFlow(_ context.Context, deviceID, flowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, deviceID+"/"+flowID)
	return f.removeErr
}

func setup(t *testing.T) (*emulationtest.Backend, *topology.Graph, emulation.Handle) {
	t.Helper()
	g, err := topology.RedundantDualPath()
	require.NoError(t, err)
	b := emulationtest.New()
	h, err := b.BuildNetwork(context.Background(), g)
	require.NoError(t, err)
	return b, g, h
}

func TestSetLinkStatusIdempotent(t *testing.T) {
	b, g, h := setup(t)
	inj := fault.NewInjector(b, nil, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, inj.SetLinkStatus(ctx, h, g, "s1", "s2", topology.StatusDown))
	require.NoError(t, inj.SetLinkStatus(ctx, h, g, "s2", "s1", topology.StatusDown))

	calls := b.CallsOf(emulationtest.OpSetStatus)
	require.Len(t, calls, 2)
	assert.Equal(t, "s1", calls[0].Node)
	assert.Equal(t, "s1-eth2", calls[0].Iface)
	assert.Equal(t, "s2", calls[1].Node)
	assert.Equal(t, "s2-eth1", calls[1].Iface)
	assert.Equal(t, topology.StatusDown, b.InterfaceStatus("s1-eth2"))

	idx, _ := g.LinkIndex("s1", "s2")
	assert.Equal(t, topology.StatusDown, g.Links[idx].Status)
}

func TestSetLinkStatusFailureKeepsGraph(t *testing.T) {
	b, g, h := setup(t)
	boom := errors.New("netlink: operation not permitted")
	b.Fail = map[emulationtest.Op]error{emulationtest.OpSetStatus: boom}
	m := metrics.New()
	inj := fault.NewInjector(b, nil, m, zaptest.NewLogger(t))

	err := inj.SetLinkStatus(context.Background(), h, g, "s1", "s2", topology.StatusDown)
	assert.ErrorIs(t, err, boom)
	idx, _ := g.LinkIndex("s1", "s2")
	assert.Equal(t, topology.StatusUp, g.Links[idx].Status)
}

// statusFailer lets fail veto individual interface changes before they reach the recorder.
type statusFailer struct {
	*emulationtest.Backend
	fail func(iface string, status topology.LinkStatus) error
}

func (f *statusFailer) SetInterfaceStatus(ctx context.Context, h emulation.Handle, node, iface string, status topology.LinkStatus) error {
	if err := f.fail(iface, status); err != nil {
		return err
	}
	return f.Backend.SetInterfaceStatus(ctx, h, node, iface, status)
}

func TestSetLinkStatusSecondEndpointFails(t *testing.T) {
	rec, g, h := setup(t)
	boom := errors.New("RTNETLINK answers: No such device")
	b := &statusFailer{Backend: rec, fail: func(iface string, _ topology.LinkStatus) error {
		if iface == "s2-eth1" {
			return boom
		}
		return nil
	}}
	inj := fault.NewInjector(b, nil, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	err := inj.SetLinkStatus(ctx, h, g, "s1", "s2", topology.StatusDown)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, topology.StatusUp, rec.InterfaceStatus("s1-eth2"), "first endpoint rolled back")
	idx, _ := g.LinkIndex("s1", "s2")
	assert.Equal(t, topology.StatusUp, g.Links[idx].Status)

	calls := rec.CallsOf(emulationtest.OpSetStatus)
	require.Len(t, calls, 2)
	assert.Equal(t, topology.StatusDown, calls[0].Status)
	assert.Equal(t, "s1-eth2", calls[1].Iface)
	assert.Equal(t, topology.StatusUp, calls[1].Status)

	require.NoError(t, inj.Restore(ctx, h, g))
	assert.Equal(t, topology.StatusUp, rec.InterfaceStatus("s1-eth2"))
}

func TestSetLinkStatusRollbackFails(t *testing.T) {
	rec, g, h := setup(t)
	boom := errors.New("RTNETLINK answers: No such device")
	stuck := errors.New("RTNETLINK answers: Device or resource busy")
	b := &statusFailer{Backend: rec, fail: func(iface string, status topology.LinkStatus) error {
		switch {
		case iface == "s2-eth1":
			return boom
		case iface == "s1-eth2" && status == topology.StatusUp:
			return stuck
		}
		return nil
	}}
	inj := fault.NewInjector(b, nil, nil, zaptest.NewLogger(t))

	err := inj.SetLinkStatus(context.Background(), h, g, "s1", "s2", topology.StatusDown)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, stuck)
	assert.ErrorContains(t, err, "rolling back s1-eth2")
}

func TestSetLinkStatusUnknownLink(t *testing.T) {
	b, g, h := setup(t)
	inj := fault.NewInjector(b, nil, nil, nil)
	err := inj.SetLinkStatus(context.Background(), h, g, "s1", "s4", topology.StatusDown)
	assert.ErrorIs(t, err, topology.ErrInvalidParameter)
	assert.Empty(t, b.CallsOf(emulationtest.OpSetStatus))
}

func TestRestore(t *testing.T) {
	b, g, h := setup(t)
	flows := &fakeFlows{}
	inj := fault.NewInjector(b, flows, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, inj.SetLinkStatus(ctx, h, g, "s1", "s2", topology.StatusDown))
	require.NoError(t, inj.SetLinkStatus(ctx, h, g, "h1", "s1", topology.StatusDown))
	f, err := inj.InstallMisconfiguredFlow(ctx, sdn.FlowRule{DeviceID: "of:0000000000000001", Priority: 50000, Permanent: true})
	require.NoError(t, err)
	assert.Equal(t, "flow-1", f.FlowID)
	assert.Len(t, inj.Installed(), 1)

	require.NoError(t, inj.Restore(ctx, h, g))
	assert.Equal(t, []string{"of:0000000000000001/flow-1"}, flows.removed)
	for _, l := range g.Links {
		assert.Equal(t, topology.StatusUp, l.Status, l.String())
	}
	assert.Equal(t, topology.StatusUp, b.InterfaceStatus("h1-eth0"))
	assert.Len(t, b.CallsOf(emulationtest.OpSetStatus), 8)
	assert.Empty(t, inj.Installed())

	// nothing left to restore
	require.NoError(t, inj.Restore(ctx, h, g))
	assert.Len(t, b.CallsOf(emulationtest.OpSetStatus), 8)
}

func TestRestoreJoinsErrors(t *testing.T) {
	b, g, h := setup(t)
	flows := &fakeFlows{removeErr: errors.New("HTTP 500")}
	inj := fault.NewInjector(b, flows, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, inj.SetLinkStatus(ctx, h, g, "s1", "s2", topology.StatusDown))
	_, err := inj.InstallMisconfiguredFlow(ctx, sdn.FlowRule{DeviceID: "of:0000000000000002", Priority: 1, Permanent: true})
	require.NoError(t, err)

	err = inj.Restore(ctx, h, g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
	idx, _ := g.LinkIndex("s1", "s2")
	assert.Equal(t, topology.StatusUp, g.Links[idx].Status)
}

func TestInstallMisconfiguredFlowRejected(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Unsupported instruction type"))
	}))
	defer srv.Close()
	client := sdn.NewClient(sdn.Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	inj := fault.NewInjector(emulationtest.New(), client, nil, zaptest.NewLogger(t))

	_, err := inj.InstallMisconfiguredFlow(context.Background(), sdn.FlowRule{
		DeviceID:  "of:0000000000000001",
		Priority:  50000,
		Permanent: true,
		Treatment: sdn.Treatment{Instructions: []sdn.Instruction{{"type": "OUTPUT", "port": "1"}}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sdn.ErrControllerRejected)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Unsupported instruction type")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, inj.Installed())
}
