package scenarios_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/idlab-discover/sdnscen/internal/scenarios"
	"github.com/idlab-discover/sdnscen/internal/topology"
	"github.com/idlab-discover/sdnscen/internal/traffic"
)

const qos = `
topology:
  name: dumbbell
  params: {core_bw: 100}
requireConnectivity: true
traffic:
  - {type: random, sources: [h5, h6, h7], destinations: [h8, h9, h10], minRate: 5, maxRate: 15}
  - {type: foreground, client: h1, server: h3, rate: 8, duration: 10, onFailure: abort}
`

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "QoS_Video.yaml")
	require.NoError(t, os.WriteFile(path, []byte(qos), 0o644))

	def, err := scenarios.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qos-video", def.Name)
	assert.Equal(t, "dumbbell", def.Topology.Name)
	assert.Equal(t, map[string]string{"core_bw": "100"}, def.Topology.Params)
	assert.Zero(t, def.Discovery)
	assert.True(t, def.RequireConnectivity)
	assert.Equal(t, 3, def.Verify.Count)

	require.Len(t, def.Traffic, 2)
	random := def.Traffic[0]
	assert.Equal(t, scenarios.Continue, random.OnFailure)
	assert.Equal(t, string(traffic.UDP), random.Proto)
	assert.Equal(t, traffic.DefaultPort, random.Port)
	assert.Equal(t, 60, random.Duration)
	assert.Equal(t, scenarios.Abort, def.Traffic[1].OnFailure)
	assert.Equal(t, 10, def.Traffic[1].Duration)
}

func TestParseFaults(t *testing.T) {
	t.Parallel()
	def, err := scenarios.Parse([]byte(`
name: bad-backup
topology: {name: redundant}
discovery: 2s
faults:
  - {type: link, a: s1, b: s2, status: down, onFailure: continue}
  - type: flow
    rule:
      deviceId: "of:0000000000000003"
      priority: 50000
      timeout: 30
      selector: {criteria: [{type: ETH_TYPE, ethType: "0x0800"}]}
`), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "bad-backup", def.Name)
	assert.Equal(t, 2*time.Second, def.Discovery)
	require.Len(t, def.Faults, 2)
	assert.Equal(t, scenarios.Continue, def.Faults[0].OnFailure)
	assert.Equal(t, scenarios.Abort, def.Faults[1].OnFailure)
	require.NotNil(t, def.Faults[1].Rule)
	assert.Equal(t, 30, def.Faults[1].Rule.TimeoutSec)
	assert.False(t, def.Faults[1].Rule.Permanent)

	// priority and timeout are the controller's to judge
	def, err = scenarios.Parse([]byte(`
topology: {name: tree}
faults: [{type: flow, rule: {deviceId: "of:1", priority: 70000}}]
`), "ignored")
	require.NoError(t, err)
	assert.Equal(t, 70000, def.Faults[0].Rule.Priority)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	testCases := map[string]struct {
		doc     string
		invalid bool
	}{
		"unknown field": {
			doc: "topology: {name: tree}\nfautls: []\n",
		},
		"no topology": {
			doc:     "name: x\n",
			invalid: true,
		},
		"bad policy": {
			doc:     "topology: {name: tree}\nfaults: [{type: link, a: s1, b: s2, status: down, onFailure: retry}]\n",
			invalid: true,
		},
		"bad link status": {
			doc:     "topology: {name: tree}\nfaults: [{type: link, a: s1, b: s2, status: flapping}]\n",
			invalid: true,
		},
		"flow without rule": {
			doc:     "topology: {name: tree}\nfaults: [{type: flow}]\n",
			invalid: true,
		},
		"flow without device": {
			doc:     "topology: {name: tree}\nfaults: [{type: flow, rule: {priority: 1, permanent: true}}]\n",
			invalid: true,
		},
		"unknown traffic type": {
			doc:     "topology: {name: tree}\ntraffic: [{type: burst, server: h1, client: h2}]\n",
			invalid: true,
		},
		"pair without client": {
			doc:     "topology: {name: tree}\ntraffic: [{type: pair, server: h1}]\n",
			invalid: true,
		},
		"inverted rate range": {
			doc:     "topology: {name: tree}\ntraffic: [{type: random, sources: [h1], destinations: [h2], minRate: 15, maxRate: 5}]\n",
			invalid: true,
		},
		"bad proto": {
			doc:     "topology: {name: tree}\ntraffic: [{type: pair, server: h1, client: h2, proto: sctp}]\n",
			invalid: true,
		},
		"capture without iface": {
			doc:     "topology: {name: tree}\ncapture: {node: s1}\n",
			invalid: true,
		},
		"negative discovery": {
			doc:     "topology: {name: tree}\ndiscovery: -1s\n",
			invalid: true,
		},
	}
	for name, tc := range testCases {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := scenarios.Parse([]byte(tc.doc), "x")
			require.Error(t, err)
			if tc.invalid {
				assert.ErrorIs(t, err, topology.ErrInvalidParameter)
			}
		})
	}
}

func TestWriteReport(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "out")
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &scenarios.Report{
		UUID:      uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Name:      "redundant-failover",
		Topology:  "redundant",
		StartTime: start,
		StopTime:  start.Add(7 * time.Second),
		State:     scenarios.StateSucceeded,
		LastState: scenarios.StateVerified,
		Stages: []scenarios.StageResult{
			{Name: "build", Status: scenarios.StageOK, Duration: time.Millisecond},
		},
		Verification: &traffic.PingResult{Src: "h1", Dst: "h2", Transmitted: 3, Received: 3, Reachable: true},
	}
	require.NoError(t, scenarios.WriteReport(r, dir))

	b, err := os.ReadFile(filepath.Join(dir, "report.yaml"))
	require.NoError(t, err)
	var back map[string]interface{}
	require.NoError(t, yaml.Unmarshal(b, &back))
	assert.Equal(t, "redundant-failover", back["name"])
	assert.Equal(t, "succeeded", back["state"])
	assert.Equal(t, "verified", back["lastState"])
	assert.Contains(t, string(b), "duration: 1ms")
	assert.Contains(t, string(b), "reachable: true")
	assert.NotContains(t, string(b), "failedStage")
}
