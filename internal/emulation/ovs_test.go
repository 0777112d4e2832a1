package emulation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/idlab-discover/sdnscen/internal/emulation"
)

func TestOVSCommands(t *testing.T) {
	o := emulation.OVS{Controller: emulation.DefaultController, Protocols: emulation.DefaultProtocols}
	assert.Equal(t, []string{"--may-exist", "add-br", "s1", "--", "set", "Bridge", "s1",
		"other-config:datapath-id=0000000000000001", "protocols=OpenFlow14", "fail-mode=secure"},
		o.AddBridge("s1", "0000000000000001"))
	assert.Equal(t, "ovs-vsctl --may-exist add-port s1 s1-eth2 -- set Interface s1-eth2 ofport_request=2",
		o.Shell(o.AddPort("s1", "s1-eth2", 2)))
	assert.Equal(t, []string{"set-controller", "s1", "tcp:127.0.0.1:6653"}, o.SetController("s1"))
	assert.Equal(t, []string{"--if-exists", "del-br", "s1"}, o.DelBridge("s1"))
}
