package emulation

import (
	"strconv"
	"strings"
)

const (
	DefaultController = "tcp:127.0.0.1:6653"
	DefaultProtocols  = "OpenFlow14"
)

// OVS builds ovs-vsctl argument lists for switch nodes.
type OVS struct {
	Controller string
	Protocols  string
}

func (o OVS) AddBridge(name, dpid string) []string {
	return []string{"--may-exist", "add-br", name,
		"--", "set", "Bridge", name,
		"other-config:datapath-id=" + dpid,
		"protocols=" + o.Protocols,
		"fail-mode=secure"}
}

// AddPort attaches iface to bridge under a fixed OpenFlow port number.
func (o OVS) AddPort(bridge, iface string, port int) []string {
	return []string{"--may-exist", "add-port", bridge, iface,
		"--", "set", "Interface", iface, "ofport_request=" + strconv.Itoa(port)}
}

func (o OVS) SetController(bridge string) []string {
	return []string{"set-controller", bridge, o.Controller}
}

func (OVS) DelBridge(name string) []string {
	return []string{"--if-exists", "del-br", name}
}

// Shell renders args as an ovs-vsctl command line.
func (OVS) Shell(args []string) string {
	return "ovs-vsctl " + strings.Join(args, " ")
}
