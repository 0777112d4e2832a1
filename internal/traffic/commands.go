// Package traffic launches iperf flows and pings on emulated hosts and turns node-side packet
// captures into evidence summaries.
package traffic

import (
	"fmt"
	"strconv"
	"strings"
)

type Proto string

const (
	UDP Proto = "udp"
	TCP Proto = "tcp"
)

// DefaultPort is the iperf default listening port.
const DefaultPort = 5001

// LogDir is where backgrounded commands write their output on the node.
const LogDir = "/tmp"

func ParseProto(s string) (Proto, error) {
	switch Proto(strings.ToLower(s)) {
	case UDP, "":
		return UDP, nil
	case TCP:
		return TCP, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// IperfServer builds a backgrounded iperf server. Output goes to a log file so the command
// returns as soon as the server is forked.
func IperfServer(proto Proto, port int) []string {
	args := []string{"iperf", "-s"}
	if proto == UDP {
		args = append(args, "-u")
	}
	return append(args, "-p", strconv.Itoa(port))
}

// IperfClient builds an iperf client sending at rateMbps to target for durationSec.
func IperfClient(target string, proto Proto, port, rateMbps, durationSec int) []string {
	args := []string{"iperf"}
	if proto == UDP {
		args = append(args, "-u")
	}
	args = append(args, "-c", target, "-p", strconv.Itoa(port))
	if rateMbps > 0 {
		args = append(args, "-b", strconv.Itoa(rateMbps)+"M")
	}
	return append(args, "-t", strconv.Itoa(durationSec))
}

// Ping builds a bounded-count ping that gives up on each reply after one second.
func Ping(target string, count int) []string {
	return []string{"ping", "-c", strconv.Itoa(count), "-W", "1", target}
}

// Tcpdump writes packets of iface into path, flushing after every packet.
func Tcpdump(iface, path, filter string) []string {
	args := []string{"tcpdump", "-i", iface, "-U", "-n", "-w", path}
	if filter != "" {
		args = append(args, quote(filter))
	}
	return args
}

// Background detaches args from the calling shell and redirects its output to logFile.
func Background(args []string, logFile string) string {
	return strings.Join(args, " ") + " > " + logFile + " 2>&1 &"
}

func LogFile(role, node string, port int) string {
	return fmt.Sprintf("%s/sdnscen-iperf-%s-%s-%d.log", LogDir, role, node, port)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
