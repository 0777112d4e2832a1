package emulationtest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/idlab-discover/sdnscen/internal/emulation"
)

// DryRun returns a backend whose nodes answer like a healthy network: every ping gets all
// its replies, foreground iperf reports a steady stream and captures come back empty.
func DryRun() *Backend {
	b := New()
	b.Responder = dryRunRespond
	return b
}

func dryRunRespond(node, command string) (emulation.CommandResult, error) {
	fields := strings.Fields(command)
	switch {
	case len(fields) == 0:
		return emulation.CommandResult{}, nil
	case strings.HasSuffix(command, "echo $!"):
		return emulation.CommandResult{Stdout: "1\n"}, nil
	case strings.Contains(command, "base64 "):
		return emulation.CommandResult{Stdout: emptyCapture()}, nil
	case fields[0] == "ping":
		count, dst := "1", fields[len(fields)-1]
		for i := 0; i < len(fields)-1; i++ {
			if fields[i] == "-c" {
				count = fields[i+1]
			}
		}
		out := fmt.Sprintf("PING %[1]s (%[1]s) 56(84) bytes of data.\n\n--- %[1]s ping statistics ---\n"+
			"%[2]s packets transmitted, %[2]s received, 0%% packet loss, time 0ms\n"+
			"rtt min/avg/max/mdev = 0.050/0.050/0.050/0.000 ms\n", dst, count)
		return emulation.CommandResult{Stdout: out}, nil
	case fields[0] == "iperf" && !strings.HasSuffix(command, "&"):
		return emulation.CommandResult{Stdout: "[  3]  0.0- 1.0 sec  1.00 MBytes  8.39 Mbits/sec\n"}, nil
	}
	return emulation.CommandResult{}, nil
}

func emptyCapture() string {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
