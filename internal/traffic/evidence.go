package traffic

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"github.com/idlab-discover/sdnscen/internal/emulation"
)

// Capture is a tcpdump running on a node.
type Capture struct {
	ID    string `yaml:"id"`
	Node  string `yaml:"node"`
	Iface string `yaml:"iface"`
	Path  string `yaml:"path"`
	PID   int    `yaml:"pid"`
}

// FlowBytes is the traffic volume of one IPv4 source/destination pair.
type FlowBytes struct {
	Src     string `yaml:"src"`
	Dst     string `yaml:"dst"`
	Packets int    `yaml:"packets"`
	Bytes   int    `yaml:"bytes"`
}

// Evidence summarises a capture.
type Evidence struct {
	Node           string        `yaml:"node"`
	Iface          string        `yaml:"iface"`
	Packets        int           `yaml:"packets"`
	Bytes          int           `yaml:"bytes"`
	Duration       time.Duration `yaml:"duration"`
	ThroughputMbps float64       `yaml:"throughputMbps"`
	Flows          []FlowBytes   `yaml:"flows,omitempty"`
	// PcapFile is the local copy of the capture, when one was written.
	PcapFile string `yaml:"pcapFile,omitempty"`
}

// CaptureStart forks tcpdump on iface of node and returns once the process id is known.
func (gen *Generator) CaptureStart(ctx context.Context, node, iface, filter string) (Capture, error) {
	c := Capture{
		ID:    fmt.Sprintf("capture-%s-%d", node, gen.seq.Add(1)),
		Node:  node,
		Iface: iface,
	}
	c.Path = fmt.Sprintf("%s/sdnscen-%s.pcap", LogDir, c.ID)
	cmd := Background(Tcpdump(iface, c.Path, filter), c.Path+".log") + " echo $!"
	res, err := emulation.Run(ctx, gen.backend, gen.handle, node, cmd)
	if err != nil {
		return c, fmt.Errorf("starting capture on %s: %w", iface, err)
	}
	c.PID, err = strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return c, fmt.Errorf("capture on %s: unexpected pid %q", iface, res.Stdout)
	}
	gen.log.Info("capture started", zap.String("node", node), zap.String("iface", iface), zap.Int("pid", c.PID))
	return c, nil
}

// CaptureStop interrupts tcpdump, reads the pcap back through the node shell and summarises
// it. When outDir is set the raw capture is kept there.
func (gen *Generator) CaptureStop(ctx context.Context, c Capture, outDir string) (Evidence, error) {
	pid := strconv.Itoa(c.PID)
	cmd := "kill -INT " + pid + "; while kill -0 " + pid + " 2>/dev/null; do sleep 0.1; done; base64 " + c.Path + " && rm -f " + c.Path
	res, err := emulation.Run(ctx, gen.backend, gen.handle, c.Node, cmd)
	if err != nil {
		return Evidence{Node: c.Node, Iface: c.Iface}, fmt.Errorf("stopping capture %s: %w", c.ID, err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(res.Stdout), ""))
	if err != nil {
		return Evidence{Node: c.Node, Iface: c.Iface}, fmt.Errorf("decoding capture %s: %w", c.ID, err)
	}
	ev, err := Summarize(bytes.NewReader(raw))
	ev.Node, ev.Iface = c.Node, c.Iface
	if err != nil {
		return ev, fmt.Errorf("reading capture %s: %w", c.ID, err)
	}
	if outDir != "" {
		ev.PcapFile = filepath.Join(outDir, c.ID+".pcap")
		if err := os.WriteFile(ev.PcapFile, raw, 0o644); err != nil {
			return ev, fmt.Errorf("writing capture %s: %w", c.ID, err)
		}
	}
	gen.log.Info("capture summarised",
		zap.String("node", c.Node), zap.Int("packets", ev.Packets), zap.Float64("mbps", ev.ThroughputMbps))
	return ev, nil
}

type flowKey struct{ src, dst string }

// Summarize reads a pcap stream and counts packets, bytes and per IPv4 flow volume.
func Summarize(r io.Reader) (Evidence, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return Evidence{}, err
	}
	var (
		ev          Evidence
		first, last time.Time
		flows       = make(map[flowKey]*FlowBytes)
	)
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ev, err
		}
		if first.IsZero() {
			first = ci.Timestamp
		}
		last = ci.Timestamp
		ev.Packets++
		ev.Bytes += ci.Length

		pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		ipLayer := pkt.Layer(layers.LayerTypeIPv4)
		if ipLayer == nil {
			continue
		}
		ip := ipLayer.(*layers.IPv4)
		k := flowKey{ip.SrcIP.String(), ip.DstIP.String()}
		f, ok := flows[k]
		if !ok {
			f = &FlowBytes{Src: k.src, Dst: k.dst}
			flows[k] = f
		}
		f.Packets++
		f.Bytes += ci.Length
	}

	ev.Duration = last.Sub(first)
	if ev.Duration > 0 {
		ev.ThroughputMbps = float64(ev.Bytes*8) / ev.Duration.Seconds() / 1e6
	}
	for _, f := range flows {
		ev.Flows = append(ev.Flows, *f)
	}
	sort.Slice(ev.Flows, func(i, j int) bool {
		if ev.Flows[i].Bytes != ev.Flows[j].Bytes {
			return ev.Flows[i].Bytes > ev.Flows[j].Bytes
		}
		if ev.Flows[i].Src != ev.Flows[j].Src {
			return ev.Flows[i].Src < ev.Flows[j].Src
		}
		return ev.Flows[i].Dst < ev.Flows[j].Dst
	})
	return ev, nil
}
