package traffic

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// PingResult is what the verification step reports. An unreachable destination is a
// result, not an error.
type PingResult struct {
	Src         string  `yaml:"src"`
	Dst         string  `yaml:"dst"`
	Transmitted int     `yaml:"transmitted"`
	Received    int     `yaml:"received"`
	LossPercent float64 `yaml:"lossPercent"`
	RttAvgMs    float64 `yaml:"rttAvgMs,omitempty"`
	Reachable   bool    `yaml:"reachable"`
	Output      string  `yaml:"output"`
}

var (
	pingSummaryRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received(?:, \+\d+ errors)?, ([\d.]+)% packet loss`)
	pingRttRe     = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max(?:/mdev)? = [\d.]+/([\d.]+)/`)
)

// ParsePing reads the summary lines of iputils or busybox ping output.
func ParsePing(out string) (PingResult, error) {
	m := pingSummaryRe.FindStringSubmatch(out)
	if m == nil {
		return PingResult{Output: out}, fmt.Errorf("no ping summary in output")
	}
	res := PingResult{Output: out}
	res.Transmitted, _ = strconv.Atoi(m[1])
	res.Received, _ = strconv.Atoi(m[2])
	res.LossPercent, _ = strconv.ParseFloat(m[3], 64)
	if r := pingRttRe.FindStringSubmatch(out); r != nil {
		res.RttAvgMs, _ = strconv.ParseFloat(r[1], 64)
	}
	res.Reachable = res.Received > 0
	return res, nil
}

// IperfResult is the last bandwidth report of an iperf client. With UDP the server report,
// when received, comes last and carries jitter and loss.
type IperfResult struct {
	Node          string        `yaml:"node"`
	Target        string        `yaml:"target"`
	Interval      time.Duration `yaml:"interval"`
	Bytes         float64       `yaml:"bytes"`
	BandwidthMbps float64       `yaml:"bandwidthMbps"`
	JitterMs      float64       `yaml:"jitterMs,omitempty"`
	Lost          int           `yaml:"lost,omitempty"`
	Total         int           `yaml:"total,omitempty"`
	LossPercent   float64       `yaml:"lossPercent,omitempty"`
	Output        string        `yaml:"output"`
}

var (
	iperfReportRe = regexp.MustCompile(`([\d.]+)-\s*([\d.]+) sec\s+([\d.]+) ([KMG]?)Bytes\s+([\d.]+) ([KMG]?)bits/sec(?:\s+([\d.]+) ms\s+(\d+)/\s*(\d+) \(([\d.e+-]+)%\))?`)
)

var unit = map[string]float64{"": 1, "K": 1e3, "M": 1e6, "G": 1e9}

// byteUnit follows iperf's binary multiples for transferred data.
var byteUnit = map[string]float64{"": 1, "K": 1 << 10, "M": 1 << 20, "G": 1 << 30}

// ParseIperf extracts the final report of iperf 2 client output.
func ParseIperf(out string) (IperfResult, error) {
	all := iperfReportRe.FindAllStringSubmatch(out, -1)
	if len(all) == 0 {
		return IperfResult{Output: out}, fmt.Errorf("no iperf bandwidth report in output")
	}
	m := all[len(all)-1]
	res := IperfResult{Output: out}
	from, _ := strconv.ParseFloat(m[1], 64)
	to, _ := strconv.ParseFloat(m[2], 64)
	res.Interval = time.Duration((to - from) * float64(time.Second))
	transferred, _ := strconv.ParseFloat(m[3], 64)
	res.Bytes = transferred * byteUnit[m[4]]
	bw, _ := strconv.ParseFloat(m[5], 64)
	res.BandwidthMbps = bw * unit[m[6]] / 1e6
	if m[7] != "" {
		res.JitterMs, _ = strconv.ParseFloat(m[7], 64)
		res.Lost, _ = strconv.Atoi(m[8])
		res.Total, _ = strconv.Atoi(m[9])
		res.LossPercent, _ = strconv.ParseFloat(m[10], 64)
	}
	return res, nil
}
