package emulation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/idlab-discover/sdnscen/internal/topology"
)

// Shaping holds tc tbf/netem settings for one interface. Empty or zero values are left out of
// the generated command.
type Shaping struct {
	Bandwidth    string `yaml:"bandwidth,omitempty"`
	QueueSize    string `yaml:"queueSize,omitempty"`
	Limit        string `yaml:"limit,omitempty"`
	Delay        string `yaml:"delay,omitempty"`
	Jitter       string `yaml:"jitter,omitempty"`
	Distribution string `yaml:"distribution,omitempty"`
	Loss         string `yaml:"loss,omitempty"`
	Corrupt      string `yaml:"corrupt,omitempty"`
	Duplicate    string `yaml:"duplicate,omitempty"`
	Seed         string `yaml:"seed,omitempty"`
}

// LinkShaping converts the bandwidth and delay of a topology link into tc settings.
func LinkShaping(l topology.Link) Shaping {
	var s Shaping
	if l.BandwidthMbps > 0 {
		s.Bandwidth = fmt.Sprintf("%dmbit", l.BandwidthMbps)
	}
	if l.Delay > 0 {
		s.Delay = formatDelay(l.Delay)
	}
	return s
}

func formatDelay(d time.Duration) string {
	if d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
	return fmt.Sprintf("%dus", d/time.Microsecond)
}

func (s Shaping) IsZero() bool {
	return s.Bandwidth == "" && !s.needsNetem()
}

// TCCommand builds the tc command that shapes dev. The current qdisc setup is printed at the
// end so it shows up in the command output.
func (s Shaping) TCCommand(dev string) (string, error) {
	var parts []string
	if s.Bandwidth != "" {
		// burst buffer for 5ms at the configured rate
		bitsPerSecond, err := ParseSize(s.Bandwidth)
		if err != nil {
			return "", fmt.Errorf("parsing bandwidth: %w", err)
		}
		burst := bitsPerSecond * 0.005 / 8
		if burst < 1600 {
			burst = 1600
		}
		tbf := fmt.Sprintf("tc qdisc replace dev %s root handle 1: tbf rate %s burst %.f", dev, s.Bandwidth, burst)
		queue := s.QueueSize
		if queue == "" {
			queue = "50ms"
		}
		parts = append(parts, tbf+" latency "+queue)
	}
	if s.needsNetem() {
		netem := fmt.Sprintf("tc qdisc replace dev %s root netem", dev)
		if s.Bandwidth != "" {
			netem = fmt.Sprintf("tc qdisc replace dev %s parent 1:1 handle 10: netem", dev)
		}
		parts = append(parts, netem+s.netemArgs())
	}
	parts = append(parts, "tc qdisc show dev "+dev)
	return strings.Join(parts, " && "), nil
}

func set(v, zero string) bool {
	return v != "" && v != zero
}

func (s Shaping) needsNetem() bool {
	return s.Limit != "" || set(s.Delay, "0ms") || set(s.Jitter, "0ms") || s.Distribution != "" ||
		set(s.Loss, "0%") || set(s.Corrupt, "0%") || set(s.Duplicate, "0%")
}

func (s Shaping) netemArgs() string {
	var b strings.Builder
	if s.Limit != "" {
		fmt.Fprintf(&b, " limit %s", s.Limit)
	}
	if set(s.Delay, "0ms") || set(s.Jitter, "0ms") {
		delay := s.Delay
		if delay == "" {
			delay = "0ms"
		}
		fmt.Fprintf(&b, " delay %s", delay)
		if set(s.Jitter, "0ms") {
			b.WriteString(" " + s.Jitter)
			if s.Distribution != "" {
				fmt.Fprintf(&b, " distribution %s", s.Distribution)
			}
		}
	}
	if set(s.Loss, "0%") {
		fmt.Fprintf(&b, " loss random %s", s.Loss)
	}
	if set(s.Corrupt, "0%") {
		fmt.Fprintf(&b, " corrupt %s", s.Corrupt)
	}
	if set(s.Duplicate, "0%") {
		fmt.Fprintf(&b, " duplicate %s", s.Duplicate)
	}
	if s.Seed != "" {
		fmt.Fprintf(&b, " seed %s", s.Seed)
	}
	return b.String()
}

var sizeRe = regexp.MustCompile(`(?i)^(\d+(\.\d+)?)([kmgt]?bit)?$`)

// ParseSize parses a rate like "10Mbit" into bits per second.
func ParseSize(size string) (float64, error) {
	m := sizeRe.FindStringSubmatch(strings.TrimSpace(size))
	if m == nil {
		return 0, fmt.Errorf("invalid size: %q", size)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(m[3]) {
	case "", "bit":
		return value, nil
	case "kbit":
		return value * 1e3, nil
	case "mbit":
		return value * 1e6, nil
	case "gbit":
		return value * 1e9, nil
	case "tbit":
		return value * 1e12, nil
	}
	return 0, fmt.Errorf("invalid size unit: %q", m[3])
}

// MergeShaping overlays the non-empty fields of override onto base.
func MergeShaping(base, override Shaping) Shaping {
	out := base
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&out.Bandwidth, override.Bandwidth)
	pick(&out.QueueSize, override.QueueSize)
	pick(&out.Limit, override.Limit)
	pick(&out.Delay, override.Delay)
	pick(&out.Jitter, override.Jitter)
	pick(&out.Distribution, override.Distribution)
	pick(&out.Loss, override.Loss)
	pick(&out.Corrupt, override.Corrupt)
	pick(&out.Duplicate, override.Duplicate)
	pick(&out.Seed, override.Seed)
	return out
}
