package scenarios

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/sdn"
	"github.com/idlab-discover/sdnscen/internal/topology"
	"github.com/idlab-discover/sdnscen/internal/traffic"
)

// Fault and traffic types of a scenario file.
const (
	FaultLink = "link"
	FaultFlow = "flow"

	TrafficPair       = "pair"
	TrafficRandom     = "random"
	TrafficForeground = "foreground"
)

// Definition is a scenario file.
type Definition struct {
	Name     string      `yaml:"name"`
	Topology TopologyRef `yaml:"topology"`
	// Discovery overrides the orchestrator's discovery grace period when set.
	Discovery           time.Duration `yaml:"discovery,omitempty"`
	RequireConnectivity bool          `yaml:"requireConnectivity"`
	Restore             bool          `yaml:"restore"`
	Seed                int64         `yaml:"seed,omitempty"`
	Timeouts            Timeouts      `yaml:"timeouts,omitempty"`
	Faults              []FaultSpec   `yaml:"faults,omitempty"`
	Traffic             []TrafficSpec `yaml:"traffic,omitempty"`
	Capture             *CaptureSpec  `yaml:"capture,omitempty"`
	Verify              VerifySpec    `yaml:"verify"`

	// OutputDir receives the report and captures. Set by the caller, not the file.
	OutputDir string `yaml:"-"`
}

type TopologyRef struct {
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params,omitempty"`
}

// Timeouts overrides the default timeout of a stage kind.
type Timeouts struct {
	Build    time.Duration `yaml:"build,omitempty"`
	Start    time.Duration `yaml:"start,omitempty"`
	Fault    time.Duration `yaml:"fault,omitempty"`
	Traffic  time.Duration `yaml:"traffic,omitempty"`
	Verify   time.Duration `yaml:"verify,omitempty"`
	Teardown time.Duration `yaml:"teardown,omitempty"`
}

type FaultSpec struct {
	Type      string        `yaml:"type"`
	A         string        `yaml:"a,omitempty"`
	B         string        `yaml:"b,omitempty"`
	Status    string        `yaml:"status,omitempty"`
	Rule      *sdn.FlowRule `yaml:"rule,omitempty"`
	OnFailure Policy        `yaml:"onFailure,omitempty"`
}

type TrafficSpec struct {
	Type         string   `yaml:"type"`
	Server       string   `yaml:"server,omitempty"`
	Client       string   `yaml:"client,omitempty"`
	Proto        string   `yaml:"proto,omitempty"`
	Port         int      `yaml:"port,omitempty"`
	Rate         int      `yaml:"rate,omitempty"`
	Duration     int      `yaml:"duration,omitempty"`
	Sources      []string `yaml:"sources,omitempty"`
	Destinations []string `yaml:"destinations,omitempty"`
	MinRate      int      `yaml:"minRate,omitempty"`
	MaxRate      int      `yaml:"maxRate,omitempty"`
	OnFailure    Policy   `yaml:"onFailure,omitempty"`
}

// CaptureSpec records packets on one interface from before the faults until after the
// traffic stages.
type CaptureSpec struct {
	Node   string `yaml:"node"`
	Iface  string `yaml:"iface"`
	Filter string `yaml:"filter,omitempty"`
}

type VerifySpec struct {
	Src   string `yaml:"src,omitempty"`
	Dst   string `yaml:"dst,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// Load reads a scenario file. Unknown fields are rejected. A file without a name is named
// after the file.
func Load(path string) (*Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	name := emulation.CleanName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	def, err := Parse(b, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a scenario and fills in defaults. fallbackName is used when the scenario has
// no name of its own.
func Parse(b []byte, fallbackName string) (*Definition, error) {
	var def Definition
	if err := yaml.UnmarshalStrict(b, &def); err != nil {
		return nil, fmt.Errorf("error unmarshaling YAML: %w", err)
	}
	if def.Name == "" {
		def.Name = fallbackName
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) applyDefaults() {
	if d.Verify.Count == 0 {
		d.Verify.Count = 3
	}
	for i := range d.Faults {
		if d.Faults[i].OnFailure == "" {
			d.Faults[i].OnFailure = Abort
		}
	}
	for i := range d.Traffic {
		t := &d.Traffic[i]
		if t.OnFailure == "" {
			t.OnFailure = Continue
		}
		if t.Proto == "" {
			t.Proto = string(traffic.UDP)
		}
		if t.Port == 0 {
			t.Port = traffic.DefaultPort
		}
		if t.Duration == 0 {
			t.Duration = 60
		}
	}
}

// Validate checks the parts of a scenario that do not need the built topology.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: scenario without name", topology.ErrInvalidParameter)
	}
	if d.Topology.Name == "" {
		return fmt.Errorf("%w: scenario %s has no topology", topology.ErrInvalidParameter, d.Name)
	}
	if d.Discovery < 0 {
		return fmt.Errorf("%w: negative discovery period", topology.ErrInvalidParameter)
	}
	for i, f := range d.Faults {
		if err := f.validate(); err != nil {
			return fmt.Errorf("fault %d: %w", i+1, err)
		}
	}
	for i, t := range d.Traffic {
		if err := t.validate(); err != nil {
			return fmt.Errorf("traffic %d: %w", i+1, err)
		}
	}
	if d.Capture != nil && (d.Capture.Node == "" || d.Capture.Iface == "") {
		return fmt.Errorf("%w: capture needs node and iface", topology.ErrInvalidParameter)
	}
	if d.Verify.Count < 1 {
		return fmt.Errorf("%w: verify count must be positive", topology.ErrInvalidParameter)
	}
	return nil
}

func (f FaultSpec) validate() error {
	if err := f.OnFailure.validate(); err != nil {
		return err
	}
	switch f.Type {
	case FaultLink:
		if f.A == "" || f.B == "" {
			return fmt.Errorf("%w: link fault needs a and b", topology.ErrInvalidParameter)
		}
		_, err := topology.ParseLinkStatus(f.Status)
		return err
	case FaultFlow:
		if f.Rule == nil {
			return fmt.Errorf("%w: flow fault without rule", topology.ErrInvalidParameter)
		}
		if err := f.Rule.Validate(); err != nil {
			return fmt.Errorf("%w: %w", topology.ErrInvalidParameter, err)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown fault type %q", topology.ErrInvalidParameter, f.Type)
}

func (t TrafficSpec) validate() error {
	if err := t.OnFailure.validate(); err != nil {
		return err
	}
	if _, err := traffic.ParseProto(t.Proto); err != nil {
		return fmt.Errorf("%w: %w", topology.ErrInvalidParameter, err)
	}
	if t.Duration < 1 {
		return fmt.Errorf("%w: traffic duration must be positive", topology.ErrInvalidParameter)
	}
	switch t.Type {
	case TrafficPair, TrafficForeground:
		if t.Server == "" || t.Client == "" {
			return fmt.Errorf("%w: %s traffic needs server and client", topology.ErrInvalidParameter, t.Type)
		}
		return nil
	case TrafficRandom:
		if len(t.Sources) == 0 || len(t.Destinations) == 0 {
			return fmt.Errorf("%w: random traffic needs sources and destinations", topology.ErrInvalidParameter)
		}
		return traffic.RateRange{Min: t.MinRate, Max: t.MaxRate}.Validate()
	}
	return fmt.Errorf("%w: unknown traffic type %q", topology.ErrInvalidParameter, t.Type)
}

// WriteReport marshals r to report.yaml in dir.
func WriteReport(r *Report, dir string) error {
	b, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "report.yaml"), b, 0o644)
}
