package topology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type ParamType string

const (
	ParamInt      ParamType = "int"
	ParamDuration ParamType = "duration"
	ParamString   ParamType = "string"
)

// ParamSpec documents one accepted parameter of a topology family.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Default  string
	Required bool
	Doc      string
}

// Values holds parameters after schema validation. Every declared parameter is present,
// either as given or as its default.
type Values map[string]string

func (v Values) Int(name string) int {
	n, _ := strconv.Atoi(v[name])
	return n
}

func (v Values) Duration(name string) time.Duration {
	d, _ := time.ParseDuration(v[name])
	return d
}

func (v Values) String(name string) string {
	return v[name]
}

// Entry binds a topology name to its schema and constructor.
type Entry struct {
	Name   string
	Doc    string
	Schema []ParamSpec
	Build  func(Values) (*Graph, error)
}

// Catalog maps scenario level topology names to constructors.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Entry)}
}

func (c *Catalog) Register(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Name] = e
}

// Names returns the registered topology names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for name := range c.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) Describe(name string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownTopology, name, strings.Join(c.namesLocked(), ", "))
	}
	return e, nil
}

func (c *Catalog) namesLocked() []string {
	out := make([]string, 0, len(c.entries))
	for name := range c.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build validates params against the schema of name and delegates to its constructor.
// Parameters the schema does not declare are ignored.
func (c *Catalog) Build(name string, params map[string]string) (*Graph, error) {
	e, err := c.Describe(name)
	if err != nil {
		return nil, err
	}
	values, err := validate(e.Schema, params)
	if err != nil {
		return nil, fmt.Errorf("topology %s: %w", name, err)
	}
	g, err := e.Build(values)
	if err != nil {
		return nil, fmt.Errorf("topology %s: %w", name, err)
	}
	g.Name = name
	g.Params = map[string]string(values)
	return g, nil
}

func validate(schema []ParamSpec, params map[string]string) (Values, error) {
	out := make(Values, len(schema))
	for _, p := range schema {
		raw, ok := params[p.Name]
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			if p.Required {
				return nil, fmt.Errorf("%w: missing required parameter %s", ErrInvalidParameter, p.Name)
			}
			raw = p.Default
		}
		switch p.Type {
		case ParamInt:
			if _, err := strconv.Atoi(raw); err != nil {
				return nil, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidParameter, p.Name, raw)
			}
		case ParamDuration:
			if _, err := time.ParseDuration(raw); err != nil {
				return nil, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidParameter, p.Name, raw)
			}
		}
		out[p.Name] = raw
	}
	return out, nil
}

// ParseParams reads "k=4,spine_count=2" into a parameter map.
func ParseParams(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%w: malformed parameter %q", ErrInvalidParameter, kv)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the catalog of built-in families.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		defaultCatalog = NewCatalog()
		for _, e := range builtins() {
			defaultCatalog.Register(e)
		}
	})
	return defaultCatalog
}

func builtins() []Entry {
	return []Entry{
		{
			Name: "tree",
			Doc:  "complete fanout-ary switch tree with fanout^depth hosts",
			Schema: []ParamSpec{
				{Name: "depth", Type: ParamInt, Default: "2", Doc: "switch levels"},
				{Name: "fanout", Type: ParamInt, Default: "2", Doc: "children per switch"},
			},
			Build: func(v Values) (*Graph, error) {
				return Tree(TreeConfig{Depth: v.Int("depth"), Fanout: v.Int("fanout")})
			},
		},
		{
			Name: "spineleaf",
			Doc:  "leaf switches fully meshed to spine switches, hosts on leaves",
			Schema: []ParamSpec{
				{Name: "spine_count", Type: ParamInt, Default: "2", Doc: "spine switches"},
				{Name: "leaf_count", Type: ParamInt, Default: "4", Doc: "leaf switches"},
				{Name: "hosts_per_leaf", Type: ParamInt, Default: "1", Doc: "hosts per leaf switch"},
			},
			Build: func(v Values) (*Graph, error) {
				return SpineLeaf(SpineLeafConfig{
					SpineCount:   v.Int("spine_count"),
					LeafCount:    v.Int("leaf_count"),
					HostsPerLeaf: v.Int("hosts_per_leaf"),
				})
			},
		},
		{
			Name: "fattree",
			Doc:  "k-ary fat tree with core, aggregation and edge tiers",
			Schema: []ParamSpec{
				{Name: "k", Type: ParamInt, Required: true, Doc: "switch port count, even"},
			},
			Build: func(v Values) (*Graph, error) {
				return FatTree(FatTreeConfig{K: v.Int("k")})
			},
		},
		{
			Name: "redundant",
			Doc:  "two hosts over a primary and a backup path with two cross-links",
			Build: func(Values) (*Graph, error) {
				return RedundantDualPath()
			},
		},
		{
			Name: "pointtopoint",
			Doc:  "ad hoc graph from an edge list",
			Schema: []ParamSpec{
				{Name: "edges", Type: ParamString, Required: true, Doc: "edge list, e.g. h1-s1;s1-s2;s2-h2"},
			},
			Build: func(v Values) (*Graph, error) {
				edges, err := ParseEdges(v.String("edges"))
				if err != nil {
					return nil, err
				}
				return PointToPoint(PointToPointConfig{Edges: edges})
			},
		},
		{
			Name: "triangle",
			Doc:  "three hosts behind three meshed switches",
			Build: func(Values) (*Graph, error) {
				return Triangle()
			},
		},
		{
			Name: "single",
			Doc:  "hosts on a single switch",
			Schema: []ParamSpec{
				{Name: "hosts", Type: ParamInt, Default: "2", Doc: "host count"},
			},
			Build: func(v Values) (*Graph, error) {
				return Star(StarConfig{Hosts: v.Int("hosts")})
			},
		},
		{
			Name: "dumbbell",
			Doc:  "core switch between two leaves with fixed and randomly loaded hosts",
			Schema: []ParamSpec{
				{Name: "fixed_per_leaf", Type: ParamInt, Default: "2", Doc: "fixed hosts per leaf"},
				{Name: "random_per_leaf", Type: ParamInt, Default: "3", Doc: "random hosts per leaf"},
				{Name: "core_bw", Type: ParamInt, Default: "100", Doc: "core link bandwidth in Mbps"},
				{Name: "core_delay", Type: ParamDuration, Default: "5ms", Doc: "core link delay"},
				{Name: "stream_bw", Type: ParamInt, Default: "50", Doc: "stream host link bandwidth in Mbps"},
				{Name: "host_bw", Type: ParamInt, Default: "20", Doc: "host link bandwidth in Mbps"},
				{Name: "host_delay", Type: ParamDuration, Default: "2ms", Doc: "host link delay"},
			},
			Build: func(v Values) (*Graph, error) {
				for _, name := range []string{"core_bw", "stream_bw", "host_bw"} {
					if v.Int(name) < 0 {
						return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidParameter, name)
					}
				}
				return Dumbbell(DumbbellConfig{
					FixedPerLeaf:        v.Int("fixed_per_leaf"),
					RandomPerLeaf:       v.Int("random_per_leaf"),
					CoreBandwidthMbps:   uint(v.Int("core_bw")),
					CoreDelay:           v.Duration("core_delay"),
					StreamBandwidthMbps: uint(v.Int("stream_bw")),
					HostBandwidthMbps:   uint(v.Int("host_bw")),
					HostDelay:           v.Duration("host_delay"),
				})
			},
		},
	}
}
