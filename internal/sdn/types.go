// Package sdn talks to the REST surface of an ONOS style SDN controller: flow rules are
// installed and removed per device, and devices, links and hosts can be listed read-only.
package sdn

import (
	"fmt"
)

// FlowRule is a flow in the controller's JSON form. Criteria and instructions are kept as
// free-form objects since their fields depend on the type.
type FlowRule struct {
	DeviceID   string    `json:"deviceId" yaml:"deviceId"`
	Priority   int       `json:"priority" yaml:"priority"`
	Permanent  bool      `json:"isPermanent" yaml:"permanent"`
	TimeoutSec int       `json:"timeout" yaml:"timeout"`
	Selector   Selector  `json:"selector" yaml:"selector"`
	Treatment  Treatment `json:"treatment" yaml:"treatment"`
}

type Selector struct {
	Criteria []Criterion `json:"criteria" yaml:"criteria"`
}

type Treatment struct {
	Instructions []Instruction `json:"instructions" yaml:"instructions"`
}

// Criterion is one match field, e.g. {"type": "ETH_TYPE", "ethType": "0x0800"}.
type Criterion map[string]interface{}

// Instruction is one treatment step, e.g. {"type": "OUTPUT", "port": "1"}.
type Instruction map[string]interface{}

// Validate only checks what is needed to address the request. Priority, timeout and the rest
// of the rule are judged by the controller, which answers with a *RejectedError.
func (r FlowRule) Validate() error {
	if r.DeviceID == "" {
		return fmt.Errorf("flow rule without deviceId")
	}
	return nil
}

// normalize converts the nested maps yaml.v2 produces into maps encoding/json can encode.
func (r FlowRule) normalize() FlowRule {
	out := r
	out.Selector.Criteria = make([]Criterion, len(r.Selector.Criteria))
	for i, c := range r.Selector.Criteria {
		out.Selector.Criteria[i] = normalizeMap(c)
	}
	out.Treatment.Instructions = make([]Instruction, len(r.Treatment.Instructions))
	for i, in := range r.Treatment.Instructions {
		out.Treatment.Instructions[i] = normalizeMap(in)
	}
	return out
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	case map[string]interface{}:
		return normalizeMap(t)
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = normalizeValue(val)
		}
		return s
	default:
		return v
	}
}

type Device struct {
	ID        string `json:"id" yaml:"id"`
	Type      string `json:"type" yaml:"type"`
	Available bool   `json:"available" yaml:"available"`
	Role      string `json:"role,omitempty" yaml:"role,omitempty"`
	// Annotations holds e.g. "protocol" and "channelId".
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

type ConnectPoint struct {
	Device string `json:"device" yaml:"device"`
	Port   string `json:"port" yaml:"port"`
}

type Link struct {
	Src   ConnectPoint `json:"src" yaml:"src"`
	Dst   ConnectPoint `json:"dst" yaml:"dst"`
	Type  string       `json:"type" yaml:"type"`
	State string       `json:"state" yaml:"state"`
}

type HostLocation struct {
	ElementID string `json:"elementId" yaml:"elementId"`
	Port      string `json:"port" yaml:"port"`
}

type Host struct {
	ID          string         `json:"id" yaml:"id"`
	MAC         string         `json:"mac" yaml:"mac"`
	IPAddresses []string       `json:"ipAddresses" yaml:"ipAddresses"`
	Locations   []HostLocation `json:"locations" yaml:"locations"`
}
