// Package scenarios loads scenario files and runs them: build the topology, realise it on an
// emulation backend, let the controller discover it, inject faults, start traffic and verify
// connectivity, always tearing the network down at the end.
package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/idlab-discover/sdnscen/internal/fault"
	"github.com/idlab-discover/sdnscen/internal/topology"
	"github.com/idlab-discover/sdnscen/internal/traffic"
)

// State is a step of the scenario state machine.
type State string

const (
	StateInit           State = "init"
	StateBuilt          State = "built"
	StateStarted        State = "started"
	StateDiscoveryWait  State = "discovery-wait"
	StateFaultInjected  State = "fault-injected"
	StateTrafficRunning State = "traffic-running"
	StateVerified       State = "verified"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Policy decides what a failing stage does to the rest of the run.
type Policy string

const (
	// Abort fails the run and skips every remaining stage except teardown.
	Abort Policy = "abort"
	// Continue records the error and carries on.
	Continue Policy = "continue"
)

func (p Policy) validate() error {
	switch p {
	case Abort, Continue:
		return nil
	}
	return fmt.Errorf("%w: onFailure policy %q", topology.ErrInvalidParameter, p)
}

// Stage is one step of a Plan.
type Stage struct {
	Name      string
	Action    func(ctx context.Context) error
	Timeout   time.Duration
	OnFailure Policy
	// Reaches is the state the run is in once the stage has run. Empty leaves the state as is.
	Reaches State
}

// Plan is the ordered list of stages of one run. It is built per run and discarded after.
type Plan []Stage

// StageResult is the report entry of one executed or skipped stage.
type StageResult struct {
	Name     string        `yaml:"name"`
	Status   string        `yaml:"status"`
	Kind     Kind          `yaml:"kind,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	Detail   string        `yaml:"detail,omitempty"`
	Duration time.Duration `yaml:"duration"`
}

// Stage result statuses.
const (
	StageOK      = "ok"
	StageFailed  = "failed"
	StageSkipped = "skipped"
)

// Report is what a run leaves behind, written to report.yaml.
type Report struct {
	UUID      uuid.UUID         `yaml:"uuid"`
	Name      string            `yaml:"name"`
	Topology  string            `yaml:"topology"`
	Params    map[string]string `yaml:"params,omitempty"`
	Seed      int64             `yaml:"seed"`
	StartTime time.Time         `yaml:"startTime"`
	StopTime  time.Time         `yaml:"stopTime"`
	State     State             `yaml:"state"`

	// LastState is the furthest state reached before the run ended.
	LastState   State         `yaml:"lastState"`
	FailedStage string        `yaml:"failedStage,omitempty"`
	Stages      []StageResult `yaml:"stages"`
	Teardown    string        `yaml:"teardown,omitempty"`

	Devices      int                   `yaml:"discoveredDevices,omitempty"`
	Flows        []fault.InstalledFlow `yaml:"flows,omitempty"`
	Launches     []traffic.Launch      `yaml:"launches,omitempty"`
	Pairs        []traffic.Pair        `yaml:"pairs,omitempty"`
	Foreground   []traffic.IperfResult `yaml:"foreground,omitempty"`
	Evidence     *traffic.Evidence     `yaml:"evidence,omitempty"`
	Verification *traffic.PingResult   `yaml:"verification,omitempty"`
}

// Err returns the failure that ended the run, or nil when it succeeded.
func (r *Report) Err() error {
	if r.State != StateFailed {
		return nil
	}
	for _, s := range r.Stages {
		if s.Name == r.FailedStage && s.Status == StageFailed {
			return fmt.Errorf("scenario %s failed in stage %s (%s): %s", r.Name, s.Name, s.Kind, s.Error)
		}
	}
	return fmt.Errorf("scenario %s failed in stage %s", r.Name, r.FailedStage)
}
