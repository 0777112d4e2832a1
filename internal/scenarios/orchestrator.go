package scenarios

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/fault"
	"github.com/idlab-discover/sdnscen/internal/metrics"
	"github.com/idlab-discover/sdnscen/internal/topology"
	"github.com/idlab-discover/sdnscen/internal/traffic"
)

// Default stage timeouts. Traffic stages that block for a stream get its duration on top.
var DefaultTimeouts = Timeouts{
	Build:    2 * time.Minute,
	Start:    2 * time.Minute,
	Fault:    30 * time.Second,
	Traffic:  time.Minute,
	Verify:   30 * time.Second,
	Teardown: 2 * time.Minute,
}

// DefaultDiscovery is how long the controller gets to discover a fresh network.
const DefaultDiscovery = 5 * time.Second

// discoverySlack bounds the device query that follows the discovery sleep.
const discoverySlack = 30 * time.Second

// Clock is the time source of a run.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Controller is the part of the SDN controller client a run uses. *sdn.Client implements it.
type Controller interface {
	fault.FlowInstaller
	AvailableDevices(ctx context.Context) (int, error)
}

type Options struct {
	// Catalog resolves topology names. Defaults to topology.DefaultCatalog().
	Catalog *topology.Catalog
	// Controller may be nil; flow faults then fail and discovery is not queried.
	Controller Controller
	Clock      Clock
	// Discovery is the grace period of scenarios that do not set their own.
	Discovery time.Duration
	// NewRand seeds the random source of cross traffic. Defaults to math/rand.
	NewRand     func(seed int64) traffic.Rand
	Parallelism int
	Timeouts    Timeouts
	Metrics     *metrics.Metrics
}

// Orchestrator runs scenarios against one emulation backend, one at a time.
type Orchestrator struct {
	backend emulation.Backend
	opts    Options
	log     *zap.Logger
}

func NewOrchestrator(backend emulation.Backend, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Catalog == nil {
		opts.Catalog = topology.DefaultCatalog()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.NewRand == nil {
		opts.NewRand = func(seed int64) traffic.Rand { return rand.New(rand.NewSource(seed)) }
	}
	if opts.Discovery <= 0 {
		opts.Discovery = DefaultDiscovery
	}
	opts.Timeouts = mergeTimeouts(DefaultTimeouts, opts.Timeouts)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{backend: backend, opts: opts, log: logger.Named("scenario")}
}

func mergeTimeouts(base, override Timeouts) Timeouts {
	pick := func(b, o time.Duration) time.Duration {
		if o > 0 {
			return o
		}
		return b
	}
	return Timeouts{
		Build:    pick(base.Build, override.Build),
		Start:    pick(base.Start, override.Start),
		Fault:    pick(base.Fault, override.Fault),
		Traffic:  pick(base.Traffic, override.Traffic),
		Verify:   pick(base.Verify, override.Verify),
		Teardown: pick(base.Teardown, override.Teardown),
	}
}

// run is the state of one scenario execution.
type run struct {
	o         *Orchestrator
	def       *Definition
	report    *Report
	timeouts  Timeouts
	discovery time.Duration
	log       *zap.Logger

	graph    *topology.Graph
	handle   emulation.Handle
	injector *fault.Injector
	gen      *traffic.Generator
	capture  *traffic.Capture
	verify   VerifySpec
}

// Run executes def from topology construction to teardown. The returned report is never nil.
// The error is a *StageError when a stage aborted the run or connectivity was required and
// missing. Teardown always runs once the network has been built, on a context that outlives
// cancellation of ctx.
func (o *Orchestrator) Run(ctx context.Context, def *Definition) (*Report, error) {
	seed := def.Seed
	if seed == 0 {
		seed = o.opts.Clock.Now().UnixNano()
	}
	r := &run{
		o:   o,
		def: def,
		report: &Report{
			UUID:      uuid.New(),
			Name:      def.Name,
			Topology:  def.Topology.Name,
			Params:    def.Topology.Params,
			Seed:      seed,
			StartTime: o.opts.Clock.Now(),
			State:     StateInit,
			LastState: StateInit,
		},
		timeouts:  mergeTimeouts(o.opts.Timeouts, def.Timeouts),
		discovery: o.opts.Discovery,
	}
	if def.Discovery > 0 {
		r.discovery = def.Discovery
	}
	r.log = o.log.With(zap.String("scenario", def.Name), zap.String("uuid", r.report.UUID.String()))
	finished := o.opts.Metrics.ScenarioStarted()
	defer func() { finished(string(r.report.State)) }()

	r.log.Info("running scenario", zap.String("topology", def.Topology.Name), zap.Int64("seed", seed))
	err := r.execute(ctx)
	r.teardown(ctx)

	r.report.StopTime = o.opts.Clock.Now()
	if r.report.State == StateVerified {
		r.report.State = StateSucceeded
	}
	if err != nil {
		r.log.Error("scenario failed", zap.String("state", string(r.report.LastState)), zap.Error(err))
		return r.report, err
	}
	r.log.Info("scenario succeeded", zap.Duration("took", r.report.StopTime.Sub(r.report.StartTime)))
	return r.report, nil
}

func (r *run) execute(ctx context.Context) error {
	plan := Plan{{
		Name:      "build",
		Action:    r.build,
		Timeout:   r.timeouts.Build,
		OnFailure: Abort,
		Reaches:   StateBuilt,
	}}
	if err := r.runPlan(ctx, plan); err != nil {
		return err
	}
	r.injector = fault.NewInjector(r.o.backend, r.o.flows(), r.o.opts.Metrics, r.log)
	return r.runPlan(ctx, r.plan())
}

func (o *Orchestrator) flows() fault.FlowInstaller {
	if o.opts.Controller == nil {
		return nil
	}
	return o.opts.Controller
}

// plan lays out every stage after topology construction. Stages without an action only move
// the state machine, so that empty fault or traffic sections still pass through their state.
func (r *run) plan() Plan {
	p := Plan{
		{Name: "start", Action: r.start, Timeout: r.timeouts.Start, OnFailure: Abort, Reaches: StateStarted},
		{Name: "discovery", Action: r.discover, Timeout: r.discovery + discoverySlack, OnFailure: Abort, Reaches: StateDiscoveryWait},
	}
	if r.def.Capture != nil {
		p = append(p, Stage{Name: "capture-start", Action: r.captureStart, Timeout: r.timeouts.Fault, OnFailure: Continue})
	}
	for i, f := range r.def.Faults {
		f := f
		p = append(p, Stage{
			Name:      fmt.Sprintf("fault-%d", i+1),
			Action:    func(ctx context.Context) error { return r.applyFault(ctx, f) },
			Timeout:   r.timeouts.Fault,
			OnFailure: f.OnFailure,
		})
	}
	p = append(p, Stage{Name: "faults-applied", Reaches: StateFaultInjected})
	for i, t := range r.def.Traffic {
		t := t
		timeout := r.timeouts.Traffic
		if t.Type == TrafficForeground {
			timeout += time.Duration(t.Duration) * time.Second
		}
		p = append(p, Stage{
			Name:      fmt.Sprintf("traffic-%d", i+1),
			Action:    func(ctx context.Context) error { return r.startTraffic(ctx, t) },
			Timeout:   timeout,
			OnFailure: t.OnFailure,
		})
	}
	p = append(p, Stage{Name: "traffic-started", Reaches: StateTrafficRunning})
	if r.def.Capture != nil {
		p = append(p, Stage{Name: "capture-stop", Action: r.captureStop, Timeout: r.timeouts.Fault, OnFailure: Continue})
	}
	verifyTimeout := r.timeouts.Verify + time.Duration(r.verify.Count)*time.Second
	p = append(p, Stage{Name: "verify", Action: r.verifyConnectivity, Timeout: verifyTimeout, OnFailure: Abort, Reaches: StateVerified})
	return p
}

// runPlan executes stages in order. The first stage failing under Abort fails the run; every
// later stage is reported as skipped.
func (r *run) runPlan(ctx context.Context, p Plan) error {
	var failure error
	for _, st := range p {
		if failure != nil {
			if st.Action != nil {
				r.report.Stages = append(r.report.Stages, StageResult{Name: st.Name, Status: StageSkipped})
			}
			continue
		}
		if st.Action == nil {
			r.advance(st.Reaches)
			continue
		}
		err := r.runStage(ctx, st)
		if err == nil || st.OnFailure == Continue {
			r.advance(st.Reaches)
			continue
		}
		r.report.State = StateFailed
		r.report.FailedStage = st.Name
		failure = err
	}
	return failure
}

func (r *run) runStage(ctx context.Context, st Stage) error {
	clock := r.o.opts.Clock
	start := clock.Now()
	err := ctx.Err()
	if err == nil {
		sctx, cancel := context.WithTimeout(ctx, st.Timeout)
		err = st.Action(sctx)
		cancel()
	}
	took := clock.Now().Sub(start)
	r.o.opts.Metrics.ObserveStage(stageLabel(st.Name), took, err)

	res := StageResult{Name: st.Name, Status: StageOK, Duration: took}
	if err == nil {
		r.report.Stages = append(r.report.Stages, res)
		r.log.Debug("stage done", zap.String("stage", st.Name), zap.Duration("took", took))
		return nil
	}
	se := NewStageError(st.Name, err)
	res.Status = StageFailed
	res.Kind = se.Kind
	res.Error = err.Error()
	res.Detail = Detail(err)
	r.report.Stages = append(r.report.Stages, res)
	r.log.Warn("stage failed",
		zap.String("stage", st.Name), zap.String("kind", string(se.Kind)),
		zap.String("policy", string(st.OnFailure)), zap.String("detail", res.Detail), zap.Error(err))
	return se
}

// stageLabel drops the index of numbered stages so metrics keep a bounded label set.
func stageLabel(name string) string {
	return strings.TrimRight(name, "-0123456789")
}

func (r *run) advance(s State) {
	if s == "" {
		return
	}
	r.report.State = s
	r.report.LastState = s
	r.log.Debug("state reached", zap.String("state", string(s)))
}

// build constructs the graph and checks that every node the scenario names exists in it.
// Nothing has been created on the backend yet when it fails.
func (r *run) build(context.Context) error {
	g, err := r.o.opts.Catalog.Build(r.def.Topology.Name, r.def.Topology.Params)
	if err != nil {
		return err
	}
	r.verify, err = checkNodes(g, r.def)
	if err != nil {
		return err
	}
	r.graph = g
	r.log.Info("topology built",
		zap.Int("hosts", len(g.Hosts())), zap.Int("switches", len(g.Switches())), zap.Int("links", len(g.Links)))
	return nil
}

func checkNodes(g *topology.Graph, def *Definition) (VerifySpec, error) {
	var errs []error
	host := func(what, id string) {
		n, ok := g.Node(id)
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%s %s is not in topology %s", what, id, def.Topology.Name))
		case !n.IsHost():
			errs = append(errs, fmt.Errorf("%s %s is not a host", what, id))
		}
	}
	for i, f := range def.Faults {
		if f.Type != FaultLink {
			continue
		}
		if _, ok := g.LinkIndex(f.A, f.B); !ok {
			errs = append(errs, fmt.Errorf("fault %d: no link between %s and %s", i+1, f.A, f.B))
		}
	}
	for i, t := range def.Traffic {
		what := fmt.Sprintf("traffic %d", i+1)
		if t.Type == TrafficRandom {
			for _, id := range append(append([]string(nil), t.Sources...), t.Destinations...) {
				host(what+" node", id)
			}
			continue
		}
		host(what+" server", t.Server)
		host(what+" client", t.Client)
	}
	if c := def.Capture; c != nil {
		if owner, _, ok := g.InterfaceOwner(c.Iface); !ok || owner != c.Node {
			errs = append(errs, fmt.Errorf("capture interface %s does not belong to %s", c.Iface, c.Node))
		}
	}

	v := def.Verify
	hosts := g.Hosts()
	if len(hosts) < 2 && (v.Src == "" || v.Dst == "") {
		errs = append(errs, fmt.Errorf("topology %s has fewer than two hosts to verify", def.Topology.Name))
	} else {
		if v.Src == "" {
			v.Src = hosts[0].ID
		}
		if v.Dst == "" {
			v.Dst = hosts[len(hosts)-1].ID
		}
		host("verify source", v.Src)
		host("verify destination", v.Dst)
	}
	if err := errors.Join(errs...); err != nil {
		return v, fmt.Errorf("%w: %w", topology.ErrInvalidParameter, err)
	}
	return v, nil
}

func (r *run) start(ctx context.Context) error {
	h, err := r.o.backend.BuildNetwork(ctx, r.graph)
	if err != nil {
		return fmt.Errorf("building network: %w", err)
	}
	r.handle = h
	r.gen = traffic.NewGenerator(r.o.backend, h, r.graph, traffic.Options{
		Parallelism: r.o.opts.Parallelism,
		Rand:        r.o.opts.NewRand(r.report.Seed),
		Metrics:     r.o.opts.Metrics,
	}, r.log)
	if err := r.o.backend.Start(ctx, h); err != nil {
		return fmt.Errorf("starting network: %w", err)
	}
	r.log.Info("network started", zap.String("handle", string(h)))
	return nil
}

// discover gives the controller a fixed grace period to learn the network. The device count
// queried afterwards is informational only.
func (r *run) discover(ctx context.Context) error {
	r.log.Info("waiting for controller discovery", zap.Duration("period", r.discovery))
	if err := r.o.opts.Clock.Sleep(ctx, r.discovery); err != nil {
		return err
	}
	c := r.o.opts.Controller
	if c == nil {
		return nil
	}
	n, err := c.AvailableDevices(ctx)
	if err != nil {
		r.log.Warn("could not query discovered devices", zap.Error(err))
		return nil
	}
	r.report.Devices = n
	if want := len(r.graph.Switches()); n < want {
		r.log.Warn("controller has not discovered every switch", zap.Int("available", n), zap.Int("switches", want))
	} else {
		r.log.Info("controller discovered network", zap.Int("available", n))
	}
	return nil
}

func (r *run) applyFault(ctx context.Context, f FaultSpec) error {
	switch f.Type {
	case FaultLink:
		status, err := topology.ParseLinkStatus(f.Status)
		if err != nil {
			return err
		}
		return r.injector.SetLinkStatus(ctx, r.handle, r.graph, f.A, f.B, status)
	case FaultFlow:
		installed, err := r.injector.InstallMisconfiguredFlow(ctx, *f.Rule)
		if err != nil {
			return err
		}
		r.report.Flows = append(r.report.Flows, installed)
		return nil
	}
	return fmt.Errorf("%w: unknown fault type %q", topology.ErrInvalidParameter, f.Type)
}

func (r *run) startTraffic(ctx context.Context, t TrafficSpec) error {
	proto, err := traffic.ParseProto(t.Proto)
	if err != nil {
		return fmt.Errorf("%w: %w", topology.ErrInvalidParameter, err)
	}
	switch t.Type {
	case TrafficRandom:
		pairs, err := r.gen.RandomCrossTraffic(ctx, t.Sources, t.Destinations,
			traffic.RateRange{Min: t.MinRate, Max: t.MaxRate}, t.Duration)
		r.report.Pairs = append(r.report.Pairs, pairs...)
		return err
	case TrafficPair, TrafficForeground:
		server, _ := r.graph.Node(t.Server)
		if _, err := r.gen.StartServer(ctx, t.Server, proto, t.Port); err != nil {
			return fmt.Errorf("server on %s, skipped client %s: %w", t.Server, t.Client, err)
		}
		if t.Type == TrafficPair {
			_, err := r.gen.StartClient(ctx, t.Client, server.Addr(), proto, t.Port, t.Rate, t.Duration)
			return err
		}
		res, err := r.gen.Foreground(ctx, t.Client, server.Addr(), proto, t.Port, t.Rate, t.Duration)
		r.report.Foreground = append(r.report.Foreground, res)
		return err
	}
	return fmt.Errorf("%w: unknown traffic type %q", topology.ErrInvalidParameter, t.Type)
}

func (r *run) captureStart(ctx context.Context) error {
	c := r.def.Capture
	capture, err := r.gen.CaptureStart(ctx, c.Node, c.Iface, c.Filter)
	if err != nil {
		return err
	}
	r.capture = &capture
	return nil
}

func (r *run) captureStop(ctx context.Context) error {
	if r.capture == nil {
		return nil
	}
	ev, err := r.gen.CaptureStop(ctx, *r.capture, r.def.OutputDir)
	r.capture = nil
	if ev.Packets > 0 || err == nil {
		r.report.Evidence = &ev
	}
	return err
}

// verifyConnectivity pings the destination from the source. An unreachable destination is
// recorded, the stage itself only fails when ping could not be run.
func (r *run) verifyConnectivity(ctx context.Context) error {
	dst, _ := r.graph.Node(r.verify.Dst)
	res, err := r.gen.Ping(ctx, r.verify.Src, dst.Addr(), r.verify.Count)
	if err != nil {
		return err
	}
	res.Src, res.Dst = r.verify.Src, r.verify.Dst
	r.report.Verification = &res
	r.log.Info("connectivity verified",
		zap.String("src", res.Src), zap.String("dst", res.Dst),
		zap.Bool("reachable", res.Reachable), zap.Float64("loss", res.LossPercent))
	if r.def.RequireConnectivity && !res.Reachable {
		return fmt.Errorf("%w: %s -> %s (%d/%d replies)", ErrUnreachable, res.Src, res.Dst, res.Received, res.Transmitted)
	}
	return nil
}

// teardown restores faults when asked to and stops the network. It runs on a fresh context so
// that a cancelled run still cleans up.
func (r *run) teardown(ctx context.Context) {
	if r.handle == "" {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeouts.Teardown)
	defer cancel()

	r.report.Launches = r.gen.Launches()
	var errs []error
	if r.def.Restore && r.injector != nil {
		if err := r.injector.Restore(tctx, r.handle, r.graph); err != nil {
			errs = append(errs, fmt.Errorf("restore: %w", err))
		}
	}
	if err := r.o.backend.Stop(tctx, r.handle); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		r.report.Teardown = err.Error()
		r.log.Error("teardown incomplete", zap.Error(err))
		return
	}
	r.log.Info("network torn down", zap.String("handle", string(r.handle)))
}
