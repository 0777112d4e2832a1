package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/idlab-discover/sdnscen/internal/config"
	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/emulation/emulationtest"
	"github.com/idlab-discover/sdnscen/internal/emulation/kube"
	"github.com/idlab-discover/sdnscen/internal/emulation/netns"
	"github.com/idlab-discover/sdnscen/internal/kubernetes"
	"github.com/idlab-discover/sdnscen/internal/metrics"
	"github.com/idlab-discover/sdnscen/internal/runner"
	"github.com/idlab-discover/sdnscen/internal/scenarios"
	"github.com/idlab-discover/sdnscen/internal/sdn"
)

// harness wires the configured backend, controller client and metrics into a runner.
type harness struct {
	cfg        config.Config
	log        *zap.Logger
	controller *sdn.Client
	runner     *runner.Runner
}

func (a *app) harness(ctx context.Context) (*harness, error) {
	cfg, logger, err := a.setup()
	if err != nil {
		return nil, err
	}
	h := &harness{cfg: cfg, log: logger}

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
			logger.Error("metrics exporter stopped", zap.Error(err))
		}
	}()

	opts := scenarios.Options{
		Discovery:   cfg.Discovery,
		Parallelism: cfg.Parallelism,
		Timeouts:    cfg.Timeouts,
		Metrics:     m,
	}
	if cfg.Backend.Type != config.BackendDryRun {
		h.controller = sdn.NewClient(cfg.Controller, logger)
		opts.Controller = h.controller
		if cfg.Preflight {
			if err := preflight(ctx, h.controller, logger); err != nil {
				return nil, err
			}
		}
	} else {
		logger.Info("dry run, the controller is not contacted")
	}

	orch := scenarios.NewOrchestrator(backend, opts, logger)
	h.runner = runner.New(orch, cfg.OutputDir, logger)
	return h, nil
}

func newBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (emulation.Backend, error) {
	switch cfg.Backend.Type {
	case config.BackendDryRun:
		return emulationtest.DryRun(), nil
	case config.BackendNetns:
		return netns.New(cfg.Backend.Netns, logger), nil
	case config.BackendKube:
		client, err := kubernetes.NewClient(kubeconfig(cfg.Backend.Kube.Kubeconfig), cfg.Backend.Kube.Namespace, logger)
		if err != nil {
			return nil, emulation.Unavailable("kubernetes", err)
		}
		client.Start(ctx)
		return kube.New(client, cfg.Backend.Kube.Options, logger), nil
	}
	return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
}

func kubeconfig(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("KUBECONFIG"); env != "" {
		return env
	}
	if path := kubernetes.DefaultKubeconfig(); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func preflight(ctx context.Context, c *sdn.Client, logger *zap.Logger) error {
	res, err := c.Preflight(ctx, sdn.DefaultPreflightConfig())
	if err != nil {
		return fmt.Errorf("controller preflight: %w", err)
	}
	if !res.Reachable {
		return fmt.Errorf("%w: %s (%s) did not answer %d pings", sdn.ErrControllerUnavailable, res.Host, res.Addr, res.Sent)
	}
	logger.Info("controller reachable", zap.String("host", res.Host), zap.Duration("rtt", res.AvgRtt))
	return nil
}

// summarize prints one line per result and fails when any scenario did.
func summarize(results []runner.Result) error {
	failed := 0
	for _, r := range results {
		state := "not run"
		if r.Report != nil {
			state = string(r.Report.State)
		}
		fmt.Printf("%-40s %-10s %s\n", r.Path, state, r.OutputDir)
		if r.Err != nil {
			failed++
			fmt.Printf("  %v\n", r.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	if len(results) == 0 {
		return errors.New("no scenarios were run")
	}
	return nil
}
