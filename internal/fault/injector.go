// Package fault mutates a running network: it takes links down and brings them back, and it
// pushes deliberately wrong flow rules to the controller.
package fault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/metrics"
	"github.com/idlab-discover/sdnscen/internal/sdn"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

// Fault type labels.
const (
	TypeLink = "link"
	TypeFlow = "flow"
)

// FlowInstaller is the part of the controller client the injector uses.
type FlowInstaller interface {
	InstallFlow(ctx context.Context, rule sdn.FlowRule) (string, error)
	RemoveFlow(ctx context.Context, deviceID, flowID string) error
}

// InstalledFlow is a rule the injector pushed, with the id the controller assigned.
type InstalledFlow struct {
	DeviceID string `yaml:"deviceId"`
	FlowID   string `yaml:"flowId"`
}

type linkKey struct{ a, b string }

type Injector struct {
	backend emulation.Backend
	flows   FlowInstaller
	metrics *metrics.Metrics
	log     *zap.Logger

	mu        sync.Mutex
	downed    []linkKey
	installed []InstalledFlow
}

func NewInjector(backend emulation.Backend, flows FlowInstaller, m *metrics.Metrics, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{backend: backend, flows: flows, metrics: m, log: logger.Named("fault")}
}

// SetLinkStatus changes the state of both endpoint interfaces of the link between a and b.
// The link status in g is only updated once both endpoints succeeded; when the link already
// has the requested status nothing is sent to the backend.
func (i *Injector) SetLinkStatus(ctx context.Context, h emulation.Handle, g *topology.Graph, a, b string, status topology.LinkStatus) error {
	idx, ok := g.LinkIndex(a, b)
	if !ok {
		return fmt.Errorf("%w: no link between %s and %s", topology.ErrInvalidParameter, a, b)
	}
	l := &g.Links[idx]
	if l.Status == status {
		i.log.Debug("link already in requested state", zap.Stringer("link", l), zap.String("status", string(status)))
		return nil
	}

	err := i.setEndpoints(ctx, h, *l, status)
	i.metrics.Fault(TypeLink, err)
	if err != nil {
		return fmt.Errorf("setting link %s %s: %w", l, status, err)
	}
	l.Status = status

	i.mu.Lock()
	key := linkKey{l.A, l.B}
	if status == topology.StatusDown {
		i.downed = append(i.downed, key)
	} else {
		i.forgetLink(key)
	}
	i.mu.Unlock()
	i.log.Info("link status changed", zap.Stringer("link", l), zap.String("status", string(status)))
	return nil
}

// setEndpoints changes both ends of l. When the second end fails the first is put back to
// the status the link had, so a failed call leaves the link as it found it.
func (i *Injector) setEndpoints(ctx context.Context, h emulation.Handle, l topology.Link, status topology.LinkStatus) error {
	if err := i.backend.SetInterfaceStatus(ctx, h, l.A, l.IfaceA(), status); err != nil {
		return err
	}
	err := i.backend.SetInterfaceStatus(ctx, h, l.B, l.IfaceB(), status)
	if err == nil {
		return nil
	}
	if rbErr := i.backend.SetInterfaceStatus(context.WithoutCancel(ctx), h, l.A, l.IfaceA(), l.Status); rbErr != nil {
		i.log.Error("could not roll back interface", zap.String("iface", l.IfaceA()), zap.Error(rbErr))
		return errors.Join(err, fmt.Errorf("rolling back %s: %w", l.IfaceA(), rbErr))
	}
	return err
}

func (i *Injector) forgetLink(key linkKey) {
	kept := i.downed[:0]
	for _, k := range i.downed {
		if k != key {
			kept = append(kept, k)
		}
	}
	i.downed = kept
}

// InstallMisconfiguredFlow pushes rule to the controller once. A rejection surfaces as
// sdn.ErrControllerRejected with the status and body of the response.
func (i *Injector) InstallMisconfiguredFlow(ctx context.Context, rule sdn.FlowRule) (InstalledFlow, error) {
	if i.flows == nil {
		return InstalledFlow{}, errors.New("no controller client configured")
	}
	id, err := i.flows.InstallFlow(ctx, rule)
	i.metrics.Fault(TypeFlow, err)
	if err != nil {
		return InstalledFlow{}, err
	}
	f := InstalledFlow{DeviceID: rule.DeviceID, FlowID: id}
	if id != "" {
		i.mu.Lock()
		i.installed = append(i.installed, f)
		i.mu.Unlock()
	} else {
		i.log.Warn("controller returned no flow id, rule cannot be removed on restore", zap.String("device", rule.DeviceID))
	}
	return f, nil
}

// Restore brings up every link this injector took down and removes every flow it installed.
// All steps are attempted; their errors are joined.
func (i *Injector) Restore(ctx context.Context, h emulation.Handle, g *topology.Graph) error {
	i.mu.Lock()
	downed := append([]linkKey(nil), i.downed...)
	installed := append([]InstalledFlow(nil), i.installed...)
	i.installed = nil
	i.mu.Unlock()

	var errs []error
	for j := len(installed) - 1; j >= 0; j-- {
		f := installed[j]
		if err := i.flows.RemoveFlow(ctx, f.DeviceID, f.FlowID); err != nil {
			errs = append(errs, fmt.Errorf("removing flow %s on %s: %w", f.FlowID, f.DeviceID, err))
		}
	}
	for _, k := range downed {
		if err := i.SetLinkStatus(ctx, h, g, k.a, k.b, topology.StatusUp); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	i.log.Info("restored network", zap.Int("links", len(downed)), zap.Int("flows", len(installed)), zap.Error(err))
	return err
}

// Installed lists the flows currently tracked for removal.
func (i *Injector) Installed() []InstalledFlow {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]InstalledFlow(nil), i.installed...)
}
