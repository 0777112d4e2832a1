// Package metrics exports Prometheus counters and histograms for scenario runs. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "sdnscen"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

const handlerTimeout = 10 * time.Second

type Metrics struct {
	Registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	faults        *prometheus.CounterVec
	trafficStarts *prometheus.CounterVec
	scenarios     *prometheus.CounterVec
	activeRuns    prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of scenario stages.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage", "result"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Injected faults by type and result.",
		}, []string{"type", "result"}),
		trafficStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traffic_starts_total",
			Help:      "Traffic generator launches by role and result.",
		}, []string{"role", "result"}),
		scenarios: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_total",
			Help:      "Finished scenarios by final state.",
		}, []string{"state"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scenarios_active",
			Help:      "Scenarios currently executing.",
		}),
	}
	m.Registry.MustRegister(m.stageDuration, m.faults, m.trafficStarts, m.scenarios, m.activeRuns)
	return m
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, result(err)).Observe(d.Seconds())
}

func (m *Metrics) Fault(kind string, err error) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) TrafficStart(role string, err error) {
	if m == nil {
		return
	}
	m.trafficStarts.WithLabelValues(role, result(err)).Inc()
}

// ScenarioStarted returns a func to call with the final state once the run is over.
func (m *Metrics) ScenarioStarted() func(state string) {
	if m == nil {
		return func(string) {}
	}
	m.activeRuns.Inc()
	return func(state string) {
		m.activeRuns.Dec()
		m.scenarios.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(m.Registry,
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Timeout: handlerTimeout}))
}

// Serve exports /metrics on addr until ctx is done. An empty addr disables the exporter.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if m == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	logger.Info("exporting prometheus metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
